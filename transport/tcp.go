package transport

import (
	"encoding/gob"
	"fmt"
	"net"
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/procmesh/procmesh/gen"
	"github.com/procmesh/procmesh/lib"
)

// TCPOptions configures the TCP wire.
type TCPOptions struct {
	// ListenAddr is the host:port this node accepts connections on.
	ListenAddr string
	// Version is the runtime version announced during the handshake.
	// Peers must be within the same major version to connect.
	Version string
	// Resolve maps a node name to its dialable address.
	Resolve func(node gen.Atom) (string, error)
}

// handshake opens every connection in both directions.
type handshake struct {
	Name    gen.Atom
	Session string
	Version string
}

type peer struct {
	name  gen.Atom
	conn  net.Conn
	enc   *gob.Encoder
	mutex sync.Mutex
}

func (p *peer) send(f Frame) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.enc.Encode(f)
}

// TCP frames gob-encoded Frame values over one TCP connection per peer,
// dialing on demand.
type TCP struct {
	opts     TCPOptions
	handler  Handler
	listener net.Listener
	session  uuid.UUID
	version  *semver.Version
	allowed  *semver.Constraints
	log      *log.Entry

	mutex  sync.Mutex
	peers  lib.BiMap[gen.Atom, *peer]
	closed bool
	wg     sync.WaitGroup
}

// NewTCP creates a TCP transport. Start begins accepting connections.
func NewTCP(opts TCPOptions) (*TCP, error) {
	version, err := semver.NewVersion(opts.Version)
	if err != nil {
		return nil, errors.Wrap(err, "transport version")
	}
	allowed, err := semver.NewConstraint(fmt.Sprintf(">= %d.0.0, < %d.0.0", version.Major(), version.Major()+1))
	if err != nil {
		return nil, errors.Wrap(err, "transport version constraint")
	}
	return &TCP{
		opts:    opts,
		session: uuid.New(),
		version: version,
		allowed: allowed,
	}, nil
}

func (t *TCP) Start(h Handler) error {
	t.handler = h
	t.log = log.WithField("node", h.Name())

	listener, err := net.Listen("tcp", t.opts.ListenAddr)
	if err != nil {
		return errors.Wrap(err, "transport listen")
	}
	t.listener = listener

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			t.wg.Add(1)
			go func() {
				defer t.wg.Done()
				if err := t.accept(conn); err != nil {
					t.log.Debugf("inbound connection rejected: %s", err)
					conn.Close()
				}
			}()
		}
	}()
	return nil
}

// Addr is the address the transport accepts connections on; nil before
// Start.
func (t *TCP) Addr() net.Addr {
	if t.listener == nil {
		return nil
	}
	return t.listener.Addr()
}

func (t *TCP) SendTo(node gen.Atom, f Frame) error {
	p, err := t.connect(node)
	if err != nil {
		return err
	}
	if err := p.send(f); err != nil {
		t.dropPeer(p)
		return gen.ErrNoConnection
	}
	return nil
}

func (t *TCP) Close() error {
	t.mutex.Lock()
	t.closed = true
	peers := t.peers.ListB()
	t.mutex.Unlock()

	if t.listener != nil {
		t.listener.Close()
	}
	for _, p := range peers {
		p.conn.Close()
	}
	t.wg.Wait()
	return nil
}

// connect returns the live peer for the node, dialing if there is none yet.
func (t *TCP) connect(node gen.Atom) (*peer, error) {
	if p, found := t.peers.GetB(node); found {
		return p, nil
	}
	if t.opts.Resolve == nil {
		return nil, gen.ErrNoConnection
	}
	addr, err := t.opts.Resolve(node)
	if err != nil {
		return nil, gen.ErrNoConnection
	}
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, gen.ErrNoConnection
	}

	enc := gob.NewEncoder(conn)
	dec := gob.NewDecoder(conn)
	if err := enc.Encode(handshake{
		Name:    t.handler.Name(),
		Session: t.session.String(),
		Version: t.version.String(),
	}); err != nil {
		conn.Close()
		return nil, gen.ErrNoConnection
	}
	var hs handshake
	if err := dec.Decode(&hs); err != nil {
		conn.Close()
		return nil, gen.ErrNoConnection
	}
	if err := t.checkHandshake(hs, node); err != nil {
		conn.Close()
		return nil, err
	}
	return t.addPeer(hs.Name, conn, enc, dec)
}

// accept performs the passive side of the handshake.
func (t *TCP) accept(conn net.Conn) error {
	enc := gob.NewEncoder(conn)
	dec := gob.NewDecoder(conn)

	var hs handshake
	if err := dec.Decode(&hs); err != nil {
		return errors.Wrap(err, "handshake")
	}
	if err := t.checkHandshake(hs, hs.Name); err != nil {
		return err
	}
	if err := enc.Encode(handshake{
		Name:    t.handler.Name(),
		Session: t.session.String(),
		Version: t.version.String(),
	}); err != nil {
		return errors.Wrap(err, "handshake")
	}
	_, err := t.addPeer(hs.Name, conn, enc, dec)
	return err
}

func (t *TCP) checkHandshake(hs handshake, expect gen.Atom) error {
	if hs.Name != expect {
		return errors.Errorf("peer introduced itself as %q, expected %q", hs.Name, expect)
	}
	if _, err := uuid.Parse(hs.Session); err != nil {
		return errors.Wrap(err, "peer session")
	}
	peerVersion, err := semver.NewVersion(hs.Version)
	if err != nil {
		return errors.Wrapf(err, "peer %q version", hs.Name)
	}
	if t.allowed.Check(peerVersion) == false {
		return errors.Errorf("peer %q runs incompatible version %s (local %s)",
			hs.Name, peerVersion, t.version)
	}
	return nil
}

func (t *TCP) addPeer(name gen.Atom, conn net.Conn, enc *gob.Encoder, dec *gob.Decoder) (*peer, error) {
	p := &peer{name: name, conn: conn, enc: enc}

	t.mutex.Lock()
	if t.closed {
		t.mutex.Unlock()
		conn.Close()
		return nil, gen.ErrNodeTerminated
	}
	if existing, found := t.peers.GetB(name); found {
		// simultaneous dial from both sides; keep the established link
		t.mutex.Unlock()
		conn.Close()
		return existing, nil
	}
	t.peers.Set(name, p)
	t.mutex.Unlock()

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		t.readLoop(p, dec)
	}()
	return p, nil
}

func (t *TCP) readLoop(p *peer, dec *gob.Decoder) {
	for {
		var f Frame
		if err := dec.Decode(&f); err != nil {
			t.dropPeer(p)
			return
		}
		t.handler.HandleFrame(p.name, f)
	}
}

func (t *TCP) dropPeer(p *peer) {
	t.mutex.Lock()
	_, known := t.peers.GetA(p)
	if known {
		t.peers.DeleteA(p.name)
	}
	closed := t.closed
	t.mutex.Unlock()

	p.conn.Close()
	if known && closed == false {
		t.handler.HandleNodeDown(p.name)
	}
}
