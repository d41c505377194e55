package node

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/mattn/go-colorable"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/procmesh/procmesh/codec"
	"github.com/procmesh/procmesh/gen"
	"github.com/procmesh/procmesh/lib"
	"github.com/procmesh/procmesh/transport"
)

const (
	startPID = 1000

	// the registered name Say delivers to
	loggerName = gen.Atom("logger")
)

// Options tunes a starting node.
type Options struct {
	// Transport attaches the node to a wire. A node without a transport
	// is local-only: remote sends, registry requests and spawn requests
	// fail with ErrNoConnection, while monitors and links naming a remote
	// entity are recorded locally and never fire.
	Transport transport.Transport
	// Static resolves closure labels for incoming remote spawns.
	Static *codec.StaticTable
	// Logger overrides the default logrus logger.
	Logger *log.Logger
	// DisableLogger skips spawning the process registered under "logger".
	DisableLogger bool
	// MetricsRegistry receives the runtime collectors. Nil keeps them on
	// a private registry.
	MetricsRegistry prometheus.Registerer
}

type node struct {
	name     gen.Atom
	creation uint32
	opts     Options
	log      *log.Entry

	lastID    uint64
	processes sync.Map // gen.PID -> *process

	// the control inbox. every supervision/registry/spawn mutation goes
	// through here and is handled by the single controller goroutine.
	signals lib.QueueMPSC
	wake    chan struct{}
	quit    chan struct{}
	stopped chan struct{}
	state   int32

	monitors  *monitorState
	registrar *registrar
	metrics   *metrics

	wg sync.WaitGroup
}

// Start brings up a node. A name without an "@" is completed with the host
// part chosen by defaultHost.
func Start(name gen.Atom, opts Options) (gen.Node, error) {
	if name == "" {
		return nil, fmt.Errorf("empty node name")
	}
	if strings.Contains(string(name), "@") == false {
		name = gen.Atom(string(name) + "@" + defaultHost())
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.New()
		logger.SetOutput(colorable.NewColorableStdout())
	}

	n := &node{
		name:      name,
		creation:  uuid.New().ID(),
		opts:      opts,
		log:       logger.WithField("node", name),
		signals:   lib.NewQueueMPSC(),
		wake:      make(chan struct{}, 1),
		quit:      make(chan struct{}),
		stopped:   make(chan struct{}),
		monitors:  newMonitorState(),
		registrar: newRegistrar(),
		metrics:   newMetrics(opts.MetricsRegistry),
	}

	if opts.Transport != nil {
		if err := opts.Transport.Start(n); err != nil {
			return nil, err
		}
	}

	go n.controller()

	if opts.DisableLogger == false {
		if _, err := n.SpawnRegister(loggerName, loggerProcess(n.log)); err != nil {
			n.Stop()
			return nil, err
		}
	}

	n.log.Debug("node started")
	return n, nil
}

// defaultHost picks the host part for a bare node name. PIDs carry this
// value to every peer, so it has to be something the peers can dial:
// inside Kubernetes only the pod IP is (pod hostnames do not resolve
// across the cluster), inside docker the container hostname is, and
// anywhere else the node stays on localhost.
func defaultHost() string {
	if podIP := os.Getenv("POD_IP"); podIP != "" {
		return podIP
	}
	// docker leaves a .dockerenv marker at the container root
	if _, err := os.Stat("/.dockerenv"); err == nil {
		if hostname, err := os.Hostname(); err == nil {
			return hostname
		}
	}
	return "localhost"
}

// gen.Node

func (n *node) Name() gen.Atom {
	return n.name
}

func (n *node) Spawn(f gen.ProcessFunc) (gen.PID, error) {
	return n.spawn(f, "")
}

func (n *node) SpawnRegister(label gen.Atom, f gen.ProcessFunc) (gen.PID, error) {
	return n.spawn(f, label)
}

func (n *node) RegisterName(label gen.Atom, pid gen.PID) error {
	return n.ask(func() {
		n.registrar.register(label, pid)
	})
}

func (n *node) UnregisterName(label gen.Atom) error {
	return n.ask(func() {
		n.registrar.unregister(label)
	})
}

func (n *node) WhereIs(label gen.Atom) (gen.PID, bool) {
	var pid gen.PID
	var found bool
	n.ask(func() {
		pid, found = n.registrar.whereis(label)
	})
	return pid, found
}

func (n *node) IsAlive(pid gen.PID) bool {
	_, found := n.processes.Load(pid)
	return found
}

func (n *node) ProcessList() []gen.PID {
	var pids []gen.PID
	n.processes.Range(func(k, _ any) bool {
		pids = append(pids, k.(gen.PID))
		return true
	})
	return pids
}

func (n *node) Stop() error {
	if atomic.CompareAndSwapInt32(&n.state, 0, 1) == false {
		n.Wait()
		return nil
	}
	n.log.Debug("node stopping")

	n.processes.Range(func(_, v any) bool {
		v.(*process).kill(gen.ReasonShutdown)
		return true
	})
	// every runner has posted its death by now; let the controller walk
	// the graph for each of them, then drain and shut it down
	n.wg.Wait()
	close(n.quit)
	<-n.stopped

	var err *multierror.Error
	if n.opts.Transport != nil {
		err = multierror.Append(err, n.opts.Transport.Close())
	}
	n.log.Debug("node stopped")
	return err.ErrorOrNil()
}

func (n *node) Wait() {
	<-n.stopped
}

// spawning

func (n *node) spawn(f gen.ProcessFunc, register gen.Atom) (gen.PID, error) {
	if atomic.LoadInt32(&n.state) != 0 {
		return gen.PID{}, gen.ErrNodeTerminated
	}
	if f == nil {
		return gen.PID{}, fmt.Errorf("nil process function")
	}

	pid := gen.PID{
		Node:     n.name,
		ID:       startPID + atomic.AddUint64(&n.lastID, 1),
		Creation: n.creation,
	}
	p := &process{
		node:    n,
		pid:     pid,
		mailbox: lib.NewQueue(),
		log:     n.log.WithField("pid", pid.String()),
	}
	n.processes.Store(pid, p)
	if register != "" {
		n.push(signalRegister{Label: register, PID: pid})
	}
	n.metrics.spawned.Inc()

	n.wg.Add(1)
	go n.runProcess(p, f)
	return pid, nil
}

// runProcess hosts the process computation and turns its end - return,
// termination condition, panic or kill - into the death signal the
// controller acts on.
func (n *node) runProcess(p *process, f gen.ProcessFunc) {
	defer n.wg.Done()

	reason := gen.ReasonNormal
	func() {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			if _, terminated := r.(gen.Terminated); terminated {
				reason = gen.ReasonKilled
				return
			}
			p.log.Errorf("process terminated - %v", r)
			reason = fmt.Sprintf("%v", r)
		}()
		if err := f(p); err != nil {
			reason = err.Error()
		}
	}()
	if killReason := p.killedReason(); killReason != "" {
		reason = killReason
	}

	p.mailbox.Close()
	ports := p.closePorts()
	n.processes.Delete(p.pid)
	n.metrics.terminated.Inc()
	n.push(signalProcessDown{PID: p.pid, Reason: reason, Ports: ports})
}

// routing

// routeMessage delivers an envelope to a mailbox anywhere.
func (n *node) routeMessage(to gen.PID, m *codec.Message) error {
	if to.Node == n.name {
		return n.deliverMessage(to, m)
	}
	return n.sendFrame(to.Node, transport.Frame{
		Kind:    transport.KindMessage,
		To:      to,
		Message: m,
	})
}

// deliverMessage appends an envelope to a local mailbox. A message for a
// process that is gone is dropped; that is the at-most-once contract.
func (n *node) deliverMessage(to gen.PID, m *codec.Message) error {
	if m == nil {
		return nil
	}
	value, found := n.processes.Load(to)
	if found == false {
		return nil
	}
	if err := value.(*process).mailbox.Enqueue(m); err != nil {
		return nil
	}
	n.metrics.delivered.Inc()
	return nil
}

// routePort delivers an envelope to a typed channel anywhere.
func (n *node) routePort(id gen.SendPortID, m *codec.Message) error {
	if id.Process.Node == n.name {
		return n.deliverPort(id, m)
	}
	return n.sendFrame(id.Process.Node, transport.Frame{
		Kind:    transport.KindPort,
		ToPort:  id,
		Message: m,
	})
}

func (n *node) deliverPort(id gen.SendPortID, m *codec.Message) error {
	value, found := n.processes.Load(id.Process)
	if found == false {
		return gen.ErrPortUnknown
	}
	sink, found := value.(*process).ports.Load(id.ID)
	if found == false {
		return gen.ErrPortUnknown
	}
	if err := sink.(gen.PortSink).Deliver(m); err != nil {
		// an envelope whose fingerprint no local channel understands
		// is dropped
		n.log.Debugf("dropped envelope for %s: %s", id, err)
		return nil
	}
	n.metrics.delivered.Inc()
	return nil
}

// sendSignal hands a control signal to the controller of another node.
func (n *node) sendSignal(to gen.Atom, signal any) error {
	if to == n.name {
		n.push(signal)
		return nil
	}
	return n.sendFrame(to, transport.Frame{
		Kind:   transport.KindSignal,
		Signal: signal,
	})
}

func (n *node) sendFrame(to gen.Atom, f transport.Frame) error {
	if n.opts.Transport == nil {
		return gen.ErrNoConnection
	}
	if err := n.opts.Transport.SendTo(to, f); err != nil {
		// an unreachable node is a dead node as far as the
		// supervision graph is concerned
		n.push(signalNodeDown{Name: to})
		return gen.ErrNoConnection
	}
	return nil
}

// transport.Handler

func (n *node) HandleFrame(from gen.Atom, f transport.Frame) {
	switch f.Kind {
	case transport.KindSignal:
		n.push(f.Signal)
	case transport.KindMessage:
		n.deliverMessage(f.To, f.Message)
	case transport.KindPort:
		n.deliverPort(f.ToPort, f.Message)
	default:
		n.log.Debugf("dropped unknown frame kind %d from %s", f.Kind, from)
	}
}

func (n *node) HandleNodeDown(name gen.Atom) {
	n.push(signalNodeDown{Name: name})
}
