package gen

import (
	"encoding/gob"
	"fmt"
)

var (
	ErrProcessUnknown    = fmt.Errorf("unknown process")
	ErrProcessTerminated = fmt.Errorf("process terminated")
	ErrNodeUnknown       = fmt.Errorf("unknown node")
	ErrNodeTerminated    = fmt.Errorf("node terminated")
	ErrNameUnknown       = fmt.Errorf("unknown registered name")
	ErrPortUnknown       = fmt.Errorf("unknown send port")
	ErrTimeout           = fmt.Errorf("timed out")
	ErrUnsupported       = fmt.Errorf("unsupported request")
	ErrNoConnection      = fmt.Errorf("no connection to the node")
)

// Exit reasons recorded when a process dies and carried by the death
// notifications.
const (
	ReasonNormal        = "normal"
	ReasonKilled        = "killed by self"
	ReasonLinkDown      = "linked process died"
	ReasonUnknownEntity = "unknown entity"
	ReasonNoConnection  = "node connection lost"
	ReasonShutdown      = "shutdown"
)

// Atom is the interned-string flavor used for node names and registry labels.
type Atom string

func (a Atom) String() string {
	return string(a)
}

// PID addresses a process globally: the name of the owning node, the
// per-node monotonic process ID and the node's incarnation.
type PID struct {
	Node     Atom
	ID       uint64
	Creation uint32
}

func (p PID) String() string {
	return fmt.Sprintf("<%s.%d.%d>", p.Node, p.Creation, p.ID)
}

// SendPortID addresses a typed channel: the PID of the owning process plus
// the per-process channel counter value minted when the channel was created.
type SendPortID struct {
	Process PID
	ID      uint32
}

func (s SendPortID) String() string {
	return fmt.Sprintf("#Port<%s.%d>", s.Process, s.ID)
}

// SpawnRef correlates a remote spawn request with its reply.
type SpawnRef uint64

// Identifier is the tagged union over the three kinds of entity a monitor or
// link may target. The concrete variants are comparable structs, so an
// Identifier is usable as a map key.
type Identifier interface {
	fmt.Stringer
	isIdentifier()
}

type ProcessIdentifier struct {
	PID PID
}

func (p ProcessIdentifier) isIdentifier() {}
func (p ProcessIdentifier) String() string {
	return p.PID.String()
}

type NodeIdentifier struct {
	Name Atom
}

func (n NodeIdentifier) isIdentifier() {}
func (n NodeIdentifier) String() string {
	return string(n.Name)
}

type SendPortIdentifier struct {
	Port SendPortID
}

func (s SendPortIdentifier) isIdentifier() {}
func (s SendPortIdentifier) String() string {
	return s.Port.String()
}

// Ref identifies one installed monitor: the watched entity, the watching
// process and the watcher's monitor counter value. Every Monitor* call mints
// a fresh Ref, so duplicate monitors stay distinguishable.
type Ref struct {
	Target Identifier
	Owner  PID
	ID     uint64
}

func (r Ref) String() string {
	return fmt.Sprintf("#Ref<%s.%d>", r.Owner, r.ID)
}

func init() {
	// identifier variants travel inside Ref values over the wire
	gob.Register(ProcessIdentifier{})
	gob.Register(NodeIdentifier{})
	gob.Register(SendPortIdentifier{})
}
