package gen

import (
	log "github.com/sirupsen/logrus"

	"github.com/procmesh/procmesh/codec"
	"github.com/procmesh/procmesh/lib"
)

// ProcessFunc is the computation a process runs. The process dies when it
// returns; a nil error is a normal exit.
type ProcessFunc func(p Process) error

// Process is the operation surface handed to a running computation. All
// methods are safe to call from the process's own goroutine only, except
// Send variants which any goroutine may use.
type Process interface {
	Self() PID
	Node() Node
	Log() *log.Entry

	// Send encodes the value into an envelope and delivers it to the
	// destination mailbox, via the wire when the destination is remote.
	Send(to PID, message any) error
	// SendMessage delivers an already-built envelope.
	SendMessage(to PID, m *codec.Message) error
	// NSend delivers to whatever process is registered under the label on
	// this node; an unknown label drops the message silently.
	NSend(label Atom, message any) error
	NSendRemote(node Atom, label Atom, message any) error

	Register(label Atom) error
	Unregister(label Atom) error
	RegisterRemote(node Atom, label Atom, pid PID) error
	UnregisterRemote(node Atom, label Atom) error
	WhereIs(label Atom) (PID, bool, error)
	WhereIsRemote(node Atom, label Atom) (PID, bool, error)

	Monitor(target PID) (Ref, error)
	MonitorNode(name Atom) (Ref, error)
	MonitorPort(port SendPortID) (Ref, error)
	// Demonitor uninstalls the ref and consumes the controller's
	// acknowledgement. Safe to repeat: an unknown ref still acks.
	Demonitor(ref Ref) error

	Link(target PID) error
	Unlink(target PID) error
	LinkNode(name Atom) error
	UnlinkNode(name Atom) error
	LinkPort(port SendPortID) error
	UnlinkPort(port SendPortID) error

	Spawn(f ProcessFunc) (PID, error)
	// SpawnAsync asks the given node to resolve and start the closure.
	// The reply arrives as MessageSpawnReply carrying the returned ref;
	// AwaitSpawn consumes it.
	SpawnAsync(node Atom, closure codec.Closure) (SpawnRef, error)

	// Say sends a MessageSay to the process registered under "logger".
	Say(format string, args ...any)
	// Terminate raises the termination condition; the process shuts down
	// with reason "killed by self". It does not return.
	Terminate()

	Mailbox() *lib.Queue

	// typed-channel plumbing, used by the pchan package
	CreatePort(sink PortSink) SendPortID
	ClosePort(id SendPortID)
	SendToPort(id SendPortID, m *codec.Message) error
}

// PortSink receives envelopes routed to a send-port ID, decoding them into
// the typed channel behind it. Close is invoked when the owning process
// dies; readers observe it as a closed port.
type PortSink interface {
	Deliver(m *codec.Message) error
	Close()
}

// Node is the per-node surface: spawning, the name registry and lifecycle.
type Node interface {
	Name() Atom
	Spawn(f ProcessFunc) (PID, error)
	SpawnRegister(label Atom, f ProcessFunc) (PID, error)
	RegisterName(label Atom, pid PID) error
	UnregisterName(label Atom) error
	WhereIs(label Atom) (PID, bool)
	IsAlive(pid PID) bool
	ProcessList() []PID
	// Stop terminates every process, shuts the controller down and closes
	// the network links.
	Stop() error
	// Wait blocks until the node has stopped.
	Wait()
}
