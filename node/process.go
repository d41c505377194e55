package node

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/procmesh/procmesh/codec"
	"github.com/procmesh/procmesh/gen"
	"github.com/procmesh/procmesh/lib"
)

// process is the local process context: the mailbox, the per-process
// counters, the live channel table and the primitive surface handed to the
// running computation.
type process struct {
	node    *node
	pid     gen.PID
	mailbox *lib.Queue
	log     *log.Entry

	lastPortID    uint32
	lastMonitorID uint64
	lastSpawnID   uint64

	ports sync.Map // uint32 -> gen.PortSink

	killMutex  sync.Mutex
	killReason string
}

// gen.Process

func (p *process) Self() gen.PID {
	return p.pid
}

func (p *process) Node() gen.Node {
	return p.node
}

func (p *process) Log() *log.Entry {
	return p.log
}

func (p *process) Mailbox() *lib.Queue {
	return p.mailbox
}

func (p *process) Send(to gen.PID, message any) error {
	m, err := codec.NewMessage(message)
	if err != nil {
		return err
	}
	return p.SendMessage(to, m)
}

func (p *process) SendMessage(to gen.PID, m *codec.Message) error {
	return p.node.routeMessage(to, m)
}

func (p *process) NSend(label gen.Atom, message any) error {
	m, err := codec.NewMessage(message)
	if err != nil {
		return err
	}
	p.node.push(signalNamedSend{Label: label, Message: m})
	return nil
}

func (p *process) NSendRemote(node gen.Atom, label gen.Atom, message any) error {
	m, err := codec.NewMessage(message)
	if err != nil {
		return err
	}
	return p.node.sendSignal(node, signalNamedSend{Label: label, Message: m})
}

func (p *process) Register(label gen.Atom) error {
	p.node.push(signalRegister{Label: label, PID: p.pid})
	return nil
}

func (p *process) Unregister(label gen.Atom) error {
	p.node.push(signalUnregister{Label: label})
	return nil
}

func (p *process) RegisterRemote(node gen.Atom, label gen.Atom, pid gen.PID) error {
	return p.node.sendSignal(node, signalRegister{Label: label, PID: pid})
}

func (p *process) UnregisterRemote(node gen.Atom, label gen.Atom) error {
	return p.node.sendSignal(node, signalUnregister{Label: label})
}

// WhereIs asks the controller and consumes the reply correlated by label.
func (p *process) WhereIs(label gen.Atom) (gen.PID, bool, error) {
	p.node.push(signalWhereIs{From: p.pid, Label: label})
	return p.awaitWhereIs(label)
}

func (p *process) WhereIsRemote(node gen.Atom, label gen.Atom) (gen.PID, bool, error) {
	if err := p.node.sendSignal(node, signalWhereIs{From: p.pid, Label: label}); err != nil {
		return gen.PID{}, false, err
	}
	return p.awaitWhereIs(label)
}

func (p *process) awaitWhereIs(label gen.Atom) (gen.PID, bool, error) {
	value, err := gen.ReceiveWait(p, gen.MatchIf(func(m gen.MessageWhereIsReply) bool {
		return m.Label == label
	}, nil))
	if err != nil {
		return gen.PID{}, false, err
	}
	reply := value.(gen.MessageWhereIsReply)
	return reply.PID, reply.Found, nil
}

// monitors and links

func (p *process) Monitor(target gen.PID) (gen.Ref, error) {
	return p.monitor(gen.ProcessIdentifier{PID: target})
}

func (p *process) MonitorNode(name gen.Atom) (gen.Ref, error) {
	return p.monitor(gen.NodeIdentifier{Name: name})
}

func (p *process) MonitorPort(port gen.SendPortID) (gen.Ref, error) {
	return p.monitor(gen.SendPortIdentifier{Port: port})
}

func (p *process) monitor(target gen.Identifier) (gen.Ref, error) {
	ref := gen.Ref{
		Target: target,
		Owner:  p.pid,
		ID:     atomic.AddUint64(&p.lastMonitorID, 1),
	}
	p.node.push(signalMonitor{Ref: ref})
	return ref, nil
}

// Demonitor uninstalls the monitor and consumes the acknowledgement the
// controller emits for it. The receive keys on the exact ref, so concurrent
// outstanding demonitors cannot steal each other's acks.
func (p *process) Demonitor(ref gen.Ref) error {
	p.node.push(signalDemonitor{Ref: ref})
	_, err := gen.ReceiveWait(p, gen.MatchIf(func(m gen.MessageDidDemonitor) bool {
		return m.Ref == ref
	}, nil))
	return err
}

func (p *process) Link(target gen.PID) error {
	p.node.push(signalLink{By: p.pid, Target: gen.ProcessIdentifier{PID: target}})
	return nil
}

func (p *process) LinkNode(name gen.Atom) error {
	p.node.push(signalLink{By: p.pid, Target: gen.NodeIdentifier{Name: name}})
	return nil
}

func (p *process) LinkPort(port gen.SendPortID) error {
	p.node.push(signalLink{By: p.pid, Target: gen.SendPortIdentifier{Port: port}})
	return nil
}

func (p *process) Unlink(target gen.PID) error {
	p.node.push(signalUnlink{By: p.pid, Target: gen.ProcessIdentifier{PID: target}})
	_, err := gen.ReceiveWait(p, gen.MatchIf(func(m gen.MessageDidUnlinkProcess) bool {
		return m.PID == target
	}, nil))
	return err
}

func (p *process) UnlinkNode(name gen.Atom) error {
	p.node.push(signalUnlink{By: p.pid, Target: gen.NodeIdentifier{Name: name}})
	_, err := gen.ReceiveWait(p, gen.MatchIf(func(m gen.MessageDidUnlinkNode) bool {
		return m.Name == name
	}, nil))
	return err
}

func (p *process) UnlinkPort(port gen.SendPortID) error {
	p.node.push(signalUnlink{By: p.pid, Target: gen.SendPortIdentifier{Port: port}})
	_, err := gen.ReceiveWait(p, gen.MatchIf(func(m gen.MessageDidUnlinkPort) bool {
		return m.Port == port
	}, nil))
	return err
}

// spawning

func (p *process) Spawn(f gen.ProcessFunc) (gen.PID, error) {
	return p.node.spawn(f, "")
}

func (p *process) SpawnAsync(node gen.Atom, closure codec.Closure) (gen.SpawnRef, error) {
	ref := gen.SpawnRef(atomic.AddUint64(&p.lastSpawnID, 1))
	if err := p.node.sendSignal(node, signalSpawn{From: p.pid, Ref: ref, Closure: closure}); err != nil {
		return ref, err
	}
	return ref, nil
}

// misc

func (p *process) Say(format string, args ...any) {
	p.NSend(loggerName, gen.MessageSay{
		Time: time.Now().Format("2006-01-02 15:04:05.000"),
		From: p.pid,
		Text: fmt.Sprintf(format, args...),
	})
}

func (p *process) Terminate() {
	panic(gen.Terminated{})
}

// typed-channel plumbing

func (p *process) CreatePort(sink gen.PortSink) gen.SendPortID {
	id := atomic.AddUint32(&p.lastPortID, 1)
	p.ports.Store(id, sink)
	return gen.SendPortID{Process: p.pid, ID: id}
}

func (p *process) ClosePort(id gen.SendPortID) {
	value, found := p.ports.LoadAndDelete(id.ID)
	if found == false {
		return
	}
	value.(gen.PortSink).Close()
	p.node.push(signalPortDown{Port: id, Reason: gen.ReasonNormal})
}

func (p *process) SendToPort(id gen.SendPortID, m *codec.Message) error {
	return p.node.routePort(id, m)
}

// internal

// kill closes the mailbox and the channels so the computation observes
// termination at its next suspension point, whichever kind it is blocked
// on. The recorded reason wins over whatever the computation returns
// afterwards.
func (p *process) kill(reason string) {
	p.killMutex.Lock()
	if p.killReason == "" {
		p.killReason = reason
	}
	p.killMutex.Unlock()
	p.mailbox.Close()
	p.ports.Range(func(_, v any) bool {
		v.(gen.PortSink).Close()
		return true
	})
}

func (p *process) killedReason() string {
	p.killMutex.Lock()
	defer p.killMutex.Unlock()
	return p.killReason
}

// closePorts shuts every live channel down and reports their IDs for the
// controller's death walk.
func (p *process) closePorts() []uint32 {
	var ids []uint32
	p.ports.Range(func(k, v any) bool {
		ids = append(ids, k.(uint32))
		v.(gen.PortSink).Close()
		p.ports.Delete(k)
		return true
	})
	return ids
}
