package node

import (
	"encoding/gob"

	"github.com/procmesh/procmesh/codec"
	"github.com/procmesh/procmesh/gen"
)

// Control signals. Everything that mutates the supervision graph, the
// registry or the process table flows through the controller as one of
// these, both from local processes and from the wire.
type (
	signalMonitor struct {
		Ref gen.Ref
	}
	signalDemonitor struct {
		Ref gen.Ref
	}
	signalLink struct {
		By     gen.PID
		Target gen.Identifier
	}
	signalUnlink struct {
		By     gen.PID
		Target gen.Identifier
	}
	signalRegister struct {
		Label gen.Atom
		PID   gen.PID
	}
	signalUnregister struct {
		Label gen.Atom
	}
	signalWhereIs struct {
		From  gen.PID
		Label gen.Atom
	}
	signalNamedSend struct {
		Label   gen.Atom
		Message *codec.Message
	}
	signalSpawn struct {
		From    gen.PID
		Ref     gen.SpawnRef
		Closure codec.Closure
	}
	signalProcessDown struct {
		PID    gen.PID
		Reason string
		Ports  []uint32
	}
	signalPortDown struct {
		Port   gen.SendPortID
		Reason string
	}
	// signalExit propagates link-induced termination to a process on
	// another node.
	signalExit struct {
		Target gen.PID
		Reason string
	}
	// signalMonitorDown carries a death notification back to the node of
	// a remote watcher.
	signalMonitorDown struct {
		Ref    gen.Ref
		Reason string
	}
	signalNodeDown struct {
		Name gen.Atom
	}
	// signalAsk runs a closure on the controller goroutine; local only.
	signalAsk struct {
		fn   func()
		done chan struct{}
	}
)

func init() {
	// control signals cross the wire inside transport frames
	gob.Register(signalMonitor{})
	gob.Register(signalDemonitor{})
	gob.Register(signalLink{})
	gob.Register(signalUnlink{})
	gob.Register(signalRegister{})
	gob.Register(signalUnregister{})
	gob.Register(signalWhereIs{})
	gob.Register(signalNamedSend{})
	gob.Register(signalSpawn{})
	gob.Register(signalExit{})
	gob.Register(signalMonitorDown{})
}

func (n *node) push(signal any) {
	n.signals.Push(signal)
	select {
	case n.wake <- struct{}{}:
	default:
	}
}

// ask runs fn on the controller goroutine and waits for it. Used by the
// node-level registry surface; never crosses the wire.
func (n *node) ask(fn func()) error {
	done := make(chan struct{})
	n.push(signalAsk{fn: fn, done: done})
	select {
	case <-done:
		return nil
	case <-n.stopped:
		return gen.ErrNodeTerminated
	}
}

// controller is the single goroutine that owns the monitor/link graph and
// the registry. Signals are handled one at a time in arrival order, which
// is the whole concurrency story for those structures.
func (n *node) controller() {
	defer close(n.stopped)
	for {
		value, ok := n.signals.Pop()
		if ok == false {
			select {
			case <-n.wake:
				continue
			case <-n.quit:
				// drain what was posted before the shutdown
				for {
					value, ok = n.signals.Pop()
					if ok == false {
						return
					}
					n.handleSignal(value)
				}
			}
		}
		n.handleSignal(value)
	}
}

func (n *node) handleSignal(signal any) {
	n.metrics.signals.Inc()
	switch s := signal.(type) {
	case signalMonitor:
		n.handleMonitor(s)
	case signalDemonitor:
		n.handleDemonitor(s)
	case signalLink:
		n.handleLink(s)
	case signalUnlink:
		n.handleUnlink(s)
	case signalRegister:
		n.registrar.register(s.Label, s.PID)
	case signalUnregister:
		n.registrar.unregister(s.Label)
	case signalWhereIs:
		n.handleWhereIs(s)
	case signalNamedSend:
		n.handleNamedSend(s)
	case signalSpawn:
		n.handleSpawn(s)
	case signalProcessDown:
		n.handleProcessDown(s)
	case signalPortDown:
		n.entityDown(gen.SendPortIdentifier{Port: s.Port}, s.Reason)
	case signalExit:
		n.exitProcess(s.Target, s.Reason)
	case signalMonitorDown:
		n.monitors.remove(s.Ref)
		n.notifyOwner(s.Ref, s.Reason)
	case signalNodeDown:
		n.handleNodeDown(s)
	case signalAsk:
		s.fn()
		close(s.done)
	default:
		n.log.Debugf("controller dropped unknown signal %#v", signal)
	}
}

// handleMonitor installs a monitor. A target that is already dead or
// unknown is answered immediately with reason "unknown entity"; a remote
// target is recorded here as well (for connection loss) and forwarded to
// the authoritative node.
func (n *node) handleMonitor(s signalMonitor) {
	home := identifierNode(s.Ref.Target)
	if home == n.name {
		if n.entityAlive(s.Ref.Target) == false {
			n.notifyDown(s.Ref, gen.ReasonUnknownEntity)
			return
		}
		n.monitors.install(s.Ref)
		return
	}
	n.monitors.install(s.Ref)
	if s.Ref.Owner.Node == n.name {
		n.sendSignal(home, s)
	}
}

func (n *node) handleDemonitor(s signalDemonitor) {
	n.monitors.remove(s.Ref)
	home := identifierNode(s.Ref.Target)
	if home != n.name && s.Ref.Owner.Node == n.name {
		n.sendSignal(home, s)
	}
	// the ack comes from the watcher's own controller, known ref or not
	if s.Ref.Owner.Node == n.name {
		n.notifyMessage(s.Ref.Owner, gen.MessageDidDemonitor{Ref: s.Ref})
	}
}

// handleLink installs a symmetric link. Linking to a dead entity
// propagates termination right back to the linker.
func (n *node) handleLink(s signalLink) {
	by := gen.ProcessIdentifier{PID: s.By}
	home := identifierNode(s.Target)
	if home == n.name {
		if n.entityAlive(s.Target) == false {
			n.exitProcess(s.By, gen.ReasonUnknownEntity)
			return
		}
		n.monitors.addLink(by, s.Target)
		return
	}
	n.monitors.addLink(by, s.Target)
	if s.By.Node == n.name {
		n.sendSignal(home, s)
	}
}

func (n *node) handleUnlink(s signalUnlink) {
	by := gen.ProcessIdentifier{PID: s.By}
	n.monitors.removeLink(by, s.Target)
	home := identifierNode(s.Target)
	if home != n.name && s.By.Node == n.name {
		n.sendSignal(home, s)
	}
	if s.By.Node != n.name {
		return
	}
	// the ack is keyed on the identifier variant the unlink named
	switch t := s.Target.(type) {
	case gen.ProcessIdentifier:
		n.notifyMessage(s.By, gen.MessageDidUnlinkProcess{PID: t.PID})
	case gen.NodeIdentifier:
		n.notifyMessage(s.By, gen.MessageDidUnlinkNode{Name: t.Name})
	case gen.SendPortIdentifier:
		n.notifyMessage(s.By, gen.MessageDidUnlinkPort{Port: t.Port})
	}
}

func (n *node) handleWhereIs(s signalWhereIs) {
	pid, found := n.registrar.whereis(s.Label)
	n.notifyMessage(s.From, gen.MessageWhereIsReply{Label: s.Label, PID: pid, Found: found})
}

// handleNamedSend delivers to the process registered under the label; an
// unknown label drops the envelope.
func (n *node) handleNamedSend(s signalNamedSend) {
	pid, found := n.registrar.whereis(s.Label)
	if found == false {
		return
	}
	n.deliverMessage(pid, s.Message)
}

func (n *node) handleSpawn(s signalSpawn) {
	reply := gen.MessageSpawnReply{Ref: s.Ref}
	if n.opts.Static == nil {
		reply.Error = "node accepts no remote spawn requests"
		n.notifyMessage(s.From, reply)
		return
	}
	f, err := codec.UnClosure[gen.ProcessFunc](n.opts.Static, s.Closure)
	if err != nil {
		reply.Error = err.Error()
		n.notifyMessage(s.From, reply)
		return
	}
	pid, err := n.spawn(f, "")
	if err != nil {
		reply.Error = err.Error()
		n.notifyMessage(s.From, reply)
		return
	}
	reply.PID = pid
	n.notifyMessage(s.From, reply)
}

// handleProcessDown is the death walk: registry cleanup, then monitor and
// link notification for the process itself and for every channel it owned.
func (n *node) handleProcessDown(s signalProcessDown) {
	n.registrar.unregisterPID(s.PID)
	n.monitors.dropOwned(s.PID)
	n.entityDown(gen.ProcessIdentifier{PID: s.PID}, s.Reason)
	for _, portID := range s.Ports {
		port := gen.SendPortID{Process: s.PID, ID: portID}
		n.entityDown(gen.SendPortIdentifier{Port: port}, s.Reason)
	}
}

// entityDown notifies every watcher of the entity and propagates
// termination over its links.
func (n *node) entityDown(id gen.Identifier, reason string) {
	for _, ref := range n.monitors.take(id) {
		n.notifyDown(ref, reason)
	}
	for _, partner := range n.monitors.takeLinks(id) {
		if p, isProcess := partner.(gen.ProcessIdentifier); isProcess {
			n.exitProcess(p.PID, gen.ReasonLinkDown)
		}
	}
}

func (n *node) handleNodeDown(s signalNodeDown) {
	n.registrar.nodeDown(s.Name)
	for _, id := range n.monitors.entitiesOf(s.Name) {
		for _, ref := range n.monitors.take(id) {
			// only local watchers can be reached once the node is gone
			if ref.Owner.Node == n.name {
				n.notifyDown(ref, gen.ReasonNoConnection)
			}
		}
		for _, partner := range n.monitors.takeLinks(id) {
			if p, isProcess := partner.(gen.ProcessIdentifier); isProcess && p.PID.Node == n.name {
				n.exitProcess(p.PID, gen.ReasonNoConnection)
			}
		}
	}
}

// exitProcess terminates a process anywhere on behalf of a dying link
// partner.
func (n *node) exitProcess(pid gen.PID, reason string) {
	if pid.Node != n.name {
		n.sendSignal(pid.Node, signalExit{Target: pid, Reason: reason})
		return
	}
	value, found := n.processes.Load(pid)
	if found == false {
		return
	}
	value.(*process).kill(reason)
}

// notifyDown routes a death notification to the watcher: straight into the
// mailbox for a local one, as a controller signal to the watcher's node
// otherwise (so the shadow record there is cleaned up too).
func (n *node) notifyDown(ref gen.Ref, reason string) {
	if ref.Owner.Node == n.name {
		n.monitors.remove(ref)
		n.notifyMessage(ref.Owner, gen.MessageDown{Ref: ref, Reason: reason})
		return
	}
	n.sendSignal(ref.Owner.Node, signalMonitorDown{Ref: ref, Reason: reason})
}

// notifyOwner delivers a death notification to a local watcher.
func (n *node) notifyOwner(ref gen.Ref, reason string) {
	n.notifyMessage(ref.Owner, gen.MessageDown{Ref: ref, Reason: reason})
}

func (n *node) notifyMessage(to gen.PID, message any) {
	m, err := codec.NewMessage(message)
	if err != nil {
		n.log.Errorf("encode %T: %s", message, err)
		return
	}
	n.routeMessage(to, m)
}

// entityAlive reports whether a local entity is alive right now.
func (n *node) entityAlive(id gen.Identifier) bool {
	switch t := id.(type) {
	case gen.ProcessIdentifier:
		_, found := n.processes.Load(t.PID)
		return found
	case gen.NodeIdentifier:
		return t.Name == n.name
	case gen.SendPortIdentifier:
		value, found := n.processes.Load(t.Port.Process)
		if found == false {
			return false
		}
		_, found = value.(*process).ports.Load(t.Port.ID)
		return found
	}
	return false
}

// identifierNode is the node an entity lives on.
func identifierNode(id gen.Identifier) gen.Atom {
	switch t := id.(type) {
	case gen.ProcessIdentifier:
		return t.PID.Node
	case gen.NodeIdentifier:
		return t.Name
	case gen.SendPortIdentifier:
		return t.Port.Process.Node
	}
	return ""
}
