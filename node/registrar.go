package node

import (
	"github.com/procmesh/procmesh/gen"
)

// registrar is the per-node name registry: label to PID, plus the reverse
// index that makes cleanup on process death cheap. Controller-owned.
type registrar struct {
	names  map[gen.Atom]gen.PID
	owners map[gen.PID]map[gen.Atom]bool
}

func newRegistrar() *registrar {
	return &registrar{
		names:  make(map[gen.Atom]gen.PID),
		owners: make(map[gen.PID]map[gen.Atom]bool),
	}
}

// register installs the label, replacing a previous holder.
func (r *registrar) register(label gen.Atom, pid gen.PID) {
	if previous, taken := r.names[label]; taken {
		r.forget(previous, label)
	}
	r.names[label] = pid
	if r.owners[pid] == nil {
		r.owners[pid] = make(map[gen.Atom]bool)
	}
	r.owners[pid][label] = true
}

func (r *registrar) unregister(label gen.Atom) {
	pid, found := r.names[label]
	if found == false {
		return
	}
	delete(r.names, label)
	r.forget(pid, label)
}

func (r *registrar) whereis(label gen.Atom) (gen.PID, bool) {
	pid, found := r.names[label]
	return pid, found
}

// unregisterPID removes every label the dead process held.
func (r *registrar) unregisterPID(pid gen.PID) {
	for label := range r.owners[pid] {
		delete(r.names, label)
	}
	delete(r.owners, pid)
}

// nodeDown removes entries installed for processes of a lost node.
func (r *registrar) nodeDown(name gen.Atom) {
	for label, pid := range r.names {
		if pid.Node != name {
			continue
		}
		delete(r.names, label)
		r.forget(pid, label)
	}
}

func (r *registrar) forget(pid gen.PID, label gen.Atom) {
	if labels := r.owners[pid]; labels != nil {
		delete(labels, label)
		if len(labels) == 0 {
			delete(r.owners, pid)
		}
	}
}
