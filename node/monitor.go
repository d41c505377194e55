package node

// http://erlang.org/doc/reference_manual/processes.html

import (
	"github.com/procmesh/procmesh/gen"
)

// monitorState is the supervision graph: who watches what and who is linked
// to what. It belongs to the controller goroutine alone; no locking here.
type monitorState struct {
	// watched entity -> refs of its watchers
	targets map[gen.Identifier][]gen.Ref
	// watcher -> its installed refs, for cleanup when the watcher dies
	owned map[gen.PID][]gen.Ref
	// symmetric adjacency; an edge is stored under both endpoints
	links map[gen.Identifier][]gen.Identifier
}

func newMonitorState() *monitorState {
	return &monitorState{
		targets: make(map[gen.Identifier][]gen.Ref),
		owned:   make(map[gen.PID][]gen.Ref),
		links:   make(map[gen.Identifier][]gen.Identifier),
	}
}

func (m *monitorState) install(ref gen.Ref) {
	m.targets[ref.Target] = append(m.targets[ref.Target], ref)
	m.owned[ref.Owner] = append(m.owned[ref.Owner], ref)
}

func (m *monitorState) remove(ref gen.Ref) {
	m.targets[ref.Target] = dropRef(m.targets[ref.Target], ref)
	if len(m.targets[ref.Target]) == 0 {
		delete(m.targets, ref.Target)
	}
	m.owned[ref.Owner] = dropRef(m.owned[ref.Owner], ref)
	if len(m.owned[ref.Owner]) == 0 {
		delete(m.owned, ref.Owner)
	}
}

// take removes and returns every ref watching the entity. Each ref yields
// its own notification: duplicate monitors were installed as distinct refs.
func (m *monitorState) take(id gen.Identifier) []gen.Ref {
	refs := m.targets[id]
	delete(m.targets, id)
	for _, ref := range refs {
		m.owned[ref.Owner] = dropRef(m.owned[ref.Owner], ref)
		if len(m.owned[ref.Owner]) == 0 {
			delete(m.owned, ref.Owner)
		}
	}
	return refs
}

// dropOwned forgets every monitor a dead watcher had installed.
func (m *monitorState) dropOwned(owner gen.PID) {
	for _, ref := range m.owned[owner] {
		m.targets[ref.Target] = dropRef(m.targets[ref.Target], ref)
		if len(m.targets[ref.Target]) == 0 {
			delete(m.targets, ref.Target)
		}
	}
	delete(m.owned, owner)
}

// Links are bidirectional and there can only be one link between two
// entities; repeated link requests have no effect.
func (m *monitorState) addLink(a, b gen.Identifier) {
	if a == b {
		return
	}
	for _, other := range m.links[a] {
		if other == b {
			return
		}
	}
	m.links[a] = append(m.links[a], b)
	m.links[b] = append(m.links[b], a)
}

func (m *monitorState) removeLink(a, b gen.Identifier) {
	m.links[a] = dropIdentifier(m.links[a], b)
	if len(m.links[a]) == 0 {
		delete(m.links, a)
	}
	m.links[b] = dropIdentifier(m.links[b], a)
	if len(m.links[b]) == 0 {
		delete(m.links, b)
	}
}

// takeLinks removes the entity from the graph and returns its former
// partners.
func (m *monitorState) takeLinks(id gen.Identifier) []gen.Identifier {
	partners := m.links[id]
	delete(m.links, id)
	for _, partner := range partners {
		m.links[partner] = dropIdentifier(m.links[partner], id)
		if len(m.links[partner]) == 0 {
			delete(m.links, partner)
		}
	}
	return partners
}

// entitiesOf collects every watched or linked entity living on the given
// node. Used when the connection to that node is lost.
func (m *monitorState) entitiesOf(name gen.Atom) []gen.Identifier {
	seen := make(map[gen.Identifier]bool)
	for id := range m.targets {
		if identifierNode(id) == name {
			seen[id] = true
		}
	}
	for id := range m.links {
		if identifierNode(id) == name {
			seen[id] = true
		}
	}
	ids := make([]gen.Identifier, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	return ids
}

func dropRef(refs []gen.Ref, ref gen.Ref) []gen.Ref {
	for i := range refs {
		if refs[i] != ref {
			continue
		}
		refs[i] = refs[len(refs)-1]
		return refs[:len(refs)-1]
	}
	return refs
}

func dropIdentifier(ids []gen.Identifier, id gen.Identifier) []gen.Identifier {
	for i := range ids {
		if ids[i] != id {
			continue
		}
		ids[i] = ids[len(ids)-1]
		return ids[:len(ids)-1]
	}
	return ids
}
