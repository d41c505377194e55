package transport

import (
	"sync"

	"github.com/procmesh/procmesh/gen"
)

// Network is an in-process wire. Every node attached to the same Network
// reaches the others by name; closing a node's transport is observed by the
// others as that node going down. Delivery is synchronous, which preserves
// the per-link ordering contract trivially.
type Network struct {
	mutex sync.RWMutex
	nodes map[gen.Atom]Handler
}

func NewNetwork() *Network {
	return &Network{
		nodes: make(map[gen.Atom]Handler),
	}
}

// Transport returns a fresh attachment point for one node.
func (n *Network) Transport() Transport {
	return &inmemTransport{network: n}
}

type inmemTransport struct {
	network *Network
	handler Handler
}

func (t *inmemTransport) Start(h Handler) error {
	t.network.mutex.Lock()
	defer t.network.mutex.Unlock()
	if _, taken := t.network.nodes[h.Name()]; taken {
		return ErrNameTaken
	}
	t.network.nodes[h.Name()] = h
	t.handler = h
	return nil
}

func (t *inmemTransport) SendTo(node gen.Atom, f Frame) error {
	t.network.mutex.RLock()
	h, found := t.network.nodes[node]
	t.network.mutex.RUnlock()
	if found == false {
		return gen.ErrNoConnection
	}
	h.HandleFrame(t.handler.Name(), f)
	return nil
}

func (t *inmemTransport) Close() error {
	if t.handler == nil {
		return nil
	}
	name := t.handler.Name()

	t.network.mutex.Lock()
	delete(t.network.nodes, name)
	peers := make([]Handler, 0, len(t.network.nodes))
	for _, h := range t.network.nodes {
		peers = append(peers, h)
	}
	t.network.mutex.Unlock()

	for _, h := range peers {
		h.HandleNodeDown(name)
	}
	return nil
}
