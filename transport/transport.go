// Package transport carries opaque framed envelopes between named nodes.
// Delivery is reliable and ordered per (sender node, receiver node) link;
// everything above that — mailboxes, supervision, registry — is the node's
// business.
package transport

import (
	"fmt"

	"github.com/procmesh/procmesh/codec"
	"github.com/procmesh/procmesh/gen"
)

var (
	ErrNameTaken = fmt.Errorf("node name is already taken")
)

type Kind int

const (
	// KindSignal is a control signal for the destination node's controller
	KindSignal Kind = iota
	// KindMessage is an envelope for a process mailbox
	KindMessage
	// KindPort is an envelope for a typed channel
	KindPort
)

// Frame is the unit of inter-node traffic.
type Frame struct {
	Kind    Kind
	From    gen.PID
	To      gen.PID
	ToPort  gen.SendPortID
	Message *codec.Message
	Signal  any
}

// Handler is the receiving half a node plugs into its transport. HandleFrame
// is invoked in arrival order per sending node and must not block
// indefinitely.
type Handler interface {
	Name() gen.Atom
	HandleFrame(from gen.Atom, f Frame)
	HandleNodeDown(name gen.Atom)
}

// Transport is the contract the node consumes.
type Transport interface {
	Start(h Handler) error
	SendTo(node gen.Atom, f Frame) error
	Close() error
}
