package pchan

import (
	"errors"
	"sync"

	"github.com/procmesh/procmesh/codec"
	"github.com/procmesh/procmesh/gen"
)

var (
	ErrClosed = errors.New("port closed")
)

// capacity of the queue backing a typed channel. Senders block once the
// queue is full.
const chanCapacity = 1024

// typedChan is the queue behind a (SendPort, ReceivePort) pair. It lives in
// the creating process; remote holders of the SendPort reach it through
// envelopes routed by the owning node.
type typedChan[T any] struct {
	id   gen.SendPortID
	out  chan T
	stop chan struct{}
	once sync.Once
}

func (c *typedChan[T]) push(value T) error {
	select {
	case <-c.stop:
		return ErrClosed
	default:
	}
	select {
	case c.out <- value:
		return nil
	case <-c.stop:
		return ErrClosed
	}
}

// Deliver implements gen.PortSink: an envelope arriving over the wire is
// decoded into the channel's type and queued. Envelopes carrying any other
// fingerprint are discarded.
func (c *typedChan[T]) Deliver(m *codec.Message) error {
	value, err := codec.Decode[T](m)
	if err != nil {
		return err
	}
	return c.push(value)
}

func (c *typedChan[T]) Close() {
	c.once.Do(func() {
		close(c.stop)
	})
}

// SendPort is the serializable write half of a typed channel. Sending
// through a port that was created in the current process bypasses the
// envelope; a port that crossed the wire carries only the ID and is routed
// by the owning node.
type SendPort[T any] struct {
	ID gen.SendPortID

	local *typedChan[T]
}

// ReceivePort is the read half. It never leaves the creating process.
type ReceivePort[T any] interface {
	// Receive blocks until a value is available.
	Receive() (T, error)
	// TryReceive returns ok == false when nothing is queued right now.
	TryReceive() (T, bool, error)

	leafs() []*typedChan[T]
}

// NewChan creates a typed channel owned by the calling process and returns
// its two halves.
func NewChan[T any](p gen.Process) (SendPort[T], ReceivePort[T]) {
	ch := &typedChan[T]{
		out:  make(chan T, chanCapacity),
		stop: make(chan struct{}),
	}
	ch.id = p.CreatePort(ch)
	return SendPort[T]{ID: ch.id, local: ch}, &singlePort[T]{ch: ch}
}

// Send delivers the value to the channel behind the port. For a given
// sending goroutine values arrive in send order.
func Send[T any](p gen.Process, sp SendPort[T], value T) error {
	if sp.local != nil {
		return sp.local.push(value)
	}
	m, err := codec.NewMessage(value)
	if err != nil {
		return err
	}
	return p.SendToPort(sp.ID, m)
}

type singlePort[T any] struct {
	ch *typedChan[T]
}

func (s *singlePort[T]) Receive() (T, error) {
	select {
	case value := <-s.ch.out:
		return value, nil
	case <-s.ch.stop:
		// drain what was queued before the close
		select {
		case value := <-s.ch.out:
			return value, nil
		default:
			var zero T
			return zero, ErrClosed
		}
	}
}

func (s *singlePort[T]) TryReceive() (T, bool, error) {
	select {
	case value := <-s.ch.out:
		return value, true, nil
	default:
	}
	var zero T
	select {
	case <-s.ch.stop:
		return zero, false, ErrClosed
	default:
		return zero, false, nil
	}
}

func (s *singlePort[T]) leafs() []*typedChan[T] {
	return []*typedChan[T]{s.ch}
}
