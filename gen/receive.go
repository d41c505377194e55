package gen

import (
	"errors"
	"fmt"
	"time"

	"github.com/procmesh/procmesh/codec"
	"github.com/procmesh/procmesh/lib"
)

// Match is one probe of a selective receive: it accepts or rejects an
// envelope and, on accept, produces the value the receive returns.
type Match struct {
	probe func(m *codec.Message) (any, bool)
}

// MatchMsg accepts any envelope carrying a T. A nil handler returns the
// decoded value itself.
func MatchMsg[T any](handler func(T) any) Match {
	return Match{probe: func(m *codec.Message) (any, bool) {
		if codec.Matches[T](m) == false {
			return nil, false
		}
		value, err := codec.Decode[T](m)
		if err != nil {
			return nil, false
		}
		if handler == nil {
			return value, true
		}
		return handler(value), true
	}}
}

// MatchIf accepts an envelope carrying a T for which pred holds.
func MatchIf[T any](pred func(T) bool, handler func(T) any) Match {
	return Match{probe: func(m *codec.Message) (any, bool) {
		if codec.Matches[T](m) == false {
			return nil, false
		}
		value, err := codec.Decode[T](m)
		if err != nil {
			return nil, false
		}
		if pred(value) == false {
			return nil, false
		}
		if handler == nil {
			return value, true
		}
		return handler(value), true
	}}
}

func queueMatches(matches []Match) []lib.MatchFunc {
	qm := make([]lib.MatchFunc, len(matches))
	for i := range matches {
		probe := matches[i].probe
		qm[i] = func(value any) (any, bool) {
			return probe(value.(*codec.Message))
		}
	}
	return qm
}

// ReceiveWait consumes the first mailbox message accepted by one of the
// matches, blocking until such a message arrives. Messages accepted by no
// match stay queued in their original order.
func ReceiveWait(p Process, matches ...Match) (any, error) {
	value, err := p.Mailbox().Dequeue(queueMatches(matches)...)
	if err != nil {
		if errors.Is(err, lib.ErrQueueClosed) {
			return nil, ErrProcessTerminated
		}
		return nil, err
	}
	return value, nil
}

// ReceiveTimeout is ReceiveWait bounded by the timeout; ok == false reports
// that the timeout fired. A zero timeout probes the current queue without
// suspending.
func ReceiveTimeout(p Process, timeout time.Duration, matches ...Match) (any, bool, error) {
	value, ok, err := p.Mailbox().DequeueTimeout(timeout, queueMatches(matches)...)
	if err != nil {
		if errors.Is(err, lib.ErrQueueClosed) {
			return nil, false, ErrProcessTerminated
		}
		return nil, false, err
	}
	return value, ok, nil
}

// Expect consumes the first queued message of type T, blocking until one
// arrives. Messages of other types are passed over and stay queued in their
// original order.
func Expect[T any](p Process) (T, error) {
	value, err := ReceiveWait(p, MatchMsg[T](nil))
	if err != nil {
		var zero T
		return zero, err
	}
	return value.(T), nil
}

// ExpectTimeout is Expect bounded by the timeout.
func ExpectTimeout[T any](p Process, timeout time.Duration) (T, bool, error) {
	value, ok, err := ReceiveTimeout(p, timeout, MatchMsg[T](nil))
	if err != nil || ok == false {
		var zero T
		return zero, ok, err
	}
	return value.(T), true, nil
}

// AwaitSpawn consumes the spawn reply correlated with ref.
func AwaitSpawn(p Process, ref SpawnRef) (PID, error) {
	value, err := ReceiveWait(p, MatchIf(func(m MessageSpawnReply) bool {
		return m.Ref == ref
	}, nil))
	if err != nil {
		return PID{}, err
	}
	reply := value.(MessageSpawnReply)
	if reply.Error != "" {
		return PID{}, fmt.Errorf("spawn failed: %s", reply.Error)
	}
	return reply.PID, nil
}

// Terminated is the panic value raised by Process.Terminate. The process
// runner recovers it and records exit reason "killed by self".
type Terminated struct{}

func (Terminated) Error() string {
	return ReasonKilled
}

// Catch runs fn and converts a panic inside it into an error. The
// termination condition raised by Terminate is not caught; it propagates to
// the process boundary.
func Catch(fn func() error) (err error) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		if _, terminated := r.(Terminated); terminated {
			panic(r)
		}
		if e, ok := r.(error); ok {
			err = e
			return
		}
		err = fmt.Errorf("%v", r)
	}()
	return fn()
}
