package lib

import (
	"errors"
	"sync/atomic"
	"time"
)

var (
	ErrQueueClosed = errors.New("queue closed")
)

// MatchFunc probes a queued value. Returning ok == true consumes the value
// and makes the returned action the result of the dequeue.
type MatchFunc func(value any) (action any, ok bool)

// Queue is the process mailbox: an unbounded FIFO with selective dequeue.
// Any number of producers may Enqueue concurrently; there is exactly one
// consumer (the owning process). A dequeue walks the queued values in
// arrival order probing the given match list and consumes the first value
// accepted by some match, keeping every rejected value at its position.
type Queue struct {
	incoming QueueMPSC
	notify   chan struct{}
	closed   chan struct{}
	state    int32

	// consumer-private scan buffer. values are moved here from the
	// incoming queue by the consumer before being probed, so producers
	// never wait for a scan in progress.
	head *scanned
	tail *scanned
	kept int64
}

type scanned struct {
	value any
	next  *scanned
}

func NewQueue() *Queue {
	return &Queue{
		incoming: NewQueueMPSC(),
		notify:   make(chan struct{}, 1),
		closed:   make(chan struct{}),
	}
}

// Enqueue appends the value. Returns ErrQueueClosed once the queue has been
// closed; the value is dropped in that case.
func (q *Queue) Enqueue(value any) error {
	if atomic.LoadInt32(&q.state) != 0 {
		return ErrQueueClosed
	}
	q.incoming.Push(value)
	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

// Close wakes a waiting consumer and makes any further Enqueue/Dequeue fail
// with ErrQueueClosed. Values still queued are left for the GC.
func (q *Queue) Close() {
	if atomic.CompareAndSwapInt32(&q.state, 0, 1) == false {
		return
	}
	close(q.closed)
}

func (q *Queue) IsClosed() bool {
	return atomic.LoadInt32(&q.state) != 0
}

// Len returns the number of values currently queued, both scanned and not
// yet accepted by the consumer.
func (q *Queue) Len() int64 {
	return atomic.LoadInt64(&q.kept) + q.incoming.Len()
}

// Dequeue blocks until some queued value is accepted by one of the matches.
func (q *Queue) Dequeue(matches ...MatchFunc) (any, error) {
	value, _, err := q.dequeue(true, 0, matches)
	return value, err
}

// DequeueTimeout is Dequeue bounded by the given timeout; ok == false means
// the timeout fired with no match. The timer covers waiting for new arrivals
// only: values queued at the time of the call are always probed, so a zero
// or negative timeout degrades to a non-blocking probe of the current queue.
func (q *Queue) DequeueTimeout(timeout time.Duration, matches ...MatchFunc) (any, bool, error) {
	if timeout <= 0 {
		return q.dequeue(false, 0, matches)
	}
	return q.dequeue(true, timeout, matches)
}

// TryDequeue probes the values queued right now and never blocks.
func (q *Queue) TryDequeue(matches ...MatchFunc) (any, bool, error) {
	return q.dequeue(false, 0, matches)
}

func (q *Queue) dequeue(block bool, timeout time.Duration, matches []MatchFunc) (any, bool, error) {
	if q.IsClosed() {
		return nil, false, ErrQueueClosed
	}

	// probe everything queued at the time of the call
	q.drain()
	if value, ok := q.scan(nil, q.head, matches); ok {
		return value, true, nil
	}

	if block == false {
		return nil, false, nil
	}

	var timer *time.Timer
	var timeoutC <-chan time.Time
	if timeout > 0 {
		// the timer covers new arrivals only, so it starts after the
		// initial scan above
		timer = TakeTimer()
		defer ReleaseTimer(timer)
		timer.Reset(timeout)
		timeoutC = timer.C
	}

	for {
		select {
		case <-q.notify:
		case <-q.closed:
			return nil, false, ErrQueueClosed
		case <-timeoutC:
			return nil, false, nil
		}

		// probe the newly appended region only. everything before the
		// old tail has been rejected by these matches already.
		mark := q.tail
		first := q.drain()
		if first == nil {
			continue
		}
		if value, ok := q.scan(mark, first, matches); ok {
			return value, true, nil
		}
	}
}

// drain moves everything from the incoming queue to the scan buffer and
// returns the first moved item, nil if there was nothing to move.
func (q *Queue) drain() *scanned {
	var first *scanned
	for {
		value, ok := q.incoming.Pop()
		if ok == false {
			return first
		}
		it := &scanned{value: value}
		if q.tail == nil {
			q.head = it
		} else {
			q.tail.next = it
		}
		q.tail = it
		atomic.AddInt64(&q.kept, 1)
		if first == nil {
			first = it
		}
	}
}

// scan walks the buffer starting at 'from' (prev being the item right
// before it, nil if 'from' is the head) probing the matches in order.
// The first accepted value is unlinked; rejected values keep their position.
func (q *Queue) scan(prev *scanned, from *scanned, matches []MatchFunc) (any, bool) {
	for it := from; it != nil; prev, it = it, it.next {
		for i := range matches {
			action, ok := matches[i](it.value)
			if ok == false {
				continue
			}
			if prev == nil {
				q.head = it.next
			} else {
				prev.next = it.next
			}
			if q.tail == it {
				q.tail = prev
			}
			atomic.AddInt64(&q.kept, -1)
			return action, true
		}
	}
	return nil, false
}
