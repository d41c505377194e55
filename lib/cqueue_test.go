package lib

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func matchAny(value any) (any, bool) {
	return value, true
}

func matchInt(pred func(int) bool) MatchFunc {
	return func(value any) (any, bool) {
		i, ok := value.(int)
		if ok == false {
			return nil, false
		}
		if pred(i) == false {
			return nil, false
		}
		return i, true
	}
}

func TestQueueSelectiveSkip(t *testing.T) {
	q := NewQueue()
	for _, i := range []int{1, 2, 3} {
		require.NoError(t, q.Enqueue(i))
	}

	// the first even value is consumed, 1 stays in front
	value, err := q.Dequeue(matchInt(func(i int) bool { return i%2 == 0 }))
	require.NoError(t, err)
	require.Equal(t, 2, value)

	value, err = q.Dequeue(matchAny)
	require.NoError(t, err)
	require.Equal(t, 1, value)

	value, err = q.Dequeue(matchAny)
	require.NoError(t, err)
	require.Equal(t, 3, value)
}

func TestQueueOrderPreserved(t *testing.T) {
	q := NewQueue()
	for i := 1; i <= 5; i++ {
		require.NoError(t, q.Enqueue(i))
	}

	value, err := q.Dequeue(matchInt(func(i int) bool { return i == 3 }))
	require.NoError(t, err)
	require.Equal(t, 3, value)

	// the rest is exactly the original minus 3, in order
	var rest []int
	for q.Len() > 0 {
		value, err = q.Dequeue(matchAny)
		require.NoError(t, err)
		rest = append(rest, value.(int))
	}
	require.Equal(t, []int{1, 2, 4, 5}, rest)
}

func TestQueueMatchOrder(t *testing.T) {
	q := NewQueue()
	require.NoError(t, q.Enqueue(6))

	// the first accepting match wins, probed in the given order
	value, err := q.Dequeue(
		matchInt(func(i int) bool { return i%3 == 0 }),
		matchInt(func(i int) bool { return i%2 == 0 }),
	)
	require.NoError(t, err)
	require.Equal(t, 6, value)
}

func TestQueueTimeoutZeroNeverSuspends(t *testing.T) {
	q := NewQueue()

	started := time.Now()
	_, ok, err := q.DequeueTimeout(0, matchAny)
	require.NoError(t, err)
	require.False(t, ok)
	require.Less(t, time.Since(started), 100*time.Millisecond)
}

func TestQueueTimeout(t *testing.T) {
	q := NewQueue()
	require.NoError(t, q.Enqueue("kept"))

	none := func(value any) (any, bool) { return nil, false }
	started := time.Now()
	_, ok, err := q.DequeueTimeout(50*time.Millisecond, none)
	require.NoError(t, err)
	require.False(t, ok)
	require.GreaterOrEqual(t, time.Since(started), 50*time.Millisecond)

	// the rejected value kept its place
	require.EqualValues(t, 1, q.Len())
}

func TestQueueBlockingWake(t *testing.T) {
	q := NewQueue()

	go func() {
		time.Sleep(20 * time.Millisecond)
		q.Enqueue("late")
	}()

	value, err := q.Dequeue(matchAny)
	require.NoError(t, err)
	require.Equal(t, "late", value)
}

func TestQueueTimeoutWake(t *testing.T) {
	q := NewQueue()

	go func() {
		time.Sleep(20 * time.Millisecond)
		q.Enqueue(42)
	}()

	value, ok, err := q.DequeueTimeout(time.Second, matchAny)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 42, value)
}

func TestQueueClose(t *testing.T) {
	q := NewQueue()

	errc := make(chan error, 1)
	go func() {
		_, err := q.Dequeue(matchAny)
		errc <- err
	}()

	time.Sleep(20 * time.Millisecond)
	q.Close()

	select {
	case err := <-errc:
		require.ErrorIs(t, err, ErrQueueClosed)
	case <-time.After(time.Second):
		t.Fatal("consumer was not woken by Close")
	}

	require.ErrorIs(t, q.Enqueue("dropped"), ErrQueueClosed)
}

// FIFO per producer: any prefix of the consumed stream that originates from
// one producer equals the prefix of what that producer enqueued.
func TestQueueProducerOrder(t *testing.T) {
	const producers = 4
	const each = 200

	q := NewQueue()
	var wg sync.WaitGroup
	for producer := 0; producer < producers; producer++ {
		wg.Add(1)
		go func(producer int) {
			defer wg.Done()
			for i := 0; i < each; i++ {
				q.Enqueue(fmt.Sprintf("%d/%d", producer, i))
			}
		}(producer)
	}
	wg.Wait()

	next := make([]int, producers)
	for consumed := 0; consumed < producers*each; consumed++ {
		value, err := q.Dequeue(matchAny)
		require.NoError(t, err)

		var producer, i int
		_, err = fmt.Sscanf(value.(string), "%d/%d", &producer, &i)
		require.NoError(t, err)
		require.Equal(t, next[producer], i, "producer %d out of order", producer)
		next[producer]++
	}
}
