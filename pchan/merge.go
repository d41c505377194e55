package pchan

import (
	"reflect"
)

// MergeBiased composes the ports into one: a read prefers the leftmost port
// that has a value queued and falls back to waiting on all of them at once.
// The composite wraps the given ports; nothing is copied and no new channel
// is created.
func MergeBiased[T any](ports ...ReceivePort[T]) ReceivePort[T] {
	return &biasedPort[T]{ports: ports}
}

// MergeRR composes the ports round-robin: reads prefer ports in list order,
// and after every successful read the port that produced the value moves to
// the end of the list.
func MergeRR[T any](ports ...ReceivePort[T]) ReceivePort[T] {
	return &rrPort[T]{ports: ports}
}

type biasedPort[T any] struct {
	ports []ReceivePort[T]
}

func (b *biasedPort[T]) Receive() (T, error) {
	value, _, err := receiveComposite(b.ports, true, nil)
	return value, err
}

func (b *biasedPort[T]) TryReceive() (T, bool, error) {
	return receiveComposite(b.ports, false, nil)
}

func (b *biasedPort[T]) leafs() []*typedChan[T] {
	var all []*typedChan[T]
	for _, p := range b.ports {
		all = append(all, p.leafs()...)
	}
	return all
}

type rrPort[T any] struct {
	ports []ReceivePort[T]
}

func (r *rrPort[T]) Receive() (T, error) {
	value, _, err := receiveComposite(r.ports, true, r.rotate)
	return value, err
}

func (r *rrPort[T]) TryReceive() (T, bool, error) {
	return receiveComposite(r.ports, false, r.rotate)
}

func (r *rrPort[T]) leafs() []*typedChan[T] {
	var all []*typedChan[T]
	for _, p := range r.ports {
		all = append(all, p.leafs()...)
	}
	return all
}

// rotate moves the port at index i to the end of the list.
func (r *rrPort[T]) rotate(i int) {
	selected := r.ports[i]
	r.ports = append(r.ports[:i], r.ports[i+1:]...)
	r.ports = append(r.ports, selected)
}

// receiveComposite is the waitable-set read shared by both merges: poll the
// ports left to right, and when nothing is queued register on every
// underlying channel at once and commit the first branch that fires. The
// commit consumes from exactly one channel; no other branch is touched.
// rotated, when set, is called with the index of the port that produced the
// value before returning.
func receiveComposite[T any](ports []ReceivePort[T], block bool, rotated func(int)) (T, bool, error) {
	var zero T

	closed := 0
	for i, p := range ports {
		value, ok, err := p.TryReceive()
		if err != nil {
			closed++
			continue
		}
		if ok {
			if rotated != nil {
				rotated(i)
			}
			return value, true, nil
		}
	}
	if closed == len(ports) {
		return zero, false, ErrClosed
	}
	if block == false {
		return zero, false, nil
	}

	// leaf k belongs to the composite's port child[k]
	var chans []*typedChan[T]
	var child []int
	for i, p := range ports {
		for _, leaf := range p.leafs() {
			chans = append(chans, leaf)
			child = append(child, i)
		}
	}

	dead := make(map[int]bool)
	for {
		cases := make([]reflect.SelectCase, 0, 2*len(chans))
		for _, leaf := range chans {
			cases = append(cases, reflect.SelectCase{
				Dir:  reflect.SelectRecv,
				Chan: reflect.ValueOf(leaf.out),
			})
		}
		stopIndex := make([]int, 0, len(chans))
		for k, leaf := range chans {
			if dead[k] {
				continue
			}
			cases = append(cases, reflect.SelectCase{
				Dir:  reflect.SelectRecv,
				Chan: reflect.ValueOf(leaf.stop),
			})
			stopIndex = append(stopIndex, k)
		}

		if len(stopIndex) == 0 {
			// every channel is closed; one last poll for values that
			// were queued before the close
			for i, p := range ports {
				value, ok, err := p.TryReceive()
				if err != nil {
					continue
				}
				if ok {
					if rotated != nil {
						rotated(i)
					}
					return value, true, nil
				}
			}
			return zero, false, ErrClosed
		}

		chosen, recv, _ := reflect.Select(cases)
		if chosen < len(chans) {
			if rotated != nil {
				rotated(child[chosen])
			}
			return recv.Interface().(T), true, nil
		}
		// a channel owner went away; keep waiting on the others
		dead[stopIndex[chosen-len(chans)]] = true
	}
}
