package codec

import (
	"sync"

	"github.com/pkg/errors"
)

var (
	ErrClosureUnknown  = errors.New("unknown closure label")
	ErrClosureMismatch = errors.New("closure resolved to an unexpected type")
)

// Closure references a statically known symbol by label plus the serialized
// environment it should be applied to. It is the only form in which code
// crosses the wire: the receiving node resolves the label against its own
// static table.
type Closure struct {
	Label string
	Env   []byte
}

// StaticTable maps closure labels to constructors. Both nodes taking part in
// a remote spawn must register the label against an equivalent constructor.
type StaticTable struct {
	mutex   sync.RWMutex
	entries map[string]func(env []byte) (any, error)
}

func NewStaticTable() *StaticTable {
	return &StaticTable{
		entries: make(map[string]func(env []byte) (any, error)),
	}
}

// Register installs a constructor under the label, replacing any previous one.
func (t *StaticTable) Register(label string, fn func(env []byte) (any, error)) {
	t.mutex.Lock()
	t.entries[label] = fn
	t.mutex.Unlock()
}

// Resolve applies the registered constructor to the closure's environment.
func (t *StaticTable) Resolve(c Closure) (any, error) {
	t.mutex.RLock()
	fn, ok := t.entries[c.Label]
	t.mutex.RUnlock()
	if ok == false {
		return nil, errors.Wrap(ErrClosureUnknown, c.Label)
	}
	value, err := fn(c.Env)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve closure %q", c.Label)
	}
	return value, nil
}

// UnClosure resolves the closure and asserts the result to T. A label that
// resolves to any other type yields ErrClosureMismatch.
func UnClosure[T any](t *StaticTable, c Closure) (T, error) {
	var zero T
	value, err := t.Resolve(c)
	if err != nil {
		return zero, err
	}
	typed, ok := value.(T)
	if ok == false {
		return zero, errors.Wrap(ErrClosureMismatch, c.Label)
	}
	return typed, nil
}
