package codec

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStaticTableResolve(t *testing.T) {
	table := NewStaticTable()
	table.Register("double", func(env []byte) (any, error) {
		return len(env) * 2, nil
	})

	value, err := UnClosure[int](table, Closure{Label: "double", Env: []byte("abc")})
	require.NoError(t, err)
	require.Equal(t, 6, value)
}

func TestStaticTableUnknownLabel(t *testing.T) {
	table := NewStaticTable()
	_, err := UnClosure[int](table, Closure{Label: "missing"})
	require.ErrorIs(t, err, ErrClosureUnknown)
}

func TestStaticTableMismatch(t *testing.T) {
	table := NewStaticTable()
	table.Register("text", func(env []byte) (any, error) {
		return string(env), nil
	})

	_, err := UnClosure[int](table, Closure{Label: "text", Env: []byte("x")})
	require.ErrorIs(t, err, ErrClosureMismatch)
}
