package node

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/procmesh/procmesh/gen"
)

func TestMonitorStateRefs(t *testing.T) {
	m := newMonitorState()
	watcher := testPID("a@localhost", 1001)
	target := gen.ProcessIdentifier{PID: testPID("a@localhost", 1002)}

	first := gen.Ref{Target: target, Owner: watcher, ID: 1}
	second := gen.Ref{Target: target, Owner: watcher, ID: 2}
	m.install(first)
	m.install(second)

	// duplicate monitors stay distinct
	refs := m.take(target)
	require.Len(t, refs, 2)
	require.Empty(t, m.take(target))
	require.Empty(t, m.owned)
}

func TestMonitorStateDropOwned(t *testing.T) {
	m := newMonitorState()
	watcher := testPID("a@localhost", 1001)
	target := gen.ProcessIdentifier{PID: testPID("a@localhost", 1002)}

	m.install(gen.Ref{Target: target, Owner: watcher, ID: 1})
	m.dropOwned(watcher)
	require.Empty(t, m.take(target))
}

func TestMonitorStateLinks(t *testing.T) {
	m := newMonitorState()
	a := gen.ProcessIdentifier{PID: testPID("a@localhost", 1001)}
	b := gen.ProcessIdentifier{PID: testPID("a@localhost", 1002)}

	m.addLink(a, b)
	m.addLink(a, b) // repeated link requests have no effect
	require.Len(t, m.links[gen.Identifier(a)], 1)

	partners := m.takeLinks(b)
	require.Equal(t, []gen.Identifier{a}, partners)
	require.Empty(t, m.links)
}
