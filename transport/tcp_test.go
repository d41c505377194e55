package transport

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/procmesh/procmesh/codec"
	"github.com/procmesh/procmesh/gen"
)

type captureHandler struct {
	name   gen.Atom
	mutex  sync.Mutex
	frames []Frame
	downs  []gen.Atom
}

func (h *captureHandler) Name() gen.Atom {
	return h.name
}

func (h *captureHandler) HandleFrame(from gen.Atom, f Frame) {
	h.mutex.Lock()
	h.frames = append(h.frames, f)
	h.mutex.Unlock()
}

func (h *captureHandler) HandleNodeDown(name gen.Atom) {
	h.mutex.Lock()
	h.downs = append(h.downs, name)
	h.mutex.Unlock()
}

func (h *captureHandler) waitFrames(t *testing.T, count int) []Frame {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		h.mutex.Lock()
		if len(h.frames) >= count {
			frames := append([]Frame{}, h.frames...)
			h.mutex.Unlock()
			return frames
		}
		h.mutex.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected %d frames", count)
	return nil
}

func startTCP(t *testing.T, name gen.Atom, version string, resolve func(gen.Atom) (string, error)) (*TCP, *captureHandler) {
	t.Helper()
	tr, err := NewTCP(TCPOptions{
		ListenAddr: "127.0.0.1:0",
		Version:    version,
		Resolve:    resolve,
	})
	require.NoError(t, err)
	h := &captureHandler{name: name}
	require.NoError(t, tr.Start(h))
	t.Cleanup(func() { tr.Close() })
	return tr, h
}

func TestTCPDeliver(t *testing.T) {
	t2, h2 := startTCP(t, "b@localhost", "1.0.0", nil)
	t1, _ := startTCP(t, "a@localhost", "1.0.0", func(gen.Atom) (string, error) {
		return t2.Addr().String(), nil
	})

	to := gen.PID{Node: "b@localhost", ID: 1001, Creation: 1}
	m, err := codec.NewMessage("payload")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, t1.SendTo("b@localhost", Frame{
			Kind:    KindMessage,
			To:      to,
			Message: m,
		}))
	}

	frames := h2.waitFrames(t, 3)
	require.Equal(t, KindMessage, frames[0].Kind)
	require.Equal(t, to, frames[0].To)
	value, err := codec.Decode[string](frames[0].Message)
	require.NoError(t, err)
	require.Equal(t, "payload", value)
}

func TestTCPVersionGate(t *testing.T) {
	t2, _ := startTCP(t, "b@localhost", "2.0.0", nil)
	t1, _ := startTCP(t, "a@localhost", "1.0.0", func(gen.Atom) (string, error) {
		return t2.Addr().String(), nil
	})

	err := t1.SendTo("b@localhost", Frame{Kind: KindMessage})
	require.Error(t, err, "peers a major version apart must not connect")
}

func TestTCPUnknownPeer(t *testing.T) {
	t1, _ := startTCP(t, "a@localhost", "1.0.0", nil)
	require.ErrorIs(t, t1.SendTo("nowhere@localhost", Frame{}), gen.ErrNoConnection)
}
