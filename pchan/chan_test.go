package pchan_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/procmesh/procmesh/gen"
	"github.com/procmesh/procmesh/node"
	"github.com/procmesh/procmesh/pchan"
)

// run executes fn inside a freshly spawned process on a local-only node and
// reports its error back on the test goroutine.
func run(t *testing.T, fn func(p gen.Process) error) {
	t.Helper()

	n, err := node.Start("pchan@localhost", node.Options{DisableLogger: true})
	require.NoError(t, err)
	defer n.Stop()

	errc := make(chan error, 1)
	_, err = n.Spawn(func(p gen.Process) error {
		errc <- fn(p)
		return nil
	})
	require.NoError(t, err)

	select {
	case err := <-errc:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("test process timed out")
	}
}

func TestChanSendReceive(t *testing.T) {
	run(t, func(p gen.Process) error {
		sp, rp := pchan.NewChan[string](p)
		if err := pchan.Send(p, sp, "hi"); err != nil {
			return err
		}
		value, err := rp.Receive()
		if err != nil {
			return err
		}
		if value != "hi" {
			return fmt.Errorf("received %q", value)
		}
		return nil
	})
}

func TestChanOrder(t *testing.T) {
	run(t, func(p gen.Process) error {
		sp, rp := pchan.NewChan[int](p)
		for i := 0; i < 100; i++ {
			if err := pchan.Send(p, sp, i); err != nil {
				return err
			}
		}
		for i := 0; i < 100; i++ {
			value, err := rp.Receive()
			if err != nil {
				return err
			}
			if value != i {
				return fmt.Errorf("received %d, expected %d", value, i)
			}
		}
		return nil
	})
}

func TestChanTryReceive(t *testing.T) {
	run(t, func(p gen.Process) error {
		sp, rp := pchan.NewChan[string](p)

		if _, ok, err := rp.TryReceive(); err != nil || ok {
			return fmt.Errorf("empty channel: ok=%v err=%v", ok, err)
		}
		if err := pchan.Send(p, sp, "x"); err != nil {
			return err
		}
		value, ok, err := rp.TryReceive()
		if err != nil || ok == false || value != "x" {
			return fmt.Errorf("got %q ok=%v err=%v", value, ok, err)
		}
		return nil
	})
}

func TestMergeBiasedPrefersLeft(t *testing.T) {
	run(t, func(p gen.Process) error {
		sp0, rp0 := pchan.NewChan[string](p)
		sp1, rp1 := pchan.NewChan[string](p)
		sp2, rp2 := pchan.NewChan[string](p)
		merged := pchan.MergeBiased(rp0, rp1, rp2)

		pchan.Send(p, sp1, "b")
		pchan.Send(p, sp2, "c")
		pchan.Send(p, sp0, "a")

		// every port has a value; the leftmost wins each time
		for _, expected := range []string{"a", "b", "c"} {
			value, err := merged.Receive()
			if err != nil {
				return err
			}
			if value != expected {
				return fmt.Errorf("received %q, expected %q", value, expected)
			}
		}
		return nil
	})
}

func TestMergeBiasedBlocking(t *testing.T) {
	run(t, func(p gen.Process) error {
		_, rp0 := pchan.NewChan[string](p)
		sp1, rp1 := pchan.NewChan[string](p)
		merged := pchan.MergeBiased(rp0, rp1)

		go func() {
			time.Sleep(20 * time.Millisecond)
			pchan.Send(p, sp1, "late")
		}()

		value, err := merged.Receive()
		if err != nil {
			return err
		}
		if value != "late" {
			return fmt.Errorf("received %q", value)
		}
		return nil
	})
}

// Three ports pre-filled with one value each are served in list order, and
// the served port moves to the end: after "a", "b", "c" a fresh value on
// the first port is read next.
func TestMergeRoundRobin(t *testing.T) {
	run(t, func(p gen.Process) error {
		sp0, rp0 := pchan.NewChan[string](p)
		sp1, rp1 := pchan.NewChan[string](p)
		sp2, rp2 := pchan.NewChan[string](p)
		merged := pchan.MergeRR(rp0, rp1, rp2)

		pchan.Send(p, sp0, "a")
		pchan.Send(p, sp1, "b")
		pchan.Send(p, sp2, "c")

		for _, expected := range []string{"a", "b", "c"} {
			value, err := merged.Receive()
			if err != nil {
				return err
			}
			if value != expected {
				return fmt.Errorf("received %q, expected %q", value, expected)
			}
		}

		pchan.Send(p, sp0, "d")
		value, err := merged.Receive()
		if err != nil {
			return err
		}
		if value != "d" {
			return fmt.Errorf("received %q, expected %q", value, "d")
		}
		return nil
	})
}

// Round-robin keeps draining ports fairly: with one value pending on each
// port, no port is read twice before the others were read once.
func TestMergeRoundRobinFair(t *testing.T) {
	run(t, func(p gen.Process) error {
		var sends []pchan.SendPort[int]
		var ports []pchan.ReceivePort[int]
		for i := 0; i < 4; i++ {
			sp, rp := pchan.NewChan[int](p)
			sends = append(sends, sp)
			ports = append(ports, rp)
		}
		merged := pchan.MergeRR(ports...)

		for i, sp := range sends {
			pchan.Send(p, sp, i)
		}

		seen := make(map[int]bool)
		for range sends {
			value, err := merged.Receive()
			if err != nil {
				return err
			}
			if seen[value] {
				return fmt.Errorf("port %d read twice in one round", value)
			}
			seen[value] = true
		}
		return nil
	})
}

func TestPortCloseUnblocksReader(t *testing.T) {
	run(t, func(p gen.Process) error {
		sp, rp := pchan.NewChan[string](p)
		pchan.Send(p, sp, "last")
		p.ClosePort(sp.ID)

		// what was queued before the close is still readable
		value, err := rp.Receive()
		if err != nil {
			return err
		}
		if value != "last" {
			return fmt.Errorf("received %q", value)
		}
		if _, err = rp.Receive(); err != pchan.ErrClosed {
			return fmt.Errorf("expected closed port, got %v", err)
		}
		return nil
	})
}
