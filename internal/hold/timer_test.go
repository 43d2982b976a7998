package hold

import (
	"sync"
	"sync/atomic"
	"testing"
	"testing/synctest"
	"time"

	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu        sync.Mutex
	ticks     []Progress
	completed atomic.Int32
	cancelled atomic.Int32
}

func (r *recorder) callbacks() Callbacks {
	return Callbacks{
		OnTick: func(p Progress) {
			r.mu.Lock()
			defer r.mu.Unlock()

			r.ticks = append(r.ticks, p)
		},
		OnComplete: func() { r.completed.Add(1) },
		OnCancel:   func() { r.cancelled.Add(1) },
	}
}

func (r *recorder) progress() []Progress {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]Progress(nil), r.ticks...)
}

// TestTimer_Completes runs a hold to its deadline.
func TestTimer_Completes(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		var r recorder

		timer := New(4*time.Second, time.Second, r.callbacks())
		require.True(t, timer.Start())
		require.False(t, timer.Start())
		require.True(t, timer.Running())

		time.Sleep(2*time.Second + time.Millisecond)
		p := timer.Progress()
		require.InDelta(t, 50.0, p.Percent, 0.1)

		time.Sleep(2 * time.Second)
		synctest.Wait()

		require.EqualValues(t, 1, r.completed.Load())
		require.Zero(t, r.cancelled.Load())
		require.False(t, timer.Running())

		ticks := r.progress()
		require.GreaterOrEqual(t, len(ticks), 4)
		require.InDelta(t, 100.0, ticks[len(ticks)-1].Percent, 1e-9)

		for i := 1; i < len(ticks); i++ {
			require.GreaterOrEqual(t, ticks[i].Elapsed, ticks[i-1].Elapsed)
		}
	})
}

// TestTimer_Cancel suppresses completion.
func TestTimer_Cancel(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		var r recorder

		timer := New(4*time.Second, 50*time.Millisecond, r.callbacks())
		require.False(t, timer.Cancel())
		require.True(t, timer.Start())

		time.Sleep(2 * time.Second)
		require.True(t, timer.Cancel())
		require.False(t, timer.Cancel())

		time.Sleep(5 * time.Second)
		synctest.Wait()

		require.Zero(t, r.completed.Load())
		require.EqualValues(t, 1, r.cancelled.Load())

		n := len(r.progress())
		time.Sleep(time.Second)
		synctest.Wait()
		require.Len(t, r.progress(), n, "no ticks after cancel")

		// The timer can be started again after a cancel.
		require.True(t, timer.Start())
		time.Sleep(4*time.Second + time.Millisecond)
		synctest.Wait()
		require.EqualValues(t, 1, r.completed.Load())
	})
}

// TestTimer_Reset restarts the full duration without a cancel callback.
func TestTimer_Reset(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		var r recorder

		timer := New(4*time.Second, 0, r.callbacks())
		require.False(t, timer.Reset())
		require.True(t, timer.Start())

		time.Sleep(3 * time.Second)
		require.True(t, timer.Reset())

		deadline, ok := timer.Deadline()
		require.True(t, ok)
		require.Equal(t, time.Now().Add(4*time.Second), deadline)

		time.Sleep(3 * time.Second)
		synctest.Wait()
		require.Zero(t, r.completed.Load())

		time.Sleep(time.Second + time.Millisecond)
		synctest.Wait()
		require.EqualValues(t, 1, r.completed.Load())
		require.Zero(t, r.cancelled.Load())
		require.Empty(t, r.progress(), "tick interval disabled")
	})
}
