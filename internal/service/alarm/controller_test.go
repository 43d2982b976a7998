package alarm

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"testing/synctest"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/sos-guard/internal/domain/sos"
	"github.com/oshokin/sos-guard/internal/resource"
)

type fakeSiren struct {
	startErr error
	started  atomic.Int32
	stopped  atomic.Int32
}

func (s *fakeSiren) Start(context.Context) error {
	s.started.Add(1)
	return s.startErr
}

func (s *fakeSiren) Stop() error {
	s.stopped.Add(1)
	return nil
}

type fakeHaptics struct {
	err       error
	cancelled atomic.Int32
}

func (h *fakeHaptics) Vibrate(context.Context, []time.Duration) error { return h.err }

func (h *fakeHaptics) Cancel() error {
	h.cancelled.Add(1)
	return nil
}

type fakeHandle struct{ closed *atomic.Int32 }

func (h fakeHandle) Close() error {
	h.closed.Add(1)
	return nil
}

type fakeAudio struct {
	failures int32
	calls    atomic.Int32
	closed   atomic.Int32
}

func (a *fakeAudio) WriteAudio(context.Context, string) (sos.RecordingHandle, error) {
	if a.calls.Add(1) <= a.failures {
		return nil, errors.New("mic unavailable")
	}

	return fakeHandle{closed: &a.closed}, nil
}

type fakeEvidence struct{ runs atomic.Int32 }

func (e *fakeEvidence) Run(ctx context.Context, _ string, onPhoto func(int)) int {
	e.runs.Add(1)

	for n := 1; ; n++ {
		onPhoto(n)

		select {
		case <-ctx.Done():
			return n
		case <-time.After(5 * time.Second):
		}
	}
}

type fakeAlerter struct {
	mu    sync.Mutex
	texts []string
}

func (a *fakeAlerter) Locate(context.Context) *sos.Location { return nil }

func (a *fakeAlerter) Broadcast(_ context.Context, text string) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.texts = append(a.texts, text)

	return 1, nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []sos.Event
}

func (n *recordingNotifier) Announce(kind sos.EventKind, payload map[string]any) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.events = append(n.events, sos.Event{Kind: kind, Payload: payload})
}

func (n *recordingNotifier) count(kind sos.EventKind) int {
	n.mu.Lock()
	defer n.mu.Unlock()

	var c int

	for _, e := range n.events {
		if e.Kind == kind {
			c++
		}
	}

	return c
}

type fixture struct {
	controller *Controller
	leases     *resource.Manager
	siren      *fakeSiren
	haptics    *fakeHaptics
	audio      *fakeAudio
	evidence   *fakeEvidence
	alerter    *fakeAlerter
	notifier   *recordingNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		leases:   resource.NewManager(),
		siren:    new(fakeSiren),
		haptics:  new(fakeHaptics),
		audio:    new(fakeAudio),
		evidence: new(fakeEvidence),
		alerter:  new(fakeAlerter),
		notifier: new(recordingNotifier),
	}

	f.controller = NewController(Options{
		Config:   Config{EvidenceDir: t.TempDir()},
		Leases:   f.leases,
		Siren:    f.siren,
		Haptics:  f.haptics,
		Audio:    f.audio,
		Evidence: f.evidence,
		Alerter:  f.alerter,
		Notifier: f.notifier,
	})

	return f
}

// TestController_SingleAdmission fires many concurrent triggers and expects one session.
func TestController_SingleAdmission(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	var (
		wg       sync.WaitGroup
		admitted atomic.Int32
		rejected atomic.Int32
	)

	sources := []sos.Source{sos.SourceScream, sos.SourceGesture, sos.SourceVolumeKeys, sos.SourceShake}
	for i := range 40 {
		wg.Go(func() {
			_, err := f.controller.RequestTrigger(context.Background(), sos.NewTriggerRequest(sources[i%len(sources)]))
			if err == nil {
				admitted.Add(1)
				return
			}

			if errors.Is(err, ErrAlreadyActive) {
				rejected.Add(1)
			}
		})
	}

	wg.Wait()

	require.EqualValues(t, 1, admitted.Load())
	require.EqualValues(t, 39, rejected.Load())
	require.True(t, f.controller.Active())
	require.EqualValues(t, 1, f.siren.started.Load())

	require.True(t, f.controller.Stop(context.Background()))
	require.False(t, f.controller.Stop(context.Background()))
	require.False(t, f.controller.Active())

	f.controller.Wait()
	require.Len(t, f.alerter.texts, 1)
	require.Contains(t, f.alerter.texts[0], "SOS EMERGENCY")
	require.Equal(t, 1, f.notifier.count(sos.EventAlarmStarted))
	require.Equal(t, 1, f.notifier.count(sos.EventAlarmStopped))

	// A new trigger is admitted once the previous session has ended.
	_, err := f.controller.RequestTrigger(context.Background(), sos.NewTriggerRequest(sos.SourceManual))
	require.NoError(t, err)
	require.True(t, f.controller.Stop(context.Background()))
	f.controller.Wait()
}

// TestController_ScreamThenGesture admits the scream and drops the gesture 10ms later.
func TestController_ScreamThenGesture(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		f := newFixture(t)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})

		go func() {
			defer close(done)
			f.controller.RunDispatcher(ctx)
		}()

		require.True(t, f.controller.Submit(sos.NewTriggerRequest(sos.SourceScream)))
		time.Sleep(10 * time.Millisecond)
		require.True(t, f.controller.Submit(sos.NewTriggerRequest(sos.SourceGesture)))
		synctest.Wait()

		session := f.controller.Session()
		require.NotNil(t, session)
		require.Equal(t, sos.SourceScream, session.Source)
		require.Equal(t, sos.StateActive, session.State)
		require.Equal(t, 1, f.notifier.count(sos.EventAlarmStarted))

		_, err := f.controller.RequestTrigger(context.Background(), sos.NewTriggerRequest(sos.SourceGesture))
		require.ErrorIs(t, err, ErrAlreadyActive)

		require.True(t, f.controller.Stop(context.Background()))
		cancel()
		<-done
		f.controller.Wait()
	})
}

// TestController_ReleasesAfterPartialFailure verifies teardown after failing entry actions.
func TestController_ReleasesAfterPartialFailure(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		f := newFixture(t)
		f.siren.startErr = errors.New("no audio device")
		f.haptics.err = errors.New("no vibrator")
		f.audio.failures = 2

		session, err := f.controller.RequestTrigger(context.Background(), sos.NewTriggerRequest(sos.SourceVolumeKeys))
		require.NoError(t, err)
		require.True(t, session.Holds(sos.ResourceMicrophone))
		require.True(t, session.Holds(sos.ResourceCamera))

		// Both recording attempts fail, one second apart.
		time.Sleep(time.Second + time.Millisecond)
		synctest.Wait()
		require.EqualValues(t, 2, f.audio.calls.Load())
		require.Empty(t, f.controller.Session().RecordingPath)

		require.True(t, f.controller.Stop(context.Background()))

		_, held := f.leases.Holder(sos.ResourceMicrophone)
		require.False(t, held)
		_, held = f.leases.Holder(sos.ResourceCamera)
		require.False(t, held)

		require.EqualValues(t, 1, f.siren.stopped.Load())
		require.EqualValues(t, 1, f.haptics.cancelled.Load())

		last := f.controller.Session()
		require.Equal(t, sos.StateIdle, last.State)
		require.Empty(t, last.Resources)

		f.controller.Wait()
	})
}

// TestController_RecordingRetry succeeds on the second attempt and finalises on stop.
func TestController_RecordingRetry(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		f := newFixture(t)
		f.audio.failures = 1

		_, err := f.controller.RequestTrigger(context.Background(), sos.NewTriggerRequest(sos.SourceScream))
		require.NoError(t, err)

		time.Sleep(time.Second + time.Millisecond)
		synctest.Wait()

		path := f.controller.Session().RecordingPath
		require.True(t, strings.HasPrefix(filepath.Base(path), "SOS_"))
		require.Equal(t, ".wav", filepath.Ext(path))

		require.True(t, f.controller.Stop(context.Background()))
		require.EqualValues(t, 1, f.audio.closed.Load())
		require.Positive(t, f.controller.Session().PhotoCount)

		f.controller.Wait()
	})
}

// TestController_AutoExpire stops the session after the configured duration.
func TestController_AutoExpire(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		f := newFixture(t)

		var (
			mu     sync.Mutex
			states []sos.State
		)

		f.controller.Subscribe(func(s sos.State) {
			mu.Lock()
			defer mu.Unlock()

			states = append(states, s)
		})

		_, err := f.controller.RequestTrigger(context.Background(), sos.NewTriggerRequest(sos.SourceShake))
		require.NoError(t, err)

		time.Sleep(5*time.Minute - time.Second)
		synctest.Wait()
		require.True(t, f.controller.Active())

		time.Sleep(2 * time.Second)
		synctest.Wait()
		require.False(t, f.controller.Active())
		require.False(t, f.controller.Stop(context.Background()))

		mu.Lock()
		require.Equal(t, []sos.State{sos.StateActive, sos.StateIdle}, states)
		mu.Unlock()

		// One photo immediately, then one every 5 s; the last tick races the expiry.
		require.InDelta(t, 60, f.controller.Session().PhotoCount, 1)

		f.controller.Wait()
	})
}

// TestController_RevokesDetector checks that entry preempts a detector lease.
func TestController_RevokesDetector(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	var revoked atomic.Bool

	_, err := f.leases.Acquire(sos.ResourceMicrophone, "scream", resource.PriorityDetector, func() {
		revoked.Store(true)
	})
	require.NoError(t, err)

	_, err = f.controller.RequestTrigger(context.Background(), sos.NewTriggerRequest(sos.SourceGesture))
	require.NoError(t, err)
	require.True(t, revoked.Load())

	owner, _ := f.leases.Holder(sos.ResourceMicrophone)
	require.Equal(t, "alarm", owner)

	require.True(t, f.controller.Stop(context.Background()))
	f.controller.Wait()
}
