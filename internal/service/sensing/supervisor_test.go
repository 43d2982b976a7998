package sensing

import (
	"context"
	"errors"
	"sync"
	"testing"
	"testing/synctest"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/sos-guard/internal/domain/sos"
	"github.com/oshokin/sos-guard/internal/resource"
)

type fakeSession struct {
	fire <-chan struct{}
}

func (s *fakeSession) Run(ctx context.Context) (bool, error) {
	select {
	case <-ctx.Done():
		return false, nil
	case <-s.fire:
		return true, nil
	}
}

func (s *fakeSession) Close() error { return nil }

type fakeDetector struct {
	name     string
	source   sos.Source
	resource sos.Resource
	fire     chan struct{}

	mu      sync.Mutex
	opens   int
	openErr error
}

func newFakeDetector(name string, source sos.Source, res sos.Resource) *fakeDetector {
	return &fakeDetector{name: name, source: source, resource: res, fire: make(chan struct{})}
}

func (d *fakeDetector) Name() string           { return d.name }
func (d *fakeDetector) Source() sos.Source     { return d.source }
func (d *fakeDetector) Resource() sos.Resource { return d.resource }

func (d *fakeDetector) Open(context.Context) (Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.openErr != nil {
		return nil, d.openErr
	}

	d.opens++

	return &fakeSession{fire: d.fire}, nil
}

func (d *fakeDetector) openCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.opens
}

type memFlags struct {
	mu    sync.Mutex
	flags map[string]bool
}

func (f *memFlags) Flag(_ context.Context, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.flags[name], nil
}

func (f *memFlags) SetFlag(_ context.Context, name string, enabled bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.flags == nil {
		f.flags = make(map[string]bool)
	}

	f.flags[name] = enabled

	return nil
}

type fakeAlarm struct {
	requests  chan sos.TriggerRequest
	observers []func(sos.State)
}

func (a *fakeAlarm) Requests() chan<- sos.TriggerRequest { return a.requests }
func (a *fakeAlarm) Subscribe(o func(sos.State))         { a.observers = append(a.observers, o) }

func (a *fakeAlarm) emit(state sos.State) {
	for _, o := range a.observers {
		o(state)
	}
}

type fixture struct {
	scream  *fakeDetector
	gesture *fakeDetector
	flags   *memFlags
	alarm   *fakeAlarm
	leases  *resource.Manager
	sup     *Supervisor
}

func newFixture() *fixture {
	f := &fixture{
		scream:  newFakeDetector("scream", sos.SourceScream, sos.ResourceMicrophone),
		gesture: newFakeDetector("gesture", sos.SourceGesture, sos.ResourceCamera),
		flags:   new(memFlags),
		alarm:   &fakeAlarm{requests: make(chan sos.TriggerRequest, 4)},
		leases:  resource.NewManager(),
	}

	f.sup = NewSupervisor(Options{
		Detectors: []Detector{f.scream, f.gesture},
		Leases:    f.leases,
		Flags:     f.flags,
		Alarm:     f.alarm,
	})

	return f
}

// TestSupervisor_EnableDisable checks the lease, state and persisted flag through enable and disable.
func TestSupervisor_EnableDisable(t *testing.T) {
	t.Parallel()

	f := newFixture()
	ctx := context.Background()

	require.Equal(t, []string{"gesture", "scream"}, f.sup.Names())
	require.NoError(t, f.sup.Enable(ctx, "scream"))
	require.Equal(t, StateRunning, f.sup.States()["scream"])
	require.Equal(t, StateStopped, f.sup.States()["gesture"])

	owner, held := f.leases.Holder(sos.ResourceMicrophone)
	require.True(t, held)
	require.Equal(t, "scream", owner)

	enabled, err := f.flags.Flag(ctx, "scream")
	require.NoError(t, err)
	require.True(t, enabled)

	// Enabling twice keeps the running worker.
	require.NoError(t, f.sup.Enable(ctx, "scream"))
	require.Equal(t, 1, f.scream.openCount())

	require.NoError(t, f.sup.Disable(ctx, "scream"))
	require.Equal(t, StateStopped, f.sup.States()["scream"])

	_, held = f.leases.Holder(sos.ResourceMicrophone)
	require.False(t, held)

	enabled, err = f.flags.Flag(ctx, "scream")
	require.NoError(t, err)
	require.False(t, enabled)
}

// TestSupervisor_EnableFailures covers unknown names, open failures and a busy resource.
func TestSupervisor_EnableFailures(t *testing.T) {
	t.Parallel()

	f := newFixture()
	ctx := context.Background()

	err := f.sup.Enable(ctx, "sonar")
	require.ErrorIs(t, err, ErrUnknownDetector)

	f.gesture.openErr = errors.New("camera in use by another app")
	err = f.sup.Enable(ctx, "gesture")
	require.ErrorIs(t, err, ErrResourceUnavailable)
	require.Equal(t, StateStopped, f.sup.States()["gesture"])

	_, held := f.leases.Holder(sos.ResourceCamera)
	require.False(t, held)

	enabled, err := f.flags.Flag(ctx, "gesture")
	require.NoError(t, err)
	require.False(t, enabled, "a failed enable must not persist the flag")

	// The alarm owns the microphone, so the detector cannot start.
	lease, err := f.leases.Seize(sos.ResourceMicrophone, "alarm", resource.PriorityAlarm, nil)
	require.NoError(t, err)

	err = f.sup.Enable(ctx, "scream")
	require.ErrorIs(t, err, resource.ErrResourceBusy)

	lease.Release()
}

// TestSupervisor_DetectionSuspendsAndResumes verifies a detection suspends the detector until Idle plus grace.
func TestSupervisor_DetectionSuspendsAndResumes(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		f := newFixture()
		ctx := context.Background()

		require.NoError(t, f.sup.Enable(ctx, "scream"))

		f.scream.fire <- struct{}{}

		req := <-f.alarm.requests
		require.Equal(t, sos.SourceScream, req.Source)

		synctest.Wait()
		require.Equal(t, StateSuspended, f.sup.States()["scream"])

		_, held := f.leases.Holder(sos.ResourceMicrophone)
		require.False(t, held)

		// Active does not resume anything.
		f.alarm.emit(sos.StateActive)
		f.alarm.emit(sos.StateIdle)

		time.Sleep(time.Second)
		synctest.Wait()
		require.Equal(t, StateSuspended, f.sup.States()["scream"])

		time.Sleep(1500 * time.Millisecond)
		synctest.Wait()
		require.Equal(t, StateRunning, f.sup.States()["scream"])
		require.Equal(t, 2, f.scream.openCount())

		f.sup.Shutdown()
		require.Equal(t, StateStopped, f.sup.States()["scream"])
	})
}

// TestSupervisor_ResumeHonoursFlag ensures a flag cleared during the alarm keeps the detector stopped.
func TestSupervisor_ResumeHonoursFlag(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		f := newFixture()
		ctx := context.Background()

		require.NoError(t, f.sup.Enable(ctx, "scream"))

		f.scream.fire <- struct{}{}
		<-f.alarm.requests

		synctest.Wait()
		require.NoError(t, f.flags.SetFlag(ctx, "scream", false))

		f.alarm.emit(sos.StateIdle)
		time.Sleep(3 * time.Second)
		synctest.Wait()

		require.Equal(t, StateStopped, f.sup.States()["scream"])
		require.Equal(t, 1, f.scream.openCount())
	})
}

// TestSupervisor_PreemptedByAlarm checks the alarm revokes a running detector and hands the camera back later.
func TestSupervisor_PreemptedByAlarm(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		f := newFixture()
		ctx := context.Background()

		require.NoError(t, f.sup.Enable(ctx, "gesture"))

		lease, err := f.leases.Seize(sos.ResourceCamera, "alarm", resource.PriorityAlarm, nil)
		require.NoError(t, err)

		// Seize returns only after the detector has let go.
		require.Equal(t, StateSuspended, f.sup.States()["gesture"])

		owner, _ := f.leases.Holder(sos.ResourceCamera)
		require.Equal(t, "alarm", owner)

		lease.Release()
		f.alarm.emit(sos.StateIdle)

		time.Sleep(3 * time.Second)
		synctest.Wait()

		require.Equal(t, StateRunning, f.sup.States()["gesture"])

		owner, _ = f.leases.Holder(sos.ResourceCamera)
		require.Equal(t, "gesture", owner)

		f.sup.Shutdown()
	})
}

// TestSupervisor_Restore starts flagged detectors and keeps flags on shutdown.
func TestSupervisor_Restore(t *testing.T) {
	t.Parallel()

	f := newFixture()
	ctx := context.Background()

	require.NoError(t, f.flags.SetFlag(ctx, "scream", true))

	f.sup.Restore(ctx)

	require.Equal(t, map[string]State{
		"scream":  StateRunning,
		"gesture": StateStopped,
	}, f.sup.States())

	f.sup.Shutdown()

	enabled, err := f.flags.Flag(ctx, "scream")
	require.NoError(t, err)
	require.True(t, enabled, "shutdown keeps the persisted flags")
}

// TestSupervisor_ResumeWaitsForSecondAlarm keeps a detector suspended when a
// new alarm holds its resource at resume time and restarts it after that alarm.
func TestSupervisor_ResumeWaitsForSecondAlarm(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		f := newFixture()
		ctx := context.Background()

		require.NoError(t, f.sup.Enable(ctx, "scream"))

		f.scream.fire <- struct{}{}
		<-f.alarm.requests

		synctest.Wait()
		f.alarm.emit(sos.StateIdle)

		// A second alarm starts inside the grace period.
		time.Sleep(time.Second)

		lease, err := f.leases.Seize(sos.ResourceMicrophone, "alarm", resource.PriorityAlarm, nil)
		require.NoError(t, err)

		time.Sleep(5 * time.Second)
		synctest.Wait()
		require.Equal(t, StateSuspended, f.sup.States()["scream"])
		require.Equal(t, 1, f.scream.openCount())

		lease.Release()
		f.alarm.emit(sos.StateIdle)

		time.Sleep(5 * time.Second)
		synctest.Wait()

		require.Equal(t, StateRunning, f.sup.States()["scream"])
		require.Equal(t, 2, f.scream.openCount())

		enabled, err := f.flags.Flag(ctx, "scream")
		require.NoError(t, err)
		require.True(t, enabled)

		f.sup.Shutdown()
	})
}

// TestSupervisor_RecorderPreemptsDetector suspends the scream detector while
// a manual recording owns the microphone and resumes it afterwards.
func TestSupervisor_RecorderPreemptsDetector(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		f := newFixture()
		ctx := context.Background()

		require.NoError(t, f.sup.Enable(ctx, "scream"))

		lease, err := f.leases.Seize(sos.ResourceMicrophone, "recorder", resource.PriorityRecorder, nil)
		require.NoError(t, err)
		require.Equal(t, StateSuspended, f.sup.States()["scream"])

		// An unrelated Idle does not steal the microphone back.
		f.alarm.emit(sos.StateIdle)
		time.Sleep(3 * time.Second)
		synctest.Wait()
		require.Equal(t, StateSuspended, f.sup.States()["scream"])

		lease.Release()
		f.sup.ResumeLater()

		time.Sleep(3 * time.Second)
		synctest.Wait()
		require.Equal(t, StateRunning, f.sup.States()["scream"])
		require.Equal(t, 2, f.scream.openCount())

		f.sup.Shutdown()
	})
}
