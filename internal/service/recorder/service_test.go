package recorder

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/sos-guard/internal/domain/sos"
	"github.com/oshokin/sos-guard/internal/resource"
)

type fileHandle struct {
	path   string
	closed *atomic.Int32
}

func (h fileHandle) Close() error {
	h.closed.Add(1)

	return os.WriteFile(h.path, make([]byte, 1024), 0o600)
}

type fileSink struct {
	err    error
	closed atomic.Int32
}

func (s *fileSink) WriteAudio(_ context.Context, path string) (sos.RecordingHandle, error) {
	if s.err != nil {
		return nil, s.err
	}

	return fileHandle{path: path, closed: &s.closed}, nil
}

type memLedger struct {
	mu   sync.Mutex
	recs []sos.Recording
}

func (l *memLedger) AppendRecording(_ context.Context, rec sos.Recording) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.recs = append([]sos.Recording{rec}, l.recs...)

	return nil
}

func (l *memLedger) Recordings(context.Context) ([]sos.Recording, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	return append([]sos.Recording(nil), l.recs...), nil
}

type kinds struct {
	mu   sync.Mutex
	seen []sos.EventKind
}

func (k *kinds) Announce(kind sos.EventKind, _ map[string]any) {
	k.mu.Lock()
	defer k.mu.Unlock()

	k.seen = append(k.seen, kind)
}

type fixture struct {
	dir      string
	sink     *fileSink
	ledger   *memLedger
	leases   *resource.Manager
	events   *kinds
	releases atomic.Int32
	svc      *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		dir:    t.TempDir(),
		sink:   new(fileSink),
		ledger: new(memLedger),
		leases: resource.NewManager(),
		events: new(kinds),
	}

	clock := time.Date(2026, 3, 1, 22, 0, 0, 0, time.UTC)

	f.svc = NewService(Options{
		Dir:       f.dir,
		Audio:     f.sink,
		Ledger:    f.ledger,
		Leases:    f.leases,
		Notifier:  f.events,
		OnRelease: func() { f.releases.Add(1) },
		Now: func() time.Time {
			clock = clock.Add(time.Minute)
			return clock
		},
	})

	return f
}

// TestService_StartStop records one file, holds the microphone meanwhile and
// stores the result in the ledger.
func TestService_StartStop(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	rec, err := f.svc.Start(ctx)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(f.dir, "REC_20260301_220100.wav"), rec.Path)
	require.True(t, rec.Active())
	require.Equal(t, rec, f.svc.Active())

	owner, held := f.leases.Holder(sos.ResourceMicrophone)
	require.True(t, held)
	require.Equal(t, "recorder", owner)

	_, err = f.svc.Start(ctx)
	require.ErrorIs(t, err, ErrRecordingActive)

	done, err := f.svc.Stop(ctx)
	require.NoError(t, err)
	require.False(t, done.Active())
	require.Equal(t, int64(1024), done.Bytes)
	require.Equal(t, int32(1), f.sink.closed.Load())
	require.Equal(t, int32(1), f.releases.Load())
	require.Nil(t, f.svc.Active())

	_, held = f.leases.Holder(sos.ResourceMicrophone)
	require.False(t, held)

	list, err := f.svc.List(ctx)
	require.NoError(t, err)
	require.Equal(t, []sos.Recording{*done}, list)

	_, err = f.svc.Stop(ctx)
	require.ErrorIs(t, err, ErrNotRecording)

	require.Equal(t, []sos.EventKind{sos.EventRecordingStarted, sos.EventRecordingStopped}, f.events.seen)
}

// TestService_PreemptedByAlarm finishes the recording when the alarm takes the microphone.
func TestService_PreemptedByAlarm(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Start(ctx)
	require.NoError(t, err)

	lease, err := f.leases.Seize(sos.ResourceMicrophone, "alarm", resource.PriorityAlarm, nil)
	require.NoError(t, err)

	defer lease.Release()

	require.Nil(t, f.svc.Active())
	require.Equal(t, int32(1), f.sink.closed.Load())
	require.Zero(t, f.releases.Load(), "the alarm resumes detectors itself")

	list, err := f.svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, int64(1024), list[0].Bytes)

	// The alarm outranks the recorder.
	_, err = f.svc.Start(ctx)
	require.ErrorIs(t, err, resource.ErrResourceBusy)
}

// TestService_SinkFailure gives the microphone back when the file cannot be opened.
func TestService_SinkFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.sink.err = errors.New("no microphone")

	_, err := f.svc.Start(context.Background())
	require.ErrorIs(t, err, ErrMicrophoneUnavailable)
	require.ErrorContains(t, err, "no microphone")
	require.Nil(t, f.svc.Active())
	require.Equal(t, int32(1), f.releases.Load())

	_, held := f.leases.Holder(sos.ResourceMicrophone)
	require.False(t, held)
}
