package recorder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oshokin/sos-guard/internal/domain/sos"
	"github.com/oshokin/sos-guard/internal/logger"
	"github.com/oshokin/sos-guard/internal/resource"
)

var (
	// ErrRecordingActive is returned by Start while a recording runs.
	ErrRecordingActive = errors.New("recording already in progress")
	// ErrNotRecording is returned by Stop when nothing is being recorded.
	ErrNotRecording = errors.New("no recording in progress")
	// ErrMicrophoneUnavailable is returned when the recording file or stream cannot be opened.
	ErrMicrophoneUnavailable = errors.New("microphone unavailable")
)

const (
	owner          = "recorder"
	fileTimeLayout = "20060102_150405"
)

// AudioSink starts audio recordings.
type AudioSink interface {
	WriteAudio(ctx context.Context, path string) (sos.RecordingHandle, error)
}

// Ledger keeps finished recordings.
type Ledger interface {
	AppendRecording(ctx context.Context, rec sos.Recording) error
	Recordings(ctx context.Context) ([]sos.Recording, error)
}

// Options configures a Service.
type Options struct {
	// Dir receives the REC_<timestamp>.wav files.
	Dir      string
	Audio    AudioSink
	Ledger   Ledger
	Leases   *resource.Manager
	Notifier sos.Notifier
	// OnRelease runs after a recording stopped by the user has let go of
	// the microphone.
	OnRelease func()
	// Now defaults to time.Now.
	Now func() time.Time
}

type active struct {
	rec    *sos.Recording
	handle sos.RecordingHandle
	lease  *resource.Lease
}

// Service runs at most one manual recording at a time.
type Service struct {
	dir       string
	audio     AudioSink
	ledger    Ledger
	leases    *resource.Manager
	notifier  sos.Notifier
	onRelease func()
	now       func() time.Time

	mu      sync.Mutex
	gen     uint64
	current *active
}

// NewService creates an idle recorder.
func NewService(opts Options) *Service {
	s := &Service{
		dir:       opts.Dir,
		audio:     opts.Audio,
		ledger:    opts.Ledger,
		leases:    opts.Leases,
		notifier:  opts.Notifier,
		onRelease: opts.OnRelease,
		now:       opts.Now,
	}

	if s.notifier == nil {
		s.notifier = sos.NopNotifier{}
	}

	if s.onRelease == nil {
		s.onRelease = func() {}
	}

	if s.now == nil {
		s.now = time.Now
	}

	return s
}

// Start takes the microphone and begins recording. Detectors holding the
// microphone are suspended; an active alarm makes Start fail with
// resource.ErrResourceBusy.
func (s *Service) Start(ctx context.Context) (*sos.Recording, error) {
	ctx = logger.WithName(context.WithoutCancel(ctx), "recorder")

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != nil {
		return nil, ErrRecordingActive
	}

	s.gen++
	gen := s.gen

	lease, err := s.leases.Seize(sos.ResourceMicrophone, owner, resource.PriorityRecorder, func() {
		s.preempt(ctx, gen)
	})
	if err != nil {
		return nil, fmt.Errorf("start recording: %w", err)
	}

	startedAt := s.now()
	path := filepath.Join(s.dir, "REC_"+startedAt.Format(fileTimeLayout)+".wav")

	handle, err := s.audio.WriteAudio(ctx, path)
	if err != nil {
		lease.Release()
		s.onRelease()

		return nil, fmt.Errorf("start recording: %w: %w", ErrMicrophoneUnavailable, err)
	}

	rec := &sos.Recording{Path: path, StartedAt: startedAt}
	s.current = &active{rec: rec, handle: handle, lease: lease}

	logger.InfoKV(ctx, "Recording started", "path", path)
	s.notifier.Announce(sos.EventRecordingStarted, map[string]any{"path": path})

	return rec.Clone(), nil
}

// Stop finishes the running recording and returns it.
func (s *Service) Stop(ctx context.Context) (*sos.Recording, error) {
	ctx = logger.WithName(ctx, "recorder")

	s.mu.Lock()

	if s.current == nil {
		s.mu.Unlock()
		return nil, ErrNotRecording
	}

	rec := s.finish(ctx, "stopped")
	s.mu.Unlock()

	s.onRelease()

	return rec, nil
}

// Active returns the running recording, or nil.
func (s *Service) Active() *sos.Recording {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		return nil
	}

	return s.current.rec.Clone()
}

// List returns the finished recordings, newest first.
func (s *Service) List(ctx context.Context) ([]sos.Recording, error) {
	return s.ledger.Recordings(ctx)
}

// preempt is called by the lease manager when the alarm takes the microphone.
func (s *Service) preempt(ctx context.Context, gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil || s.gen != gen {
		return
	}

	s.finish(ctx, "preempted")
}

// finish closes the file, records it and releases the microphone.
// Must be called with s.mu held.
func (s *Service) finish(ctx context.Context, reason string) *sos.Recording {
	cur := s.current
	s.current = nil

	if err := cur.handle.Close(); err != nil {
		logger.ErrorKV(ctx, "Failed to finalise recording", "path", cur.rec.Path, "error", err)
	}

	cur.lease.Release()

	cur.rec.EndedAt = s.now()

	if info, err := os.Stat(cur.rec.Path); err == nil {
		cur.rec.Bytes = info.Size()
	}

	if err := s.ledger.AppendRecording(ctx, *cur.rec); err != nil {
		logger.ErrorKV(ctx, "Failed to record recording in ledger", "path", cur.rec.Path, "error", err)
	}

	logger.InfoKV(ctx, "Recording finished", "path", cur.rec.Path, "reason", reason, "bytes", cur.rec.Bytes)
	s.notifier.Announce(sos.EventRecordingStopped, map[string]any{
		"path":   cur.rec.Path,
		"reason": reason,
		"bytes":  cur.rec.Bytes,
	})

	return cur.rec.Clone()
}
