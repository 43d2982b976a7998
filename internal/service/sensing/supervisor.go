package sensing

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/oshokin/sos-guard/internal/domain/sos"
	"github.com/oshokin/sos-guard/internal/logger"
	"github.com/oshokin/sos-guard/internal/observe"
	"github.com/oshokin/sos-guard/internal/resource"
)

var (
	// ErrResourceUnavailable is returned when a detector cannot open its hardware.
	ErrResourceUnavailable = errors.New("resource unavailable")
	// ErrUnknownDetector is returned for a detector name that is not registered.
	ErrUnknownDetector = errors.New("unknown detector")
)

// State is the lifecycle state of one detector.
type State string

const (
	// StateStopped means the detector is disabled or failed.
	StateStopped State = "stopped"
	// StateRunning means the detector holds its lease and reads samples.
	StateRunning State = "running"
	// StateSuspended means the detector fired or was preempted and waits for the alarm to end.
	StateSuspended State = "suspended"
)

// Session is one open hardware stream of a detector.
type Session interface {
	// Run reads samples until a detection, the end of ctx or a stream error.
	Run(ctx context.Context) (bool, error)
	Close() error
}

// Detector is a hardware-backed trigger source.
type Detector interface {
	Name() string
	Source() sos.Source
	Resource() sos.Resource
	Open(ctx context.Context) (Session, error)
}

// FlagStore persists the enabled flag of every detector.
type FlagStore interface {
	Flag(ctx context.Context, name string) (bool, error)
	SetFlag(ctx context.Context, name string, enabled bool) error
}

// Alarm is the part of the alarm controller the supervisor needs.
type Alarm interface {
	Requests() chan<- sos.TriggerRequest
	Subscribe(o func(sos.State))
}

// Options configures a Supervisor.
type Options struct {
	Detectors   []Detector
	Leases      *resource.Manager
	Flags       FlagStore
	Alarm       Alarm
	Notifier    sos.Notifier
	Metrics     *observe.Metrics
	ResumeGrace time.Duration
}

type slot struct {
	detector Detector
	state    State
	gen      uint64
	cancel   context.CancelFunc
	done     chan struct{}
}

// Supervisor starts, stops, suspends and resumes the hardware detectors.
type Supervisor struct {
	leases   *resource.Manager
	flags    FlagStore
	requests chan<- sos.TriggerRequest
	notifier sos.Notifier
	metrics  *observe.Metrics
	grace    time.Duration

	mu    sync.Mutex
	slots map[string]*slot
}

// NewSupervisor creates a supervisor with every detector stopped and
// subscribes it to alarm lifecycle changes.
func NewSupervisor(opts Options) *Supervisor {
	s := &Supervisor{
		leases:   opts.Leases,
		flags:    opts.Flags,
		requests: opts.Alarm.Requests(),
		notifier: opts.Notifier,
		metrics:  opts.Metrics,
		grace:    opts.ResumeGrace,
		slots:    make(map[string]*slot, len(opts.Detectors)),
	}

	if s.notifier == nil {
		s.notifier = sos.NopNotifier{}
	}

	if s.metrics == nil {
		s.metrics = observe.Nop()
	}

	if s.grace <= 0 {
		s.grace = 2 * time.Second
	}

	for _, d := range opts.Detectors {
		s.slots[d.Name()] = &slot{detector: d, state: StateStopped}
	}

	opts.Alarm.Subscribe(s.onAlarmState)

	return s
}

// Enable starts a detector and persists its flag once it is running.
func (s *Supervisor) Enable(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sl, ok := s.slots[name]
	if !ok {
		return fmt.Errorf("%q: %w", name, ErrUnknownDetector)
	}

	if sl.state != StateRunning {
		if err := s.start(ctx, sl); err != nil {
			return err
		}
	}

	if err := s.flags.SetFlag(ctx, name, true); err != nil {
		return fmt.Errorf("failed to persist %s flag: %w", name, err)
	}

	return nil
}

// Disable clears the flag and stops the detector, waiting for its worker.
func (s *Supervisor) Disable(ctx context.Context, name string) error {
	s.mu.Lock()

	sl, ok := s.slots[name]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%q: %w", name, ErrUnknownDetector)
	}

	if err := s.flags.SetFlag(ctx, name, false); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to persist %s flag: %w", name, err)
	}

	done := s.halt(sl, StateStopped)
	s.mu.Unlock()

	<-done

	return nil
}

// Restore starts every detector whose flag is set. Failures are logged.
func (s *Supervisor) Restore(ctx context.Context) {
	ctx = logger.WithName(ctx, "sensing")

	s.mu.Lock()
	defer s.mu.Unlock()

	for name, sl := range s.slots {
		if sl.state == StateRunning || !s.flagSet(ctx, name) {
			continue
		}

		if err := s.start(ctx, sl); err != nil {
			logger.WarnKV(ctx, "Failed to restore detector", "detector", name, "error", err)
		}
	}
}

// States returns the state of every detector.
func (s *Supervisor) States() map[string]State {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]State, len(s.slots))
	for name, sl := range s.slots {
		out[name] = sl.state
	}

	return out
}

// Shutdown stops every detector without touching the persisted flags.
func (s *Supervisor) Shutdown() {
	s.mu.Lock()

	var waits []chan struct{}
	for _, sl := range s.slots {
		waits = append(waits, s.halt(sl, StateStopped))
	}

	s.mu.Unlock()

	for _, done := range waits {
		<-done
	}
}

// start acquires the lease, opens the stream and launches the worker.
// Must be called with s.mu held.
func (s *Supervisor) start(ctx context.Context, sl *slot) error {
	name := sl.detector.Name()

	sl.gen++
	gen := sl.gen

	lease, err := s.leases.Acquire(sl.detector.Resource(), name, resource.PriorityDetector, func() {
		s.revoke(sl, gen)
	})
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}

	session, err := sl.detector.Open(ctx)
	if err != nil {
		lease.Release()
		s.setState(sl, StateStopped)

		return fmt.Errorf("%s: %w: %w", name, ErrResourceUnavailable, err)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	runCtx = logger.WithName(runCtx, name)

	sl.cancel = cancel
	sl.done = make(chan struct{})
	s.setState(sl, StateRunning)

	go s.work(runCtx, sl, gen, session, lease, sl.done)

	return nil
}

func (s *Supervisor) work(ctx context.Context, sl *slot, gen uint64, session Session, lease *resource.Lease, done chan struct{}) {
	defer close(done)

	detected, err := session.Run(ctx)

	if closeErr := session.Close(); closeErr != nil {
		logger.WarnKV(ctx, "Failed to close detector stream", "error", closeErr)
	}

	lease.Release()

	if err != nil && ctx.Err() == nil {
		logger.ErrorKV(ctx, "Detector stream failed", "error", err)
	}

	if detected {
		source := sl.detector.Source()
		s.metrics.RecordDetection(ctx, source)
		logger.InfoKV(ctx, "Detection confirmed", "source", source)

		select {
		case s.requests <- sos.NewTriggerRequest(source):
		case <-ctx.Done():
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if sl.gen != gen || sl.state != StateRunning {
		return
	}

	if detected {
		s.setState(sl, StateSuspended)
	} else {
		s.setState(sl, StateStopped)
	}
}

// revoke is called by the lease manager when the alarm seizes the resource.
func (s *Supervisor) revoke(sl *slot, gen uint64) {
	s.mu.Lock()

	if sl.gen != gen {
		s.mu.Unlock()
		return
	}

	done := s.halt(sl, StateSuspended)
	s.mu.Unlock()

	<-done
}

// halt cancels the worker and returns a channel closed when it has exited.
// Must be called with s.mu held.
func (s *Supervisor) halt(sl *slot, next State) chan struct{} {
	done := sl.done
	if done == nil {
		done = make(chan struct{})
		close(done)
	}

	if sl.cancel != nil {
		sl.cancel()
		sl.cancel = nil
	}

	if sl.state == StateRunning || next == StateStopped {
		s.setState(sl, next)
	}

	return done
}

func (s *Supervisor) onAlarmState(state sos.State) {
	if state != sos.StateIdle {
		return
	}

	s.ResumeLater()
}

// ResumeLater restarts suspended detectors after the grace period. It is
// called when the alarm returns to Idle and when a manual recording ends.
func (s *Supervisor) ResumeLater() {
	time.AfterFunc(s.grace, s.resume)
}

// resume restarts suspended detectors whose flag is still set. A detector
// whose resource is held again stays suspended until the next Idle.
func (s *Supervisor) resume() {
	ctx := logger.WithName(context.Background(), "sensing")

	s.mu.Lock()
	defer s.mu.Unlock()

	for name, sl := range s.slots {
		if sl.state != StateSuspended {
			continue
		}

		if !s.flagSet(ctx, name) {
			s.setState(sl, StateStopped)
			continue
		}

		err := s.start(ctx, sl)
		if err == nil {
			continue
		}

		// A new alarm took the resource during the grace period; its own
		// Idle notification retries the detector.
		if errors.Is(err, resource.ErrResourceBusy) {
			logger.InfoKV(ctx, "Detector resource still busy, staying suspended", "detector", name, "error", err)
			continue
		}

		logger.WarnKV(ctx, "Failed to resume detector", "detector", name, "error", err)
		s.setState(sl, StateStopped)
	}
}

func (s *Supervisor) flagSet(ctx context.Context, name string) bool {
	enabled, err := s.flags.Flag(ctx, name)
	if err != nil {
		logger.WarnKV(ctx, "Failed to read detector flag", "detector", name, "error", err)
		return false
	}

	return enabled
}

// setState must be called with s.mu held.
func (s *Supervisor) setState(sl *slot, state State) {
	if sl.state == state {
		return
	}

	sl.state = state
	s.notifier.Announce(sos.EventDetectorState, map[string]any{
		"detector": sl.detector.Name(),
		"state":    string(state),
	})
}

// Names lists the registered detectors.
func (s *Supervisor) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return slices.Sorted(maps.Keys(s.slots))
}
