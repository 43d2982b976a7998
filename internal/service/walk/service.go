package walk

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/oshokin/sos-guard/internal/domain/sos"
	"github.com/oshokin/sos-guard/internal/hold"
	"github.com/oshokin/sos-guard/internal/logger"
	"github.com/oshokin/sos-guard/internal/service/alert"
)

var (
	// ErrWalkActive is returned by Start while a walk is running.
	ErrWalkActive = errors.New("safe walk already active")
	// ErrWalkInactive is returned by CheckIn and Stop when no walk is running.
	ErrWalkInactive = errors.New("no active safe walk")
	// ErrInvalidDuration is returned for a walk duration outside the allowed range.
	ErrInvalidDuration = errors.New("invalid safe walk duration")
)

// Alerter resolves the location and messages contacts.
type Alerter interface {
	Locate(ctx context.Context) *sos.Location
	Broadcast(ctx context.Context, text string) (int, error)
}

// Arbiter admits alarm triggers.
type Arbiter interface {
	RequestTrigger(ctx context.Context, req sos.TriggerRequest) (*sos.Session, error)
}

// Config holds the walk tunables.
type Config struct {
	MinDuration   time.Duration
	MaxDuration   time.Duration
	ShareInterval time.Duration
	Tick          time.Duration
	WarningBefore time.Duration
}

func (c *Config) fillDefaults() {
	if c.MinDuration <= 0 {
		c.MinDuration = 5 * time.Minute
	}

	if c.MaxDuration <= 0 {
		c.MaxDuration = 60 * time.Minute
	}

	if c.ShareInterval <= 0 {
		c.ShareInterval = 2 * time.Minute
	}

	if c.Tick <= 0 {
		c.Tick = time.Second
	}

	if c.WarningBefore <= 0 {
		c.WarningBefore = time.Minute
	}
}

// Service is the safe walk dead-man timer. A walk that is not checked in
// before its deadline raises the alarm.
type Service struct {
	cfg      Config
	alerter  Alerter
	arbiter  Arbiter
	notifier sos.Notifier

	mu         sync.Mutex
	walk       *sos.WalkSession
	timer      *hold.Timer
	stopShares context.CancelFunc
	warned     bool

	// alerts tracks outgoing messages, which are never cancelled.
	alerts sync.WaitGroup
}

// NewService creates an idle safe walk service.
func NewService(cfg Config, alerter Alerter, arbiter Arbiter, notifier sos.Notifier) *Service {
	cfg.fillDefaults()

	if notifier == nil {
		notifier = sos.NopNotifier{}
	}

	return &Service{
		cfg:      cfg,
		alerter:  alerter,
		arbiter:  arbiter,
		notifier: notifier,
	}
}

// Start begins a walk with the given check-in window.
func (s *Service) Start(ctx context.Context, d time.Duration) (*sos.WalkSession, error) {
	if d < s.cfg.MinDuration || d > s.cfg.MaxDuration {
		return nil, fmt.Errorf("%w: %s not in [%s, %s]", ErrInvalidDuration, d, s.cfg.MinDuration, s.cfg.MaxDuration)
	}

	ctx = logger.WithName(ctx, "walk")

	s.mu.Lock()

	if s.walk != nil && s.walk.Active {
		s.mu.Unlock()
		return nil, ErrWalkActive
	}

	walk := &sos.WalkSession{
		ID:       uuid.NewString(),
		Duration: d,
		Active:   true,
	}

	s.walk = walk
	s.warned = false
	s.timer = hold.New(d, s.cfg.Tick, hold.Callbacks{
		OnTick:     func(p hold.Progress) { s.onTick(walk.ID, p) },
		OnComplete: func() { s.onExpire(ctx, walk.ID) },
	})
	s.timer.Start()

	deadline, _ := s.timer.Deadline()
	walk.StartedAt = deadline.Add(-d)
	walk.Deadline = deadline

	shareCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.stopShares = cancel
	snapshot := walk.Clone()
	s.mu.Unlock()

	go s.shareLoop(shareCtx)

	logger.InfoKV(ctx, "Safe walk started", "walk", walk.ID, "duration", d)
	s.notifier.Announce(sos.EventWalkStarted, map[string]any{"walk": walk.ID, "deadline": walk.Deadline})
	s.send(ctx, func(loc *sos.Location) string { return alert.WalkStartedMessage(d, loc) })

	return snapshot, nil
}

// CheckIn restarts the full check-in window from now.
func (s *Service) CheckIn(ctx context.Context) (*sos.WalkSession, error) {
	ctx = logger.WithName(ctx, "walk")

	s.mu.Lock()

	if s.walk == nil || !s.walk.Active || !s.timer.Reset() {
		s.mu.Unlock()
		return nil, ErrWalkInactive
	}

	deadline, _ := s.timer.Deadline()
	s.walk.Deadline = deadline
	s.walk.CheckIns++
	s.warned = false
	snapshot := s.walk.Clone()
	s.mu.Unlock()

	logger.InfoKV(ctx, "Safe walk check-in", "walk", snapshot.ID, "deadline", snapshot.Deadline)
	s.notifier.Announce(sos.EventWalkCheckedIn, map[string]any{"walk": snapshot.ID, "deadline": snapshot.Deadline})
	s.send(ctx, alert.WalkCheckInMessage)

	return snapshot, nil
}

// Stop ends the walk as a safe arrival.
func (s *Service) Stop(ctx context.Context) error {
	ctx = logger.WithName(ctx, "walk")

	s.mu.Lock()
	walk, ok := s.deactivate("")
	s.mu.Unlock()

	if !ok {
		return ErrWalkInactive
	}

	logger.InfoKV(ctx, "Safe walk ended", "walk", walk.ID)
	s.notifier.Announce(sos.EventWalkEnded, map[string]any{"walk": walk.ID, "checked_in": true})
	s.send(ctx, alert.WalkEndedMessage)

	return nil
}

// Status returns a copy of the current or last walk, or nil.
func (s *Service) Status() *sos.WalkSession {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.walk.Clone()
}

// Wait blocks until outgoing walk messages have been handed to the messenger.
func (s *Service) Wait() {
	s.alerts.Wait()
}

// deactivate ends the walk with the given id, or the current one if id is
// empty. Must be called with s.mu held.
func (s *Service) deactivate(id string) (*sos.WalkSession, bool) {
	if s.walk == nil || !s.walk.Active || (id != "" && s.walk.ID != id) {
		return nil, false
	}

	s.walk.Active = false
	s.timer.Cancel()
	s.stopShares()

	return s.walk.Clone(), true
}

func (s *Service) onTick(id string, p hold.Progress) {
	s.mu.Lock()

	if s.walk == nil || !s.walk.Active || s.walk.ID != id {
		s.mu.Unlock()
		return
	}

	warn := p.Remaining <= s.cfg.WarningBefore && !s.warned
	if warn {
		s.warned = true
	}

	s.mu.Unlock()

	s.notifier.Announce(sos.EventWalkTick, map[string]any{"walk": id, "remaining_s": int(p.Remaining.Seconds())})

	if warn {
		s.notifier.Announce(sos.EventWalkWarning, map[string]any{"walk": id, "remaining_s": int(p.Remaining.Seconds())})
	}
}

func (s *Service) onExpire(ctx context.Context, id string) {
	s.mu.Lock()
	walk, ok := s.deactivate(id)
	s.mu.Unlock()

	if !ok {
		return
	}

	logger.WarnKV(ctx, "Safe walk expired without check-in", "walk", walk.ID)
	s.notifier.Announce(sos.EventWalkExpired, map[string]any{"walk": walk.ID})
	s.send(ctx, alert.WalkExpiredMessage)

	req := sos.NewTriggerRequest(sos.SourceSafeWalkExpiry)
	if _, err := s.arbiter.RequestTrigger(context.WithoutCancel(ctx), req); err != nil {
		logger.InfoKV(ctx, "Safe walk trigger not admitted", "error", err)
	}

	s.notifier.Announce(sos.EventWalkEnded, map[string]any{"walk": walk.ID, "checked_in": false})
	s.send(ctx, alert.WalkAbandonedMessage)
}

func (s *Service) shareLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.ShareInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.send(ctx, alert.WalkLocationMessage)
		}
	}
}

// send resolves the location and broadcasts the rendered text in the background.
func (s *Service) send(ctx context.Context, render func(*sos.Location) string) {
	if s.alerter == nil {
		return
	}

	ctx = context.WithoutCancel(ctx)

	s.alerts.Go(func() {
		text := render(s.alerter.Locate(ctx))
		if text == "" {
			return
		}

		if _, err := s.alerter.Broadcast(ctx, text); err != nil {
			logger.WarnKV(ctx, "Safe walk alert not fully delivered", "error", err)
		}
	})
}
