package alarm

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"

	"github.com/oshokin/sos-guard/internal/domain/sos"
	"github.com/oshokin/sos-guard/internal/logger"
	"github.com/oshokin/sos-guard/internal/observe"
	"github.com/oshokin/sos-guard/internal/resource"
	"github.com/oshokin/sos-guard/internal/service/alert"
)

var (
	// ErrAlreadyActive is returned when a trigger arrives while a session runs.
	ErrAlreadyActive = errors.New("alarm already active")
	// ErrArmed is returned when an arming countdown is already running.
	ErrArmed = errors.New("arming countdown already running")
)

// Siren plays the audible alarm.
type Siren interface {
	Start(ctx context.Context) error
	Stop() error
}

// Haptics drives the vibration motor.
type Haptics interface {
	Vibrate(ctx context.Context, pattern []time.Duration) error
	Cancel() error
}

// AudioSink starts audio recordings.
type AudioSink interface {
	WriteAudio(ctx context.Context, path string) (sos.RecordingHandle, error)
}

// EvidenceRunner captures photos until ctx is done and returns how many were taken.
type EvidenceRunner interface {
	Run(ctx context.Context, sessionID string, onPhoto func(count int)) int
}

// Alerter resolves the location and messages contacts.
type Alerter interface {
	Locate(ctx context.Context) *sos.Location
	Broadcast(ctx context.Context, text string) (int, error)
}

// Observer is told about every lifecycle transition, outside any lock.
type Observer = func(state sos.State)

// Options configures a Controller.
type Options struct {
	Config   Config
	Leases   *resource.Manager
	Siren    Siren
	Haptics  Haptics
	Audio    AudioSink
	Evidence EvidenceRunner
	Alerter  Alerter
	Notifier sos.Notifier
	Metrics  *observe.Metrics
}

// Controller is the single owner of the alarm session. It admits at most one
// trigger at a time and tears the session down on expiry or manual stop.
type Controller struct {
	cfg      Config
	leases   *resource.Manager
	siren    Siren
	haptics  Haptics
	audio    AudioSink
	evidence EvidenceRunner
	alerter  Alerter
	notifier sos.Notifier
	metrics  *observe.Metrics
	requests chan sos.TriggerRequest

	mu        sync.Mutex
	current   *run
	last      *sos.Session
	observers []Observer

	// background tracks alert delivery, which outlives the session.
	background sync.WaitGroup
}

// run is one admitted session. Its mutex is held for the whole entry, so
// teardown of a freshly admitted session waits until entry has finished.
type run struct {
	mu       sync.Mutex
	session  *sos.Session
	ctx      context.Context
	cancel   context.CancelFunc
	leases   []*resource.Lease
	expiry   *time.Timer
	workers  sync.WaitGroup
	stopping bool
}

// NewController creates an idle controller.
func NewController(opts Options) *Controller {
	cfg := opts.Config
	cfg.fillDefaults()

	c := &Controller{
		cfg:      cfg,
		leases:   opts.Leases,
		siren:    opts.Siren,
		haptics:  opts.Haptics,
		audio:    opts.Audio,
		evidence: opts.Evidence,
		alerter:  opts.Alerter,
		notifier: opts.Notifier,
		metrics:  opts.Metrics,
		requests: make(chan sos.TriggerRequest, cfg.QueueSize),
	}

	if c.leases == nil {
		c.leases = resource.NewManager()
	}

	if c.notifier == nil {
		c.notifier = sos.NopNotifier{}
	}

	if c.metrics == nil {
		c.metrics = observe.Nop()
	}

	return c
}

// Subscribe registers a lifecycle observer.
func (c *Controller) Subscribe(o Observer) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.observers = append(c.observers, o)
}

// Active reports whether a session is running or tearing down.
func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.current != nil
}

// Session returns a copy of the running session, or of the last finished one.
// It returns nil if no alarm has ever been raised.
func (c *Controller) Session() *sos.Session {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current != nil {
		return c.current.session.Clone()
	}

	return c.last.Clone()
}

// RequestTrigger admits a trigger if no session is running and performs the
// session entry. It returns ErrAlreadyActive otherwise.
func (c *Controller) RequestTrigger(ctx context.Context, req sos.TriggerRequest) (*sos.Session, error) {
	ctx = logger.WithName(ctx, "alarm")

	c.mu.Lock()

	if c.current != nil {
		c.mu.Unlock()
		c.metrics.RecordTrigger(ctx, req.Source, false)
		logger.DebugKV(ctx, "Trigger dropped, alarm already active", "source", req.Source)

		return nil, ErrAlreadyActive
	}

	now := time.Now()
	r := &run{
		session: &sos.Session{
			ID:        uuid.NewString(),
			State:     sos.StateActive,
			Source:    req.Source,
			Actor:     req.Actor.Clone(),
			StartedAt: now,
			ExpiresAt: now.Add(c.cfg.Duration),
		},
	}

	// Alarm work must not be cancelled by the caller going away.
	r.ctx, r.cancel = context.WithCancel(context.WithoutCancel(ctx))
	r.mu.Lock()
	c.current = r
	c.mu.Unlock()

	c.metrics.RecordTrigger(ctx, req.Source, true)
	c.metrics.AlarmActive.Add(ctx, 1)
	logger.InfoKV(ctx, "Alarm started", "session", r.session.ID, "source", req.Source)

	c.enter(r)
	snapshot := c.snapshot(r)
	r.mu.Unlock()

	c.notify(sos.StateActive)

	return snapshot, nil
}

// Stop ends the running session. It returns false if there was nothing to stop.
func (c *Controller) Stop(ctx context.Context) bool {
	c.mu.Lock()
	r := c.current
	c.mu.Unlock()

	if r == nil {
		return false
	}

	return c.exit(logger.WithName(ctx, "alarm"), r, "manual")
}

// Submit queues a trigger for the dispatcher without blocking.
// It returns false when the queue is full.
func (c *Controller) Submit(req sos.TriggerRequest) bool {
	select {
	case c.requests <- req:
		return true
	default:
		c.metrics.RecordTrigger(context.Background(), req.Source, false)
		logger.WarnKV(context.Background(), "Trigger queue full", "source", req.Source)

		return false
	}
}

// Requests exposes the trigger queue to detector workers that need to select
// on it together with their own cancellation.
func (c *Controller) Requests() chan<- sos.TriggerRequest {
	return c.requests
}

// RunDispatcher drains the trigger queue until ctx is done.
func (c *Controller) RunDispatcher(ctx context.Context) {
	ctx = logger.WithName(ctx, "dispatcher")

	for {
		select {
		case <-ctx.Done():
			return
		case req := <-c.requests:
			if _, err := c.RequestTrigger(ctx, req); err != nil && !errors.Is(err, ErrAlreadyActive) {
				logger.ErrorKV(ctx, "Trigger failed", "source", req.Source, "error", err)
			}
		}
	}
}

// Wait blocks until background alert delivery has finished.
func (c *Controller) Wait() {
	c.background.Wait()
}

// enter runs every entry action; a failing action never prevents the others.
// Called with r.mu held.
func (c *Controller) enter(r *run) {
	ctx := logger.WithKV(r.ctx, "session", r.session.ID)

	for _, res := range []sos.Resource{sos.ResourceMicrophone, sos.ResourceCamera} {
		lease, err := c.leases.Seize(res, "alarm", resource.PriorityAlarm, nil)
		if err != nil {
			logger.ErrorKV(ctx, "Failed to seize resource", "resource", res, "error", err)
			continue
		}

		r.leases = append(r.leases, lease)
	}

	c.mu.Lock()
	for _, lease := range r.leases {
		r.session.Resources = append(r.session.Resources, lease.Resource())
	}
	c.mu.Unlock()

	if c.haptics != nil {
		if err := c.haptics.Vibrate(ctx, c.cfg.HapticPattern); err != nil {
			logger.WarnKV(ctx, "Failed to start vibration", "error", err)
		}
	}

	if c.siren != nil {
		if err := c.siren.Start(ctx); err != nil {
			logger.WarnKV(ctx, "Failed to start siren", "error", err)
		}
	}

	if c.audio != nil && r.session.Holds(sos.ResourceMicrophone) {
		r.workers.Go(func() { c.record(ctx, r) })
	}

	if c.evidence != nil && r.session.Holds(sos.ResourceCamera) {
		r.workers.Go(func() {
			c.evidence.Run(ctx, r.session.ID, func(count int) {
				c.mu.Lock()
				r.session.PhotoCount = count
				c.mu.Unlock()
			})
		})
	}

	if c.alerter != nil {
		c.background.Go(func() { c.sendAlerts(context.WithoutCancel(ctx)) })
	}

	r.expiry = time.AfterFunc(c.cfg.Duration, func() {
		c.exit(ctx, r, "expired")
	})

	c.notifier.Announce(sos.EventAlarmStarted, map[string]any{
		"session":    r.session.ID,
		"source":     string(r.session.Source),
		"expires_at": r.session.ExpiresAt,
	})
}

// record keeps the recording open until the session context is done.
func (c *Controller) record(ctx context.Context, r *run) {
	path := filepath.Join(c.cfg.EvidenceDir, "SOS_"+r.session.StartedAt.Format(fileTimeLayout)+".wav")

	handle, err := c.audio.WriteAudio(ctx, path)
	if err != nil {
		c.metrics.RecordCaptureFailure(ctx, "recording")
		logger.WarnKV(ctx, "Recording failed, retrying", "error", err)

		select {
		case <-ctx.Done():
			return
		case <-time.After(c.cfg.RecordRetryDelay):
		}

		if handle, err = c.audio.WriteAudio(ctx, path); err != nil {
			c.metrics.RecordCaptureFailure(ctx, "recording")
			logger.ErrorKV(ctx, "Recording failed", "error", err)

			return
		}
	}

	c.mu.Lock()
	r.session.RecordingPath = path
	c.mu.Unlock()

	logger.InfoKV(ctx, "Recording started", "path", path)

	<-ctx.Done()

	if err = handle.Close(); err != nil {
		logger.ErrorKV(ctx, "Failed to finalise recording", "path", path, "error", err)
	}
}

func (c *Controller) sendAlerts(ctx context.Context) {
	loc := c.alerter.Locate(ctx)

	payload := map[string]any{"available": loc != nil}
	if loc != nil {
		payload["lat"], payload["lng"], payload["url"] = loc.Lat, loc.Lng, loc.MapsURL()
	}

	c.notifier.Announce(sos.EventLocationResolved, payload)

	sent, err := c.alerter.Broadcast(ctx, alert.EmergencyMessage(loc))
	if err != nil {
		logger.WarnKV(ctx, "Some alerts were not delivered", "sent", sent, "error", err)
	}

	c.notifier.Announce(sos.EventAlertsSent, map[string]any{"sent": sent, "failed": err != nil})
}

// exit tears the session down once; concurrent callers after the first get false.
func (c *Controller) exit(ctx context.Context, r *run, reason string) bool {
	c.mu.Lock()
	if c.current != r || r.stopping {
		c.mu.Unlock()
		return false
	}

	r.stopping = true
	c.mu.Unlock()

	// Wait for entry to finish before undoing it.
	r.mu.Lock()

	if r.expiry != nil {
		r.expiry.Stop()
	}

	r.cancel()

	if c.siren != nil {
		if err := c.siren.Stop(); err != nil {
			logger.WarnKV(ctx, "Failed to stop siren", "error", err)
		}
	}

	if c.haptics != nil {
		if err := c.haptics.Cancel(); err != nil {
			logger.WarnKV(ctx, "Failed to cancel vibration", "error", err)
		}
	}

	r.workers.Wait()

	for _, lease := range r.leases {
		lease.Release()
	}

	r.mu.Unlock()

	c.mu.Lock()
	r.session.State = sos.StateIdle
	r.session.Resources = nil
	c.last = r.session.Clone()
	c.current = nil
	photos := r.session.PhotoCount
	c.mu.Unlock()

	elapsed := time.Since(r.session.StartedAt)
	c.metrics.AlarmActive.Add(ctx, -1)
	c.metrics.AlarmDuration.Record(ctx, elapsed.Seconds(),
		metric.WithAttributes(observe.SourceAttr(r.session.Source)))

	logger.InfoKV(ctx, "Alarm stopped", "session", r.session.ID, "reason", reason, "photos", photos)
	c.notifier.Announce(sos.EventAlarmStopped, map[string]any{
		"session": r.session.ID,
		"reason":  reason,
		"photos":  photos,
	})

	c.notify(sos.StateIdle)

	return true
}

func (c *Controller) snapshot(r *run) *sos.Session {
	c.mu.Lock()
	defer c.mu.Unlock()

	return r.session.Clone()
}

func (c *Controller) notify(state sos.State) {
	c.mu.Lock()
	observers := append([]Observer(nil), c.observers...)
	c.mu.Unlock()

	for _, o := range observers {
		o(state)
	}
}

// String implements fmt.Stringer for log output.
func (c *Controller) String() string {
	s := c.Session()
	if s == nil || s.State != sos.StateActive {
		return "alarm idle"
	}

	return fmt.Sprintf("alarm active since %s (%s)", s.StartedAt.Format(time.RFC3339), s.Source)
}
