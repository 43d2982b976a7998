package gesture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/oshokin/sos-guard/internal/detect"
	"github.com/oshokin/sos-guard/internal/domain/sos"
	"github.com/oshokin/sos-guard/internal/hold"
	"github.com/oshokin/sos-guard/internal/logger"
	"github.com/oshokin/sos-guard/internal/service/sensing"
)

// Name is the detector name used for flags and leases.
const Name = "gesture"

// FrameInput is an open stream of luma frames.
type FrameInput interface {
	ReadFrame() (detect.Frame, error)
	Close() error
}

// Opener opens the camera.
type Opener func(ctx context.Context) (FrameInput, error)

// Config holds the detector settings.
type Config struct {
	Sampler      detect.LumaZoneSampler
	Presence     detect.PresenceDetector
	ConfirmCount int
	Hold         time.Duration
	Tick         time.Duration
}

// Detector fires when something bright is held in the upper centre of the
// camera view for the whole hold duration.
type Detector struct {
	cfg      Config
	open     Opener
	notifier sos.Notifier
}

// New creates a gesture detector.
func New(cfg Config, open Opener, notifier sos.Notifier) *Detector {
	if cfg.Sampler.Step <= 0 {
		cfg.Sampler = detect.DefaultLumaZoneSampler()
	}

	if cfg.Presence.Ratio <= 0 {
		cfg.Presence = detect.DefaultPresenceDetector()
	}

	if cfg.ConfirmCount <= 0 {
		cfg.ConfirmCount = 5
	}

	if cfg.Hold <= 0 {
		cfg.Hold = 4 * time.Second
	}

	if cfg.Tick <= 0 {
		cfg.Tick = 100 * time.Millisecond
	}

	if notifier == nil {
		notifier = sos.NopNotifier{}
	}

	return &Detector{cfg: cfg, open: open, notifier: notifier}
}

// Name implements sensing.Detector.
func (d *Detector) Name() string { return Name }

// Source implements sensing.Detector.
func (d *Detector) Source() sos.Source { return sos.SourceGesture }

// Resource implements sensing.Detector.
func (d *Detector) Resource() sos.Resource { return sos.ResourceCamera }

// Open implements sensing.Detector.
func (d *Detector) Open(ctx context.Context) (sensing.Session, error) {
	input, err := d.open(ctx)
	if err != nil {
		return nil, fmt.Errorf("open camera: %w", err)
	}

	return &session{detector: d, input: input}, nil
}

type session struct {
	detector  *Detector
	input     FrameInput
	closeOnce sync.Once
	closeErr  error
}

// Run pumps readings from a reader goroutine into the presence, debounce and
// hold pipeline owned by the calling goroutine.
func (s *session) Run(ctx context.Context) (bool, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stop := context.AfterFunc(ctx, func() { _ = s.Close() })
	defer stop()

	var (
		cfg       = s.detector.cfg
		notifier  = s.detector.notifier
		readings  = make(chan detect.LumaReading, 4)
		readErr   = make(chan error, 1)
		completed = make(chan struct{}, 1)
		debouncer = detect.NewDebouncer(cfg.ConfirmCount)
		readerWG  sync.WaitGroup
	)

	readerWG.Go(func() {
		defer close(readings)

		for {
			frame, err := s.input.ReadFrame()
			if err != nil {
				readErr <- err
				return
			}

			select {
			case readings <- cfg.Sampler.Sample(frame):
			case <-ctx.Done():
				return
			}
		}
	})

	timer := hold.New(cfg.Hold, cfg.Tick, hold.Callbacks{
		OnTick: func(p hold.Progress) {
			notifier.Announce(sos.EventGestureProgress, map[string]any{
				"percent":      p.Percent,
				"remaining_ms": p.Remaining.Milliseconds(),
			})
		},
		OnComplete: func() { completed <- struct{}{} },
	})

	defer func() {
		timer.Cancel()
		cancel()
		readerWG.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return false, nil
		case <-completed:
			logger.Info(ctx, "Gesture hold completed")
			return true, nil
		case reading, ok := <-readings:
			if !ok {
				return false, streamErr(ctx, readErr)
			}

			switch debouncer.Observe(cfg.Presence.Present(reading)) {
			case detect.EdgeRising:
				timer.Start()
			case detect.EdgeFalling:
				if timer.Cancel() {
					notifier.Announce(sos.EventGestureReset, nil)
				}
			case detect.EdgeNone:
			}
		}
	}
}

func (s *session) Close() error {
	s.closeOnce.Do(func() { s.closeErr = s.input.Close() })

	return s.closeErr
}

func streamErr(ctx context.Context, readErr <-chan error) error {
	if ctx.Err() != nil {
		return nil
	}

	select {
	case err := <-readErr:
		if errors.Is(err, io.EOF) {
			return nil
		}

		return err
	default:
		return nil
	}
}
