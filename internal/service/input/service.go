package input

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/oshokin/sos-guard/internal/detect"
	"github.com/oshokin/sos-guard/internal/domain/sos"
	"github.com/oshokin/sos-guard/internal/logger"
)

// Submitter queues trigger requests for the alarm.
type Submitter interface {
	Submit(req sos.TriggerRequest) bool
}

// Armer starts the pre-alarm countdown.
type Armer interface {
	Arm(ctx context.Context, source sos.Source, actor *sos.Actor) error
}

// AccelSample is one accelerometer reading in m/s^2.
type AccelSample struct {
	X, Y, Z float64
	At      time.Time
}

// AccelStream yields accelerometer samples until io.EOF.
type AccelStream interface {
	Next() (AccelSample, error)
	Close() error
}

// Service turns key presses and shakes into alarm requests. Volume-key
// patterns trigger directly; shakes start the arming countdown.
type Service struct {
	submitter Submitter
	armer     Armer
	notifier  sos.Notifier

	mu    sync.Mutex
	keys  *detect.KeyPattern
	shake *detect.ShakeDetector
}

// NewService creates the input service.
func NewService(keys detect.KeyPatternConfig, shake detect.ShakeConfig, submitter Submitter, armer Armer, notifier sos.Notifier) *Service {
	if notifier == nil {
		notifier = sos.NopNotifier{}
	}

	return &Service{
		submitter: submitter,
		armer:     armer,
		notifier:  notifier,
		keys:      detect.NewKeyPattern(keys),
		shake:     detect.NewShakeDetector(shake),
	}
}

// PressKey records one volume-key press. It reports whether the press
// completed the pattern and a trigger was queued.
func (s *Service) PressKey(ctx context.Context, at time.Time) bool {
	s.mu.Lock()
	fired := s.keys.Observe(at)
	s.mu.Unlock()

	if !fired {
		return false
	}

	logger.Info(ctx, "Volume-key pattern detected")

	return s.submitter.Submit(sos.TriggerRequest{Source: sos.SourceVolumeKeys, Timestamp: at})
}

// Shake feeds one accelerometer sample and arms the countdown when the
// shake pattern completes.
func (s *Service) Shake(ctx context.Context, sample AccelSample) {
	s.mu.Lock()
	count, fired := s.shake.Observe(sample.X, sample.Y, sample.Z, sample.At)
	s.mu.Unlock()

	if count > 0 || fired {
		s.notifier.Announce(sos.EventShakeCounted, map[string]any{"count": count})
	}

	if !fired {
		return
	}

	if err := s.armer.Arm(ctx, sos.SourceShake, nil); err != nil {
		logger.WarnKV(ctx, "Shake pattern ignored", "error", err)
	}
}

// RunAccelerometer consumes a stream until it ends or ctx is done.
func (s *Service) RunAccelerometer(ctx context.Context, stream AccelStream) error {
	ctx = logger.WithName(ctx, "shake")

	stop := context.AfterFunc(ctx, func() { _ = stream.Close() })
	defer func() {
		if stop() {
			_ = stream.Close()
		}
	}()

	for {
		sample, err := stream.Next()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return nil
			}

			return err
		}

		s.Shake(ctx, sample)
	}
}
