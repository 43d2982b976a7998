package evidence

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/oshokin/sos-guard/internal/domain/sos"
	"github.com/oshokin/sos-guard/internal/logger"
	"github.com/oshokin/sos-guard/internal/observe"
)

// ErrCaptureFailed marks a transient capture failure that is retried next interval.
var ErrCaptureFailed = errors.New("capture failed")

// ImageSink grabs one still image and writes it to path.
type ImageSink interface {
	WriteImage(ctx context.Context, path string) error
}

// Ledger records captured artifacts.
type Ledger interface {
	Append(ctx context.Context, artifact sos.EvidenceArtifact) error
}

const fileTimeLayout = "20060102_150405"

// Options configures a Scheduler.
type Options struct {
	Dir       string
	Interval  time.Duration
	MaxPhotos int
	Sink      ImageSink
	Ledger    Ledger
	Notifier  sos.Notifier
	Metrics   *observe.Metrics
}

// Scheduler takes evidence photos while an alarm session is active.
type Scheduler struct {
	dir       string
	interval  time.Duration
	maxPhotos int
	sink      ImageSink
	ledger    Ledger
	notifier  sos.Notifier
	metrics   *observe.Metrics
}

// NewScheduler creates a scheduler; zero options get the defaults of one
// photo every 5 seconds up to 60 photos.
func NewScheduler(opts Options) *Scheduler {
	s := &Scheduler{
		dir:       opts.Dir,
		interval:  opts.Interval,
		maxPhotos: opts.MaxPhotos,
		sink:      opts.Sink,
		ledger:    opts.Ledger,
		notifier:  opts.Notifier,
		metrics:   opts.Metrics,
	}

	if s.interval <= 0 {
		s.interval = 5 * time.Second
	}

	if s.maxPhotos <= 0 {
		s.maxPhotos = 60
	}

	if s.notifier == nil {
		s.notifier = sos.NopNotifier{}
	}

	if s.metrics == nil {
		s.metrics = observe.Nop()
	}

	return s
}

// Run captures immediately and then every interval until MaxPhotos photos
// exist or ctx is done. It returns the number of photos taken.
func (s *Scheduler) Run(ctx context.Context, sessionID string, onPhoto func(count int)) int {
	ctx = logger.WithName(ctx, "evidence")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	var count int

	for count < s.maxPhotos {
		if ctx.Err() != nil {
			break
		}

		artifact, err := s.capture(ctx, sessionID, count+1)
		if err != nil {
			s.metrics.RecordCaptureFailure(ctx, "photo")
			logger.WarnKV(ctx, "Photo capture failed", "sequence", count+1, "error", err)
		} else {
			count++

			s.metrics.PhotosCaptured.Add(ctx, 1)
			s.notifier.Announce(sos.EventPhotoCaptured, map[string]any{
				"session": sessionID,
				"count":   count,
				"path":    artifact.Path,
			})

			if onPhoto != nil {
				onPhoto(count)
			}
		}

		if count >= s.maxPhotos {
			break
		}

		select {
		case <-ctx.Done():
			return count
		case <-ticker.C:
		}
	}

	logger.InfoKV(ctx, "Evidence capture finished", "photos", count)

	return count
}

func (s *Scheduler) capture(ctx context.Context, sessionID string, seq int) (sos.EvidenceArtifact, error) {
	now := time.Now()
	path := filepath.Join(s.dir, fmt.Sprintf("CAM_%s_%d.jpg", now.Format(fileTimeLayout), seq))

	if err := s.sink.WriteImage(ctx, path); err != nil {
		return sos.EvidenceArtifact{}, fmt.Errorf("%w: %w", ErrCaptureFailed, err)
	}

	artifact := sos.EvidenceArtifact{
		SessionID:  sessionID,
		Path:       path,
		CapturedAt: now,
		Sequence:   seq,
	}

	if s.ledger != nil {
		if err := s.ledger.Append(ctx, artifact); err != nil {
			// The photo is on disk; losing the ledger row is not worth a retake.
			logger.ErrorKV(ctx, "Failed to record evidence", "path", path, "error", err)
		}
	}

	return artifact, nil
}
