package scream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/oshokin/sos-guard/internal/detect"
	"github.com/oshokin/sos-guard/internal/domain/sos"
	"github.com/oshokin/sos-guard/internal/logger"
	"github.com/oshokin/sos-guard/internal/service/sensing"
)

// Name is the detector name used for flags and leases.
const Name = "scream"

// AudioInput is an open 16-bit mono PCM stream.
type AudioInput interface {
	// ReadSamples fills buf and returns the number of samples read.
	ReadSamples(buf []int16) (int, error)
	Close() error
}

// Opener opens the microphone.
type Opener func(ctx context.Context) (AudioInput, error)

// Config holds the detector settings.
type Config struct {
	SampleRate int
	Window     time.Duration
	Threshold  detect.ThresholdConfig
}

// Detector turns loud bursts on the microphone into trigger requests.
// The adaptive threshold outlives individual sessions so its lockout holds
// across restarts.
type Detector struct {
	cfg  Config
	open Opener

	mu        sync.Mutex
	threshold *detect.AdaptiveThreshold
}

// New creates a scream detector.
func New(cfg Config, open Opener) *Detector {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 44100
	}

	if cfg.Window <= 0 {
		cfg.Window = 100 * time.Millisecond
	}

	if cfg.Threshold == (detect.ThresholdConfig{}) {
		cfg.Threshold = detect.DefaultThresholdConfig()
	}

	return &Detector{
		cfg:       cfg,
		open:      open,
		threshold: detect.NewAdaptiveThreshold(cfg.Threshold),
	}
}

// Name implements sensing.Detector.
func (d *Detector) Name() string { return Name }

// Source implements sensing.Detector.
func (d *Detector) Source() sos.Source { return sos.SourceScream }

// Resource implements sensing.Detector.
func (d *Detector) Resource() sos.Resource { return sos.ResourceMicrophone }

// Open implements sensing.Detector.
func (d *Detector) Open(ctx context.Context) (sensing.Session, error) {
	input, err := d.open(ctx)
	if err != nil {
		return nil, fmt.Errorf("open microphone: %w", err)
	}

	d.mu.Lock()
	d.threshold.Reset()
	d.mu.Unlock()

	return &session{detector: d, input: input}, nil
}

// State returns a snapshot of the adaptive threshold.
func (d *Detector) State() detect.DetectorState {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.threshold.State()
}

func (d *Detector) observe(rms float64, now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.threshold.Observe(rms, now)
}

type session struct {
	detector  *Detector
	input     AudioInput
	closeOnce sync.Once
	closeErr  error
}

// Run reads one window at a time and stops at the first confirmed detection.
func (s *session) Run(ctx context.Context) (bool, error) {
	// Closing the input is the only way to interrupt a blocked read.
	stop := context.AfterFunc(ctx, func() { _ = s.Close() })
	defer stop()

	var (
		sampler detect.AmplitudeSampler
		buf     = make([]int16, detect.WindowSamples(s.detector.cfg.SampleRate, s.detector.cfg.Window))
	)

	for {
		if err := readFull(s.input, buf); err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return false, nil
			}

			return false, err
		}

		rms := sampler.RMS(buf)
		if s.detector.observe(rms, time.Now()) {
			logger.InfoKV(ctx, "Scream detected", "rms", rms)
			return true, nil
		}
	}
}

func (s *session) Close() error {
	s.closeOnce.Do(func() { s.closeErr = s.input.Close() })

	return s.closeErr
}

func readFull(in AudioInput, buf []int16) error {
	for off := 0; off < len(buf); {
		n, err := in.ReadSamples(buf[off:])
		off += n

		if err != nil {
			if errors.Is(err, io.EOF) && off == len(buf) {
				return nil
			}

			return err
		}
	}

	return nil
}
