package detect

import "time"

// ThresholdConfig tunes the adaptive amplitude detector.
type ThresholdConfig struct {
	// InitialFloor is the background floor after every reset.
	InitialFloor float64 `yaml:"initial_floor"`
	// AbsoluteThreshold is the minimum RMS considered loud at all.
	AbsoluteThreshold float64 `yaml:"absolute_threshold"`
	// Multiplier is how far above the floor a window must be to count as a spike.
	Multiplier float64 `yaml:"multiplier"`
	// ConfirmCount is the number of qualifying windows that confirm a detection.
	ConfirmCount int `yaml:"confirm_count"`
	// Lockout suppresses detections after one has been emitted.
	Lockout time.Duration `yaml:"lockout"`
	// FallRate is the floor weight given to quieter samples.
	FallRate float64 `yaml:"fall_rate"`
	// RiseRate is the floor weight given to louder samples.
	RiseRate float64 `yaml:"rise_rate"`
}

// DefaultThresholdConfig returns the field-tuned scream settings.
func DefaultThresholdConfig() ThresholdConfig {
	return ThresholdConfig{
		InitialFloor:      500,
		AbsoluteThreshold: 18000,
		Multiplier:        2.8,
		ConfirmCount:      3,
		Lockout:           30 * time.Second,
		FallRate:          0.05,
		RiseRate:          0.005,
	}
}

// DetectorState is a snapshot of the adaptive detector.
type DetectorState struct {
	BackgroundFloor float64
	ConfirmStreak   int
	LockoutUntil    time.Time
}

// AdaptiveThreshold flags short loud bursts against a slowly adapting floor.
// The floor falls quickly towards quieter input and rises slowly, so a
// sustained scream does not drag it up fast enough to hide itself.
type AdaptiveThreshold struct {
	cfg   ThresholdConfig
	state DetectorState
}

// NewAdaptiveThreshold creates a detector with a fresh floor.
func NewAdaptiveThreshold(cfg ThresholdConfig) *AdaptiveThreshold {
	d := &AdaptiveThreshold{cfg: cfg}
	d.Reset()

	return d
}

// Observe feeds one RMS reading taken at now and reports a confirmed detection.
func (d *AdaptiveThreshold) Observe(rms float64, now time.Time) bool {
	s := &d.state

	if rms < s.BackgroundFloor {
		s.BackgroundFloor = s.BackgroundFloor*(1-d.cfg.FallRate) + rms*d.cfg.FallRate
	} else {
		s.BackgroundFloor = s.BackgroundFloor*(1-d.cfg.RiseRate) + rms*d.cfg.RiseRate
	}

	isLoud := rms > d.cfg.AbsoluteThreshold
	isSpike := rms > s.BackgroundFloor*d.cfg.Multiplier
	inLockout := now.Before(s.LockoutUntil)

	if !isLoud || !isSpike || inLockout {
		if s.ConfirmStreak > 0 {
			s.ConfirmStreak--
		}

		return false
	}

	s.ConfirmStreak++
	if s.ConfirmStreak < d.cfg.ConfirmCount {
		return false
	}

	s.ConfirmStreak = 0
	s.LockoutUntil = now.Add(d.cfg.Lockout)

	return true
}

// Reset restores the initial floor and clears the streak.
// The lockout deadline survives so restarts cannot shorten it.
func (d *AdaptiveThreshold) Reset() {
	d.state.BackgroundFloor = d.cfg.InitialFloor
	d.state.ConfirmStreak = 0
}

// State returns a snapshot of the detector state.
func (d *AdaptiveThreshold) State() DetectorState {
	return d.state
}
