package alarm

import "time"

const fileTimeLayout = "20060102_150405"

// Config holds the session tunables.
type Config struct {
	// Duration is how long a session runs before it stops on its own.
	Duration time.Duration
	// RecordRetryDelay is the pause before the single recording retry.
	RecordRetryDelay time.Duration
	// EvidenceDir receives the audio recording.
	EvidenceDir string
	// HapticPattern alternates off and on durations, starting with off.
	HapticPattern []time.Duration
	// QueueSize bounds the trigger queue drained by the dispatcher.
	QueueSize int
	// ArmingDuration is the countdown before a shake or manual arm fires.
	ArmingDuration time.Duration
	// ArmingTick is the arming progress interval.
	ArmingTick time.Duration
}

// DefaultHapticPattern is the vibration used while the alarm sounds.
func DefaultHapticPattern() []time.Duration {
	return []time.Duration{
		0,
		500 * time.Millisecond,
		200 * time.Millisecond,
		500 * time.Millisecond,
		200 * time.Millisecond,
		500 * time.Millisecond,
	}
}

func (c *Config) fillDefaults() {
	if c.Duration <= 0 {
		c.Duration = 5 * time.Minute
	}

	if c.RecordRetryDelay <= 0 {
		c.RecordRetryDelay = time.Second
	}

	if c.EvidenceDir == "" {
		c.EvidenceDir = "."
	}

	if len(c.HapticPattern) == 0 {
		c.HapticPattern = DefaultHapticPattern()
	}

	if c.QueueSize <= 0 {
		c.QueueSize = 16
	}

	if c.ArmingDuration <= 0 {
		c.ArmingDuration = 5 * time.Second
	}

	if c.ArmingTick <= 0 {
		c.ArmingTick = 50 * time.Millisecond
	}
}
