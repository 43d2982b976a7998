package detect

import (
	"math"
	"time"
)

// ShakeConfig tunes the accelerometer shake pattern.
type ShakeConfig struct {
	// DeltaThreshold is the summed per-axis change (m/s^2) that counts as a shake.
	DeltaThreshold float64 `yaml:"delta_threshold"`
	// MinGap is the minimum spacing between two counted shakes.
	MinGap time.Duration `yaml:"min_gap"`
	// Count is the number of shakes that complete the pattern.
	Count int `yaml:"count"`
	// ResetAfter clears a partial pattern after this much quiet time.
	ResetAfter time.Duration `yaml:"reset_after"`
}

// DefaultShakeConfig returns the field-tuned shake settings.
func DefaultShakeConfig() ShakeConfig {
	return ShakeConfig{
		DeltaThreshold: 18,
		MinGap:         350 * time.Millisecond,
		Count:          3,
		ResetAfter:     2500 * time.Millisecond,
	}
}

// ShakeDetector counts sharp accelerometer changes.
type ShakeDetector struct {
	cfg       ShakeConfig
	last      [3]float64
	hasLast   bool
	lastShake time.Time
	count     int
}

// NewShakeDetector creates a shake detector.
func NewShakeDetector(cfg ShakeConfig) *ShakeDetector {
	return &ShakeDetector{cfg: cfg}
}

// Observe feeds one accelerometer sample. It returns the running shake count
// and whether the sample completed the pattern; completion resets the count.
func (d *ShakeDetector) Observe(x, y, z float64, now time.Time) (int, bool) {
	prev, hadLast := d.last, d.hasLast
	d.last, d.hasLast = [3]float64{x, y, z}, true

	if !d.lastShake.IsZero() && now.Sub(d.lastShake) > d.cfg.ResetAfter {
		d.count = 0
	}

	if !hadLast {
		return d.count, false
	}

	delta := math.Abs(x-prev[0]) + math.Abs(y-prev[1]) + math.Abs(z-prev[2])
	if delta <= d.cfg.DeltaThreshold {
		return d.count, false
	}

	if !d.lastShake.IsZero() && now.Sub(d.lastShake) <= d.cfg.MinGap {
		return d.count, false
	}

	d.lastShake = now
	d.count++

	if d.count < d.cfg.Count {
		return d.count, false
	}

	d.count = 0

	return d.cfg.Count, true
}

// KeyPatternConfig tunes the rapid volume-key pattern.
type KeyPatternConfig struct {
	// Presses is the number of rapid presses that complete the pattern.
	Presses int `yaml:"presses"`
	// MaxGap is the longest pause between two presses of one pattern.
	MaxGap time.Duration `yaml:"max_gap"`
	// Suppress ignores presses for this long after the pattern fired.
	Suppress time.Duration `yaml:"suppress"`
}

// DefaultKeyPatternConfig returns the field-tuned key settings.
func DefaultKeyPatternConfig() KeyPatternConfig {
	return KeyPatternConfig{
		Presses:  4,
		MaxGap:   2 * time.Second,
		Suppress: 10 * time.Second,
	}
}

// KeyPattern detects several volume-key presses in quick succession.
type KeyPattern struct {
	cfg             KeyPatternConfig
	lastPress       time.Time
	count           int
	suppressedUntil time.Time
}

// NewKeyPattern creates a key pattern detector.
func NewKeyPattern(cfg KeyPatternConfig) *KeyPattern {
	return &KeyPattern{cfg: cfg}
}

// Observe records one press at now and reports whether the pattern fired.
func (k *KeyPattern) Observe(now time.Time) bool {
	if !k.lastPress.IsZero() && now.Sub(k.lastPress) < k.cfg.MaxGap {
		k.count++
	} else {
		k.count = 1
	}

	k.lastPress = now

	if k.count < k.cfg.Presses || now.Before(k.suppressedUntil) {
		return false
	}

	k.count = 0
	k.suppressedUntil = now.Add(k.cfg.Suppress)

	return true
}
