package detect

// Edge is a change of the confirmed state.
type Edge int

const (
	// EdgeNone means the confirmed state did not change.
	EdgeNone Edge = iota
	// EdgeRising means the input just became confirmed (NotHeld -> Held).
	EdgeRising
	// EdgeFalling means the input just lost confirmation (Held -> NotHeld).
	EdgeFalling
)

// Debouncer is an asymmetric streak counter. A true sample grows the streak by
// Growth up to Cap, a false sample shrinks it by Decay, and the input counts as
// confirmed while the streak is at least Threshold.
type Debouncer struct {
	Threshold int
	Cap       int
	Growth    int
	Decay     int

	streak    int
	confirmed bool
}

// NewDebouncer returns a debouncer that decays twice as fast as it grows.
func NewDebouncer(threshold int) *Debouncer {
	return &Debouncer{
		Threshold: threshold,
		Cap:       threshold + 10,
		Growth:    1,
		Decay:     2,
	}
}

// Observe feeds one sample and returns the resulting edge.
func (d *Debouncer) Observe(v bool) Edge {
	if v {
		d.streak = min(d.streak+d.Growth, d.Cap)
	} else {
		d.streak = max(0, d.streak-d.Decay)
	}

	confirmed := d.streak >= d.Threshold

	switch {
	case confirmed && !d.confirmed:
		d.confirmed = true
		return EdgeRising
	case !confirmed && d.confirmed:
		d.confirmed = false
		return EdgeFalling
	default:
		return EdgeNone
	}
}

// Confirmed reports the current confirmed state.
func (d *Debouncer) Confirmed() bool {
	return d.confirmed
}

// Streak returns the current streak value.
func (d *Debouncer) Streak() int {
	return d.streak
}

// Reset clears the streak and the confirmed state.
func (d *Debouncer) Reset() {
	d.streak = 0
	d.confirmed = false
}
