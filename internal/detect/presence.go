package detect

// PresenceDetector decides whether something bright is held in the watch zone.
// The test is relative to the frame average, so it behaves the same in bright
// and dim rooms; MinZoneLuma keeps near-darkness from counting.
type PresenceDetector struct {
	Ratio       float64 `yaml:"ratio"`
	MinZoneLuma float64 `yaml:"min_zone_luma"`
}

// DefaultPresenceDetector returns the field-tuned gesture settings.
func DefaultPresenceDetector() PresenceDetector {
	return PresenceDetector{
		Ratio:       1.15,
		MinZoneLuma: 40,
	}
}

// Present evaluates a single reading.
func (p PresenceDetector) Present(r LumaReading) bool {
	return r.ZoneAvg > r.FrameAvg*p.Ratio && r.ZoneAvg > p.MinZoneLuma
}
