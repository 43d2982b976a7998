package detect

import (
	"math"
	"time"

	"gonum.org/v1/gonum/floats"
)

// AmplitudeSampler converts PCM windows into RMS readings.
// It reuses an internal buffer and is not safe for concurrent use.
type AmplitudeSampler struct {
	buf []float64
}

// RMS returns the root-mean-square amplitude of a 16-bit PCM window.
func (s *AmplitudeSampler) RMS(pcm []int16) float64 {
	if len(pcm) == 0 {
		return 0
	}

	s.buf = s.buf[:0]
	for _, v := range pcm {
		s.buf = append(s.buf, float64(v))
	}

	return floats.Norm(s.buf, 2) / math.Sqrt(float64(len(pcm)))
}

// WindowSamples returns the number of mono samples in one window.
func WindowSamples(sampleRate int, window time.Duration) int {
	n := int(int64(sampleRate) * int64(window) / int64(time.Second))

	return max(1, n)
}
