package sensor

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/oshokin/sos-guard/internal/detect"
	"github.com/oshokin/sos-guard/internal/service/input"
)

// ErrBadSample is returned for an accelerometer line that does not hold three numbers.
var ErrBadSample = errors.New("malformed accelerometer sample")

// PCM decodes signed 16-bit little-endian mono samples.
type PCM struct {
	r   io.ReadCloser
	buf []byte
}

// NewPCM wraps a raw PCM stream.
func NewPCM(r io.ReadCloser) *PCM {
	return &PCM{r: r}
}

// ReadSamples fills buf with whole samples.
func (p *PCM) ReadSamples(buf []int16) (int, error) {
	if need := len(buf) * 2; cap(p.buf) < need {
		p.buf = make([]byte, need)
	}

	raw := p.buf[:len(buf)*2]

	n, err := io.ReadFull(p.r, raw)
	samples := n / 2

	for i := range samples {
		buf[i] = int16(binary.LittleEndian.Uint16(raw[i*2:]))
	}

	if errors.Is(err, io.ErrUnexpectedEOF) {
		err = io.EOF
	}

	return samples, err
}

// Close closes the underlying stream.
func (p *PCM) Close() error {
	return p.r.Close()
}

// Frames splits a raw 8-bit grayscale stream into fixed-size frames.
type Frames struct {
	r             io.ReadCloser
	width, height int
}

// NewFrames wraps a raw luma stream of width*height byte frames.
func NewFrames(r io.ReadCloser, width, height int) *Frames {
	return &Frames{r: r, width: width, height: height}
}

// ReadFrame reads the next whole frame.
func (f *Frames) ReadFrame() (detect.Frame, error) {
	pix := make([]byte, f.width*f.height)

	if _, err := io.ReadFull(f.r, pix); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			err = io.EOF
		}

		return detect.Frame{}, err
	}

	return detect.Frame{Width: f.width, Height: f.height, Pix: pix}, nil
}

// Close closes the underlying stream.
func (f *Frames) Close() error {
	return f.r.Close()
}

// Accel parses "x y z" lines, one accelerometer sample per line, stamped on
// arrival.
type Accel struct {
	r       io.ReadCloser
	scanner *bufio.Scanner
	now     func() time.Time
}

// NewAccel wraps a text accelerometer stream.
func NewAccel(r io.ReadCloser) *Accel {
	return &Accel{r: r, scanner: bufio.NewScanner(r), now: time.Now}
}

// Next returns the next sample, skipping blank lines.
func (a *Accel) Next() (input.AccelSample, error) {
	for a.scanner.Scan() {
		line := strings.TrimSpace(a.scanner.Text())
		if line == "" {
			continue
		}

		fields := strings.FieldsFunc(line, func(r rune) bool { return r == ' ' || r == ',' || r == '\t' })
		if len(fields) != 3 {
			return input.AccelSample{}, fmt.Errorf("%q: %w", line, ErrBadSample)
		}

		var axes [3]float64

		for i, field := range fields {
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return input.AccelSample{}, fmt.Errorf("%q: %w", line, ErrBadSample)
			}

			axes[i] = v
		}

		return input.AccelSample{X: axes[0], Y: axes[1], Z: axes[2], At: a.now()}, nil
	}

	if err := a.scanner.Err(); err != nil {
		return input.AccelSample{}, err
	}

	return input.AccelSample{}, io.EOF
}

// Close closes the underlying stream.
func (a *Accel) Close() error {
	return a.r.Close()
}
