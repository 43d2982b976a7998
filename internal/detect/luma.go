package detect

// Frame is a single 8-bit luma plane.
type Frame struct {
	Width  int
	Height int
	// Stride is the byte distance between rows; zero means Width.
	Stride int
	Pix    []byte
}

// LumaReading holds the average brightness of a frame and of its watch zone.
type LumaReading struct {
	FrameAvg float64
	ZoneAvg  float64
}

// Zone is a rectangle expressed as fractions of the frame size.
type Zone struct {
	Left   float64 `yaml:"left"`
	Right  float64 `yaml:"right"`
	Top    float64 `yaml:"top"`
	Bottom float64 `yaml:"bottom"`
}

// LumaZoneSampler averages luma over the whole frame and over a zone,
// visiting only every Step-th pixel in each direction.
type LumaZoneSampler struct {
	Zone Zone
	// Step is the zone sampling stride in pixels.
	Step int
	// FrameStep is the whole-frame sampling stride in pixels.
	FrameStep int
}

// DefaultLumaZoneSampler watches the upper centre of the frame: the middle
// half horizontally and the top 45% vertically.
func DefaultLumaZoneSampler() LumaZoneSampler {
	return LumaZoneSampler{
		Zone:      Zone{Left: 0.25, Right: 0.75, Top: 0, Bottom: 0.45},
		Step:      8,
		FrameStep: 16,
	}
}

// defaultFrameLuma is reported when no frame pixel could be sampled.
const defaultFrameLuma = 128

// Sample computes the frame and zone averages.
func (s LumaZoneSampler) Sample(f Frame) LumaReading {
	stride := f.Stride
	if stride <= 0 {
		stride = f.Width
	}

	frameStep := max(1, s.FrameStep)
	zoneStep := max(1, s.Step)

	frameSum, frameCount := sumLuma(f, stride, 0, f.Width, 0, f.Height, frameStep)

	x0 := int(float64(f.Width) * s.Zone.Left)
	x1 := int(float64(f.Width) * s.Zone.Right)
	y0 := int(float64(f.Height) * s.Zone.Top)
	y1 := int(float64(f.Height) * s.Zone.Bottom)
	zoneSum, zoneCount := sumLuma(f, stride, x0, x1, y0, y1, zoneStep)

	reading := LumaReading{FrameAvg: defaultFrameLuma}
	if frameCount > 0 {
		reading.FrameAvg = float64(frameSum) / float64(frameCount)
	}

	if zoneCount > 0 {
		reading.ZoneAvg = float64(zoneSum) / float64(zoneCount)
	}

	return reading
}

func sumLuma(f Frame, stride, x0, x1, y0, y1, step int) (sum, count int) {
	for y := y0; y < y1; y += step {
		for x := x0; x < x1; x += step {
			idx := y*stride + x
			if idx < 0 || idx >= len(f.Pix) {
				continue
			}

			sum += int(f.Pix[idx])
			count++
		}
	}

	return sum, count
}
