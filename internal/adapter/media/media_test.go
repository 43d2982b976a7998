package media

import (
	"context"
	"encoding/binary"
	"errors"
	"image/jpeg"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/sos-guard/internal/detect"
)

type toneSource struct {
	mu     sync.Mutex
	left   int
	closed bool
}

func (s *toneSource) ReadSamples(buf []int16) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, os.ErrClosed
	}

	if s.left == 0 {
		return 0, io.EOF
	}

	n := min(len(buf), s.left)
	for i := range n {
		buf[i] = int16(i % 100)
	}

	s.left -= n

	return n, nil
}

func (s *toneSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true

	return nil
}

// TestWAVSink_Header finalises the RIFF sizes on close.
func TestWAVSink_Header(t *testing.T) {
	t.Parallel()

	src := &toneSource{left: 5000}
	sink := NewWAVSink(func(context.Context) (PCMSource, error) { return src, nil }, 8000)
	path := filepath.Join(t.TempDir(), "SOS_20260301_220000.wav")

	handle, err := sink.WriteAudio(context.Background(), path)
	require.NoError(t, err)

	// Let the pump drain the whole source before closing.
	rec, ok := handle.(*recording)
	require.True(t, ok)
	<-rec.done

	require.NoError(t, handle.Close())
	require.NoError(t, handle.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Len(t, data, wavHeaderSize+10000)
	require.Equal(t, "RIFF", string(data[0:4]))
	require.Equal(t, "WAVE", string(data[8:12]))
	require.Equal(t, uint32(36+10000), binary.LittleEndian.Uint32(data[4:8]))
	require.Equal(t, uint32(8000), binary.LittleEndian.Uint32(data[24:28]))
	require.Equal(t, uint32(10000), binary.LittleEndian.Uint32(data[40:44]))
}

// TestWAVSink_OpenFailure leaves no file behind.
func TestWAVSink_OpenFailure(t *testing.T) {
	t.Parallel()

	sink := NewWAVSink(func(context.Context) (PCMSource, error) { return nil, errors.New("busy") }, 8000)
	path := filepath.Join(t.TempDir(), "x.wav")

	_, err := sink.WriteAudio(context.Background(), path)
	require.Error(t, err)

	_, err = os.Stat(path)
	require.ErrorIs(t, err, os.ErrNotExist)
}

type stillCamera struct {
	closed bool
}

func (c *stillCamera) ReadFrame() (detect.Frame, error) {
	pix := make([]byte, 32*24)
	for i := range pix {
		pix[i] = byte(i)
	}

	return detect.Frame{Width: 32, Height: 24, Pix: pix}, nil
}

func (c *stillCamera) Close() error {
	c.closed = true

	return nil
}

// TestJPEGSink_WriteImage stores a decodable photo and releases the camera.
func TestJPEGSink_WriteImage(t *testing.T) {
	t.Parallel()

	cam := new(stillCamera)
	sink := NewJPEGSink(func(context.Context) (FrameSource, error) { return cam, nil })
	path := filepath.Join(t.TempDir(), "CAM_20260301_220000_1.jpg")

	require.NoError(t, sink.WriteImage(context.Background(), path))
	require.True(t, cam.closed)

	f, err := os.Open(path)
	require.NoError(t, err)

	defer f.Close()

	img, err := jpeg.Decode(f)
	require.NoError(t, err)
	require.Equal(t, 32, img.Bounds().Dx())
	require.Equal(t, 24, img.Bounds().Dy())
}
