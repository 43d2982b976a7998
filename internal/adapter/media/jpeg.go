package media

import (
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"

	"github.com/oshokin/sos-guard/internal/detect"
)

const jpegQuality = 85

// FrameSource is an open camera stream.
type FrameSource interface {
	ReadFrame() (detect.Frame, error)
	Close() error
}

// FrameOpener opens the camera.
type FrameOpener func(ctx context.Context) (FrameSource, error)

// JPEGSink grabs one camera frame per photo and stores it as a grayscale JPEG.
type JPEGSink struct {
	open FrameOpener
}

// NewJPEGSink creates a photo sink.
func NewJPEGSink(open FrameOpener) *JPEGSink {
	return &JPEGSink{open: open}
}

// WriteImage implements evidence.ImageSink.
func (s *JPEGSink) WriteImage(ctx context.Context, path string) error {
	src, err := s.open(ctx)
	if err != nil {
		return fmt.Errorf("open camera: %w", err)
	}

	stop := context.AfterFunc(ctx, func() { _ = src.Close() })
	defer func() {
		stop()

		_ = src.Close()
	}()

	frame, err := src.ReadFrame()
	if err != nil {
		return fmt.Errorf("read frame: %w", err)
	}

	f, err := os.OpenFile(filepath.Clean(path), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, filePermission)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	if err = jpeg.Encode(f, toGray(frame), &jpeg.Options{Quality: jpegQuality}); err != nil {
		_ = f.Close()
		return fmt.Errorf("encode %s: %w", path, err)
	}

	return f.Close()
}

func toGray(frame detect.Frame) *image.Gray {
	stride := frame.Stride
	if stride <= 0 {
		stride = frame.Width
	}

	return &image.Gray{
		Pix:    frame.Pix,
		Stride: stride,
		Rect:   image.Rect(0, 0, frame.Width, frame.Height),
	}
}
