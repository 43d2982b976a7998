package media

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/oshokin/sos-guard/internal/domain/sos"
	"github.com/oshokin/sos-guard/internal/logger"
)

const (
	wavHeaderSize  = 44
	bitsPerSample  = 16
	channels       = 1
	filePermission = 0o600
	chunkSamples   = 2048
)

// PCMSource is an open 16-bit mono microphone stream.
type PCMSource interface {
	ReadSamples(buf []int16) (int, error)
	Close() error
}

// PCMOpener opens the microphone.
type PCMOpener func(ctx context.Context) (PCMSource, error)

// WAVSink records the microphone into mono 16-bit WAV files.
type WAVSink struct {
	open       PCMOpener
	sampleRate int
}

// NewWAVSink creates a recorder for the given sample rate.
func NewWAVSink(open PCMOpener, sampleRate int) *WAVSink {
	return &WAVSink{open: open, sampleRate: sampleRate}
}

// WriteAudio starts a recording at path. Recording continues in the
// background until the returned handle is closed.
func (s *WAVSink) WriteAudio(ctx context.Context, path string) (sos.RecordingHandle, error) {
	src, err := s.open(ctx)
	if err != nil {
		return nil, fmt.Errorf("open microphone: %w", err)
	}

	f, err := os.OpenFile(filepath.Clean(path), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, filePermission)
	if err != nil {
		_ = src.Close()
		return nil, fmt.Errorf("create %s: %w", path, err)
	}

	// Placeholder header, rewritten with the final sizes on close.
	if err = writeWAVHeader(f, s.sampleRate, 0); err != nil {
		_ = src.Close()
		_ = f.Close()

		return nil, err
	}

	rec := &recording{
		ctx:        logger.WithName(ctx, "recorder"),
		src:        src,
		file:       f,
		sampleRate: s.sampleRate,
		done:       make(chan struct{}),
	}

	go rec.pump()

	return rec, nil
}

type recording struct {
	ctx        context.Context
	src        PCMSource
	file       *os.File
	sampleRate int
	done       chan struct{}

	once     sync.Once
	closeErr error
	written  int64
	pumpErr  error
}

func (r *recording) pump() {
	defer close(r.done)

	var (
		samples = make([]int16, chunkSamples)
		raw     = make([]byte, chunkSamples*2)
	)

	for {
		n, err := r.src.ReadSamples(samples)
		for i := range n {
			binary.LittleEndian.PutUint16(raw[i*2:], uint16(samples[i]))
		}

		if n > 0 {
			if _, werr := r.file.Write(raw[:n*2]); werr != nil {
				r.pumpErr = fmt.Errorf("write recording: %w", werr)
				return
			}

			r.written += int64(n * 2)
		}

		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				logger.DebugKV(r.ctx, "Recording stream ended", "error", err)
			}

			return
		}
	}
}

// Close stops the recording and finalises the header.
func (r *recording) Close() error {
	r.once.Do(func() {
		_ = r.src.Close()
		<-r.done

		err := r.pumpErr
		if _, serr := r.file.Seek(0, io.SeekStart); serr == nil {
			err = errors.Join(err, writeWAVHeader(r.file, r.sampleRate, r.written))
		} else {
			err = errors.Join(err, serr)
		}

		r.closeErr = errors.Join(err, r.file.Close())
	})

	return r.closeErr
}

func writeWAVHeader(w io.Writer, sampleRate int, dataSize int64) error {
	blockAlign := channels * bitsPerSample / 8

	header := struct {
		ChunkID       [4]byte
		ChunkSize     uint32
		Format        [4]byte
		Subchunk1ID   [4]byte
		Subchunk1Size uint32
		AudioFormat   uint16
		NumChannels   uint16
		SampleRate    uint32
		ByteRate      uint32
		BlockAlign    uint16
		BitsPerSample uint16
		Subchunk2ID   [4]byte
		Subchunk2Size uint32
	}{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     uint32(wavHeaderSize - 8 + dataSize),
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   channels,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate * blockAlign),
		BlockAlign:    uint16(blockAlign),
		BitsPerSample: bitsPerSample,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: uint32(dataSize),
	}

	if err := binary.Write(w, binary.LittleEndian, &header); err != nil {
		return fmt.Errorf("write wav header: %w", err)
	}

	return nil
}
