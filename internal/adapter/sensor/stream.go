package sensor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
)

// ErrNoSource is returned when neither a command nor a file is configured.
var ErrNoSource = errors.New("sensor source is not configured")

// Source locates a raw sensor stream: the stdout of a capture command
// (arecord, ffmpeg, a sensor bridge) or a file or named pipe.
type Source struct {
	Command []string `yaml:"command"`
	File    string   `yaml:"file"`
}

// Configured reports whether the source points anywhere.
func (s Source) Configured() bool {
	return len(s.Command) > 0 || s.File != ""
}

// Open starts the command or opens the file. Closing the stream stops the
// command.
func Open(ctx context.Context, src Source) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch {
	case len(src.Command) > 0:
		return startCommand(src.Command)
	case src.File != "":
		f, err := os.Open(filepath.Clean(src.File))
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", src.File, err)
		}

		return f, nil
	default:
		return nil, ErrNoSource
	}
}

type commandStream struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	once   sync.Once
}

func startCommand(args []string) (*commandStream, error) {
	// The stream outlives the request that opened it, so only Close ends it.
	//nolint:gosec // The program comes from the operator's settings file.
	cmd := exec.Command(args[0], args[1:]...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("pipe %s: %w", args[0], err)
	}

	if err = cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", args[0], err)
	}

	return &commandStream{cmd: cmd, stdout: stdout}, nil
}

func (c *commandStream) Read(p []byte) (int, error) {
	return c.stdout.Read(p)
}

func (c *commandStream) Close() error {
	c.once.Do(func() {
		_ = c.cmd.Process.Kill()
		_ = c.stdout.Close()
		_ = c.cmd.Wait()
	})

	return nil
}
