package siren

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/oshokin/sos-guard/internal/logger"
)

// ErrUnsupportedOS indicates there is no built-in siren command for this OS.
var ErrUnsupportedOS = errors.New("unsupported operating system")

// DefaultCommand returns a built-in tone generator:
// - Linux:   `speaker-test -t sine -f 1000` (ALSA utils)
// - macOS:   `afplay` looping the Sosumi system sound
// - Windows: PowerShell console beeps
func DefaultCommand() ([]string, error) {
	osName := strings.ToLower(runtime.GOOS)

	switch {
	case strings.Contains(osName, "linux"):
		return []string{"speaker-test", "-t", "sine", "-f", "1000"}, nil
	case strings.Contains(osName, "darwin"):
		return []string{"sh", "-c", "while :; do afplay /System/Library/Sounds/Sosumi.aiff; done"}, nil
	case strings.Contains(osName, "windows"):
		return []string{"powershell.exe", "-NoProfile", "-Command", "while ($true) { [console]::beep(1000, 500) }"}, nil
	default:
		return nil, fmt.Errorf("unsupported operating system: %s: %w", runtime.GOOS, ErrUnsupportedOS)
	}
}

// Command plays the siren by running a program until Stop.
type Command struct {
	args []string

	mu  sync.Mutex
	cmd *exec.Cmd
}

// NewCommand creates a siren from args, falling back to DefaultCommand.
func NewCommand(args []string) (*Command, error) {
	if len(args) == 0 {
		var err error

		if args, err = DefaultCommand(); err != nil {
			return nil, err
		}
	}

	return &Command{args: args}, nil
}

// Start implements alarm.Siren. Starting twice keeps the first process.
func (c *Command) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cmd != nil {
		return nil
	}

	// The process must outlive ctx; Stop ends it.
	//nolint:gosec // The program comes from the operator's settings file.
	cmd := exec.Command(c.args[0], c.args[1:]...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start siren: %w", err)
	}

	logger.DebugKV(ctx, "Siren started", "pid", cmd.Process.Pid)

	c.cmd = cmd

	return nil
}

// Stop implements alarm.Siren.
func (c *Command) Stop() error {
	c.mu.Lock()
	cmd := c.cmd
	c.cmd = nil
	c.mu.Unlock()

	if cmd == nil {
		return nil
	}

	if err := cmd.Process.Kill(); err != nil {
		return fmt.Errorf("stop siren: %w", err)
	}

	_ = cmd.Wait()

	return nil
}

// Playing reports whether the siren process is running.
func (c *Command) Playing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.cmd != nil
}

// LogHaptics stands in for a vibration motor on hosts without one.
type LogHaptics struct {
	ctx context.Context

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewLogHaptics creates a haptics driver that logs each pulse.
func NewLogHaptics(ctx context.Context) *LogHaptics {
	return &LogHaptics{ctx: logger.WithName(ctx, "haptics")}
}

// Vibrate implements alarm.Haptics. The pattern alternates off and on
// durations and is played once in the background.
func (h *LogHaptics) Vibrate(ctx context.Context, pattern []time.Duration) error {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	h.mu.Lock()
	if h.cancel != nil {
		h.cancel()
	}

	h.cancel = cancel
	h.mu.Unlock()

	go func() {
		defer cancel()

		for i, d := range pattern {
			timer := time.NewTimer(d)

			select {
			case <-runCtx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}

			if i%2 == 0 && i+1 < len(pattern) {
				logger.DebugKV(h.ctx, "Buzz", "for", pattern[i+1])
			}
		}
	}()

	return nil
}

// Cancel implements alarm.Haptics.
func (h *LogHaptics) Cancel() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}

	return nil
}
