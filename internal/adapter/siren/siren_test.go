package siren

import (
	"context"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestCommand_StartStop runs and kills the siren process.
func TestCommand_StartStop(t *testing.T) {
	t.Parallel()

	if runtime.GOOS == "windows" {
		t.Skip("uses sleep")
	}

	s, err := NewCommand([]string{"sleep", "30"})
	require.NoError(t, err)

	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Start(context.Background()))
	require.True(t, s.Playing())

	require.NoError(t, s.Stop())
	require.False(t, s.Playing())
	require.NoError(t, s.Stop())
}

// TestCommand_MissingProgram fails to start.
func TestCommand_MissingProgram(t *testing.T) {
	t.Parallel()

	s, err := NewCommand([]string{"sos-guard-no-such-siren"})
	require.NoError(t, err)
	require.Error(t, s.Start(context.Background()))
	require.False(t, s.Playing())
}

// TestLogHaptics_Cancel stops a running pattern.
func TestLogHaptics_Cancel(t *testing.T) {
	t.Parallel()

	h := NewLogHaptics(context.Background())

	require.NoError(t, h.Vibrate(context.Background(), []time.Duration{0, time.Hour}))
	require.NoError(t, h.Cancel())
	require.NoError(t, h.Cancel())
}
