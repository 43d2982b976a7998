package messenger

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestCommand_Substitutes passes the phone and text to the program.
func TestCommand_Substitutes(t *testing.T) {
	t.Parallel()

	if runtime.GOOS == "windows" {
		t.Skip("uses sh")
	}

	out := filepath.Join(t.TempDir(), "sent.txt")

	m, err := NewCommand([]string{"sh", "-c", `printf '%s|%s' "$0" "$1" > ` + out, "{phone}", "{text}"})
	require.NoError(t, err)
	require.NoError(t, m.Send(context.Background(), "+15550100", "help me"))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	require.Equal(t, "+15550100|help me", string(data))
}

// TestCommand_Failure reports the exit status.
func TestCommand_Failure(t *testing.T) {
	t.Parallel()

	if runtime.GOOS == "windows" {
		t.Skip("uses sh")
	}

	m, err := NewCommand([]string{"sh", "-c", "echo no signal >&2; exit 3"})
	require.NoError(t, err)

	err = m.Send(context.Background(), "112", "x")
	require.ErrorContains(t, err, "no signal")
}

// TestNewCommand_Empty rejects a missing program.
func TestNewCommand_Empty(t *testing.T) {
	t.Parallel()

	_, err := NewCommand(nil)
	require.ErrorIs(t, err, ErrEmptyCommand)
	require.NoError(t, Log{}.Send(context.Background(), "112", "test"))
}
