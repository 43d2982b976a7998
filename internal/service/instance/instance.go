package instance

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mitchellh/go-ps"
)

// ErrAlreadyRunning is returned when another process runs the same executable.
var ErrAlreadyRunning = errors.New("another instance is already running")

// Ensure fails when a process other than the current one runs an executable
// called name. An empty name means the current executable.
func Ensure(name string) error {
	if name == "" {
		self, err := os.Executable()
		if err != nil {
			return fmt.Errorf("resolve executable: %w", err)
		}

		name = filepath.Base(self)
	}

	processList, err := ps.Processes()
	if err != nil {
		return fmt.Errorf("list processes: %w", err)
	}

	thisProcessID := os.Getpid()

	for _, process := range processList {
		if process.Pid() == thisProcessID {
			continue
		}

		if strings.EqualFold(process.Executable(), name) {
			return fmt.Errorf("%s (pid %d): %w", name, process.Pid(), ErrAlreadyRunning)
		}
	}

	return nil
}
