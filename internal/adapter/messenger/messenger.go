package messenger

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/oshokin/sos-guard/internal/logger"
)

// ErrEmptyCommand is returned when a command messenger has no program.
var ErrEmptyCommand = errors.New("messenger command is empty")

const (
	phonePlaceholder = "{phone}"
	textPlaceholder  = "{text}"
)

// Log writes every message to the log instead of sending it.
type Log struct{}

// Send implements alert.Messenger.
func (Log) Send(ctx context.Context, phone, text string) error {
	logger.InfoKV(logger.WithName(ctx, "messenger"), "Message", "phone", phone, "text", text)

	return nil
}

// Command runs an external program once per message, for example a modem or
// gateway CLI. The {phone} and {text} placeholders are substituted in every
// argument.
type Command struct {
	args []string
}

// NewCommand creates a command messenger.
func NewCommand(args []string) (*Command, error) {
	if len(args) == 0 || strings.TrimSpace(args[0]) == "" {
		return nil, ErrEmptyCommand
	}

	return &Command{args: args}, nil
}

// Send implements alert.Messenger.
func (c *Command) Send(ctx context.Context, phone, text string) error {
	replacer := strings.NewReplacer(phonePlaceholder, phone, textPlaceholder, text)

	args := make([]string, len(c.args))
	for i, arg := range c.args {
		args[i] = replacer.Replace(arg)
	}

	//nolint:gosec // The program comes from the operator's settings file.
	output, err := exec.CommandContext(ctx, args[0], args[1:]...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("send to %s: %w: %s", phone, err, strings.TrimSpace(string(output)))
	}

	return nil
}
