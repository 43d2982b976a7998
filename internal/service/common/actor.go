//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common

import (
	"errors"
	"fmt"
	"os"
	"os/user"

	"github.com/oshokin/sos-guard/internal/domain/sos"
)

// errNoUsername is returned when neither the user database nor the
// environment names the caller.
var errNoUsername = errors.New("no username in user database or environment")

// DetectActor names who is driving the daemon from this terminal. The engine
// stamps it on manually triggered and armed sessions so the evidence ledger
// shows who started an alarm.
func DetectActor() (*sos.Actor, error) {
	return detectActor(os.Hostname, user.Current, os.Getenv)
}

// detectActor falls back to $USER and $LOGNAME when the user database is
// unavailable, as in minimal containers without /etc/passwd.
func detectActor(
	hostname func() (string, error),
	current func() (*user.User, error),
	getenv func(string) string,
) (*sos.Actor, error) {
	host, err := hostname()
	if err != nil {
		return nil, fmt.Errorf("hostname: %w", err)
	}

	u, lookupErr := current()
	if lookupErr == nil && u.Username != "" {
		return &sos.Actor{Hostname: host, Username: u.Username}, nil
	}

	for _, key := range []string{"USER", "LOGNAME"} {
		if name := getenv(key); name != "" {
			return &sos.Actor{Hostname: host, Username: name}, nil
		}
	}

	if lookupErr != nil {
		return nil, fmt.Errorf("current user: %w", lookupErr)
	}

	return nil, fmt.Errorf("current user: %w", errNoUsername)
}
