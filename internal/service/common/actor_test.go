//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common

import (
	"errors"
	"os/user"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestDetectActor ensures the local host and user are detected.
func TestDetectActor(t *testing.T) {
	t.Parallel()

	a, err := DetectActor()
	require.NoError(t, err)
	require.NotEmpty(t, a.Hostname)
	require.NotEmpty(t, a.Username)
}

// TestDetectActor_Fallbacks covers hosts without a usable user database.
func TestDetectActor_Fallbacks(t *testing.T) {
	t.Parallel()

	host := func() (string, error) { return "phone", nil }
	noUser := func() (*user.User, error) { return nil, errors.New("no passwd") }

	tests := []struct {
		name    string
		current func() (*user.User, error)
		env     map[string]string
		want    string
		wantErr bool
	}{
		{
			name:    "user database",
			current: func() (*user.User, error) { return &user.User{Username: "anna"}, nil },
			env:     map[string]string{"USER": "ignored"},
			want:    "anna",
		},
		{
			name:    "USER variable",
			current: noUser,
			env:     map[string]string{"USER": "anna", "LOGNAME": "other"},
			want:    "anna",
		},
		{
			name:    "LOGNAME variable",
			current: noUser,
			env:     map[string]string{"LOGNAME": "anna"},
			want:    "anna",
		},
		{
			name:    "nothing known",
			current: noUser,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			a, err := detectActor(host, tt.current, func(key string) string { return tt.env[key] })
			if tt.wantErr {
				require.Error(t, err)
				return
			}

			require.NoError(t, err)
			require.Equal(t, "phone", a.Hostname)
			require.Equal(t, tt.want, a.Username)
		})
	}
}

// TestDetectActor_HostnameError stops before looking up the user.
func TestDetectActor_HostnameError(t *testing.T) {
	t.Parallel()

	_, err := detectActor(
		func() (string, error) { return "", errors.New("uts") },
		func() (*user.User, error) { panic("not reached") },
		func(string) string { return "" },
	)
	require.ErrorContains(t, err, "hostname: uts")
}
