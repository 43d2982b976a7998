package location

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/sos-guard/internal/domain/sos"
)

// TestStatic returns the configured fix, reports unavailable without one and honours ctx.
func TestStatic(t *testing.T) {
	t.Parallel()

	_, err := Static{}.Current(context.Background())
	require.ErrorIs(t, err, ErrUnavailable)

	loc, err := Static{Location: &sos.Location{Lat: 1, Lng: 2}}.Current(context.Background())
	require.NoError(t, err)
	require.Equal(t, &sos.Location{Lat: 1, Lng: 2}, loc)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = Static{Location: loc}.Current(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

// TestFile reads fixes from the GPS file and treats missing or partial fixes as unavailable.
func TestFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "fix.json")
	provider := NewFile(path)

	_, err := provider.Current(context.Background())
	require.ErrorIs(t, err, ErrUnavailable)

	require.NoError(t, os.WriteFile(path, []byte(`{"lat": 51.5007, "lng": -0.1246}`), 0o600))

	loc, err := provider.Current(context.Background())
	require.NoError(t, err)
	require.InDelta(t, 51.5007, loc.Lat, 1e-9)
	require.InDelta(t, -0.1246, loc.Lng, 1e-9)

	require.NoError(t, os.WriteFile(path, []byte(`{"lat": 51.5}`), 0o600))

	_, err = provider.Current(context.Background())
	require.ErrorIs(t, err, ErrUnavailable)
}
