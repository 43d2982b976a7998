package notify

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/sos-guard/internal/domain/sos"
)

// TestHub_FanOut delivers each event to every subscriber with its own payload copy.
func TestHub_FanOut(t *testing.T) {
	t.Parallel()

	hub := NewHub(context.Background())

	first, cancelFirst := hub.Subscribe(4)
	second, cancelSecond := hub.Subscribe(4)

	defer cancelSecond()

	payload := map[string]any{"count": 3}
	hub.Announce(sos.EventPhotoCaptured, payload)
	payload["count"] = 99

	a := <-first
	b := <-second

	require.Equal(t, sos.EventPhotoCaptured, a.Kind)
	require.Equal(t, 3, a.Payload["count"])
	require.Equal(t, 3, b.Payload["count"])
	require.False(t, a.At.IsZero())

	cancelFirst()
	cancelFirst()

	_, open := <-first
	require.False(t, open)
	require.Equal(t, 1, hub.Subscribers())
}

// TestHub_DropsForSlowSubscriber never blocks the announcer.
func TestHub_DropsForSlowSubscriber(t *testing.T) {
	t.Parallel()

	hub := NewHub(context.Background())
	events, cancel := hub.Subscribe(1)

	defer cancel()

	hub.Announce(sos.EventWalkTick, nil)
	hub.Announce(sos.EventWalkTick, nil)
	hub.Announce(sos.EventWalkWarning, nil)

	require.Equal(t, sos.EventWalkTick, (<-events).Kind)
	require.Empty(t, events)
}
