package sos

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestParseSource checks case-insensitive parsing and rejection of unknown sources.
func TestParseSource(t *testing.T) {
	t.Parallel()

	s, err := ParseSource(" Scream ")
	require.NoError(t, err)
	require.Equal(t, SourceScream, s)

	_, err = ParseSource("doorbell")
	require.ErrorIs(t, err, ErrUnknownSource)
}

// TestSessionClone verifies that Clone copies slices and the actor.
func TestSessionClone(t *testing.T) {
	t.Parallel()

	require.Nil(t, (*Session)(nil).Clone())

	s := &Session{
		ID:        "s1",
		State:     StateActive,
		Actor:     &Actor{Hostname: "phone", Username: "anna"},
		Resources: []Resource{ResourceMicrophone, ResourceCamera},
	}

	c := s.Clone()
	require.Equal(t, s, c)
	require.NotSame(t, s.Actor, c.Actor)

	c.Resources[0] = ResourceCamera
	require.Equal(t, ResourceMicrophone, s.Resources[0])
	require.True(t, s.Holds(ResourceCamera))
	require.False(t, (*Session)(nil).Holds(ResourceCamera))
}

// TestContactNormalizedPhone strips separators.
func TestContactNormalizedPhone(t *testing.T) {
	t.Parallel()

	c := Contact{Name: "Mom", Phone: "+1 555-010 99"}
	require.Equal(t, "+155501099", c.NormalizedPhone())
}

// TestLocationMapsURL renders coordinates into a link and handles nil.
func TestLocationMapsURL(t *testing.T) {
	t.Parallel()

	require.Empty(t, (*Location)(nil).MapsURL())
	require.Equal(t, "https://maps.google.com/?q=55.75,37.62", (&Location{Lat: 55.75, Lng: 37.62}).MapsURL())
}

// TestWalkRemaining never goes below zero and is zero for inactive walks.
func TestWalkRemaining(t *testing.T) {
	t.Parallel()

	now := time.Unix(1000, 0)
	w := &WalkSession{Active: true, Deadline: now.Add(time.Minute)}
	require.Equal(t, time.Minute, w.Remaining(now))
	require.Zero(t, w.Remaining(now.Add(2*time.Minute)))

	w.Active = false
	require.Zero(t, w.Remaining(now))
}
