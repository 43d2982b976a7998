package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/sos-guard/internal/detect"
)

// TestValidate checks format validations and range checks.
func TestValidate(t *testing.T) {
	t.Parallel()

	require.ErrorIs(t, Validate(nil), errConfigIsNotSet)

	// Bad socket.
	settings := &Config{
		ServerAddress: "bad:address",
	}

	require.Error(t, Validate(settings))

	settings = &Config{LogLevel: "loud"}
	require.ErrorIs(t, Validate(settings), errUnknownLogLevel)

	settings = &Config{LogFormat: "xml"}
	require.ErrorIs(t, Validate(settings), errUnknownLogFormat)

	settings = &Config{LogFormat: " JSON "}
	require.NoError(t, Validate(settings))
	require.Equal(t, "json", settings.LogFormat)

	settings = &Config{Walk: Walk{MinDuration: time.Hour, MaxDuration: time.Minute}}
	require.ErrorIs(t, Validate(settings), errInvalidRange)

	settings = &Config{Gesture: Gesture{Zone: detect.Zone{Left: 0.8, Right: 0.2, Bottom: 0.5}}}
	require.ErrorIs(t, Validate(settings), errInvalidRange)

	lat := 51.5
	settings = &Config{Location: Location{Lat: &lat}}
	require.ErrorIs(t, Validate(settings), errInvalidLocation)
}

// TestDefaults fills every tunable with the field-tested values.
func TestDefaults(t *testing.T) {
	t.Parallel()

	cfg := Default()

	require.Equal(t, DefaultServerAddress, cfg.ServerAddress)
	require.Equal(t, DefaultTimeout, cfg.Timeout)
	require.Equal(t, "info", cfg.LogLevel)
	require.Equal(t, "console", cfg.LogFormat)
	require.Equal(t, filepath.Join(DefaultEvidenceDir, DefaultEvidenceDBFilename), cfg.EvidenceDB)
	require.Equal(t, 5*time.Minute, cfg.Alarm.Duration)
	require.Equal(t, 5*time.Second, cfg.Alarm.CaptureInterval)
	require.Equal(t, 60, cfg.Alarm.MaxPhotos)
	require.Equal(t, 2*time.Second, cfg.Alarm.ResumeGrace)
	require.Equal(t, 44100, cfg.Scream.SampleRate)
	require.Equal(t, detect.DefaultThresholdConfig(), cfg.Scream.Threshold)
	require.Equal(t, detect.DefaultPresenceDetector(), cfg.Gesture.Presence)
	require.Equal(t, 4*time.Second, cfg.Gesture.Hold)
	require.Equal(t, detect.DefaultShakeConfig(), cfg.Shake)
	require.Equal(t, detect.DefaultKeyPatternConfig(), cfg.Keys)
	require.Equal(t, 2*time.Minute, cfg.Walk.ShareInterval)
}

// TestSaveLoadRoundtrip ensures settings are persisted and loaded back correctly.
func TestSaveLoadRoundtrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "settings.yaml")

	settings := &Config{
		ServerAddress: "127.0.0.1:50051",
		Alarm:         Alarm{Duration: 90 * time.Second},
		Messenger:     Messenger{Command: []string{"gammu", "sendsms", "TEXT", "{phone}", "-text", "{text}"}},
	}

	require.NoError(t, Save(path, settings))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, settings.ServerAddress, loaded.ServerAddress)
	require.Equal(t, 90*time.Second, loaded.Alarm.Duration)
	require.Equal(t, settings.Messenger.Command, loaded.Messenger.Command)

	// File exists.
	_, err = os.Stat(path)
	require.NoError(t, err)
}

// TestLoadPartial reads a hand-written file with only a few overrides.
func TestLoadPartial(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "sos-guard.yaml")
	contents := "scream:\n  threshold:\n    absolute_threshold: 12000\nwalk:\n  max_duration: 90m\nlocation:\n  lat: 51.5\n  lng: -0.12\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.InDelta(t, 12000, cfg.Scream.Threshold.AbsoluteThreshold, 1e-9)
	require.Equal(t, 3, cfg.Scream.Threshold.ConfirmCount)
	require.Equal(t, 90*time.Minute, cfg.Walk.MaxDuration)
	require.Equal(t, 5*time.Minute, cfg.Walk.MinDuration)
	require.InDelta(t, -0.12, *cfg.Location.Lng, 1e-9)

	_, err = LoadOrDefault(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
