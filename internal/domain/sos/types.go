package sos

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

// Source identifies what asked for the alarm.
type Source string

const (
	// SourceScream is the loud-sound detector.
	SourceScream Source = "scream"
	// SourceGesture is the camera hold gesture.
	SourceGesture Source = "gesture"
	// SourceVolumeKeys is the rapid volume-key pattern.
	SourceVolumeKeys Source = "volume_keys"
	// SourceShake is the accelerometer shake pattern after its arming countdown.
	SourceShake Source = "shake"
	// SourceSafeWalkExpiry is a safe walk that ran out without a check-in.
	SourceSafeWalkExpiry Source = "safe_walk_expiry"
	// SourceManual is an explicit user request.
	SourceManual Source = "manual"
)

// ErrUnknownSource is returned by ParseSource for unsupported values.
var ErrUnknownSource = errors.New("unknown trigger source")

// ParseSource converts a textual source name into a Source.
func ParseSource(s string) (Source, error) {
	source := Source(strings.ToLower(strings.TrimSpace(s)))
	switch source {
	case SourceScream, SourceGesture, SourceVolumeKeys, SourceShake, SourceSafeWalkExpiry, SourceManual:
		return source, nil
	default:
		return "", fmt.Errorf("%q: %w", s, ErrUnknownSource)
	}
}

// Actor identifies who performed a manual action.
type Actor struct {
	// Hostname is the machine name where the action was performed.
	Hostname string
	// Username is the system user who triggered the action.
	Username string
}

// Clone returns a deep copy of the actor.
func (a *Actor) Clone() *Actor {
	if a == nil {
		return nil
	}

	cloned := *a

	return &cloned
}

// TriggerRequest asks the arbiter to start an alarm session.
type TriggerRequest struct {
	// Source is the detector or input that produced the request.
	Source Source
	// Timestamp is when the request was produced.
	Timestamp time.Time
	// Actor is set for requests coming from the control API.
	Actor *Actor
}

// NewTriggerRequest builds a request stamped with the current time.
func NewTriggerRequest(source Source) TriggerRequest {
	return TriggerRequest{
		Source:    source,
		Timestamp: time.Now(),
	}
}

// Resource is a single-owner piece of hardware.
type Resource string

const (
	// ResourceMicrophone is the audio input.
	ResourceMicrophone Resource = "microphone"
	// ResourceCamera is the video input.
	ResourceCamera Resource = "camera"
)

// State is the alarm lifecycle state.
type State int

const (
	// StateIdle means no alarm is sounding.
	StateIdle State = iota
	// StateActive means an alarm session is running.
	StateActive
)

// String returns the lower-case state name.
func (s State) String() string {
	if s == StateActive {
		return "active"
	}

	return "idle"
}

// Session is the process-wide alarm session.
type Session struct {
	// ID is a unique session identifier.
	ID string
	// State is Active while the session runs and Idle once it has ended.
	State State
	// Source is the trigger source that started the session.
	Source Source
	// Actor is set when the session was started through the control API.
	Actor *Actor
	// StartedAt is when the session was admitted.
	StartedAt time.Time
	// ExpiresAt is when the session stops on its own.
	ExpiresAt time.Time
	// Resources lists the hardware leases held by the session.
	Resources []Resource
	// RecordingPath is the audio evidence file, empty if recording failed.
	RecordingPath string
	// PhotoCount is the number of evidence photos captured so far.
	PhotoCount int
}

// Clone returns a copy of the session to avoid leaking internal references.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}

	cloned := *s
	cloned.Actor = s.Actor.Clone()
	cloned.Resources = slices.Clone(s.Resources)

	return &cloned
}

// Holds reports whether the session holds the given resource.
func (s *Session) Holds(r Resource) bool {
	return s != nil && slices.Contains(s.Resources, r)
}

// Contact is an emergency contact.
type Contact struct {
	// Name is the display name.
	Name string `yaml:"name"`
	// Phone is the destination number.
	Phone string `yaml:"phone"`
}

// NormalizedPhone strips whitespace and dashes from the phone number.
func (c Contact) NormalizedPhone() string {
	return strings.Map(func(r rune) rune {
		if r == '-' || r == ' ' || r == '\t' {
			return -1
		}

		return r
	}, c.Phone)
}

// Location is a best-effort position fix.
type Location struct {
	Lat float64
	Lng float64
}

// MapsURL returns a link that opens the location in a maps application.
func (l *Location) MapsURL() string {
	if l == nil {
		return ""
	}

	return fmt.Sprintf("https://maps.google.com/?q=%g,%g", l.Lat, l.Lng)
}

// EvidenceArtifact is one captured evidence photo.
type EvidenceArtifact struct {
	// SessionID is the alarm session the photo belongs to.
	SessionID string
	// Path is the image file location.
	Path string
	// CapturedAt is when the photo was written.
	CapturedAt time.Time
	// Sequence is the 1-based position within the session.
	Sequence int
}

// Recording is one manual voice recording.
type Recording struct {
	// Path is the WAV file location.
	Path string
	// StartedAt is when the microphone was opened.
	StartedAt time.Time
	// EndedAt is zero while the recording runs.
	EndedAt time.Time
	// Bytes is the final file size.
	Bytes int64
}

// Active reports whether the recording is still running.
func (r *Recording) Active() bool {
	return r != nil && r.EndedAt.IsZero()
}

// Clone returns a copy of the recording.
func (r *Recording) Clone() *Recording {
	if r == nil {
		return nil
	}

	cloned := *r

	return &cloned
}

// RecordingHandle is an open audio recording. Close finalises the file.
type RecordingHandle interface {
	Close() error
}

// WalkSession is one safe-walk activation.
type WalkSession struct {
	// ID is a unique walk identifier.
	ID string
	// StartedAt is when the walk began.
	StartedAt time.Time
	// Deadline is when the walk triggers the alarm without a check-in.
	Deadline time.Time
	// Duration is the check-in window.
	Duration time.Duration
	// Active is false once the walk has been stopped or has expired.
	Active bool
	// CheckIns counts successful check-ins.
	CheckIns int
}

// Remaining returns the time left before the deadline, never negative.
func (w *WalkSession) Remaining(now time.Time) time.Duration {
	if w == nil || !w.Active {
		return 0
	}

	return max(0, w.Deadline.Sub(now))
}

// Clone returns a copy of the walk session.
func (w *WalkSession) Clone() *WalkSession {
	if w == nil {
		return nil
	}

	cloned := *w

	return &cloned
}

// Status is a point-in-time view of the engine for the control API.
type Status struct {
	// Alarm is the running session, or the last one once it has ended.
	Alarm *Session
	// Armed is true while an arming countdown runs.
	Armed bool
	// Detectors maps detector names to their lifecycle state.
	Detectors map[string]string
	// Walk is the current or last safe walk.
	Walk *WalkSession
	// Recording is the running manual recording, if any.
	Recording *Recording
}
