package sos

import (
	"maps"
	"time"
)

// EventKind names a UI-facing engine event.
type EventKind string

const (
	EventAlarmStarted     EventKind = "alarm_started"
	EventAlarmStopped     EventKind = "alarm_stopped"
	EventLocationResolved EventKind = "location_resolved"
	EventAlertsSent       EventKind = "alerts_sent"
	EventPhotoCaptured    EventKind = "photo_captured"
	EventGestureProgress  EventKind = "gesture_progress"
	EventGestureReset     EventKind = "gesture_reset"
	EventArmingProgress   EventKind = "arming_progress"
	EventArmingCancelled  EventKind = "arming_cancelled"
	EventShakeCounted     EventKind = "shake_counted"
	EventDetectorState    EventKind = "detector_state"
	EventWalkStarted      EventKind = "walk_started"
	EventWalkTick         EventKind = "walk_tick"
	EventWalkWarning      EventKind = "walk_warning"
	EventWalkCheckedIn    EventKind = "walk_checked_in"
	EventWalkEnded        EventKind = "walk_ended"
	EventWalkExpired      EventKind = "walk_expired"
	EventRecordingStarted EventKind = "recording_started"
	EventRecordingStopped EventKind = "recording_stopped"
)

// Event is a single announcement.
type Event struct {
	Kind    EventKind
	At      time.Time
	Payload map[string]any
}

// Clone returns a copy of the event with its own payload map.
func (e Event) Clone() Event {
	e.Payload = maps.Clone(e.Payload)

	return e
}

// Notifier receives fire-and-forget UI announcements.
type Notifier interface {
	Announce(kind EventKind, payload map[string]any)
}

// NopNotifier drops every announcement.
type NopNotifier struct{}

// Announce implements Notifier.
func (NopNotifier) Announce(EventKind, map[string]any) {}
