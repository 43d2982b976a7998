// Package alarm owns the alarm session: single-fire admission of trigger
// requests, the entry fan-out, timed auto-expiry and teardown.
package alarm
