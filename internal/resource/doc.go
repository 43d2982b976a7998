// Package resource arbitrates the microphone and the camera.
//
// Only one owner may use a device at a time. Detectors take leases at
// PriorityDetector; the alarm seizes both devices at PriorityAlarm, which
// synchronously revokes whichever detector held them.
package resource
