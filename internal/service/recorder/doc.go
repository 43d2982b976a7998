// Package recorder implements on-demand voice recording. A recording takes
// the microphone from the background detectors, gives it up to the alarm and
// is written to the evidence ledger when it ends.
package recorder
