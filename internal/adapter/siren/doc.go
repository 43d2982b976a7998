// Package siren sounds the audible alarm through an OS tone command and
// drives haptic feedback.
package siren
