// Package input handles the non-exclusive trigger inputs: volume-key presses
// and accelerometer shakes.
package input
