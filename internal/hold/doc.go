// Package hold provides the countdown shared by the gesture hold, the arming
// countdown and the safe walk deadline.
package hold
