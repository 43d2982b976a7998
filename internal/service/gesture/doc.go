// Package gesture watches the camera for a held bright object in the upper
// centre of the frame and fires after a continuous hold.
package gesture
