// Package media writes alarm evidence: WAV recordings from the microphone
// and JPEG photos from the camera.
package media
