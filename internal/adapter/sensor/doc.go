// Package sensor reads raw microphone, camera and accelerometer streams from
// capture commands or files.
package sensor
