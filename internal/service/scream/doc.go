// Package scream watches the microphone for sudden loud bursts.
//
// Windows of PCM samples are reduced to RMS and fed to an adaptive
// threshold. A confirmed detection ends the session; the supervisor resumes
// it once the alarm is over.
package scream
