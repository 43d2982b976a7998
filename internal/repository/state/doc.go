// Package state implements persistence for the daemon state: the detector
// enable flags that survive a restart.
//
// The FileRepository stores and loads the state as JSON on disk and also
// serves as the supervisor's flag store.
package state
