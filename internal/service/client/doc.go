// Package client implements the sos-ctl commands.
//
// Each command connects to the sos-guard daemon, performs one call and prints
// a human-readable result. Trigger keeps retrying while the daemon is
// unreachable.
package client
