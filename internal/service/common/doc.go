// Package common holds what sos-ctl commands share: a Client that wraps each
// control call in the configured timeout, and DetectActor, which names the
// operator stamped on manually started sessions.
//
//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common
