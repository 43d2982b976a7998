// Package version exposes build metadata for sos-guard and sos-ctl.
//
// Version, Commit and BuildTime are injected at build time via Go ldflags;
// Revision falls back to the toolchain's VCS stamp for plain `go build`.
package version
