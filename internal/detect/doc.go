// Package detect holds the signal heuristics behind every trigger source.
//
// Samplers turn raw PCM windows and luma frames into scalar readings;
// detectors turn readings into decisions. Nothing here touches hardware,
// goroutines or wall clocks: callers pass the sample time explicitly, which
// keeps every detector deterministic under test.
package detect
