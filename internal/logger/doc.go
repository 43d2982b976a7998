// Package logger provides a small wrapper around zap to offer:
//   - a global sugared logger with console or JSON encoding,
//   - context helpers (ToContext/FromContext/WithName/WithKV/WithFields),
//   - level and format parsing utilities,
//   - convenience functions (Infof, ErrorKV, etc.).
//
// Every engine component receives a context and extracts the logger from it,
// so detector, alarm and walk logs carry their component name and session ids.
package logger
