// Package sos contains core domain types for the emergency engine.
//
// It defines trigger sources and requests, the alarm session, contacts,
// locations, evidence artifacts and safe-walk sessions, together with the
// UI event kinds announced by the engine. Types carrying references expose
// Clone helpers so callers never share internal state.
package sos
