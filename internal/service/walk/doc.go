// Package walk implements the safe walk: a dead-man countdown that must be
// checked in periodically, with location shares to the emergency contacts.
package walk
