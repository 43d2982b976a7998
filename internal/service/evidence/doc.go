// Package evidence runs the bounded periodic photo capture of an alarm session.
package evidence
