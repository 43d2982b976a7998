// Package notify delivers engine announcements to log output and to control
// API watchers.
package notify
