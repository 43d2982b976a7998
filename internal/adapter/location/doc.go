// Package location provides best-effort position fixes for alert messages.
package location
