// Package alert formats emergency texts and fans them out to contacts.
package alert
