// Package messenger implements text delivery for emergency alerts.
package messenger
