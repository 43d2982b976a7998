// Package contacts stores emergency contacts in a YAML file.
package contacts
