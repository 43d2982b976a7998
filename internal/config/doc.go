// Package config defines the settings used by sos-guard and sos-ctl and
// provides helpers to load, validate and save them in YAML format.
//
// Validate fills every unset tunable with the field-tested default, so a
// settings file only needs the values that differ.
package config
