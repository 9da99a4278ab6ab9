// Package config defines deployment and OAuth settings used by the binaries
// and provides helpers to load, validate and save them in YAML format.
//
// Settings resolve in three layers: literal defaults, the optional YAML file,
// and recognized process environment overrides. The resulting Config struct
// is built once at startup and passed down; nothing deeper reads the
// environment.
package config
