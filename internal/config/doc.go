// Package config handles loading and validation of the service configuration
// from YAML files, including the audio format, jitter table, and derived
// relay parameters such as block size and bytes-per-millisecond.
package config
