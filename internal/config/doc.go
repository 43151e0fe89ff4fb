// Package config loads and validates the evtap configuration from YAML
// files and environment variables.
package config
