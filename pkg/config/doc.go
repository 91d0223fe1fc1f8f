// Package config loads the relay configuration from a YAML file, overlays
// the environment variables understood by earlier deployments, fills in
// defaults and validates the result.
package config
