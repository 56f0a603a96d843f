// Package config loads, defaults and validates the broker configuration.
//
// Configuration comes from a YAML file; environment variables override
// individual fields afterwards. Most overrides use the RELAY_ prefix; the
// usage strategy additionally honors the bare USAGE_STRATEGY variable so
// deployments can switch persistence without touching the file.
package config
