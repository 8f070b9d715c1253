// Package config loads, normalizes, and validates quotarun configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// QUOTARUN_WORKER and QUOTARUN_PROXY_URL. The Config type centralizes every
// knob the round loop and CLI need: worker command line, quota policy, output
// markers, and the lock/result/summary file locations.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
