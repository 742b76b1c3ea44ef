// Package config loads, normalizes, and validates signsync configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// SIGNSYNC_SERVER_URL. The Config type centralizes every knob the daemon and
// CLI need so the data directory layout and server credentials are discovered
// in one pass.
package config
