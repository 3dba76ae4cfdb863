// Package config loads driftq configuration.
//
// Configuration is resolved in three layers: built-in defaults, an optional
// JSON file, and DRIFTQ_* environment variables (highest precedence below
// command-line flags). See Default for the baseline values.
package config
