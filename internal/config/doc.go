// Package config loads, normalizes, and validates tbssrun configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours the FSLDIR environment variable
// for locating the neuroimaging toolkit. The Config type centralizes every
// knob the staging engine, the pipeline orchestrator, and the CLI need, so the
// pipeline root, cohort file, and toolkit binaries are discovered in one pass.
//
// Always obtain settings through this package so downstream code receives
// absolute paths, canonical log formats, and clear validation errors.
package config
