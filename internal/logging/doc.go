// Package logging assembles the structured slog loggers used by tbssrun.
//
// It owns the console and JSON handlers, the per-run log file tee, and the
// context helpers that tag log lines with the run, stage, metric, and subject
// being processed. A no-op logger is provided for tests and wiring code that
// cannot fail.
package logging
