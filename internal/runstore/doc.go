// Package runstore keeps the history of pipeline runs in SQLite: one row per
// run, the start and finish of every stage, and every checkpoint decision
// the operator made. The status command reads it back.
package runstore
