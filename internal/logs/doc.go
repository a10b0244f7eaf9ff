// Package logs reads the JSON run logs written under log_dir/runs.
//
// Tail returns the last lines of a run log or everything after a byte offset,
// optionally waiting for new lines so `tbssrun logs --follow` can stream a
// run that is still in progress. Entries are decoded from the JSON handler's
// ts/level/msg keys and can be filtered by stage, metric and minimum level.
package logs
