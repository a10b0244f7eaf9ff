package runstore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

func scanRun(scanner interface{ Scan(dest ...any) error }) (*Run, error) {
	var (
		run         Run
		cohortFile  sql.NullString
		metricsJSON string
		state       string
		failedStage sql.NullString
		reason      sql.NullString
		errorKind   sql.NullString
		logPath     sql.NullString
		startedRaw  string
		finishedRaw sql.NullString
	)
	if err := scanner.Scan(
		&run.ID,
		&run.Command,
		&run.Root,
		&cohortFile,
		&run.Controls,
		&run.Patients,
		&metricsJSON,
		&run.Permutations,
		&state,
		&failedStage,
		&reason,
		&errorKind,
		&logPath,
		&startedRaw,
		&finishedRaw,
	); err != nil {
		return nil, fmt.Errorf("scan run: %w", err)
	}
	if err := json.Unmarshal([]byte(metricsJSON), &run.Metrics); err != nil {
		return nil, fmt.Errorf("decode run metrics: %w", err)
	}
	run.CohortFile = cohortFile.String
	run.State = State(state)
	run.FailedStage = failedStage.String
	run.Reason = reason.String
	run.ErrorKind = errorKind.String
	run.LogPath = logPath.String
	run.StartedAt = parseTime(startedRaw)
	if finishedRaw.Valid {
		finished := parseTime(finishedRaw.String)
		run.FinishedAt = &finished
	}
	return &run, nil
}

func nullableString(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(raw string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

func stripLikeWildcards(value string) string {
	return strings.NewReplacer("%", "", "_", "").Replace(value)
}
