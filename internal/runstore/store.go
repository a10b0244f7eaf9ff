package runstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"tbssrun/internal/config"
)

// DatabaseName is the file created inside the state directory.
const DatabaseName = "runs.db"

// ErrNotFound is returned when no run matches an identifier.
var ErrNotFound = errors.New("run not found")

// ErrAmbiguous is returned when a short identifier matches several runs.
var ErrAmbiguous = errors.New("run identifier is ambiguous")

// Store manages run history backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the run database in the configured state
// directory.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	return OpenPath(filepath.Join(cfg.Paths.StateDir, DatabaseName))
}

// OpenPath opens the database at dbPath.
func OpenPath(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file location.
func (s *Store) Path() string { return s.path }

const runColumns = "id, command, root, cohort_file, controls, patients, metrics, permutations, state, failed_stage, reason, error_kind, log_path, started_at, finished_at"

// NewRun records the start of a run and assigns it a fresh identifier.
func (s *Store) NewRun(ctx context.Context, spec RunSpec) (*Run, error) {
	metrics, err := json.Marshal(nonNil(spec.Metrics))
	if err != nil {
		return nil, fmt.Errorf("marshal metrics: %w", err)
	}
	id := uuid.NewString()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (`+runColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, NULL, NULL, ?, ?, NULL)`,
		id,
		spec.Command,
		spec.Root,
		nullableString(spec.CohortFile),
		spec.Controls,
		spec.Patients,
		string(metrics),
		spec.Permutations,
		StateRunning,
		nullableString(spec.LogPath),
		formatTime(time.Now()),
	)
	if err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}
	return s.GetRun(ctx, id)
}

// Finish records the outcome of a run.
func (s *Store) Finish(ctx context.Context, id string, outcome Outcome) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET state = ?, failed_stage = ?, reason = ?, error_kind = ?, finished_at = ? WHERE id = ?`,
		outcome.State,
		nullableString(outcome.FailedStage),
		nullableString(outcome.Reason),
		nullableString(outcome.ErrorKind),
		formatTime(time.Now()),
		id,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// GetRun fetches a run by full identifier or unique prefix.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: empty identifier", ErrNotFound)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE id = ? OR id LIKE ? ORDER BY started_at LIMIT 2`,
		id, stripLikeWildcards(id)+"%",
	)
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		if run.ID == id {
			return run, nil
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	switch len(runs) {
	case 0:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	case 1:
		return runs[0], nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrAmbiguous, id)
	}
}

// ListRuns returns the most recent runs, newest first. A limit <= 0 returns
// every run.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY started_at DESC, id`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// MarkInterrupted fails every run still marked running against root. Only
// the holder of the root lock may call it, so such runs belong to processes
// that died.
func (s *Store) MarkInterrupted(ctx context.Context, root string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET state = ?, reason = 'interrupted before completion', finished_at = ?
         WHERE state = ? AND root = ?`,
		StateFailed,
		formatTime(time.Now()),
		StateRunning,
		root,
	)
	if err != nil {
		return 0, fmt.Errorf("mark interrupted runs: %w", err)
	}
	return res.RowsAffected()
}

// AppendStageEvent records a stage transition.
func (s *Store) AppendStageEvent(ctx context.Context, ev StageEvent) error {
	at := ev.RecordedAt
	if at.IsZero() {
		at = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO stage_events (run_id, stage, event, detail, elapsed_ms, recorded_at) VALUES (?, ?, ?, ?, ?, ?)`,
		ev.RunID, ev.Stage, ev.Event, nullableString(ev.Detail), ev.Elapsed.Milliseconds(), formatTime(at),
	)
	if err != nil {
		return fmt.Errorf("insert stage event: %w", err)
	}
	return nil
}

// StageEvents returns the events of a run in the order they were recorded.
func (s *Store) StageEvents(ctx context.Context, runID string) ([]StageEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, stage, event, detail, elapsed_ms, recorded_at FROM stage_events WHERE run_id = ? ORDER BY id`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("query stage events: %w", err)
	}
	defer rows.Close()

	var events []StageEvent
	for rows.Next() {
		var (
			ev        StageEvent
			detail    sql.NullString
			elapsedMS int64
			at        string
		)
		if err := rows.Scan(&ev.ID, &ev.RunID, &ev.Stage, &ev.Event, &detail, &elapsedMS, &at); err != nil {
			return nil, err
		}
		ev.Detail = detail.String
		ev.Elapsed = time.Duration(elapsedMS) * time.Millisecond
		ev.RecordedAt = parseTime(at)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// AppendDecision records a checkpoint answer.
func (s *Store) AppendDecision(ctx context.Context, d DecisionRecord) error {
	at := d.DecidedAt
	if at.IsZero() {
		at = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO decisions (run_id, stage, checkpoint, approved, reason, decided_at) VALUES (?, ?, ?, ?, ?, ?)`,
		d.RunID, d.Stage, d.Checkpoint, boolToInt(d.Approved), nullableString(d.Reason), formatTime(at),
	)
	if err != nil {
		return fmt.Errorf("insert decision: %w", err)
	}
	return nil
}

// Decisions returns the checkpoint answers of a run in order.
func (s *Store) Decisions(ctx context.Context, runID string) ([]DecisionRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, stage, checkpoint, approved, reason, decided_at FROM decisions WHERE run_id = ? ORDER BY id`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("query decisions: %w", err)
	}
	defer rows.Close()

	var decisions []DecisionRecord
	for rows.Next() {
		var (
			d        DecisionRecord
			approved int
			reason   sql.NullString
			at       string
		)
		if err := rows.Scan(&d.ID, &d.RunID, &d.Stage, &d.Checkpoint, &approved, &reason, &at); err != nil {
			return nil, err
		}
		d.Approved = approved != 0
		d.Reason = reason.String
		d.DecidedAt = parseTime(at)
		decisions = append(decisions, d)
	}
	return decisions, rows.Err()
}
