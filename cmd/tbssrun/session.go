package main

import (
	"context"
	"io"
	"log/slog"

	"tbssrun/internal/cohort"
	"tbssrun/internal/failure"
	"tbssrun/internal/layout"
	"tbssrun/internal/logging"
	"tbssrun/internal/metric"
	"tbssrun/internal/runstore"
)

// runSession holds the resources of one run-producing command: the root
// lock, the run store record and the per-run log.
type runSession struct {
	layout *layout.Layout
	lock   *layout.RootLock
	store  *runstore.Store
	run    *runstore.Run
	logger *slog.Logger
	logs   io.Closer
}

type sessionSpec struct {
	command      string
	cohort       *cohort.Cohort
	cohortFile   string
	metrics      []metric.Kind
	permutations int
}

func (c *commandContext) openSession(ctx context.Context, spec sessionSpec) (*runSession, error) {
	cfg := c.configValue()
	base, err := c.ensureLogger()
	if err != nil {
		return nil, err
	}
	l := c.layout()
	lock, err := l.Lock()
	if err != nil {
		return nil, err
	}
	s := &runSession{layout: l, lock: lock}

	store, err := runstore.Open(cfg)
	if err != nil {
		s.close()
		return nil, err
	}
	s.store = store
	if n, err := store.MarkInterrupted(ctx, l.Root()); err != nil {
		logging.WarnWithContext(base, "could not reconcile interrupted runs", "run_store_reconcile_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "stale runs stay marked running"),
		)
	} else if n > 0 {
		base.Info("marked interrupted runs as failed",
			logging.String(logging.FieldEventType, "runs_interrupted"),
			logging.Int("count", int(n)),
		)
	}

	controls, patients := spec.cohort.Counts()
	names := make([]string, len(spec.metrics))
	for i, k := range spec.metrics {
		names[i] = k.String()
	}
	run, err := store.NewRun(ctx, runstore.RunSpec{
		Command:      spec.command,
		Root:         l.Root(),
		CohortFile:   spec.cohortFile,
		Controls:     controls,
		Patients:     patients,
		Metrics:      names,
		Permutations: spec.permutations,
	})
	if err != nil {
		s.close()
		return nil, err
	}
	s.run = run

	logger, closer, err := logging.OpenRunLog(base, cfg.Paths.LogDir, run.ID, cfg.Logging.Level)
	if err != nil {
		logging.WarnWithContext(base, "run log unavailable", "run_log_unavailable",
			logging.Error(err),
			logging.String(logging.FieldImpact, "this run is only logged to the shared log"),
		)
		logger = base.With(logging.String(logging.FieldRunID, run.ID))
	}
	s.logger = logger
	s.logs = closer
	logging.PruneRunLogs(base, cfg.Paths.LogDir, cfg.Logging.RetentionDays)
	return s, nil
}

// finish records the outcome of the session's run. failedStage is only used
// when err is not nil.
func (s *runSession) finish(err error, failedStage string) {
	outcome := runstore.Outcome{State: runstore.StateCompleted}
	if err != nil {
		outcome = runstore.Outcome{
			State:       runstore.StateFailed,
			FailedStage: failedStage,
			Reason:      err.Error(),
			ErrorKind:   failure.KindOf(err),
		}
	}
	// The command context may already be cancelled; the record must still land.
	if recErr := s.store.Finish(context.Background(), s.run.ID, outcome); recErr != nil {
		logging.WarnWithContext(s.logger, "failed to record run outcome", "run_store_write_failed",
			logging.Error(recErr),
			logging.String(logging.FieldImpact, "run stays marked running until the next run on this root"),
		)
	}
}

func (s *runSession) close() {
	if s.logs != nil {
		s.logs.Close()
	}
	if s.store != nil {
		s.store.Close()
	}
	if s.lock != nil {
		s.lock.Unlock()
	}
}
