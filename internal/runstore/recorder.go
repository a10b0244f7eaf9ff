package runstore

import (
	"context"
	"time"

	"tbssrun/internal/stage"
)

// Recorder adapts the store to stage.Recorder for a single run.
type Recorder struct {
	store *Store
	runID string
}

// Recorder returns a stage recorder bound to runID.
func (s *Store) Recorder(runID string) *Recorder {
	return &Recorder{store: s, runID: runID}
}

// StageStarted implements stage.Recorder.
func (r *Recorder) StageStarted(ctx context.Context, name string) error {
	return r.store.AppendStageEvent(ctx, StageEvent{RunID: r.runID, Stage: name, Event: "started"})
}

// StageFinished implements stage.Recorder.
func (r *Recorder) StageFinished(ctx context.Context, name string, outcome stage.Outcome, detail string, elapsed time.Duration) error {
	return r.store.AppendStageEvent(ctx, StageEvent{
		RunID:   r.runID,
		Stage:   name,
		Event:   string(outcome),
		Detail:  detail,
		Elapsed: elapsed,
	})
}

// RecordDecision implements stage.Recorder.
func (r *Recorder) RecordDecision(ctx context.Context, name string, d stage.Decision) error {
	return r.store.AppendDecision(ctx, DecisionRecord{
		RunID:      r.runID,
		Stage:      name,
		Checkpoint: d.Checkpoint,
		Approved:   d.Approved,
		Reason:     d.Reason,
		DecidedAt:  d.DecidedAt,
	})
}

var _ stage.Recorder = (*Recorder)(nil)
