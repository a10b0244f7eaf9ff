package stage

import (
	"context"
	"time"
)

// Outcome is the recorded result of a stage.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
	OutcomeDeclined  Outcome = "declined"
	OutcomeSkipped   Outcome = "skipped"
)

// Recorder persists stage progress and operator decisions.
type Recorder interface {
	StageStarted(ctx context.Context, stage string) error
	StageFinished(ctx context.Context, stage string, outcome Outcome, detail string, elapsed time.Duration) error
	RecordDecision(ctx context.Context, stage string, d Decision) error
}

type nopRecorder struct{}

func (nopRecorder) StageStarted(context.Context, string) error { return nil }

func (nopRecorder) StageFinished(context.Context, string, Outcome, string, time.Duration) error {
	return nil
}

func (nopRecorder) RecordDecision(context.Context, string, Decision) error { return nil }
