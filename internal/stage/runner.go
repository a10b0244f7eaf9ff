package stage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"tbssrun/internal/failure"
	"tbssrun/internal/logging"
)

// Option configures a Runner.
type Option func(*Runner)

// WithExecutor injects a custom executor (primarily for tests).
func WithExecutor(exec Executor) Option {
	return func(r *Runner) {
		if exec != nil {
			r.exec = exec
		}
	}
}

// WithRecorder persists stage events and decisions.
func WithRecorder(rec Recorder) Option {
	return func(r *Runner) {
		if rec != nil {
			r.recorder = rec
		}
	}
}

// Runner executes stages one at a time.
type Runner struct {
	exec     Executor
	gate     Gate
	recorder Recorder
	logger   *slog.Logger
}

// NewRunner constructs a runner that confirms checkpoints through gate.
func NewRunner(gate Gate, logger *slog.Logger, opts ...Option) *Runner {
	r := &Runner{
		exec:     ProcessExecutor{},
		gate:     gate,
		recorder: nopRecorder{},
		logger:   logger,
	}
	if r.logger == nil {
		r.logger = logging.NewNop()
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes s: native action, command, output verification, then the
// checkpoint. A failed command or missing output yields *StageFailure; a
// refused or unanswered checkpoint yields *ConfirmationDeclined.
func (r *Runner) Run(ctx context.Context, s Stage) error {
	stageCtx := logging.WithStage(ctx, s.Name)
	logger := logging.WithContext(stageCtx, r.logger)
	started := time.Now()

	attrs := []logging.Attr{logging.String(logging.FieldEventType, "stage_start")}
	if s.Command != nil {
		attrs = append(attrs, logging.String("command", s.Command.String()))
	}
	logger.Info("stage started", logging.Args(attrs...)...)
	if err := r.recorder.StageStarted(stageCtx, s.Name); err != nil {
		r.warnRecorder(logger, err)
	}

	err := r.execute(stageCtx, logger, s)
	if err == nil {
		err = verifyOutputs(s)
	}
	if err == nil && s.Checkpoint != nil {
		err = r.confirm(stageCtx, logger, s)
	}

	elapsed := time.Since(started)
	outcome, detail := OutcomeCompleted, ""
	if err != nil {
		outcome, detail = OutcomeFailed, err.Error()
		var declined *ConfirmationDeclined
		if errors.As(err, &declined) {
			outcome = OutcomeDeclined
		}
	}
	if recErr := r.recorder.StageFinished(stageCtx, s.Name, outcome, detail, elapsed); recErr != nil {
		r.warnRecorder(logger, recErr)
	}

	if err != nil {
		logging.ErrorWithContext(logger, "stage failed", "stage_failure",
			logging.String(logging.FieldErrorKind, failure.KindOf(err)),
			logging.Duration("stage_duration", elapsed),
			logging.Error(err),
		)
		return err
	}
	logger.Info("stage completed",
		logging.String(logging.FieldEventType, "stage_complete"),
		logging.Duration("stage_duration", elapsed),
	)
	return nil
}

func (r *Runner) execute(ctx context.Context, logger *slog.Logger, s Stage) error {
	if s.Native != nil {
		if err := s.Native(ctx); err != nil {
			var classified failure.Classifier
			if errors.As(err, &classified) || errors.Is(err, context.Canceled) {
				return err
			}
			return &StageFailure{Stage: s.Name, Reason: "native step failed", Err: err}
		}
	}
	if s.Command == nil {
		return nil
	}
	cmd := *s.Command
	err := r.exec.Run(ctx, cmd.Dir, cmd.Binary, cmd.Args, func(line string) {
		logger.Debug("tool output", logging.String("line", line))
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return &StageFailure{Stage: s.Name, Reason: fmt.Sprintf("%s exited with an error", cmd.Binary), Err: err}
	}
	return nil
}

func verifyOutputs(s Stage) error {
	for _, path := range s.Outputs {
		info, err := os.Stat(path)
		if err != nil {
			return &StageFailure{Stage: s.Name, Reason: "declared output missing", Artifact: path, Err: err}
		}
		if !info.IsDir() && info.Size() == 0 {
			return &StageFailure{Stage: s.Name, Reason: "declared output is empty", Artifact: path}
		}
	}
	return nil
}

func (r *Runner) confirm(ctx context.Context, logger *slog.Logger, s Stage) error {
	cp := *s.Checkpoint
	logger.Info("awaiting confirmation",
		logging.String(logging.FieldEventType, "checkpoint_wait"),
		logging.String("checkpoint", cp.Name),
		logging.String("artifact", cp.Artifact),
	)
	if r.gate == nil {
		return &ConfirmationDeclined{Stage: s.Name, Checkpoint: cp.Name, Reason: "no confirmation gate configured"}
	}
	decision, err := r.gate.Confirm(ctx, cp)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		decision = Decision{Checkpoint: cp.Name, Approved: false, Reason: err.Error(), DecidedAt: time.Now().UTC()}
	}
	if decision.Checkpoint == "" {
		decision.Checkpoint = cp.Name
	}
	if recErr := r.recorder.RecordDecision(ctx, s.Name, decision); recErr != nil {
		r.warnRecorder(logger, recErr)
	}

	result := "approved"
	if !decision.Approved {
		result = "declined"
	}
	attrs := append(logging.DecisionAttrs("checkpoint", result, decision.Reason),
		logging.String(logging.FieldEventType, "checkpoint_decision"),
		logging.String("checkpoint", cp.Name),
	)
	logger.Info("checkpoint decision", logging.Args(attrs...)...)

	if !decision.Approved {
		return &ConfirmationDeclined{Stage: s.Name, Checkpoint: cp.Name, Reason: decision.Reason}
	}
	return nil
}

func (r *Runner) warnRecorder(logger *slog.Logger, err error) {
	logging.WarnWithContext(logger, "failed to record stage event", "run_store_write_failed",
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "check state_dir permissions"),
		logging.String(logging.FieldImpact, "run history is incomplete"),
	)
}
