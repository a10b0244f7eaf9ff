package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"tbssrun/internal/cohort"
	"tbssrun/internal/design"
	"tbssrun/internal/failure"
	"tbssrun/internal/layout"
	"tbssrun/internal/logging"
	"tbssrun/internal/metric"
	"tbssrun/internal/stage"
)

// State is the terminal state of a run.
type State string

const (
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Result summarises a pipeline run.
type Result struct {
	RunID       string
	State       State
	FailedStage string
	Reason      string
	// Executed lists the stages that completed, in order.
	Executed []string
	// Skipped lists comparisons skipped because of a cohort mismatch.
	Skipped  []string
	Designs  map[metric.Kind]design.Matrix
	Outputs  map[metric.Kind][]string
	Skeleton SkeletonArtifact
}

// Orchestrator runs the protocol for one cohort and pipeline root.
type Orchestrator struct {
	layout *layout.Layout
	cohort *cohort.Cohort
	runner *stage.Runner
	opts   Options
	logger *slog.Logger
}

// New constructs an orchestrator. Zero-valued numeric options take the
// protocol defaults.
func New(l *layout.Layout, c *cohort.Cohort, runner *stage.Runner, opts Options, logger *slog.Logger) *Orchestrator {
	if opts.Threshold <= 0 {
		opts.Threshold = 0.2
	}
	if opts.Permutations <= 0 {
		opts.Permutations = 500
	}
	if opts.Alpha <= 0 {
		opts.Alpha = 0.05
	}
	if opts.Toolkit == (Toolkit{}) {
		opts.Toolkit = Toolkit{
			Preproc:   "tbss_1_preproc",
			Register:  "tbss_2_reg",
			PostReg:   "tbss_3_postreg",
			PreStats:  "tbss_4_prestats",
			NonFA:     "tbss_non_FA",
			Randomise: "randomise",
		}
	}
	return &Orchestrator{
		layout: l,
		cohort: c,
		runner: runner,
		opts:   opts,
		logger: logging.NewComponentLogger(logger, "pipeline"),
	}
}

// Protocol returns the stages a run would execute, in order.
func (o *Orchestrator) Protocol() []stage.Stage {
	steps := o.protocol(newResult(o))
	out := make([]stage.Stage, len(steps))
	for i, s := range steps {
		out[i] = s.Stage
	}
	return out
}

func newResult(o *Orchestrator) *Result {
	return &Result{
		RunID:    o.opts.RunID,
		Designs:  make(map[metric.Kind]design.Matrix),
		Outputs:  make(map[metric.Kind][]string),
		Skeleton: skeletonArtifact(o.layout),
	}
}

// Run executes the protocol. The returned error is nil only when the run
// completed; otherwise it is the error that ended it, and the result names
// the failed stage.
func (o *Orchestrator) Run(ctx context.Context) (*Result, error) {
	if o.opts.RunID != "" {
		ctx = logging.WithRunID(ctx, o.opts.RunID)
	}
	logger := logging.WithContext(ctx, o.logger)
	res := newResult(o)
	steps := o.protocol(res)

	controls, patients := o.cohort.Counts()
	logger.Info("pipeline started",
		logging.String(logging.FieldEventType, "pipeline_start"),
		logging.Int("controls", controls),
		logging.Int("patients", patients),
		logging.Strings("metrics", kindNames(o.opts.Metrics())),
		logging.Int("stages", len(steps)),
		logging.String("root_dir", o.layout.Root()),
	)

	settled := make(map[string]bool, len(steps))
	var mismatches []error
	for _, s := range steps {
		if err := ctx.Err(); err != nil {
			return o.fail(logger, res, s.Name, err)
		}
		for _, dep := range s.DependsOn {
			if !settled[dep] {
				return o.fail(logger, res, s.Name, &stage.StageFailure{
					Stage:  s.Name,
					Reason: fmt.Sprintf("dependency %s has not completed", dep),
				})
			}
		}

		err := o.runner.Run(ctx, s.Stage)
		var mismatch *design.CohortMismatchError
		switch {
		case err == nil:
			settled[s.Name] = true
			res.Executed = append(res.Executed, s.Name)
			if s.compare {
				res.Outputs[s.metric] = s.Outputs
				o.logResults(logger, s.metric, s.Outputs)
			}
		case s.compare && errors.As(err, &mismatch):
			settled[s.Name] = true
			res.Skipped = append(res.Skipped, s.Name)
			mismatches = append(mismatches, err)
			logging.WarnWithContext(logger, "comparison skipped", "comparison_skipped",
				logging.String(logging.FieldMetric, s.metric.String()),
				logging.String(logging.FieldErrorKind, failure.KindMismatch),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "restage the cohort so every subject has exactly one volume for this metric"),
				logging.String(logging.FieldImpact, "no statistics for this metric; remaining metrics continue"),
			)
		default:
			return o.fail(logger, res, s.Name, err)
		}
	}

	if len(mismatches) > 0 {
		var first *design.CohortMismatchError
		errors.As(mismatches[0], &first)
		res.State = StateFailed
		res.FailedStage = CompareStage(first.Metric)
		res.Reason = mismatches[0].Error()
		logging.ErrorWithContext(logger, "pipeline finished with skipped comparisons", "pipeline_failed",
			logging.String("failed_stage", res.FailedStage),
			logging.Strings("skipped", res.Skipped),
			logging.Error(mismatches[0]),
			logging.String(logging.FieldErrorHint, "fix the staged datasets and rerun"),
		)
		return res, mismatches[0]
	}

	res.State = StateCompleted
	logger.Info("pipeline completed",
		logging.String(logging.FieldEventType, "pipeline_complete"),
		logging.Int("stages", len(res.Executed)),
	)
	return res, nil
}

func (o *Orchestrator) fail(logger *slog.Logger, res *Result, stageName string, err error) (*Result, error) {
	res.State = StateFailed
	res.FailedStage = stageName
	res.Reason = err.Error()
	logging.ErrorWithContext(logger, "pipeline failed", "pipeline_failed",
		logging.String("failed_stage", stageName),
		logging.String(logging.FieldErrorKind, failure.KindOf(err)),
		logging.Error(err),
		logging.String(logging.FieldErrorHint, failureHint(err)),
	)
	return res, err
}

// prepareComparison re-checks ordering and counts for kind, then writes the
// design the permutation test reads.
func (o *Orchestrator) prepareComparison(ctx context.Context, run *Result, kind metric.Kind) error {
	logger := logging.WithContext(logging.WithMetric(ctx, kind.String()), o.logger)
	if err := o.cohort.VerifyOrdering(); err != nil {
		return err
	}
	listing, err := o.comparisonListing(kind)
	if err != nil {
		return err
	}
	if err := cohort.VerifyListing(kind.String()+" comparison input", listing); err != nil {
		return err
	}
	controls, patients := o.cohort.Counts()
	m, err := design.Build(controls, patients)
	if err != nil {
		return &cohort.Error{Source: o.cohort.Source, Reason: err.Error()}
	}
	if err := m.Validate(kind, len(listing)); err != nil {
		return err
	}
	if err := os.MkdirAll(o.layout.StatsDir(), 0o755); err != nil {
		return fmt.Errorf("create stats directory: %w", err)
	}
	files, err := m.WriteFiles(o.layout.StatsPath("design_" + kind.String()))
	if err != nil {
		return err
	}
	run.Designs[kind] = m

	check := m.CheckPermutations(o.opts.Permutations)
	if check.Exceeded {
		logging.WarnWithContext(logger, "requested permutations exceed unique permutations", "permutation_ceiling",
			logging.Int("requested", check.Requested),
			logging.Float64("unique_permutations", check.Ceiling),
			logging.Float64("min_p", m.MinP()),
			logging.String(logging.FieldErrorHint, "the permutation test will run every unique permutation instead"),
			logging.String(logging.FieldImpact, "smallest attainable p-value is 1/unique permutations"),
		)
	}
	logger.Info("design written",
		logging.String(logging.FieldEventType, "design_written"),
		logging.Int("controls", controls),
		logging.Int("patients", patients),
		logging.String("design_mat", files.Matrix),
		logging.String("design_con", files.Contrasts),
	)
	return nil
}

func (o *Orchestrator) logResults(logger *slog.Logger, kind metric.Kind, outputs []string) {
	hint := "vox_corrp maps hold 1-p: voxels above 0.95 are significant at p < 0.05"
	if o.opts.TFCE {
		hint = "tfce_corrp maps hold 1-p: voxels above 0.95 are significant at p < 0.05"
	}
	logger.Info("comparison results",
		logging.String(logging.FieldEventType, "comparison_results"),
		logging.String(logging.FieldMetric, kind.String()),
		logging.Strings("outputs", outputs),
		logging.String("interpretation", hint),
	)
}

func failureHint(err error) string {
	switch failure.KindOf(err) {
	case failure.KindStaging, failure.KindMissingInput:
		return "run stage-cohort again so every selected metric is staged for every subject"
	case failure.KindOrdering:
		return "list every control before every patient in the cohort file"
	case failure.KindDeclined:
		return "review the checkpoint artifact, fix the inputs, and rerun from fresh staging"
	case failure.KindStage:
		return "inspect the tool output in the run log"
	case failure.KindCohort:
		return "add subjects so the permutation test can reach significance"
	default:
		return "check logs for details"
	}
}

func kindNames(kinds []metric.Kind) []string {
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = k.String()
	}
	return names
}

// Summary renders a one-line description of the result.
func (r *Result) Summary() string {
	if r.State == StateCompleted {
		return fmt.Sprintf("completed %d stages", len(r.Executed))
	}
	parts := []string{fmt.Sprintf("failed at %s", r.FailedStage)}
	if r.Reason != "" {
		parts = append(parts, r.Reason)
	}
	return strings.Join(parts, ": ")
}
