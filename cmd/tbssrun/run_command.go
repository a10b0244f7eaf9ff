package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"tbssrun/internal/logging"
	"tbssrun/internal/metric"
	"tbssrun/internal/pipeline"
	"tbssrun/internal/preflight"
	"tbssrun/internal/stage"
)

func newRunPipelineCommand(ctx *commandContext) *cobra.Command {
	var cohortFile string
	var dryRun bool
	var skipPreflight bool
	var overrides protocolOverrides

	cmd := &cobra.Command{
		Use:   "run-pipeline",
		Short: "Run the TBSS protocol over freshly staged volumes",
		Long: "Runs preprocessing, registration, skeletonisation and projection of FA,\n" +
			"then the permutation test for FA and every selected secondary metric.\n" +
			"The run pauses for confirmation at each visual QA checkpoint and stops\n" +
			"at the first failed or declined stage.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := ctx.configValue()
			co, cohortPath, err := ctx.loadCohort(cohortFile)
			if err != nil {
				return err
			}
			opts := pipeline.OptionsFromConfig(cfg)
			if err := overrides.apply(cmd, &opts); err != nil {
				return &configError{err: err}
			}
			out := cmd.OutOrStdout()

			if dryRun {
				o := pipeline.New(ctx.layout(), co, stage.NewRunner(nil, logging.NewNop()), opts, logging.NewNop())
				printProtocol(out, o.Protocol())
				return nil
			}

			if !skipPreflight {
				results := preflight.RunAll(cmd.Context(), cfg, preflight.Options{CohortFile: cohortPath})
				if failed := preflight.Failed(results); len(failed) > 0 {
					colorize := shouldColorize(cmd.ErrOrStderr())
					for _, r := range failed {
						fmt.Fprintln(cmd.ErrOrStderr(), renderStatusLine(r.Name, statusError, r.Detail, colorize))
					}
					return &configError{err: fmt.Errorf("%d preflight checks failed; run `tbssrun check` for details", len(failed))}
				}
			}

			session, err := ctx.openSession(cmd.Context(), sessionSpec{
				command:      "run-pipeline",
				cohort:       co,
				cohortFile:   cohortPath,
				metrics:      opts.Metrics(),
				permutations: opts.Permutations,
			})
			if err != nil {
				return err
			}
			defer session.close()

			opts.RunID = session.run.ID
			gate := stage.NewTerminalGate(cmd.InOrStdin(), out)
			runner := stage.NewRunner(gate, session.logger,
				stage.WithRecorder(session.store.Recorder(session.run.ID)),
			)
			o := pipeline.New(session.layout, co, runner, opts, session.logger)
			res, runErr := o.Run(cmd.Context())
			session.finish(runErr, res.FailedStage)

			printResult(out, session.run.ShortID(), res)
			return runErr
		},
	}

	cmd.Flags().StringVar(&cohortFile, "cohort", "", "Cohort definition file (defaults to cohort.file)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Print the stages and commands without running them")
	cmd.Flags().BoolVar(&skipPreflight, "skip-preflight", false, "Do not run preflight checks before starting")
	cmd.Flags().StringVar(&overrides.metrics, "metrics", "", "Comma separated secondary metrics to compare after FA (default pipeline.secondary_metrics)")
	cmd.Flags().IntVar(&overrides.permutations, "permutations", 0, "Permutations per comparison (default pipeline.permutations)")
	cmd.Flags().Float64Var(&overrides.threshold, "threshold", 0, "Skeleton FA threshold (default pipeline.skeleton_threshold)")
	cmd.Flags().StringVar(&overrides.registration, "registration", "", "Registration target: T, n, or an image path")
	cmd.Flags().StringVar(&overrides.skeleton, "skeleton", "", "Skeleton source: S (study mean) or T (template)")
	return cmd
}

// protocolOverrides holds run-pipeline flags that replace configured
// protocol parameters for one run.
type protocolOverrides struct {
	metrics      string
	permutations int
	threshold    float64
	registration string
	skeleton     string
}

func (p protocolOverrides) apply(cmd *cobra.Command, opts *pipeline.Options) error {
	flags := cmd.Flags()
	if flags.Changed("metrics") {
		kinds, err := metric.ParseList(p.metrics)
		if err != nil {
			return err
		}
		opts.Secondary = nil
		for _, k := range kinds {
			if !k.Primary() {
				opts.Secondary = append(opts.Secondary, k)
			}
		}
	}
	if flags.Changed("permutations") {
		if p.permutations <= 0 {
			return fmt.Errorf("--permutations must be positive")
		}
		opts.Permutations = p.permutations
	}
	if flags.Changed("threshold") {
		if p.threshold <= 0 || p.threshold >= 1 {
			return fmt.Errorf("--threshold must be between 0 and 1 (exclusive)")
		}
		opts.Threshold = p.threshold
	}
	if flags.Changed("registration") {
		if strings.TrimSpace(p.registration) == "" {
			return fmt.Errorf("--registration must be T, n, or a target image path")
		}
		opts.Registration = strings.TrimSpace(p.registration)
	}
	if flags.Changed("skeleton") {
		switch mode := strings.ToUpper(strings.TrimSpace(p.skeleton)); mode {
		case "S", "T":
			opts.SkeletonMode = mode
		default:
			return fmt.Errorf("--skeleton must be S or T")
		}
	}
	return nil
}

func printProtocol(out io.Writer, stages []stage.Stage) {
	rows := make([][]string, 0, len(stages))
	for i, s := range stages {
		command := "(native check)"
		if s.Command != nil {
			command = s.Command.String()
		}
		checkpoint := ""
		if s.Checkpoint != nil {
			checkpoint = s.Checkpoint.Name
		}
		rows = append(rows, []string{fmt.Sprintf("%d", i+1), s.Name, command, checkpoint})
	}
	fmt.Fprintln(out, renderTable([]string{"#", "Stage", "Command", "Checkpoint"}, rows, []columnAlignment{alignRight}))
}

func printResult(out io.Writer, runID string, res *pipeline.Result) {
	if res == nil {
		return
	}
	fmt.Fprintf(out, "\nRun %s %s\n", runID, res.Summary())
	if len(res.Skipped) > 0 {
		fmt.Fprintf(out, "Skipped comparisons: %s\n", strings.Join(res.Skipped, ", "))
	}
	for _, kind := range sortedKinds(res) {
		fmt.Fprintf(out, "\n%s results:\n", kind)
		for _, path := range res.Outputs[kind] {
			fmt.Fprintf(out, "  %s\n", path)
		}
	}
	if len(res.Outputs) > 0 {
		fmt.Fprintln(out, "\ncorrp maps hold 1-p: voxels above 0.95 are significant at p < 0.05.")
	}
}

func sortedKinds(res *pipeline.Result) []metric.Kind {
	var kinds []metric.Kind
	for _, k := range metric.All() {
		if _, ok := res.Outputs[k]; ok {
			kinds = append(kinds, k)
		}
	}
	return kinds
}
