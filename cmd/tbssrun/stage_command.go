package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"tbssrun/internal/logging"
	"tbssrun/internal/metric"
	"tbssrun/internal/staging"
)

func newStageCohortCommand(ctx *commandContext) *cobra.Command {
	var cohortFile string
	var metricsFlag string
	var workers int
	var keepStale bool

	cmd := &cobra.Command{
		Use:   "stage-cohort",
		Short: "Collect each subject's metric volumes into the pipeline root",
		Long: "Copies FA, MD and AD and derives RD for every cohort subject into the\n" +
			"pipeline root, one CON_/PAT_ named volume per subject and metric.\n" +
			"Rerunning replaces previously staged volumes.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := ctx.configValue()
			co, cohortPath, err := ctx.loadCohort(cohortFile)
			if err != nil {
				return err
			}
			kinds := append([]metric.Kind{metric.FA}, cfg.SecondaryKinds()...)
			if strings.TrimSpace(metricsFlag) != "" {
				if kinds, err = metric.ParseList(metricsFlag); err != nil {
					return &configError{err: err}
				}
			}
			if workers <= 0 {
				workers = cfg.Staging.Workers
			}

			session, err := ctx.openSession(cmd.Context(), sessionSpec{
				command:    "stage-cohort",
				cohort:     co,
				cohortFile: cohortPath,
				metrics:    kinds,
			})
			if err != nil {
				return err
			}
			defer session.close()
			logger := session.logger

			if !keepStale {
				pruned := staging.Prune(session.layout, co, kinds, logger)
				for _, pe := range pruned.Errors {
					logging.WarnWithContext(logger, "stale volume not removed", "prune_failed",
						logging.String("path", pe.Path),
						logging.Error(pe.Error),
						logging.String(logging.FieldImpact, "the next run will refuse to start until the file is removed"),
					)
				}
			}

			report, err := staging.New(session.layout, workers, logger).Stage(cmd.Context(), co, kinds)
			if err == nil {
				err = report.Verify()
			}
			if err == nil {
				err = staging.VerifyStaged(session.layout, co, kinds)
			}
			session.finish(err, "stage-cohort")
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Run %s staged %d subjects in %s\n", session.run.ShortID(), co.Len(), report.Duration.Round(time.Millisecond))
			for _, kind := range kinds {
				listing, err := staging.Listing(session.layout, kind)
				if err != nil {
					return err
				}
				rows := make([][]string, 0, len(listing))
				for i, f := range listing {
					rows = append(rows, []string{strconv.Itoa(i + 1), f.Name, strconv.FormatInt(f.Size, 10)})
				}
				fmt.Fprintf(out, "\n%s (%s)\n", kind, session.layout.MetricDir(kind))
				fmt.Fprintln(out, renderTable([]string{"#", "Volume", "Bytes"}, rows, []columnAlignment{alignRight, alignLeft, alignRight}))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&cohortFile, "cohort", "", "Cohort definition file (defaults to cohort.file)")
	cmd.Flags().StringVar(&metricsFlag, "metrics", "", "Comma separated metrics to stage (default FA plus pipeline.secondary_metrics)")
	cmd.Flags().IntVar(&workers, "workers", 0, "Concurrent copy workers (default staging.workers)")
	cmd.Flags().BoolVar(&keepStale, "keep-stale", false, "Do not remove staged volumes of subjects no longer in the cohort")
	return cmd
}
