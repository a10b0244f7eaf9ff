package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"tbssrun/internal/preflight"
)

func newCheckCommand(ctx *commandContext) *cobra.Command {
	var cohortFile string

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check the toolkit, directories and cohort before a run",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := ctx.configValue()
			results := preflight.RunAll(cmd.Context(), cfg, preflight.Options{CohortFile: cohortFile})

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			for _, line := range renderSectionHeader("Preflight", colorize) {
				fmt.Fprintln(out, line)
			}
			for _, r := range results {
				kind := statusOK
				switch {
				case !r.Passed && r.Optional:
					kind = statusWarn
				case !r.Passed:
					kind = statusError
				}
				fmt.Fprintln(out, renderStatusLine(r.Name, kind, r.Detail, colorize))
			}
			if failed := preflight.Failed(results); len(failed) > 0 {
				return &configError{err: fmt.Errorf("%d of %d preflight checks failed", len(failed), len(results))}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&cohortFile, "cohort", "", "Cohort definition file to check (defaults to cohort.file)")
	return cmd
}
