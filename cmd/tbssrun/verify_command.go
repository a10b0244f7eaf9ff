package main

import (
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"tbssrun/internal/cohort"
	"tbssrun/internal/design"
	"tbssrun/internal/metric"
)

func newVerifyOrderCommand(ctx *commandContext) *cobra.Command {
	var cohortFile string
	var metricFlag string

	cmd := &cobra.Command{
		Use:   "verify-order",
		Short: "Check that controls precede patients in the cohort and the merge listing",
		Long: "Checks the cohort order, then the listing the toolkit will merge (FA/ after\n" +
			"preprocessing, the staged volumes before it) against the design counts.",
		RunE: func(cmd *cobra.Command, args []string) error {
			co, _, err := ctx.loadCohort(cohortFile)
			if err != nil {
				return err
			}
			kind, err := metric.Parse(metricFlag)
			if err != nil {
				return &configError{err: err}
			}
			if err := co.VerifyOrdering(); err != nil {
				return err
			}

			l := ctx.layout()
			context := kind.String() + " staged listing"
			listing, err := l.ListStaged(kind)
			if err != nil {
				return err
			}
			if kind.Primary() {
				pre, err := l.ListPreprocessed()
				if err != nil {
					return err
				}
				if len(pre) > 0 {
					listing, context = pre, "FA/ listing"
				}
			}

			out := cmd.OutOrStdout()
			rows := make([][]string, len(listing))
			for i, p := range listing {
				rows[i] = []string{strconv.Itoa(i + 1), subjectRole(p), filepath.Base(p)}
			}
			fmt.Fprintf(out, "%s\n", context)
			fmt.Fprintln(out, renderTable([]string{"#", "Role", "Volume"}, rows, []columnAlignment{alignRight}))

			if err := cohort.VerifyListing(context, listing); err != nil {
				return err
			}
			controls, patients := co.Counts()
			m, err := design.Build(controls, patients)
			if err != nil {
				return err
			}
			if err := m.Validate(kind, len(listing)); err != nil {
				return err
			}
			fmt.Fprintf(out, "Order verified: %d controls followed by %d patients\n", controls, patients)
			return nil
		},
	}

	cmd.Flags().StringVar(&cohortFile, "cohort", "", "Cohort definition file (defaults to cohort.file)")
	cmd.Flags().StringVar(&metricFlag, "metric", "FA", "Metric whose listing to check")
	return cmd
}

// subjectRole labels a listing entry for console output.
func subjectRole(name string) string {
	role, ok := cohort.RoleOf(name)
	if !ok {
		return "?"
	}
	return role.String()
}
