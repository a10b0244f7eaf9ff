package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"tbssrun/internal/config"
	"tbssrun/internal/design"
)

func newDesignCommand(ctx *commandContext) *cobra.Command {
	var cohortFile string
	var controls, patients int
	var permutations int
	var writePrefix string

	cmd := &cobra.Command{
		Use:   "design",
		Short: "Preview or write the two-group design for a cohort",
		Long: "Builds the unpaired two-group design (controls first) with the contrasts\n" +
			"control > patient and patient > control, and reports how many unique\n" +
			"permutations the group sizes allow.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := ctx.configValue()
			if controls <= 0 && patients <= 0 {
				co, _, err := ctx.loadCohort(cohortFile)
				if err != nil {
					return err
				}
				controls, patients = co.Counts()
			}
			m, err := design.Build(controls, patients)
			if err != nil {
				return &configError{err: err}
			}
			if permutations <= 0 {
				permutations = cfg.Pipeline.Permutations
			}

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			for _, line := range renderSectionHeader("Design", colorize) {
				fmt.Fprintln(out, line)
			}
			fmt.Fprintln(out, renderStatusLine("Controls", statusInfo, fmt.Sprintf("%d", m.Controls), colorize))
			fmt.Fprintln(out, renderStatusLine("Patients", statusInfo, fmt.Sprintf("%d", m.Patients), colorize))
			fmt.Fprintln(out, renderStatusLine("Contrasts", statusInfo, strings.Join(m.ContrastNames(), ", "), colorize))
			fmt.Fprintln(out, renderStatusLine("Unique permutations", statusInfo, fmt.Sprintf("%.0f", m.UniquePermutations()), colorize))

			check := m.CheckPermutations(permutations)
			if check.Exceeded {
				fmt.Fprintln(out, renderStatusLine("Permutations", statusWarn,
					fmt.Sprintf("%d requested, only %.0f unique; all will be run", check.Requested, check.Ceiling), colorize))
			} else {
				fmt.Fprintln(out, renderStatusLine("Permutations", statusOK, fmt.Sprintf("%d", check.Requested), colorize))
			}
			if err := design.Resolvable(controls, patients, cfg.Pipeline.Alpha); err != nil {
				fmt.Fprintln(out, renderStatusLine("Smallest p", statusError, err.Error(), colorize))
			} else {
				fmt.Fprintln(out, renderStatusLine("Smallest p", statusOK, fmt.Sprintf("%.4g", m.MinP()), colorize))
			}

			if strings.TrimSpace(writePrefix) == "" {
				return nil
			}
			prefix, err := config.ExpandPath(writePrefix)
			if err != nil {
				return err
			}
			files, err := m.WriteFiles(prefix)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "\nWrote %s and %s\n", files.Matrix, files.Contrasts)
			return nil
		},
	}

	cmd.Flags().StringVar(&cohortFile, "cohort", "", "Cohort definition file (defaults to cohort.file)")
	cmd.Flags().IntVar(&controls, "controls", 0, "Number of controls (instead of reading a cohort)")
	cmd.Flags().IntVar(&patients, "patients", 0, "Number of patients (instead of reading a cohort)")
	cmd.Flags().IntVar(&permutations, "permutations", 0, "Requested permutations (default pipeline.permutations)")
	cmd.Flags().StringVar(&writePrefix, "write", "", "Write <prefix>.mat and <prefix>.con")
	return cmd
}
