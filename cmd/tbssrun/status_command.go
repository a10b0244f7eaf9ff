package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"tbssrun/internal/logging"
	"tbssrun/internal/runstore"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "status [run-id]",
		Short: "List recorded runs or show the stages of one run",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := runstore.Open(ctx.configValue())
			if err != nil {
				return err
			}
			defer store.Close()

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			if len(args) == 0 {
				runs, err := store.ListRuns(cmd.Context(), limit)
				if err != nil {
					return err
				}
				if len(runs) == 0 {
					fmt.Fprintln(out, "No runs recorded")
					return nil
				}
				fmt.Fprintln(out, renderRuns(runs, colorize))
				return nil
			}

			run, err := store.GetRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			events, err := store.StageEvents(cmd.Context(), run.ID)
			if err != nil {
				return err
			}
			decisions, err := store.Decisions(cmd.Context(), run.ID)
			if err != nil {
				return err
			}
			if run.LogPath == "" {
				run.LogPath = logging.RunLogPath(ctx.configValue().Paths.LogDir, run.ID)
			}
			renderRunDetail(out, run, events, decisions, colorize)
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of runs to list")
	return cmd
}

func renderRuns(runs []*runstore.Run, colorize bool) string {
	rows := make([][]string, 0, len(runs))
	for _, r := range runs {
		rows = append(rows, []string{
			r.ShortID(),
			r.Command,
			runStateLabel(r.State, colorize),
			fmt.Sprintf("%d/%d", r.Controls, r.Patients),
			strings.Join(r.Metrics, ","),
			r.StartedAt.Local().Format("2006-01-02 15:04"),
			formatElapsed(r.Duration()),
			r.FailedStage,
		})
	}
	return renderTable(
		[]string{"Run", "Command", "State", "Con/Pat", "Metrics", "Started", "Elapsed", "Failed stage"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignLeft, alignRight},
	)
}

func renderRunDetail(out io.Writer, run *runstore.Run, events []runstore.StageEvent, decisions []runstore.DecisionRecord, colorize bool) {
	for _, line := range renderSectionHeader("Run "+run.ShortID(), colorize) {
		fmt.Fprintln(out, line)
	}
	kind := statusInfo
	switch run.State {
	case runstore.StateCompleted:
		kind = statusOK
	case runstore.StateFailed:
		kind = statusError
	}
	fmt.Fprintln(out, renderStatusLine("State", kind, string(run.State), colorize))
	fmt.Fprintln(out, renderStatusLine("Command", statusInfo, run.Command, colorize))
	fmt.Fprintln(out, renderStatusLine("Root", statusInfo, run.Root, colorize))
	if run.CohortFile != "" {
		fmt.Fprintln(out, renderStatusLine("Cohort", statusInfo, run.CohortFile, colorize))
	}
	fmt.Fprintln(out, renderStatusLine("Subjects", statusInfo,
		fmt.Sprintf("%d controls, %d patients", run.Controls, run.Patients), colorize))
	if run.FailedStage != "" {
		fmt.Fprintln(out, renderStatusLine("Failed stage", statusError, run.FailedStage, colorize))
	}
	if run.Reason != "" {
		fmt.Fprintln(out, renderStatusLine("Reason", statusError, run.Reason, colorize))
	}
	if run.LogPath != "" {
		fmt.Fprintln(out, renderStatusLine("Log", statusInfo, run.LogPath, colorize))
	}

	if len(events) > 0 {
		rows := make([][]string, 0, len(events))
		for _, ev := range events {
			elapsed := ""
			if ev.Elapsed > 0 {
				elapsed = formatElapsed(ev.Elapsed)
			}
			rows = append(rows, []string{ev.RecordedAt.Local().Format("15:04:05"), ev.Stage, ev.Event, elapsed, ev.Detail})
		}
		fmt.Fprintln(out)
		fmt.Fprintln(out, renderTable([]string{"Time", "Stage", "Event", "Elapsed", "Detail"}, rows,
			[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight}))
	}
	if len(decisions) > 0 {
		rows := make([][]string, 0, len(decisions))
		for i, d := range decisions {
			rows = append(rows, []string{strconv.Itoa(i + 1), d.Checkpoint, yesNo(d.Approved), d.Reason})
		}
		fmt.Fprintln(out)
		fmt.Fprintln(out, renderTable([]string{"#", "Checkpoint", "Approved", "Reason"}, rows, []columnAlignment{alignRight}))
	}
}

func formatElapsed(d time.Duration) string {
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	return d.Round(time.Second).String()
}
