package main

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"tbssrun/internal/logging"
	"tbssrun/internal/logs"
	"tbssrun/internal/runstore"
)

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var lines int
	var follow bool
	var stageFilter string
	var metricFilter string
	var levelFilter string

	cmd := &cobra.Command{
		Use:   "logs [run-id]",
		Short: "Show the log of a run (the most recent run by default)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := ctx.configValue()
			store, err := runstore.Open(cfg)
			if err != nil {
				return err
			}
			run, err := resolveRun(cmd, store, args)
			store.Close()
			if err != nil {
				return err
			}

			filter := logs.Filter{Stage: stageFilter, Metric: metricFilter}
			if strings.TrimSpace(levelFilter) != "" {
				var level slog.Level
				if err := level.UnmarshalText([]byte(levelFilter)); err != nil {
					return &configError{err: fmt.Errorf("invalid --level %q", levelFilter)}
				}
				filter.MinLevel = level
			}

			out := cmd.OutOrStdout()
			path := logging.RunLogPath(cfg.Paths.LogDir, run.ID)
			opts := logs.TailOptions{Offset: -1, Limit: lines}
			for {
				res, err := logs.Tail(cmd.Context(), path, opts)
				if err != nil {
					if follow && errors.Is(err, cmd.Context().Err()) {
						return nil
					}
					return err
				}
				for _, line := range res.Lines {
					entry, ok := logs.ParseEntry(line)
					if !ok {
						fmt.Fprintln(out, line)
						continue
					}
					if filter.Match(entry) {
						fmt.Fprintln(out, entry.Format())
					}
				}
				if !follow {
					return nil
				}
				opts = logs.TailOptions{Offset: res.Offset, Follow: true, Wait: 5 * time.Second}
			}
		},
	}

	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of trailing lines to show")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing new lines until interrupted")
	cmd.Flags().StringVar(&stageFilter, "stage", "", "Only show entries of this stage")
	cmd.Flags().StringVar(&metricFilter, "metric", "", "Only show entries of this metric")
	cmd.Flags().StringVar(&levelFilter, "level", "", "Minimum level (debug, info, warn, error)")
	return cmd
}

func resolveRun(cmd *cobra.Command, store *runstore.Store, args []string) (*runstore.Run, error) {
	if len(args) == 1 {
		return store.GetRun(cmd.Context(), args[0])
	}
	runs, err := store.ListRuns(cmd.Context(), 1)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, errors.New("no runs recorded")
	}
	return runs[0], nil
}
