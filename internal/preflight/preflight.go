package preflight

import (
	"context"
	"strings"

	"tbssrun/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name     string
	Passed   bool
	Optional bool
	Detail   string
}

// Options selects the inputs to check alongside the configuration.
type Options struct {
	CohortFile string
}

// RunAll executes every preflight check for the given config.
func RunAll(ctx context.Context, cfg *config.Config, opts Options) []Result {
	if cfg == nil {
		return nil
	}

	var results []Result
	results = append(results, CheckToolkit(cfg)...)
	results = append(results, CheckRegistrationTarget(cfg))
	results = append(results, CheckWritableRoot("Pipeline root", cfg.Paths.Root))
	results = append(results, CheckWritableRoot("Log directory", cfg.Paths.LogDir))
	results = append(results, CheckWritableRoot("State directory", cfg.Paths.StateDir))

	cohortFile := strings.TrimSpace(opts.CohortFile)
	if cohortFile == "" {
		cohortFile = strings.TrimSpace(cfg.Cohort.File)
	}
	if cohortFile != "" {
		results = append(results, CheckCohort(ctx, cohortFile, cfg.Pipeline.Alpha))
	}
	return results
}

// Failed returns the required checks that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if !r.Passed && !r.Optional {
			failed = append(failed, r)
		}
	}
	return failed
}
