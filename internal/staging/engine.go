package staging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"tbssrun/internal/cohort"
	"tbssrun/internal/fileutil"
	"tbssrun/internal/layout"
	"tbssrun/internal/logging"
	"tbssrun/internal/metric"
	"tbssrun/internal/volume"
)

// MetricVolume is one subject's staged map for one metric.
type MetricVolume struct {
	Subject     cohort.Subject
	Metric      metric.Kind
	Sources     []string
	Destination string
}

// Dataset is the set of staged volumes for one metric across the cohort, in
// the sorted order the toolkit merges them.
type Dataset struct {
	Metric  metric.Kind
	Volumes []MetricVolume
}

// Destinations returns the staged file paths in dataset order.
func (d Dataset) Destinations() []string {
	paths := make([]string, len(d.Volumes))
	for i, v := range d.Volumes {
		paths[i] = v.Destination
	}
	return paths
}

// Report lists the volumes staged successfully, grouped by metric in
// protocol order.
type Report struct {
	Datasets []Dataset
	Duration time.Duration
}

// Dataset returns the dataset for kind, if it was staged.
func (r Report) Dataset(kind metric.Kind) (Dataset, bool) {
	for _, d := range r.Datasets {
		if d.Metric == kind {
			return d, true
		}
	}
	return Dataset{}, false
}

// Verify re-checks that every dataset lists controls strictly before
// patients.
func (r Report) Verify() error {
	for _, d := range r.Datasets {
		if err := cohort.VerifyListing(d.Metric.String()+" staged dataset", d.Destinations()); err != nil {
			return err
		}
	}
	return nil
}

// Engine stages cohorts into a pipeline layout.
type Engine struct {
	layout  *layout.Layout
	workers int
	logger  *slog.Logger
}

// New constructs an engine that runs at most workers subjects concurrently.
func New(l *layout.Layout, workers int, logger *slog.Logger) *Engine {
	if workers < 1 {
		workers = 1
	}
	return &Engine{
		layout:  l,
		workers: workers,
		logger:  logging.NewComponentLogger(logger, "staging"),
	}
}

type job struct {
	spec cohort.SubjectSpec
	kind metric.Kind
}

// Stage resolves and writes every (subject, metric) volume. Failures for one
// subject never stop the others; they are returned together as a *BatchError
// after all jobs finish, alongside a report of what succeeded. Re-staging
// identical inputs rewrites identical bytes.
func (e *Engine) Stage(ctx context.Context, c *cohort.Cohort, kinds []metric.Kind) (Report, error) {
	started := time.Now()
	kinds = protocolOrder(kinds)
	if len(kinds) == 0 {
		return Report{}, errors.New("no metrics selected for staging")
	}
	for _, kind := range kinds {
		if err := e.layout.EnsureMetricDir(kind); err != nil {
			return Report{}, err
		}
	}

	jobs := make([]job, 0, c.Len()*len(kinds))
	for _, kind := range kinds {
		for _, spec := range c.Subjects {
			jobs = append(jobs, job{spec: spec, kind: kind})
		}
	}

	e.logger.Info("staging started",
		logging.String(logging.FieldEventType, "staging_start"),
		logging.Int("subjects", c.Len()),
		logging.Int("volumes", len(jobs)),
		logging.Int("workers", e.workers),
		logging.String("root_dir", e.layout.Root()),
	)

	var (
		mu       sync.Mutex
		staged   = make(map[metric.Kind][]MetricVolume, len(kinds))
		failures []error
		done     int
		sampler  = logging.NewProgressSampler(25)
	)
	record := func(vol MetricVolume, err error) {
		mu.Lock()
		defer mu.Unlock()
		done++
		if err != nil {
			failures = append(failures, err)
		} else {
			staged[vol.Metric] = append(staged[vol.Metric], vol)
		}
		if sampler.ShouldLogCount("staging", done, len(jobs)) {
			e.logger.Info("staging progress",
				logging.String(logging.FieldEventType, "staging_progress"),
				logging.Int("staged", done),
				logging.Int("volumes", len(jobs)),
			)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for _, j := range jobs {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			vol, err := e.stageOne(j.spec, j.kind)
			record(vol, err)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Report{}, err
	}
	if err := ctx.Err(); err != nil {
		return Report{}, err
	}

	report := Report{Duration: time.Since(started)}
	for _, kind := range kinds {
		vols := staged[kind]
		sort.Slice(vols, func(i, j int) bool { return vols[i].Destination < vols[j].Destination })
		report.Datasets = append(report.Datasets, Dataset{Metric: kind, Volumes: vols})
	}

	if len(failures) > 0 {
		sortFailures(failures)
		batch := &BatchError{Attempted: len(jobs), Failures: failures}
		logging.ErrorWithContext(e.logger, "staging incomplete", "staging_failed",
			logging.Int("failed", len(failures)),
			logging.Int("volumes", len(jobs)),
			logging.Error(failures[0]),
			logging.String(logging.FieldErrorHint, "fix the cohort source paths or patterns and re-run stage-cohort"),
		)
		return report, batch
	}

	e.logger.Info("staging completed",
		logging.String(logging.FieldEventType, "staging_complete"),
		logging.Int("volumes", len(jobs)),
		logging.Duration("stage_duration", report.Duration),
	)
	return report, nil
}

func (e *Engine) stageOne(spec cohort.SubjectSpec, kind metric.Kind) (MetricVolume, error) {
	vol := MetricVolume{
		Subject:     spec.Subject,
		Metric:      kind,
		Destination: e.layout.DestinationFor(kind, spec.Subject),
	}
	sources, err := Resolve(spec, kind)
	if err != nil {
		return vol, err
	}
	vol.Sources = sources

	if kind.Derived() {
		err = volume.DeriveMean(vol.Destination, sources[0], sources[1])
	} else {
		err = fileutil.CopyFileAtomic(sources[0], vol.Destination)
	}
	if err != nil {
		return vol, &VolumeError{Subject: spec.Subject, Metric: kind, Destination: vol.Destination, Err: err}
	}
	e.logger.Debug("volume staged",
		logging.String(logging.FieldSubject, spec.Subject.Key()),
		logging.String(logging.FieldMetric, kind.String()),
		logging.Strings("sources", sources),
		logging.String("destination", vol.Destination),
	)
	return vol, nil
}

// Resolve returns the source files for a subject's metric, one per source
// suffix. Each suffix must match exactly one non-empty regular file.
func Resolve(spec cohort.SubjectSpec, kind metric.Kind) ([]string, error) {
	suffixes := kind.SourceSuffixes()
	if len(suffixes) == 0 {
		return nil, fmt.Errorf("metric %q has no source suffixes", kind)
	}
	sources := make([]string, 0, len(suffixes))
	for _, suffix := range suffixes {
		pattern := spec.Glob(suffix)
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, &MissingInputError{Subject: spec.Subject, Metric: kind, Suffix: suffix, Pattern: pattern,
				Reason: fmt.Sprintf("invalid pattern %s: %v", pattern, err)}
		}
		files := matches[:0]
		for _, match := range matches {
			if info, err := os.Stat(match); err == nil && info.Mode().IsRegular() {
				files = append(files, match)
			}
		}
		if len(files) != 1 {
			return nil, &MissingInputError{Subject: spec.Subject, Metric: kind, Suffix: suffix, Pattern: pattern, Matches: files}
		}
		info, err := os.Stat(files[0])
		if err != nil {
			return nil, &MissingInputError{Subject: spec.Subject, Metric: kind, Suffix: suffix, Pattern: pattern, Matches: files, Reason: err.Error()}
		}
		if info.Size() == 0 {
			return nil, &MissingInputError{Subject: spec.Subject, Metric: kind, Suffix: suffix, Pattern: pattern, Matches: files,
				Reason: fmt.Sprintf("source %s is empty", files[0])}
		}
		sources = append(sources, files[0])
	}
	return sources, nil
}

func protocolOrder(kinds []metric.Kind) []metric.Kind {
	selected := make(map[metric.Kind]bool, len(kinds))
	for _, k := range kinds {
		selected[k] = true
	}
	out := make([]metric.Kind, 0, len(selected))
	for _, k := range metric.All() {
		if selected[k] {
			out = append(out, k)
		}
	}
	return out
}
