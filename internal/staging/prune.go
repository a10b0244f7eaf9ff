package staging

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"tbssrun/internal/cohort"
	"tbssrun/internal/layout"
	"tbssrun/internal/logging"
	"tbssrun/internal/metric"
)

// PruneResult contains the outcome of a prune pass.
type PruneResult struct {
	Removed []string
	Errors  []PruneError
}

// PruneError pairs a path with its removal error.
type PruneError struct {
	Path  string
	Error error
}

// Prune removes staged volumes that belong to no subject of the cohort, plus
// temporary files left behind by interrupted copies. Only files named like a
// staged subject volume are considered; anything else in the metric
// directory is left alone.
func Prune(l *layout.Layout, c *cohort.Cohort, kinds []metric.Kind, logger *slog.Logger) PruneResult {
	result := PruneResult{}
	active := make(map[string]struct{}, c.Len())
	for _, key := range c.Keys() {
		active[key+l.Ext()] = struct{}{}
	}

	for _, kind := range protocolOrder(kinds) {
		dir := l.MetricDir(kind)
		entries, err := os.ReadDir(dir)
		if err != nil {
			if !os.IsNotExist(err) {
				result.Errors = append(result.Errors, PruneError{Path: dir, Error: err})
			}
			continue
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			name := entry.Name()
			stale := strings.HasPrefix(name, ".") && strings.HasSuffix(name, ".tmp")
			if !stale {
				if _, ok := cohort.RoleOf(name); !ok || !strings.HasSuffix(name, l.Ext()) {
					continue
				}
				if _, ok := active[name]; ok {
					continue
				}
			}

			path := filepath.Join(dir, name)
			if err := os.Remove(path); err != nil {
				result.Errors = append(result.Errors, PruneError{Path: path, Error: err})
				if logger != nil {
					logger.Warn("failed to remove orphaned staged volume",
						logging.String("path", path),
						logging.Error(err),
						logging.String(logging.FieldEventType, "staging_prune_failed"),
						logging.String(logging.FieldErrorHint, "check pipeline root permissions"),
						logging.String(logging.FieldImpact, "orphaned volume will be merged into the next run"),
					)
				}
				continue
			}
			result.Removed = append(result.Removed, path)
			if logger != nil {
				logger.Info("removed orphaned staged volume",
					logging.String("path", path),
					logging.String(logging.FieldMetric, kind.String()),
					logging.String(logging.FieldEventType, "staging_prune"),
				)
			}
		}
	}
	sort.Strings(result.Removed)
	return result
}

// FileInfo describes one staged volume for listings.
type FileInfo struct {
	Name    string
	Path    string
	Size    int64
	ModTime time.Time
}

// Listing returns the staged volumes of kind in merge order.
func Listing(l *layout.Layout, kind metric.Kind) ([]FileInfo, error) {
	paths, err := l.ListStaged(kind)
	if err != nil {
		return nil, err
	}
	out := make([]FileInfo, 0, len(paths))
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", path, err)
		}
		out = append(out, FileInfo{
			Name:    filepath.Base(path),
			Path:    path,
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	return out, nil
}

// VerifyStaged checks that each metric directory holds exactly one volume per
// cohort subject, nothing else named like a subject volume, and that the
// listing keeps controls ahead of patients.
func VerifyStaged(l *layout.Layout, c *cohort.Cohort, kinds []metric.Kind) error {
	for _, kind := range protocolOrder(kinds) {
		paths, err := l.ListStaged(kind)
		if err != nil {
			return err
		}
		present := make(map[string]bool, len(paths))
		names := make([]string, 0, len(paths))
		for _, p := range paths {
			name := filepath.Base(p)
			names = append(names, name)
			present[name] = true
		}
		expected := make(map[string]bool, c.Len())
		var missing, unexpected []string
		for _, key := range c.Keys() {
			name := key + l.Ext()
			expected[name] = true
			if !present[name] {
				missing = append(missing, name)
			}
		}
		for _, name := range names {
			if _, ok := cohort.RoleOf(name); ok && !expected[name] {
				unexpected = append(unexpected, name)
			}
		}
		if len(missing) > 0 || len(unexpected) > 0 {
			sort.Strings(missing)
			return &IncompleteError{Metric: kind, Dir: l.MetricDir(kind), Missing: missing, Unexpected: unexpected}
		}
		if err := cohort.VerifyListing(kind.String()+" directory", names); err != nil {
			return err
		}
	}
	return nil
}
