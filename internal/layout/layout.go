// Package layout owns the on-disk convention of a TBSS pipeline root.
//
// FA volumes live directly in the root, where the toolkit's preprocessing,
// registration and skeletonisation steps expect them; every other metric has
// a subdirectory named after it. All pipeline outputs land in stats/.
package layout

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gofrs/flock"

	"tbssrun/internal/cohort"
	"tbssrun/internal/metric"
)

const (
	statsDirName  = "stats"
	faDirName     = "FA"
	lockFileName  = ".tbssrun.lock"
	slicesdirName = "slicesdir"
)

// ErrLocked is returned when another process holds the root lock.
var ErrLocked = errors.New("pipeline root is locked by another tbssrun process")

// Layout resolves paths under a pipeline root.
type Layout struct {
	root string
	ext  string
}

// New returns a layout rooted at root using ext (e.g. ".nii.gz") for volumes.
func New(root, ext string) *Layout {
	if ext == "" {
		ext = ".nii.gz"
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return &Layout{root: filepath.Clean(root), ext: ext}
}

// Root returns the pipeline root.
func (l *Layout) Root() string { return l.root }

// Ext returns the volume file extension.
func (l *Layout) Ext() string { return l.ext }

// MetricDir returns the directory holding staged volumes for kind.
func (l *Layout) MetricDir(kind metric.Kind) string {
	if kind.Primary() {
		return l.root
	}
	return filepath.Join(l.root, kind.String())
}

// DestinationFor returns the canonical staged path for a subject's metric volume.
func (l *Layout) DestinationFor(kind metric.Kind, subject cohort.Subject) string {
	return filepath.Join(l.MetricDir(kind), subject.Key()+l.ext)
}

// EnsureMetricDir creates the destination directory for kind if needed.
func (l *Layout) EnsureMetricDir(kind metric.Kind) error {
	dir := l.MetricDir(kind)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s directory %s: %w", kind, dir, err)
	}
	return nil
}

// StatsDir returns the directory receiving pipeline outputs.
func (l *Layout) StatsDir() string { return filepath.Join(l.root, statsDirName) }

// StatsPath returns a path inside stats/.
func (l *Layout) StatsPath(name string) string { return filepath.Join(l.StatsDir(), name) }

// StatsImage returns the path of a stats/ image with the volume extension.
func (l *Layout) StatsImage(stem string) string { return l.StatsPath(stem + l.ext) }

// FADir returns the directory created by preprocessing.
func (l *Layout) FADir() string { return filepath.Join(l.root, faDirName) }

// SlicesdirIndex is the QA web page produced by preprocessing.
func (l *Layout) SlicesdirIndex() string {
	return filepath.Join(l.FADir(), slicesdirName, "index.html")
}

// ListStaged returns the staged volumes for kind in sorted order, which is
// the order the toolkit merges subjects in.
func (l *Layout) ListStaged(kind metric.Kind) ([]string, error) {
	return l.listVolumes(l.MetricDir(kind), "")
}

// ListPreprocessed returns the preprocessed FA volumes (FA/*_FA<ext>).
func (l *Layout) ListPreprocessed() ([]string, error) {
	return l.listVolumes(l.FADir(), "_FA")
}

func (l *Layout) listVolumes(dir, stemSuffix string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	var files []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, l.ext) {
			continue
		}
		if stemSuffix != "" && !strings.HasSuffix(strings.TrimSuffix(name, l.ext), stemSuffix) {
			continue
		}
		files = append(files, filepath.Join(dir, name))
	}
	sort.Strings(files)
	return files, nil
}

// RootLock is an exclusive advisory lock on a pipeline root.
type RootLock struct {
	lock *flock.Flock
}

// Lock acquires the root lock without blocking. ErrLocked is returned when
// another process already holds it.
func (l *Layout) Lock() (*RootLock, error) {
	if err := os.MkdirAll(l.root, 0o755); err != nil {
		return nil, fmt.Errorf("create pipeline root: %w", err)
	}
	fl := flock.New(filepath.Join(l.root, lockFileName))
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire root lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLocked, l.root)
	}
	return &RootLock{lock: fl}, nil
}

// Unlock releases the lock.
func (r *RootLock) Unlock() error {
	if r == nil || r.lock == nil {
		return nil
	}
	return r.lock.Unlock()
}
