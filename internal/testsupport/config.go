package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"tbssrun/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.Root = filepath.Join(base, "tbss")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Staging.Workers = 3

	builder := &configBuilder{t: t, baseDir: base, cfg: &cfgVal}
	for _, opt := range opts {
		opt(builder)
	}
	return builder.cfg
}

// WithPermutations overrides the requested permutation count.
func WithPermutations(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Pipeline.Permutations = n
	}
}

// WithSecondaryMetrics overrides the secondary metric selection.
func WithSecondaryMetrics(names ...string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Pipeline.SecondaryMetrics = names
	}
}

// WithStubbedBinaries writes stub executables for the provided names into
// $FSLDIR/bin of the test config. If names is empty, every configured
// toolkit binary is stubbed.
func WithStubbedBinaries(names ...string) ConfigOption {
	return func(b *configBuilder) {
		tk := b.cfg.Toolkit
		if len(names) == 0 {
			names = []string{tk.Preproc, tk.Register, tk.PostReg, tk.PreStats, tk.NonFA, tk.Randomise}
		}
		fslDir := filepath.Join(b.baseDir, "fsl")
		binDir := filepath.Join(fslDir, "bin")
		if err := os.MkdirAll(binDir, 0o755); err != nil {
			b.t.Fatalf("mkdir bin dir: %v", err)
		}
		script := []byte("#!/bin/sh\nexit 0\n")
		for _, name := range names {
			if err := os.WriteFile(filepath.Join(binDir, name), script, 0o755); err != nil {
				b.t.Fatalf("write stub %s: %v", name, err)
			}
		}
		b.cfg.Toolkit.FSLDir = fslDir
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.Root)
}
