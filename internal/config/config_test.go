package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"tbssrun/internal/config"
	"tbssrun/internal/metric"
)

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("FSLDIR", "/opt/fsl")
	t.Chdir(t.TempDir())

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantLogs := filepath.Join(tempHome, ".local", "share", "tbssrun", "logs")
	if cfg.Paths.LogDir != wantLogs {
		t.Fatalf("unexpected log dir: got %q want %q", cfg.Paths.LogDir, wantLogs)
	}
	if !filepath.IsAbs(cfg.Paths.Root) {
		t.Fatalf("expected absolute root, got %q", cfg.Paths.Root)
	}
	if cfg.Toolkit.FSLDir != "/opt/fsl" {
		t.Fatalf("expected FSLDIR fallback, got %q", cfg.Toolkit.FSLDir)
	}
	if cfg.Pipeline.Permutations != 500 {
		t.Fatalf("unexpected permutations default: %d", cfg.Pipeline.Permutations)
	}
	if cfg.Pipeline.SkeletonThreshold != 0.2 {
		t.Fatalf("unexpected skeleton threshold default: %v", cfg.Pipeline.SkeletonThreshold)
	}
	if !cfg.Pipeline.TFCE {
		t.Fatal("expected TFCE enabled by default")
	}

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}
	for _, dir := range []string{cfg.Paths.LogDir, cfg.Paths.StateDir} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("expected directory %q to exist: %v", dir, err)
		}
		if !info.IsDir() {
			t.Fatalf("expected %q to be directory", dir)
		}
	}
}

func TestLoadCustomPath(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "tbssrun.toml")

	type payload struct {
		Paths struct {
			Root string `toml:"root"`
		} `toml:"paths"`
		Pipeline struct {
			Permutations     int      `toml:"permutations"`
			SkeletonMode     string   `toml:"skeleton_mode"`
			SecondaryMetrics []string `toml:"secondary_metrics"`
		} `toml:"pipeline"`
	}
	custom := payload{}
	custom.Paths.Root = filepath.Join(tempDir, "tbss")
	custom.Pipeline.Permutations = 5000
	custom.Pipeline.SkeletonMode = "t"
	custom.Pipeline.SecondaryMetrics = []string{"rd", "md"}
	data, err := toml.Marshal(custom)
	if err != nil {
		t.Fatalf("marshal custom config: %v", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatalf("write custom config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists {
		t.Fatal("expected exists to be true")
	}
	if resolved != configPath {
		t.Fatalf("unexpected resolved path: got %q want %q", resolved, configPath)
	}
	if cfg.Paths.Root != filepath.Join(tempDir, "tbss") {
		t.Fatalf("unexpected root: %q", cfg.Paths.Root)
	}
	if cfg.Pipeline.Permutations != 5000 {
		t.Fatalf("expected permutations 5000, got %d", cfg.Pipeline.Permutations)
	}
	if cfg.Pipeline.SkeletonMode != "T" {
		t.Fatalf("expected skeleton mode normalized to T, got %q", cfg.Pipeline.SkeletonMode)
	}
	kinds := cfg.SecondaryKinds()
	if len(kinds) != 2 || kinds[0] != metric.MD || kinds[1] != metric.RD {
		t.Fatalf("expected secondary metrics in protocol order, got %v", kinds)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "tbssrun.toml")
	if err := os.WriteFile(configPath, []byte("[pipeline]\npermutatons = 10\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, _, _, err := config.Load(configPath); err == nil {
		t.Fatal("expected error for misspelled key")
	}
}

func TestLoadMissingExplicitPath(t *testing.T) {
	if _, _, _, err := config.Load(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Fatal("expected error for missing explicit config path")
	}
}

func TestCreateSample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample failed: %v", err)
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	if !strings.Contains(string(contents), "tbss_4_prestats") {
		t.Fatalf("sample config missing toolkit section: %s", contents)
	}

	var cfg config.Config
	if err := toml.Unmarshal(contents, &cfg); err != nil {
		t.Fatalf("unmarshal sample: %v", err)
	}
	if cfg.Pipeline.Registration != "T" {
		t.Fatalf("expected sample registration T, got %q", cfg.Pipeline.Registration)
	}
}

func TestValidateDetectsInvalidValues(t *testing.T) {
	cases := map[string]func(*config.Config){
		"workers":        func(c *config.Config) { c.Staging.Workers = 0 },
		"threshold":      func(c *config.Config) { c.Pipeline.SkeletonThreshold = 1.2 },
		"permutations":   func(c *config.Config) { c.Pipeline.Permutations = 0 },
		"alpha":          func(c *config.Config) { c.Pipeline.Alpha = 0 },
		"skeleton mode":  func(c *config.Config) { c.Pipeline.SkeletonMode = "X" },
		"primary metric": func(c *config.Config) { c.Pipeline.SecondaryMetrics = []string{"FA"} },
		"duplicate":      func(c *config.Config) { c.Pipeline.SecondaryMetrics = []string{"MD", "MD"} },
		"unknown metric": func(c *config.Config) { c.Pipeline.SecondaryMetrics = []string{"ODI"} },
		"randomise":      func(c *config.Config) { c.Toolkit.Randomise = " " },
		"log format":     func(c *config.Config) { c.Logging.Format = "xml" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := config.Default()
			mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error for %s", name)
			}
		})
	}

	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected defaults to validate, got %v", err)
	}
}

func TestToolPathPrefersFSLDir(t *testing.T) {
	fsldir := t.TempDir()
	binDir := filepath.Join(fsldir, "bin")
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(binDir, "randomise"), []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}

	cfg := config.Default()
	cfg.Toolkit.FSLDir = fsldir
	if got := cfg.ToolPath("randomise"); got != filepath.Join(binDir, "randomise") {
		t.Fatalf("expected FSLDIR binary, got %q", got)
	}
	if got := cfg.ToolPath("tbss_2_reg"); got != "tbss_2_reg" {
		t.Fatalf("expected bare name fallback, got %q", got)
	}
}
