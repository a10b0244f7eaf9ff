package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	Root     string `toml:"root"`
	LogDir   string `toml:"log_dir"`
	StateDir string `toml:"state_dir"`
}

// Cohort points at the cohort definition file.
type Cohort struct {
	File string `toml:"file"`
}

// Staging contains configuration for collecting subject volumes.
type Staging struct {
	Workers   int    `toml:"workers"`
	Extension string `toml:"extension"`
}

// Pipeline contains the TBSS protocol parameters.
type Pipeline struct {
	// Registration selects the nonlinear registration target: "T" uses the
	// FMRIB58_FA standard image, "n" picks the most representative subject,
	// anything else is treated as a path to a custom target image.
	Registration string `toml:"registration"`
	// SkeletonMode is "S" for a study-specific mean FA skeleton or "T" for the
	// FMRIB58_FA template skeleton.
	SkeletonMode      string   `toml:"skeleton_mode"`
	SkeletonThreshold float64  `toml:"skeleton_threshold"`
	Permutations      int      `toml:"permutations"`
	TFCE              bool     `toml:"tfce"`
	Alpha             float64  `toml:"alpha"`
	SecondaryMetrics  []string `toml:"secondary_metrics"`
}

// Toolkit names the external TBSS operations and their installation.
type Toolkit struct {
	FSLDir    string `toml:"fsldir"`
	Preproc   string `toml:"preproc"`
	Register  string `toml:"register"`
	PostReg   string `toml:"postreg"`
	PreStats  string `toml:"prestats"`
	NonFA     string `toml:"non_fa"`
	Randomise string `toml:"randomise"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for tbssrun.
//
// Configuration sections by subsystem:
//   - Paths: pipeline root, log and state directories
//   - Cohort: default cohort definition file
//   - Staging: worker pool size and staged file extension
//   - Pipeline: registration, skeleton and permutation-test parameters
//   - Toolkit: FSL installation and operation binaries
//   - Logging: log format and level
type Config struct {
	Paths    Paths    `toml:"paths"`
	Cohort   Cohort   `toml:"cohort"`
	Staging  Staging  `toml:"staging"`
	Pipeline Pipeline `toml:"pipeline"`
	Toolkit  Toolkit  `toml:"toolkit"`
	Logging  Logging  `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config %s: %w", resolvedPath, err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		info, err := os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return "", false, fmt.Errorf("config file %s does not exist", expanded)
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		if info.IsDir() {
			return "", false, fmt.Errorf("config path %s is a directory", expanded)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs(projectConfigName)
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}
	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the log and state directories. The pipeline root
// is not created here; the staging engine owns its layout.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.LogDir, c.Paths.StateDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// ToolPath resolves a toolkit binary. Bare names are looked up inside
// $FSLDIR/bin when an installation directory is configured and the binary
// exists there; otherwise the name is returned unchanged for PATH lookup.
func (c *Config) ToolPath(name string) string {
	name = strings.TrimSpace(name)
	if name == "" || strings.ContainsRune(name, os.PathSeparator) {
		return name
	}
	if dir := strings.TrimSpace(c.Toolkit.FSLDir); dir != "" {
		candidate := filepath.Join(dir, "bin", name)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate
		}
	}
	return name
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// Encode renders the configuration as TOML.
func (c *Config) Encode() ([]byte, error) {
	data, err := toml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return data, nil
}
