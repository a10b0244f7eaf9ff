package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeStaging()
	c.normalizePipeline()
	if err := c.normalizeToolkit(); err != nil {
		return err
	}
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.Root) == "" {
		c.Paths.Root = defaultRoot
	}
	if c.Paths.Root, err = expandPath(c.Paths.Root); err != nil {
		return fmt.Errorf("paths.root: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if strings.TrimSpace(c.Cohort.File) != "" {
		if c.Cohort.File, err = expandPath(c.Cohort.File); err != nil {
			return fmt.Errorf("cohort.file: %w", err)
		}
	}
	return nil
}

func (c *Config) normalizeStaging() {
	ext := strings.TrimSpace(c.Staging.Extension)
	if ext == "" {
		ext = defaultStagingExtension
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	c.Staging.Extension = ext
}

func (c *Config) normalizePipeline() {
	c.Pipeline.Registration = strings.TrimSpace(c.Pipeline.Registration)
	c.Pipeline.SkeletonMode = strings.ToUpper(strings.TrimSpace(c.Pipeline.SkeletonMode))
	metrics := make([]string, 0, len(c.Pipeline.SecondaryMetrics))
	for _, m := range c.Pipeline.SecondaryMetrics {
		if m = strings.ToUpper(strings.TrimSpace(m)); m != "" {
			metrics = append(metrics, m)
		}
	}
	c.Pipeline.SecondaryMetrics = metrics
}

func (c *Config) normalizeToolkit() error {
	if strings.TrimSpace(c.Toolkit.FSLDir) == "" {
		c.Toolkit.FSLDir = strings.TrimSpace(os.Getenv("FSLDIR"))
	}
	if c.Toolkit.FSLDir == "" {
		return nil
	}
	var err error
	if c.Toolkit.FSLDir, err = expandPath(c.Toolkit.FSLDir); err != nil {
		return fmt.Errorf("toolkit.fsldir: %w", err)
	}
	return nil
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
