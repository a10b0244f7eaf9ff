package config

import (
	"errors"
	"fmt"
	"strings"

	"tbssrun/internal/metric"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateStaging(); err != nil {
		return err
	}
	if err := c.validatePipeline(); err != nil {
		return err
	}
	if err := c.validateToolkit(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateStaging() error {
	if c.Staging.Workers <= 0 {
		return errors.New("staging.workers must be positive")
	}
	if strings.ContainsAny(c.Staging.Extension, `/\`) {
		return fmt.Errorf("staging.extension %q must not contain path separators", c.Staging.Extension)
	}
	return nil
}

func (c *Config) validatePipeline() error {
	p := c.Pipeline
	if p.Registration == "" {
		return errors.New("pipeline.registration must be \"T\", \"n\", or a target image path")
	}
	switch p.SkeletonMode {
	case "S", "T":
	default:
		return fmt.Errorf("pipeline.skeleton_mode must be \"S\" or \"T\", got %q", p.SkeletonMode)
	}
	if p.SkeletonThreshold <= 0 || p.SkeletonThreshold >= 1 {
		return errors.New("pipeline.skeleton_threshold must be between 0 and 1 (exclusive)")
	}
	if p.Permutations <= 0 {
		return errors.New("pipeline.permutations must be positive")
	}
	if p.Alpha <= 0 || p.Alpha >= 1 {
		return errors.New("pipeline.alpha must be between 0 and 1 (exclusive)")
	}
	seen := make(map[metric.Kind]struct{}, len(p.SecondaryMetrics))
	for _, name := range p.SecondaryMetrics {
		kind, err := metric.Parse(name)
		if err != nil {
			return fmt.Errorf("pipeline.secondary_metrics: %w", err)
		}
		if kind.Primary() {
			return fmt.Errorf("pipeline.secondary_metrics: %s is the primary metric and always runs", kind)
		}
		if _, dup := seen[kind]; dup {
			return fmt.Errorf("pipeline.secondary_metrics: %s listed twice", kind)
		}
		seen[kind] = struct{}{}
	}
	return nil
}

func (c *Config) validateToolkit() error {
	for key, value := range map[string]string{
		"toolkit.preproc":   c.Toolkit.Preproc,
		"toolkit.register":  c.Toolkit.Register,
		"toolkit.postreg":   c.Toolkit.PostReg,
		"toolkit.prestats":  c.Toolkit.PreStats,
		"toolkit.non_fa":    c.Toolkit.NonFA,
		"toolkit.randomise": c.Toolkit.Randomise,
	} {
		if strings.TrimSpace(value) == "" {
			return fmt.Errorf("%s must be set", key)
		}
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be \"console\" or \"json\", got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error, got %q", c.Logging.Level)
	}
	if c.Logging.RetentionDays < 0 {
		return errors.New("logging.retention_days must be zero (keep forever) or positive")
	}
	return nil
}

// SecondaryKinds returns the configured secondary metrics in protocol order.
func (c *Config) SecondaryKinds() []metric.Kind {
	selected := make(map[metric.Kind]bool, len(c.Pipeline.SecondaryMetrics))
	for _, name := range c.Pipeline.SecondaryMetrics {
		if kind, err := metric.Parse(name); err == nil {
			selected[kind] = true
		}
	}
	kinds := make([]metric.Kind, 0, len(selected))
	for _, kind := range metric.Secondary() {
		if selected[kind] {
			kinds = append(kinds, kind)
		}
	}
	return kinds
}
