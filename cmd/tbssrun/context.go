package main

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"tbssrun/internal/cohort"
	"tbssrun/internal/config"
	"tbssrun/internal/failure"
	"tbssrun/internal/layout"
	"tbssrun/internal/logging"
)

type commandContext struct {
	configFlag *string
	rootFlag   *string

	configOnce sync.Once
	config     *config.Config
	configPath string
	configErr  error

	loggerOnce sync.Once
	logger     *slog.Logger
	loggerErr  error
}

func newCommandContext(configFlag, rootFlag *string) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		rootFlag:   rootFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, resolved, _, err := config.Load(path)
		if err != nil {
			c.configErr = &configError{err: err}
			return
		}
		if c.rootFlag != nil && strings.TrimSpace(*c.rootFlag) != "" {
			root, err := config.ExpandPath(strings.TrimSpace(*c.rootFlag))
			if err != nil {
				c.configErr = &configError{err: err}
				return
			}
			cfg.Paths.Root = root
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = &configError{err: err}
			return
		}
		c.config = cfg
		c.configPath = resolved
	})
	return c.config, c.configErr
}

func (c *commandContext) configValue() *config.Config {
	cfg, _ := c.ensureConfig()
	return cfg
}

// ensureLogger builds the process logger once. Console output goes to stderr
// so command output on stdout stays machine-readable.
func (c *commandContext) ensureLogger() (*slog.Logger, error) {
	c.loggerOnce.Do(func() {
		cfg, err := c.ensureConfig()
		if err != nil {
			c.loggerErr = err
			return
		}
		logger, err := logging.NewFromConfig(cfg)
		if err != nil {
			c.loggerErr = &configError{err: fmt.Errorf("init logger: %w", err)}
			return
		}
		c.logger = logger
	})
	return c.logger, c.loggerErr
}

func (c *commandContext) layout() *layout.Layout {
	cfg := c.configValue()
	return layout.New(cfg.Paths.Root, cfg.Staging.Extension)
}

// loadCohort reads the cohort named by flagValue, falling back to the
// configured cohort file.
func (c *commandContext) loadCohort(flagValue string) (*cohort.Cohort, string, error) {
	path := strings.TrimSpace(flagValue)
	if path == "" {
		path = strings.TrimSpace(c.configValue().Cohort.File)
	}
	if path == "" {
		return nil, "", &configError{err: fmt.Errorf("no cohort file: pass --cohort or set cohort.file")}
	}
	expanded, err := config.ExpandPath(path)
	if err != nil {
		return nil, "", err
	}
	co, err := cohort.Load(expanded)
	if err != nil {
		return nil, "", err
	}
	return co, expanded, nil
}

// configError marks configuration problems so they exit with the generic
// status but a stable error kind.
type configError struct {
	err error
}

func (e *configError) Error() string     { return e.err.Error() }
func (e *configError) Unwrap() error     { return e.err }
func (e *configError) ErrorKind() string { return failure.KindConfig }

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
