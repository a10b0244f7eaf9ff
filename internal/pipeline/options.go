package pipeline

import (
	"strings"

	"tbssrun/internal/config"
	"tbssrun/internal/metric"
)

// Toolkit holds the resolved toolkit binaries.
type Toolkit struct {
	Preproc   string
	Register  string
	PostReg   string
	PreStats  string
	NonFA     string
	Randomise string
}

// Options parameterise the protocol.
type Options struct {
	RunID string
	// Registration is "T" (FMRIB58_FA), "n" (most representative subject)
	// or a path to a target image.
	Registration string
	// SkeletonMode is "S" (study mean FA) or "T" (template skeleton).
	SkeletonMode string
	Threshold    float64
	Permutations int
	TFCE         bool
	Alpha        float64
	Secondary    []metric.Kind
	Toolkit      Toolkit
}

// OptionsFromConfig builds options from a loaded configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	tk := cfg.Toolkit
	return Options{
		Registration: cfg.Pipeline.Registration,
		SkeletonMode: cfg.Pipeline.SkeletonMode,
		Threshold:    cfg.Pipeline.SkeletonThreshold,
		Permutations: cfg.Pipeline.Permutations,
		TFCE:         cfg.Pipeline.TFCE,
		Alpha:        cfg.Pipeline.Alpha,
		Secondary:    cfg.SecondaryKinds(),
		Toolkit: Toolkit{
			Preproc:   cfg.ToolPath(tk.Preproc),
			Register:  cfg.ToolPath(tk.Register),
			PostReg:   cfg.ToolPath(tk.PostReg),
			PreStats:  cfg.ToolPath(tk.PreStats),
			NonFA:     cfg.ToolPath(tk.NonFA),
			Randomise: cfg.ToolPath(tk.Randomise),
		},
	}
}

// Metrics returns FA followed by the selected secondary metrics in protocol
// order.
func (o Options) Metrics() []metric.Kind {
	selected := make(map[metric.Kind]bool, len(o.Secondary))
	for _, k := range o.Secondary {
		selected[k] = true
	}
	out := []metric.Kind{metric.FA}
	for _, k := range metric.Secondary() {
		if selected[k] {
			out = append(out, k)
		}
	}
	return out
}

func (o Options) registrationArgs() []string {
	switch target := strings.TrimSpace(o.Registration); target {
	case "", "T":
		return []string{"-T"}
	case "n":
		return []string{"-n"}
	default:
		return []string{"-t", target}
	}
}

func (o Options) skeletonArgs() []string {
	if strings.EqualFold(strings.TrimSpace(o.SkeletonMode), "T") {
		return []string{"-T"}
	}
	return []string{"-S"}
}
