package testsupport

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"tbssrun/internal/volume"
)

// ToolCall is one command the fake toolkit received.
type ToolCall struct {
	Dir    string
	Binary string
	Args   []string
}

// FakeToolkit stands in for the TBSS scripts and randomise. Each command
// writes the files the real tool would leave in the pipeline root, as small
// constant volumes.
type FakeToolkit struct {
	// Ext is the volume extension written (default .nii.gz).
	Ext string
	// Fail makes the named tool (base name) exit with the given error.
	Fail map[string]error
	// Before runs ahead of the named tool, e.g. to corrupt the root.
	Before map[string]func(dir string, args []string)
	// SkipOutputs makes the named tool succeed without writing anything.
	SkipOutputs map[string]bool

	mu    sync.Mutex
	calls []ToolCall
}

// Calls returns the commands received so far.
func (f *FakeToolkit) Calls() []ToolCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ToolCall(nil), f.calls...)
}

// Tools returns the base names of the binaries invoked, in order.
func (f *FakeToolkit) Tools() []string {
	calls := f.Calls()
	names := make([]string, len(calls))
	for i, c := range calls {
		names[i] = c.Binary
	}
	return names
}

// Run implements stage.Executor.
func (f *FakeToolkit) Run(ctx context.Context, dir, binary string, args []string, onLine func(string)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	name := filepath.Base(binary)
	f.mu.Lock()
	f.calls = append(f.calls, ToolCall{Dir: dir, Binary: name, Args: append([]string(nil), args...)})
	f.mu.Unlock()

	if hook := f.Before[name]; hook != nil {
		hook(dir, args)
	}
	if err := f.Fail[name]; err != nil {
		return err
	}
	if onLine != nil {
		onLine(fmt.Sprintf("%s %s", name, strings.Join(args, " ")))
	}
	if f.SkipOutputs[name] {
		return nil
	}

	switch name {
	case "tbss_1_preproc":
		return f.preproc(dir, args)
	case "tbss_2_reg":
		return f.register(dir)
	case "tbss_3_postreg":
		return f.images(dir, "all_FA", "mean_FA", "mean_FA_skeleton")
	case "tbss_4_prestats":
		return f.images(dir, "all_FA_skeletonised", "mean_FA_skeleton_mask", "mean_FA_skeleton_mask_dst")
	case "tbss_non_FA":
		if len(args) != 1 {
			return fmt.Errorf("tbss_non_FA: expected one metric argument, got %v", args)
		}
		return f.images(dir, "all_"+args[0]+"_skeletonised")
	case "randomise":
		return f.randomise(dir, args)
	default:
		return fmt.Errorf("fake toolkit: unknown tool %q", name)
	}
}

func (f *FakeToolkit) ext() string {
	if f.Ext == "" {
		return ".nii.gz"
	}
	return f.Ext
}

func (f *FakeToolkit) preproc(dir string, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("tbss_1_preproc: no input images")
	}
	faDir := filepath.Join(dir, "FA")
	origDir := filepath.Join(dir, "origdata")
	for _, d := range []string{filepath.Join(faDir, "slicesdir"), origDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return err
		}
	}
	for _, arg := range args {
		src := filepath.Join(dir, arg)
		stem := strings.TrimSuffix(arg, f.ext())
		if err := writeVolume(filepath.Join(faDir, stem+"_FA"+f.ext()), 0.5); err != nil {
			return err
		}
		if err := writeVolume(filepath.Join(faDir, stem+"_FA_mask"+f.ext()), 1); err != nil {
			return err
		}
		if err := os.Rename(src, filepath.Join(origDir, arg)); err != nil {
			return fmt.Errorf("tbss_1_preproc: %w", err)
		}
	}
	return os.WriteFile(filepath.Join(faDir, "slicesdir", "index.html"), []byte("<html>slicesdir</html>\n"), 0o644)
}

func (f *FakeToolkit) register(dir string) error {
	matches, err := filepath.Glob(filepath.Join(dir, "FA", "*_FA"+f.ext()))
	if err != nil {
		return err
	}
	if len(matches) == 0 {
		return fmt.Errorf("tbss_2_reg: no preprocessed FA images")
	}
	for _, m := range matches {
		stem := strings.TrimSuffix(filepath.Base(m), f.ext())
		if err := writeVolume(filepath.Join(dir, "FA", stem+"_to_target_warp"+f.ext()), 0); err != nil {
			return err
		}
	}
	return nil
}

func (f *FakeToolkit) images(dir string, stems ...string) error {
	statsDir := filepath.Join(dir, "stats")
	if err := os.MkdirAll(statsDir, 0o755); err != nil {
		return err
	}
	for _, stem := range stems {
		if err := writeVolume(filepath.Join(statsDir, stem+f.ext()), 0.3); err != nil {
			return err
		}
	}
	return nil
}

func (f *FakeToolkit) randomise(dir string, args []string) error {
	var prefix string
	tfce, voxel := false, false
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-o":
			if i+1 < len(args) {
				prefix = args[i+1]
				i++
			}
		case "--T2":
			tfce = true
		case "-x":
			voxel = true
		}
	}
	if prefix == "" {
		return fmt.Errorf("randomise: missing -o")
	}
	if !filepath.IsAbs(prefix) {
		prefix = filepath.Join(dir, prefix)
	}
	suffixes := []string{"_tstat1", "_tstat2"}
	if tfce {
		suffixes = append(suffixes, "_tfce_corrp_tstat1", "_tfce_corrp_tstat2")
	}
	if voxel {
		suffixes = append(suffixes, "_vox_corrp_tstat1", "_vox_corrp_tstat2")
	}
	for _, s := range suffixes {
		if err := writeVolume(prefix+s+f.ext(), 0.9); err != nil {
			return err
		}
	}
	return nil
}

func writeVolume(path string, value float64) error {
	return volume.Write(path, volume.New(2, 2, 2, value))
}
