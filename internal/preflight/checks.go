package preflight

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"

	"tbssrun/internal/cohort"
	"tbssrun/internal/config"
	"tbssrun/internal/deps"
	"tbssrun/internal/design"
)

// CheckDirectoryAccess verifies path is an existing directory the process
// can read, write and traverse.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckWritableRoot accepts a directory that exists with full access, or one
// that does not exist yet but whose nearest existing ancestor is writable.
func CheckWritableRoot(name, path string) Result {
	path = strings.TrimSpace(path)
	if path == "" {
		return Result{Name: name, Detail: "not configured"}
	}
	if _, err := os.Stat(path); err == nil {
		return CheckDirectoryAccess(name, path)
	}
	ancestor := filepath.Dir(path)
	for {
		if info, err := os.Stat(ancestor); err == nil {
			if !info.IsDir() {
				return Result{Name: name, Detail: fmt.Sprintf("%s (error: %s is not a directory)", path, ancestor)}
			}
			break
		}
		parent := filepath.Dir(ancestor)
		if parent == ancestor {
			break
		}
		ancestor = parent
	}
	if err := unix.Access(ancestor, unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: cannot create under %s: %v)", path, ancestor, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (will be created)", path)}
}

// CheckSystemDeps evaluates the toolkit installation and binaries.
func CheckSystemDeps(cfg *config.Config) []deps.Status {
	tk := cfg.Toolkit
	requirements := []deps.Requirement{
		{Name: "Preprocess", Command: cfg.ToolPath(tk.Preproc), Description: "Erodes and aligns FA images"},
		{Name: "Register", Command: cfg.ToolPath(tk.Register), Description: "Nonlinear registration"},
		{Name: "Post-registration", Command: cfg.ToolPath(tk.PostReg), Description: "Mean FA and skeleton"},
		{Name: "Pre-stats", Command: cfg.ToolPath(tk.PreStats), Description: "Skeleton projection"},
		{Name: "Non-FA projection", Command: cfg.ToolPath(tk.NonFA), Description: "Projects MD/AD/RD onto the FA skeleton"},
		{Name: "Randomise", Command: cfg.ToolPath(tk.Randomise), Description: "Permutation testing"},
	}
	statuses := []deps.Status{deps.CheckFSLDir(tk.FSLDir)}
	return append(statuses, deps.CheckBinaries(requirements)...)
}

// CheckToolkit converts CheckSystemDeps into preflight results.
func CheckToolkit(cfg *config.Config) []Result {
	statuses := CheckSystemDeps(cfg)
	results := make([]Result, 0, len(statuses))
	for _, st := range statuses {
		detail := st.Detail
		if st.Available && detail == "" {
			detail = st.Command
		}
		results = append(results, Result{Name: st.Name, Passed: st.Available, Optional: st.Optional, Detail: detail})
	}
	return results
}

// CheckRegistrationTarget verifies the image the register stage aligns to.
func CheckRegistrationTarget(cfg *config.Config) Result {
	const name = "Registration target"
	switch target := strings.TrimSpace(cfg.Pipeline.Registration); target {
	case "T":
		st := deps.CheckStandardTemplate(cfg.Toolkit.FSLDir)
		return Result{Name: name, Passed: st.Available, Optional: st.Optional, Detail: firstNonEmpty(st.Detail, st.Command)}
	case "n":
		return Result{Name: name, Passed: true, Detail: "most representative subject"}
	default:
		if info, err := os.Stat(target); err != nil || info.IsDir() {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: target image not found)", target)}
		}
		return Result{Name: name, Passed: true, Detail: target}
	}
}

// CheckCohort loads a cohort definition and confirms it can produce a
// meaningful comparison.
func CheckCohort(_ context.Context, path string, alpha float64) Result {
	const name = "Cohort"
	c, err := cohort.Load(path)
	if err != nil {
		return Result{Name: name, Detail: err.Error()}
	}
	controls, patients := c.Counts()
	if err := c.VerifyOrdering(); err != nil {
		return Result{Name: name, Detail: err.Error()}
	}
	if err := design.Resolvable(controls, patients, alpha); err != nil {
		return Result{Name: name, Detail: err.Error()}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (%d controls, %d patients)", path, controls, patients)}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
