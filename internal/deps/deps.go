// Package deps checks that the external toolkit binaries and installation
// the pipeline shells out to are present.
package deps

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Requirement defines an external dependency tbssrun relies on.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// Status reports the availability of a dependency.
type Status struct {
	Name        string
	Command     string
	Description string
	Optional    bool
	Available   bool
	Detail      string
}

// CheckBinaries evaluates the provided requirements and reports availability.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		cmd := strings.TrimSpace(req.Command)
		status := Status{
			Name:        req.Name,
			Command:     cmd,
			Description: strings.TrimSpace(req.Description),
			Optional:    req.Optional,
		}
		if cmd == "" {
			status.Detail = "command not configured"
			results = append(results, status)
			continue
		}
		resolved, err := exec.LookPath(cmd)
		if err != nil {
			status.Detail = fmt.Sprintf("binary %q not found", cmd)
			results = append(results, status)
			continue
		}
		status.Available = true
		status.Command = resolved
		results = append(results, status)
	}
	return results
}

// fslVersionFile is where an FSL installation records its release.
const fslVersionFile = "etc/fslversion"

// StandardTemplate is the registration target and template skeleton source
// shipped with FSL.
const StandardTemplate = "data/standard/FMRIB58_FA_1mm.nii.gz"

// CheckFSLDir verifies an FSL installation directory and reports its version.
func CheckFSLDir(dir string) Status {
	status := Status{
		Name:        "FSL",
		Command:     strings.TrimSpace(dir),
		Description: "Toolkit installation ($FSLDIR)",
	}
	if status.Command == "" {
		status.Detail = "FSLDIR not set; toolkit binaries must be on PATH"
		status.Optional = true
		return status
	}
	info, err := os.Stat(status.Command)
	if err != nil || !info.IsDir() {
		status.Detail = fmt.Sprintf("%s is not a directory", status.Command)
		return status
	}
	status.Available = true
	if data, err := os.ReadFile(filepath.Join(status.Command, fslVersionFile)); err == nil {
		if version := strings.TrimSpace(strings.SplitN(string(data), ":", 2)[0]); version != "" {
			status.Detail = "version " + version
		}
	}
	return status
}

// CheckStandardTemplate verifies the FMRIB58_FA template exists inside dir.
func CheckStandardTemplate(dir string) Status {
	path := filepath.Join(strings.TrimSpace(dir), StandardTemplate)
	status := Status{
		Name:        "FMRIB58_FA template",
		Command:     path,
		Description: "Standard-space target for -T registration and template skeletons",
	}
	if strings.TrimSpace(dir) == "" {
		status.Optional = true
		status.Detail = "FSLDIR not set; cannot locate template"
		return status
	}
	if info, err := os.Stat(path); err != nil || info.IsDir() {
		status.Detail = fmt.Sprintf("%s not found", path)
		return status
	}
	status.Available = true
	return status
}
