package testsupport

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"tbssrun/internal/cohort"
	"tbssrun/internal/volume"
)

// SourceValues holds the constant voxel value written for each source suffix.
var SourceValues = map[string]float64{
	"FA": 0.5,
	"MD": 0.75,
	"L1": 1.25,
	"L2": 0.5,
	"L3": 0.25,
}

// SourcePattern is the file pattern used by generated subjects.
const SourcePattern = "{participant}_{suffix}.nii.gz"

// NewCohort builds a cohort of controls followed by patients whose raw
// tensor-fit outputs are written under srcRoot as small constant NIfTI
// volumes, one per source suffix.
func NewCohort(t testing.TB, srcRoot string, controls, patients int) *cohort.Cohort {
	t.Helper()

	specs := make([]cohort.SubjectSpec, 0, controls+patients)
	for i := 1; i <= controls; i++ {
		specs = append(specs, SubjectSpec(srcRoot, cohort.Control, "ControlProject1", fmt.Sprintf("C%02d", i)))
	}
	for i := 1; i <= patients; i++ {
		specs = append(specs, SubjectSpec(srcRoot, cohort.Patient, "", fmt.Sprintf("P%02d", i)))
	}
	for _, spec := range specs {
		WriteSources(t, spec)
	}
	c, err := cohort.New(specs...)
	if err != nil {
		t.Fatalf("cohort.New: %v", err)
	}
	return c
}

// SubjectSpec returns a spec whose sources live in srcRoot/<participant>/dtifit.
func SubjectSpec(srcRoot string, role cohort.Role, project, participant string) cohort.SubjectSpec {
	return cohort.SubjectSpec{
		Subject:   cohort.Subject{Role: role, ProjectID: project, ParticipantID: participant},
		SourceDir: filepath.Join(srcRoot, "{participant}", "dtifit"),
		Pattern:   SourcePattern,
	}
}

// WriteSources writes one constant volume per source suffix for spec.
func WriteSources(t testing.TB, spec cohort.SubjectSpec) {
	t.Helper()
	for suffix, value := range SourceValues {
		path := spec.Glob(suffix)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("mkdir sources: %v", err)
		}
		if err := volume.Write(path, volume.New(2, 2, 2, value)); err != nil {
			t.Fatalf("write source %s: %v", path, err)
		}
	}
}

// WriteCohortFile serializes c as a TOML cohort definition and returns its path.
func WriteCohortFile(t testing.TB, dir string, c *cohort.Cohort) string {
	t.Helper()

	var b strings.Builder
	for _, spec := range c.Subjects {
		section := "controls"
		if spec.Subject.Role == cohort.Patient {
			section = "patients"
		}
		fmt.Fprintf(&b, "[[%s]]\n", section)
		if spec.Subject.ProjectID != "" {
			fmt.Fprintf(&b, "project = %q\n", spec.Subject.ProjectID)
		}
		fmt.Fprintf(&b, "participant = %q\ndir = %q\npattern = %q\n\n", spec.Subject.ParticipantID, spec.SourceDir, spec.Pattern)
	}
	path := filepath.Join(dir, "cohort.toml")
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		t.Fatalf("write cohort file: %v", err)
	}
	return path
}
