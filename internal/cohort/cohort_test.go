package cohort_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"tbssrun/internal/cohort"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestSubjectKey(t *testing.T) {
	cases := []struct {
		subject cohort.Subject
		want    string
	}{
		{cohort.Subject{Role: cohort.Control, ProjectID: "ControlProject1", ParticipantID: "Participant1"}, "CON_ControlProject1_Participant1"},
		{cohort.Subject{Role: cohort.Patient, ParticipantID: "PatientID"}, "PAT_PatientID"},
		{cohort.Subject{Role: cohort.Patient, ProjectID: "Clinic", ParticipantID: "P01"}, "PAT_Clinic_P01"},
	}
	for _, tc := range cases {
		if got := tc.subject.Key(); got != tc.want {
			t.Errorf("Key() = %q, want %q", got, tc.want)
		}
	}
}

func TestSubjectSpecGlobExpandsPlaceholders(t *testing.T) {
	spec := cohort.SubjectSpec{
		Subject:   cohort.Subject{Role: cohort.Control, ProjectID: "Proj", ParticipantID: "P7"},
		SourceDir: "/data/{project}/{participant}/dtifit",
		Pattern:   "CON_*{suffix}.nii.gz",
	}
	want := "/data/Proj/P7/dtifit/CON_*L2.nii.gz"
	if got := spec.Glob("L2"); got != want {
		t.Fatalf("Glob = %q, want %q", got, want)
	}
}

func TestLoadTOMLResolvesRelativeDirs(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "cohort.toml", `
[source]
control_dir = "/data/controls/{project}/{participant}/bias_corr/dtifit"
control_pattern = "CON_*{suffix}.nii.gz"
patient_dir = "../dtifit"
patient_pattern = "{participant}*{suffix}.nii.gz"

[[controls]]
project = "ControlProject1"
participant = "Participant1"

[[controls]]
project = "ControlProject1"
participant = "Participant2"
pattern = "special_{suffix}.nii.gz"

[[patients]]
participant = "PatientID"
`)

	c, err := cohort.Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if diff := cmp.Diff([]string{
		"CON_ControlProject1_Participant1",
		"CON_ControlProject1_Participant2",
		"PAT_PatientID",
	}, c.Keys()); diff != "" {
		t.Fatalf("keys mismatch (-want +got):\n%s", diff)
	}
	controls, patients := c.Counts()
	if controls != 2 || patients != 1 {
		t.Fatalf("Counts = %d,%d; want 2,1", controls, patients)
	}
	if got := c.Subjects[1].Glob("FA"); got != "/data/controls/ControlProject1/Participant2/bias_corr/dtifit/special_FA.nii.gz" {
		t.Fatalf("override pattern not applied: %q", got)
	}
	wantPatientDir := filepath.Join(filepath.Dir(dir), "dtifit")
	if c.Subjects[2].SourceDir != wantPatientDir {
		t.Fatalf("patient dir = %q, want %q", c.Subjects[2].SourceDir, wantPatientDir)
	}
	if c.Source != path {
		t.Fatalf("Source = %q, want %q", c.Source, path)
	}
}

func TestLoadYAMLOrderedSubjects(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "cohort.yaml", `
source:
  control_dir: controls
  control_pattern: "{participant}_{suffix}.nii.gz"
  patient_dir: patients
  patient_pattern: "{participant}_{suffix}.nii.gz"
subjects:
  - role: control
    participant: C1
  - role: patient
    participant: P1
  - role: control
    participant: C2
`)

	c, err := cohort.Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if diff := cmp.Diff([]string{"CON_C1", "PAT_P1", "CON_C2"}, c.Keys()); diff != "" {
		t.Fatalf("keys mismatch (-want +got):\n%s", diff)
	}

	err = c.VerifyOrdering()
	var violation *cohort.OrderingViolationError
	if !errors.As(err, &violation) {
		t.Fatalf("expected OrderingViolationError, got %v", err)
	}
	if violation.Entry != "CON_C2" || violation.Patient != "PAT_P1" || violation.Position != 2 {
		t.Fatalf("unexpected violation details: %+v", violation)
	}
	if !strings.Contains(err.Error(), "CON_C2") {
		t.Fatalf("error should name the offending control: %v", err)
	}
}

func TestLoadRejectsInvalidDefinitions(t *testing.T) {
	cases := map[string]struct {
		name    string
		content string
	}{
		"unknown key":    {"c.toml", "[source]\ncontrol_dri = \"x\"\n"},
		"no patients":    {"c.toml", "[source]\ncontrol_dir = \"x\"\ncontrol_pattern = \"{suffix}\"\n[[controls]]\nparticipant = \"C1\"\n"},
		"duplicate":      {"c.toml", "[source]\ncontrol_dir = \"x\"\ncontrol_pattern = \"{suffix}\"\npatient_dir = \"y\"\npatient_pattern = \"{suffix}\"\n[[controls]]\nparticipant = \"C1\"\n[[controls]]\nparticipant = \"C1\"\n[[patients]]\nparticipant = \"P1\"\n"},
		"no suffix":      {"c.toml", "[source]\ncontrol_dir = \"x\"\ncontrol_pattern = \"*.nii.gz\"\npatient_dir = \"y\"\npatient_pattern = \"{suffix}\"\n[[controls]]\nparticipant = \"C1\"\n[[patients]]\nparticipant = \"P1\"\n"},
		"unsafe id":      {"c.toml", "[source]\ncontrol_dir = \"x\"\ncontrol_pattern = \"{suffix}\"\npatient_dir = \"y\"\npatient_pattern = \"{suffix}\"\n[[controls]]\nparticipant = \"../C1\"\n[[patients]]\nparticipant = \"P1\"\n"},
		"mixed sections": {"c.yaml", "controls:\n  - participant: C1\nsubjects:\n  - role: patient\n    participant: P1\n"},
		"bad role":       {"c.yaml", "subjects:\n  - role: sibling\n    participant: S1\n"},
		"extension":      {"c.json", "{}"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			path := writeFile(t, t.TempDir(), tc.name, tc.content)
			_, err := cohort.Load(path)
			var cohortErr *cohort.Error
			if !errors.As(err, &cohortErr) {
				t.Fatalf("expected *cohort.Error, got %v", err)
			}
		})
	}
}

func TestVerifyOrderingAcceptsControlsFirst(t *testing.T) {
	c, err := cohort.New(
		spec(cohort.Control, "C1"),
		spec(cohort.Control, "C2"),
		spec(cohort.Patient, "P1"),
	)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	if err := c.VerifyOrdering(); err != nil {
		t.Fatalf("VerifyOrdering returned error: %v", err)
	}
}

func TestVerifyListing(t *testing.T) {
	ok := []string{"/root/FA/CON_a_1_FA.nii.gz", "/root/FA/CON_a_2_FA.nii.gz", "/root/FA/PAT_x_FA.nii.gz"}
	if err := cohort.VerifyListing("FA listing", ok); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	interleaved := []string{"CON_a.nii.gz", "PAT_x.nii.gz", "CON_b.nii.gz"}
	var violation *cohort.OrderingViolationError
	if err := cohort.VerifyListing("MD listing", interleaved); !errors.As(err, &violation) {
		t.Fatalf("expected ordering violation, got %v", err)
	}
	if violation.Context != "MD listing" {
		t.Fatalf("unexpected context %q", violation.Context)
	}

	unknown := []string{"CON_a.nii.gz", "mean_FA.nii.gz"}
	if err := cohort.VerifyListing("FA listing", unknown); !errors.As(err, &violation) || violation.Reason == "" {
		t.Fatalf("expected violation for unprefixed entry, got %v", err)
	}
}

func spec(role cohort.Role, participant string) cohort.SubjectSpec {
	return cohort.SubjectSpec{
		Subject:   cohort.Subject{Role: role, ParticipantID: participant},
		SourceDir: "/data",
		Pattern:   "{participant}_{suffix}.nii.gz",
	}
}
