package cohort

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"tbssrun/internal/failure"
)

// Role is the group a subject belongs to.
type Role string

const (
	Control Role = "CON"
	Patient Role = "PAT"
)

// ParseRole accepts "control"/"patient" as well as the CON/PAT prefixes.
func ParseRole(value string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "control", "con":
		return Control, nil
	case "patient", "pat":
		return Patient, nil
	default:
		return "", fmt.Errorf("unknown subject role %q (want control or patient)", value)
	}
}

// Prefix returns the filename prefix for the role.
func (r Role) Prefix() string { return string(r) + "_" }

func (r Role) String() string {
	switch r {
	case Control:
		return "control"
	case Patient:
		return "patient"
	default:
		return string(r)
	}
}

// Subject identifies one study participant. Identity is the full triple.
type Subject struct {
	Role          Role
	ProjectID     string
	ParticipantID string
}

// Key is the canonical file stem <ROLE>_<project>_<participant>. The project
// segment is omitted when empty.
func (s Subject) Key() string {
	if s.ProjectID == "" {
		return s.Role.Prefix() + s.ParticipantID
	}
	return s.Role.Prefix() + s.ProjectID + "_" + s.ParticipantID
}

func (s Subject) String() string { return s.Key() }

const (
	suffixPlaceholder      = "{suffix}"
	projectPlaceholder     = "{project}"
	participantPlaceholder = "{participant}"
)

// SubjectSpec couples a subject with the location of its raw tensor-fit
// outputs. SourceDir and Pattern may contain {project} and {participant};
// Pattern must contain {suffix}, which is replaced by the source suffix of the
// metric being resolved (FA, MD, L1, L2, L3).
type SubjectSpec struct {
	Subject   Subject
	SourceDir string
	Pattern   string
}

// Glob returns the absolute glob that locates the subject's volume for suffix.
func (s SubjectSpec) Glob(suffix string) string {
	dir := s.expand(s.SourceDir)
	pattern := strings.ReplaceAll(s.expand(s.Pattern), suffixPlaceholder, suffix)
	return filepath.Join(dir, pattern)
}

func (s SubjectSpec) expand(value string) string {
	return strings.NewReplacer(
		projectPlaceholder, s.Subject.ProjectID,
		participantPlaceholder, s.Subject.ParticipantID,
	).Replace(value)
}

var identifierPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

func (s SubjectSpec) validate() error {
	subject := s.Subject
	switch subject.Role {
	case Control, Patient:
	default:
		return fmt.Errorf("subject %q: invalid role %q", subject.ParticipantID, subject.Role)
	}
	if subject.ParticipantID == "" {
		return fmt.Errorf("%s subject with project %q: participant id is required", subject.Role, subject.ProjectID)
	}
	if !identifierPattern.MatchString(subject.ParticipantID) {
		return fmt.Errorf("subject %s: participant id %q is not a safe file name component", subject.Key(), subject.ParticipantID)
	}
	if subject.ProjectID != "" && !identifierPattern.MatchString(subject.ProjectID) {
		return fmt.Errorf("subject %s: project id %q is not a safe file name component", subject.Key(), subject.ProjectID)
	}
	if strings.TrimSpace(s.SourceDir) == "" {
		return fmt.Errorf("subject %s: source directory is required", subject.Key())
	}
	if !strings.Contains(s.Pattern, suffixPlaceholder) {
		return fmt.Errorf("subject %s: pattern %q must contain %s", subject.Key(), s.Pattern, suffixPlaceholder)
	}
	if strings.ContainsRune(s.Pattern, filepath.Separator) {
		return fmt.Errorf("subject %s: pattern %q must not contain path separators", subject.Key(), s.Pattern)
	}
	return nil
}

// Cohort is an ordered, validated sequence of subjects.
type Cohort struct {
	// Source is the definition file the cohort was loaded from, if any.
	Source   string
	Subjects []SubjectSpec
}

// New validates specs and returns a cohort preserving their order. Ordering
// of controls before patients is not enforced here; see VerifyOrdering.
func New(specs ...SubjectSpec) (*Cohort, error) {
	c := &Cohort{Subjects: append([]SubjectSpec(nil), specs...)}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks identities: every subject well formed, identities and file
// stems unique, at least one control and one patient.
func (c *Cohort) Validate() error {
	if c == nil || len(c.Subjects) == 0 {
		return &Error{Reason: "cohort has no subjects"}
	}
	seen := make(map[Subject]struct{}, len(c.Subjects))
	keys := make(map[string]struct{}, len(c.Subjects))
	for _, spec := range c.Subjects {
		if err := spec.validate(); err != nil {
			return &Error{Reason: err.Error()}
		}
		if _, dup := seen[spec.Subject]; dup {
			return &Error{Reason: fmt.Sprintf("subject %s listed more than once", spec.Subject.Key())}
		}
		seen[spec.Subject] = struct{}{}
		key := strings.ToLower(spec.Subject.Key())
		if _, dup := keys[key]; dup {
			return &Error{Reason: fmt.Sprintf("subject %s collides with another subject's file name", spec.Subject.Key())}
		}
		keys[key] = struct{}{}
	}
	controls, patients := c.Counts()
	if controls == 0 {
		return &Error{Reason: "cohort has no control subjects"}
	}
	if patients == 0 {
		return &Error{Reason: "cohort has no patient subjects"}
	}
	return nil
}

// Counts returns the number of controls and patients.
func (c *Cohort) Counts() (controls, patients int) {
	for _, spec := range c.Subjects {
		if spec.Subject.Role == Control {
			controls++
		} else {
			patients++
		}
	}
	return controls, patients
}

// Len returns the total number of subjects.
func (c *Cohort) Len() int { return len(c.Subjects) }

// Keys returns subject file stems in cohort order.
func (c *Cohort) Keys() []string {
	keys := make([]string, 0, len(c.Subjects))
	for _, spec := range c.Subjects {
		keys = append(keys, spec.Subject.Key())
	}
	return keys
}

// Error reports an invalid cohort definition.
type Error struct {
	Source string
	Reason string
}

func (e *Error) Error() string {
	if e.Source != "" {
		return fmt.Sprintf("cohort %s: %s", e.Source, e.Reason)
	}
	return "cohort: " + e.Reason
}

// ErrorKind implements failure.Classifier.
func (e *Error) ErrorKind() string { return failure.KindCohort }
