package cohort

import (
	"fmt"
	"path/filepath"
	"strings"

	"tbssrun/internal/failure"
)

// OrderingViolationError reports a control positioned after a patient (or an
// entry whose role cannot be determined) in a cohort or file listing.
type OrderingViolationError struct {
	// Context names what was checked, e.g. "cohort" or "FA listing".
	Context  string
	Position int
	Entry    string
	Patient  string
	Reason   string
}

func (e *OrderingViolationError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("ordering violation in %s at position %d (%s): %s", e.Context, e.Position+1, e.Entry, e.Reason)
	}
	return fmt.Sprintf("ordering violation in %s: control %s at position %d is listed after patient %s; all controls must precede patients",
		e.Context, e.Entry, e.Position+1, e.Patient)
}

// ErrorKind implements failure.Classifier.
func (e *OrderingViolationError) ErrorKind() string { return failure.KindOrdering }

// VerifyOrdering checks that every control precedes every patient in cohort order.
func (c *Cohort) VerifyOrdering() error {
	roles := make([]Role, len(c.Subjects))
	for i, spec := range c.Subjects {
		roles[i] = spec.Subject.Role
	}
	return verifyRoles("cohort", c.Keys(), roles)
}

// RoleOf infers a subject role from a staged file name.
func RoleOf(name string) (Role, bool) {
	base := filepath.Base(name)
	switch {
	case strings.HasPrefix(base, Control.Prefix()):
		return Control, true
	case strings.HasPrefix(base, Patient.Prefix()):
		return Patient, true
	default:
		return "", false
	}
}

// VerifyListing checks a file listing, in the order the toolkit will consume
// it, for controls strictly before patients. Every entry must carry a role
// prefix.
func VerifyListing(context string, names []string) error {
	roles := make([]Role, len(names))
	for i, name := range names {
		role, ok := RoleOf(name)
		if !ok {
			return &OrderingViolationError{
				Context:  context,
				Position: i,
				Entry:    filepath.Base(name),
				Reason:   "file name has no CON_/PAT_ role prefix",
			}
		}
		roles[i] = role
	}
	bases := make([]string, len(names))
	for i, name := range names {
		bases[i] = filepath.Base(name)
	}
	return verifyRoles(context, bases, roles)
}

func verifyRoles(context string, entries []string, roles []Role) error {
	firstPatient := -1
	for i, role := range roles {
		switch role {
		case Patient:
			if firstPatient < 0 {
				firstPatient = i
			}
		case Control:
			if firstPatient >= 0 {
				return &OrderingViolationError{
					Context:  context,
					Position: i,
					Entry:    entries[i],
					Patient:  entries[firstPatient],
				}
			}
		}
	}
	return nil
}
