package staging

import (
	"fmt"
	"sort"
	"strings"

	"tbssrun/internal/cohort"
	"tbssrun/internal/failure"
	"tbssrun/internal/metric"
)

// MissingInputError reports a subject source that could not be resolved to
// exactly one non-empty file.
type MissingInputError struct {
	Subject cohort.Subject
	Metric  metric.Kind
	Suffix  string
	Pattern string
	Matches []string
	Reason  string
}

func (e *MissingInputError) Error() string {
	what := fmt.Sprintf("%s %s input", e.Subject.Key(), e.Metric)
	if e.Suffix != e.Metric.String() {
		what = fmt.Sprintf("%s %s input (%s)", e.Subject.Key(), e.Metric, e.Suffix)
	}
	switch {
	case e.Reason != "":
		return fmt.Sprintf("%s: %s", what, e.Reason)
	case len(e.Matches) == 0:
		return fmt.Sprintf("%s missing: no file matches %s", what, e.Pattern)
	default:
		return fmt.Sprintf("%s ambiguous: %d files match %s: %s", what, len(e.Matches), e.Pattern, strings.Join(e.Matches, ", "))
	}
}

// ErrorKind implements failure.Classifier.
func (e *MissingInputError) ErrorKind() string { return failure.KindMissingInput }

// VolumeError wraps a copy or derivation failure for one subject and metric.
type VolumeError struct {
	Subject     cohort.Subject
	Metric      metric.Kind
	Destination string
	Err         error
}

func (e *VolumeError) Error() string {
	return fmt.Sprintf("stage %s %s to %s: %v", e.Subject.Key(), e.Metric, e.Destination, e.Err)
}

func (e *VolumeError) Unwrap() error { return e.Err }

// ErrorKind implements failure.Classifier.
func (e *VolumeError) ErrorKind() string { return failure.KindStaging }

// BatchError aggregates every per-subject failure of a staging pass.
type BatchError struct {
	Attempted int
	Failures  []error
}

func (e *BatchError) Error() string {
	lines := make([]string, 0, len(e.Failures)+1)
	lines = append(lines, fmt.Sprintf("staging failed for %d of %d volumes:", len(e.Failures), e.Attempted))
	for _, err := range e.Failures {
		lines = append(lines, "  - "+err.Error())
	}
	return strings.Join(lines, "\n")
}

// Unwrap exposes the individual failures to errors.As and errors.Is.
func (e *BatchError) Unwrap() []error { return e.Failures }

// ErrorKind implements failure.Classifier.
func (e *BatchError) ErrorKind() string { return failure.KindStaging }

func sortFailures(failures []error) {
	sort.SliceStable(failures, func(i, j int) bool {
		return failureKey(failures[i]) < failureKey(failures[j])
	})
}

func failureKey(err error) string {
	switch e := err.(type) {
	case *MissingInputError:
		return e.Subject.Key() + "/" + string(e.Metric)
	case *VolumeError:
		return e.Subject.Key() + "/" + string(e.Metric)
	default:
		return err.Error()
	}
}

// IncompleteError reports a staged dataset that does not hold exactly one
// volume per cohort subject.
type IncompleteError struct {
	Metric     metric.Kind
	Dir        string
	Missing    []string
	Unexpected []string
}

func (e *IncompleteError) Error() string {
	parts := []string{fmt.Sprintf("%s dataset in %s is not complete", e.Metric, e.Dir)}
	if len(e.Missing) > 0 {
		parts = append(parts, "missing "+strings.Join(e.Missing, ", "))
	}
	if len(e.Unexpected) > 0 {
		parts = append(parts, "unexpected "+strings.Join(e.Unexpected, ", "))
	}
	return strings.Join(parts, "; ")
}

// ErrorKind implements failure.Classifier.
func (e *IncompleteError) ErrorKind() string { return failure.KindStaging }
