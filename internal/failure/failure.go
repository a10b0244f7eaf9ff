// Package failure classifies domain errors so the CLI can map them to exit
// codes and the run store can record a stable category.
package failure

import "errors"

// Classifier allows errors to declare their classification.
type Classifier interface {
	// ErrorKind returns a stable string classification of the error.
	ErrorKind() string
}

// Known error kinds.
const (
	KindMissingInput = "missing_input"
	KindStaging      = "staging"
	KindOrdering     = "ordering_violation"
	KindMismatch     = "cohort_mismatch"
	KindStage        = "stage_failure"
	KindDeclined     = "confirmation_declined"
	KindCohort       = "cohort"
	KindConfig       = "configuration"
	KindUnknown      = "unknown"
)

// Exit codes reported by the CLI.
const (
	ExitOK       = 0
	ExitGeneric  = 1
	ExitStaging  = 3
	ExitOrdering = 4
	ExitMismatch = 5
	ExitStage    = 6
	ExitDeclined = 7
)

// KindOf returns the classification of the first error in err's chain that
// declares one.
func KindOf(err error) string {
	if err == nil {
		return ""
	}
	var classifier Classifier
	if errors.As(err, &classifier) {
		return classifier.ErrorKind()
	}
	return KindUnknown
}

// ExitCode maps err to the process exit status.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	switch KindOf(err) {
	case KindMissingInput, KindStaging:
		return ExitStaging
	case KindOrdering:
		return ExitOrdering
	case KindMismatch:
		return ExitMismatch
	case KindStage:
		return ExitStage
	case KindDeclined:
		return ExitDeclined
	default:
		return ExitGeneric
	}
}
