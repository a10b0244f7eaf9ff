package stage

import (
	"fmt"

	"tbssrun/internal/failure"
)

// StageFailure reports a stage whose command failed or whose declared output
// is missing.
type StageFailure struct {
	Stage    string
	Reason   string
	Artifact string
	Err      error
}

func (e *StageFailure) Error() string {
	msg := fmt.Sprintf("stage %s failed: %s", e.Stage, e.Reason)
	if e.Artifact != "" {
		msg += " (" + e.Artifact + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *StageFailure) Unwrap() error { return e.Err }

// ErrorKind implements failure.Classifier.
func (e *StageFailure) ErrorKind() string { return failure.KindStage }

// ConfirmationDeclined reports an operator who refused, or never gave, a
// checkpoint confirmation.
type ConfirmationDeclined struct {
	Stage      string
	Checkpoint string
	Reason     string
}

func (e *ConfirmationDeclined) Error() string {
	msg := fmt.Sprintf("stage %s: %s confirmation declined", e.Stage, e.Checkpoint)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// ErrorKind implements failure.Classifier.
func (e *ConfirmationDeclined) ErrorKind() string { return failure.KindDeclined }
