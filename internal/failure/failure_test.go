package failure_test

import (
	"errors"
	"fmt"
	"testing"

	"tbssrun/internal/failure"
)

type kindError string

func (k kindError) Error() string     { return string(k) }
func (k kindError) ErrorKind() string { return string(k) }

func TestExitCodeFollowsWrappedKind(t *testing.T) {
	cases := map[string]int{
		failure.KindMissingInput: failure.ExitStaging,
		failure.KindStaging:      failure.ExitStaging,
		failure.KindOrdering:     failure.ExitOrdering,
		failure.KindMismatch:     failure.ExitMismatch,
		failure.KindStage:        failure.ExitStage,
		failure.KindDeclined:     failure.ExitDeclined,
		failure.KindConfig:       failure.ExitGeneric,
	}
	for kind, want := range cases {
		err := fmt.Errorf("run pipeline: %w", kindError(kind))
		if got := failure.ExitCode(err); got != want {
			t.Errorf("ExitCode(%s) = %d, want %d", kind, got, want)
		}
	}
}

func TestKindOfUnclassified(t *testing.T) {
	if got := failure.KindOf(errors.New("boom")); got != failure.KindUnknown {
		t.Fatalf("KindOf = %q, want %q", got, failure.KindUnknown)
	}
	if got := failure.KindOf(nil); got != "" {
		t.Fatalf("KindOf(nil) = %q, want empty", got)
	}
	if failure.ExitCode(nil) != failure.ExitOK {
		t.Fatal("expected exit 0 for nil error")
	}
}
