package metric_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"tbssrun/internal/metric"
)

func TestParseListReturnsProtocolOrder(t *testing.T) {
	got, err := metric.ParseList("rd, fa,MD,rd")
	if err != nil {
		t.Fatalf("ParseList returned error: %v", err)
	}
	want := []metric.Kind{metric.FA, metric.MD, metric.RD}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("unexpected metrics (-want +got):\n%s", diff)
	}
}

func TestParseListRejectsUnknownAndEmpty(t *testing.T) {
	if _, err := metric.ParseList("FA,XX"); err == nil {
		t.Fatal("expected error for unknown metric")
	}
	if _, err := metric.ParseList(" , "); err == nil {
		t.Fatal("expected error for empty selection")
	}
}

func TestSourceSuffixes(t *testing.T) {
	if got := metric.AD.SourceSuffixes(); len(got) != 1 || got[0] != "L1" {
		t.Fatalf("AD should come from L1, got %v", got)
	}
	if !metric.RD.Derived() {
		t.Fatal("expected RD to be derived")
	}
	if metric.FA.Derived() || metric.MD.Derived() {
		t.Fatal("expected FA and MD to be copied")
	}
	if !metric.FA.Primary() || metric.RD.Primary() {
		t.Fatal("FA must be the only primary metric")
	}
}
