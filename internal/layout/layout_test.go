package layout_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"tbssrun/internal/cohort"
	"tbssrun/internal/layout"
	"tbssrun/internal/metric"
)

func TestDestinationForKeepsFAAtRoot(t *testing.T) {
	l := layout.New("/data/tbss", "nii.gz")
	subject := cohort.Subject{Role: cohort.Control, ProjectID: "Proj", ParticipantID: "P1"}

	cases := map[metric.Kind]string{
		metric.FA: "/data/tbss/CON_Proj_P1.nii.gz",
		metric.MD: "/data/tbss/MD/CON_Proj_P1.nii.gz",
		metric.AD: "/data/tbss/AD/CON_Proj_P1.nii.gz",
		metric.RD: "/data/tbss/RD/CON_Proj_P1.nii.gz",
	}
	for kind, want := range cases {
		if got := l.DestinationFor(kind, subject); got != want {
			t.Errorf("DestinationFor(%s) = %q, want %q", kind, got, want)
		}
	}
	if got := l.StatsImage("all_FA_skeletonised"); got != "/data/tbss/stats/all_FA_skeletonised.nii.gz" {
		t.Errorf("StatsImage = %q", got)
	}
	if got := l.SlicesdirIndex(); got != "/data/tbss/FA/slicesdir/index.html" {
		t.Errorf("SlicesdirIndex = %q", got)
	}
}

func TestEnsureMetricDirIsIdempotent(t *testing.T) {
	l := layout.New(t.TempDir(), ".nii.gz")
	for i := 0; i < 2; i++ {
		if err := l.EnsureMetricDir(metric.RD); err != nil {
			t.Fatalf("EnsureMetricDir attempt %d: %v", i, err)
		}
	}
	info, err := os.Stat(l.MetricDir(metric.RD))
	if err != nil || !info.IsDir() {
		t.Fatalf("expected RD directory, stat err=%v", err)
	}
}

func TestListStagedSortsControlsFirst(t *testing.T) {
	root := t.TempDir()
	l := layout.New(root, ".nii.gz")
	if err := l.EnsureMetricDir(metric.MD); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"PAT_x.nii.gz", "CON_b.nii.gz", "CON_a.nii.gz", ".CON_c.nii.gz.tmp", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(root, "MD", name), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}

	got, err := l.ListStaged(metric.MD)
	if err != nil {
		t.Fatalf("ListStaged: %v", err)
	}
	want := []string{
		filepath.Join(root, "MD", "CON_a.nii.gz"),
		filepath.Join(root, "MD", "CON_b.nii.gz"),
		filepath.Join(root, "MD", "PAT_x.nii.gz"),
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("listing mismatch (-want +got):\n%s", diff)
	}

	missing, err := l.ListStaged(metric.AD)
	if err != nil || len(missing) != 0 {
		t.Fatalf("expected empty listing for absent metric dir, got %v, %v", missing, err)
	}
}

func TestListPreprocessedFiltersFASuffix(t *testing.T) {
	root := t.TempDir()
	l := layout.New(root, ".nii.gz")
	if err := os.MkdirAll(l.FADir(), 0o755); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"CON_a_FA.nii.gz", "CON_a_FA_mask.nii.gz", "PAT_x_FA.nii.gz"} {
		if err := os.WriteFile(filepath.Join(l.FADir(), name), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	got, err := l.ListPreprocessed()
	if err != nil {
		t.Fatalf("ListPreprocessed: %v", err)
	}
	if len(got) != 2 || filepath.Base(got[0]) != "CON_a_FA.nii.gz" || filepath.Base(got[1]) != "PAT_x_FA.nii.gz" {
		t.Fatalf("unexpected preprocessed listing: %v", got)
	}
}

func TestLockIsExclusive(t *testing.T) {
	l := layout.New(t.TempDir(), ".nii.gz")
	first, err := l.Lock()
	if err != nil {
		t.Fatalf("first Lock: %v", err)
	}

	if _, err := l.Lock(); !errors.Is(err, layout.ErrLocked) {
		t.Fatalf("expected ErrLocked for second lock, got %v", err)
	}

	if err := first.Unlock(); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	second, err := l.Lock()
	if err != nil {
		t.Fatalf("Lock after unlock: %v", err)
	}
	_ = second.Unlock()
}
