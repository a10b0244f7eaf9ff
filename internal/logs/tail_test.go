package logs_test

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"tbssrun/internal/logs"
)

func TestTailLastLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.log")
	if err := os.WriteFile(path, []byte("a\nb\nc\n"), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}

	result, err := logs.Tail(context.Background(), path, logs.TailOptions{Offset: -1, Limit: 2})
	if err != nil {
		t.Fatalf("tail returned error: %v", err)
	}
	if len(result.Lines) != 2 || result.Lines[0] != "b" || result.Lines[1] != "c" {
		t.Fatalf("unexpected lines: %#v", result.Lines)
	}
	if result.Offset != 6 {
		t.Fatalf("expected offset at end of file, got %d", result.Offset)
	}
}

func TestTailMissingFile(t *testing.T) {
	result, err := logs.Tail(context.Background(), filepath.Join(t.TempDir(), "absent.log"), logs.TailOptions{Offset: -1, Limit: 5})
	if err != nil {
		t.Fatalf("tail returned error: %v", err)
	}
	if len(result.Lines) != 0 {
		t.Fatalf("expected no lines, got %#v", result.Lines)
	}
}

func TestTailFollowWaits(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.log")
	if err := os.WriteFile(path, []byte("start\n"), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	result, err := logs.Tail(ctx, path, logs.TailOptions{Offset: -1, Limit: 1})
	if err != nil {
		t.Fatalf("initial tail: %v", err)
	}

	done := make(chan logs.TailResult, 1)
	go func(offset int64) {
		res, err := logs.Tail(ctx, path, logs.TailOptions{Offset: offset, Follow: true, Wait: 5 * time.Second})
		if err != nil {
			t.Errorf("follow tail error: %v", err)
		}
		done <- res
	}(result.Offset)

	time.Sleep(200 * time.Millisecond)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open append: %v", err)
	}
	if _, err := f.WriteString("later\n"); err != nil {
		t.Fatalf("append log: %v", err)
	}
	_ = f.Close()

	select {
	case res := <-done:
		if len(res.Lines) != 1 || res.Lines[0] != "later" {
			t.Fatalf("unexpected follow lines: %#v", res.Lines)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("tail follow did not return")
	}
}

func TestParseEntryAndFilter(t *testing.T) {
	line := `{"ts":"2026-03-01T10:00:00Z","level":"warn","msg":"comparison skipped","run_id":"abc","stage":"compare-MD","metric":"MD","event_type":"comparison_skipped","error_hint":"restage"}`
	e, ok := logs.ParseEntry(line)
	if !ok {
		t.Fatal("expected entry to parse")
	}
	if e.Level != slog.LevelWarn || e.Stage != "compare-MD" || e.Metric != "MD" || e.EventType != "comparison_skipped" {
		t.Fatalf("unexpected entry: %+v", e)
	}
	if _, ok := e.Fields["run_id"]; ok {
		t.Fatal("run_id should not be rendered as a field")
	}
	if !strings.Contains(e.Format(), "[compare-MD] comparison skipped error_hint=restage") {
		t.Fatalf("unexpected format: %q", e.Format())
	}

	cases := []struct {
		name   string
		filter logs.Filter
		want   bool
	}{
		{"zero", logs.Filter{}, true},
		{"stage case-insensitive", logs.Filter{Stage: "COMPARE-md"}, true},
		{"other stage", logs.Filter{Stage: "register"}, false},
		{"metric", logs.Filter{Metric: "md"}, true},
		{"level above", logs.Filter{MinLevel: slog.LevelError}, false},
	}
	for _, tc := range cases {
		if got := tc.filter.Match(e); got != tc.want {
			t.Errorf("%s: Match = %v, want %v", tc.name, got, tc.want)
		}
	}

	if _, ok := logs.ParseEntry("not json"); ok {
		t.Fatal("expected plain text to be rejected")
	}
}
