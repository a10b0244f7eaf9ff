package logging_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"tbssrun/internal/config"
	"tbssrun/internal/logging"
)

func TestNewFromConfigWritesJSONLogFile(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.LogDir = t.TempDir()
	cfg.Logging.Level = "error"

	logger, err := logging.NewFromConfig(&cfg)
	if err != nil {
		t.Fatalf("NewFromConfig returned error: %v", err)
	}
	logger.Error("toolkit missing", logging.String(logging.FieldEventType, "preflight_failed"))

	content, err := os.ReadFile(filepath.Join(cfg.Paths.LogDir, "tbssrun.log"))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(content), &entry); err != nil {
		t.Fatalf("log file is not JSON: %v (%q)", err, content)
	}
	if entry["msg"] != "toolkit missing" || entry["event_type"] != "preflight_failed" {
		t.Fatalf("unexpected log entry: %v", entry)
	}
}

func TestConsoleLoggerOmitsCallerForInfo(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Format: "console", Level: "info", Writer: &buf})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logger.Info("message without caller")
	if strings.Contains(buf.String(), ".go:") {
		t.Fatalf("expected no caller information in info logs, got %q", buf.String())
	}
}

func TestConsoleLoggerIncludesCallerForDebug(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Format: "console", Level: "debug", Writer: &buf})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logger.Debug("message with caller")
	if !strings.Contains(buf.String(), ".go:") {
		t.Fatalf("expected caller information in debug logs, got %q", buf.String())
	}
}

func TestConsoleLoggerHeaderAndFields(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Format: "console", Level: "info", Writer: &buf})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	ctx := logging.WithRunID(context.Background(), "3f1c2a9e-0000-4000-8000-000000000000")
	ctx = logging.WithStage(ctx, "compare")
	ctx = logging.WithMetric(ctx, "MD")
	logger = logging.WithContext(ctx, logging.NewComponentLogger(logger, "pipeline"))

	logger.Info("stage completed",
		logging.String(logging.FieldEventType, "stage_complete"),
		logging.Duration("stage_duration", 90*time.Second),
		logging.String("stats_dir", "/data/tbss/stats"),
	)

	out := buf.String()
	header := strings.SplitN(out, "\n", 2)[0]
	if !strings.Contains(header, "INFO [pipeline] Run 3f1c2a9e · compare (MD) – stage completed") {
		t.Fatalf("unexpected header: %q", header)
	}
	if !strings.Contains(out, "    - Event: stage_complete") {
		t.Fatalf("expected event field, got %q", out)
	}
	if !strings.Contains(out, "    - Duration: 1m 30s") {
		t.Fatalf("expected humanized duration, got %q", out)
	}
	if strings.Contains(out, "/data/tbss/stats") {
		t.Fatalf("expected directory field hidden at info level, got %q", out)
	}
	if !strings.Contains(out, "+ 1 more field hidden") {
		t.Fatalf("expected hidden field count, got %q", out)
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestNewInvalidLevelDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Format: "json", Level: "verbose", Writer: &buf})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logger.Debug("hidden")
	logger.Info("shown")
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "shown") {
		t.Fatalf("expected info threshold, got %q", buf.String())
	}
}

func TestJSONLoggerStringifiesErrors(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Format: "json", Level: "info", Writer: &buf})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logger.Error("stage failed", logging.Error(errors.New("exit status 1")))

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if entry["error"] != "exit status 1" {
		t.Fatalf("expected error string, got %v", entry["error"])
	}
	if entry["level"] != "error" {
		t.Fatalf("expected lowercase level, got %v", entry["level"])
	}
}

func TestOpenRunLogTeesIntoRunFile(t *testing.T) {
	logDir := t.TempDir()
	var console bytes.Buffer
	base, err := logging.New(logging.Options{Format: "console", Level: "info", Writer: &console})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	runLogger, closer, err := logging.OpenRunLog(base, logDir, "run-1", "info")
	if err != nil {
		t.Fatalf("OpenRunLog returned error: %v", err)
	}
	runLogger.Info("pipeline started")
	if err := closer.Close(); err != nil {
		t.Fatalf("close run log: %v", err)
	}

	content, err := os.ReadFile(logging.RunLogPath(logDir, "run-1"))
	if err != nil {
		t.Fatalf("read run log: %v", err)
	}
	if !strings.Contains(string(content), `"run_id":"run-1"`) {
		t.Fatalf("expected run id in run log, got %q", content)
	}
	if !strings.Contains(console.String(), "pipeline started") {
		t.Fatalf("expected console output, got %q", console.String())
	}
}

func TestPruneRunLogsRemovesExpiredFiles(t *testing.T) {
	logDir := t.TempDir()
	oldPath := logging.RunLogPath(logDir, "old")
	newPath := logging.RunLogPath(logDir, "new")
	for _, path := range []string{oldPath, newPath} {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(path, []byte("{}\n"), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	past := time.Now().AddDate(0, 0, -40)
	if err := os.Chtimes(oldPath, past, past); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	if removed := logging.PruneRunLogs(logging.NewNop(), logDir, 30); removed != 1 {
		t.Fatalf("expected one log removed, got %d", removed)
	}
	if removed := logging.PruneRunLogs(logging.NewNop(), logDir, 0); removed != 0 {
		t.Fatalf("zero retention must keep logs, removed %d", removed)
	}

	if _, err := os.Stat(oldPath); !os.IsNotExist(err) {
		t.Fatalf("expected expired run log removed, stat err=%v", err)
	}
	if _, err := os.Stat(newPath); err != nil {
		t.Fatalf("expected recent run log kept: %v", err)
	}
}

func TestFormatSubject(t *testing.T) {
	cases := []struct {
		run, stage, metric, want string
	}{
		{"", "", "", ""},
		{"abcdef0123", "", "", "Run abcdef01"},
		{"", "register", "", "register"},
		{"r1", "project", "RD", "Run r1 · project (RD)"},
		{"r1", "compare-FA", "FA", "Run r1 · compare-FA"},
	}
	for _, tc := range cases {
		if got := logging.FormatSubject(tc.run, tc.stage, tc.metric); got != tc.want {
			t.Errorf("FormatSubject(%q,%q,%q) = %q, want %q", tc.run, tc.stage, tc.metric, got, tc.want)
		}
	}
}
