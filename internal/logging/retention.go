package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// PruneRunLogs removes per-run logs under logDir whose last write is older
// than retentionDays and returns how many were removed. Zero or negative
// retention keeps every log. Logs of runs still being written are never old
// enough to match.
func PruneRunLogs(logger *slog.Logger, logDir string, retentionDays int) int {
	if retentionDays <= 0 || strings.TrimSpace(logDir) == "" {
		return 0
	}
	if logger == nil {
		logger = NewNop()
	}
	dir := filepath.Join(logDir, runLogDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays)

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".log" {
			continue
		}
		info, err := entry.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := os.Remove(path); err != nil {
			WarnWithContext(logger, "run log not pruned", "log_retention_failed",
				String("log_path", path),
				Error(err),
				String(FieldErrorHint, "check ownership of log_dir"),
				String(FieldImpact, "old run log remains on disk"),
			)
			continue
		}
		removed++
		logger.Debug("run log pruned",
			String(FieldEventType, "log_pruned"),
			String(FieldRunID, strings.TrimSuffix(entry.Name(), ".log")),
		)
	}
	return removed
}
