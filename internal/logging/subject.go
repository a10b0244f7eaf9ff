package logging

import "strings"

// FormatSubject builds the run/stage/metric subject string used in console output.
func FormatSubject(runID, stage, metric string) string {
	runID = shortRunID(strings.TrimSpace(runID))
	stage = strings.TrimSpace(stage)
	metric = strings.TrimSpace(metric)
	parts := make([]string, 0, 2)
	if runID != "" {
		parts = append(parts, "Run "+runID)
	}
	switch {
	case stage != "" && metric != "" && !strings.HasSuffix(stage, metric):
		parts = append(parts, stage+" ("+metric+")")
	case stage != "":
		parts = append(parts, stage)
	case metric != "":
		parts = append(parts, metric)
	}
	return strings.Join(parts, " · ")
}

func shortRunID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
