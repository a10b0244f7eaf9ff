package logging

import (
	"context"
	"log/slog"
	"strings"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldRunID is the standardized structured logging key for pipeline run identifiers.
	FieldRunID = "run_id"
	// FieldStage is the standardized structured logging key for protocol stage names.
	FieldStage = "stage"
	// FieldMetric is the standardized structured logging key for diffusion metrics.
	FieldMetric = "metric"
	// FieldSubject is the standardized structured logging key for subject keys (CON_x_y).
	FieldSubject = "subject"
	// FieldAlert flags warnings or anomalies that should stand out in structured logs.
	FieldAlert = "alert"
)

type contextKey int

const (
	runIDKey contextKey = iota
	stageKey
	metricKey
	subjectKey
)

// WithRunID tags the context with a pipeline run identifier.
func WithRunID(ctx context.Context, runID string) context.Context {
	return withString(ctx, runIDKey, runID)
}

// WithStage tags the context with the protocol stage being executed.
func WithStage(ctx context.Context, stage string) context.Context {
	return withString(ctx, stageKey, stage)
}

// WithMetric tags the context with the diffusion metric being processed.
func WithMetric(ctx context.Context, metric string) context.Context {
	return withString(ctx, metricKey, metric)
}

// WithSubject tags the context with a subject key.
func WithSubject(ctx context.Context, subject string) context.Context {
	return withString(ctx, subjectKey, subject)
}

// RunIDFromContext returns the run identifier stored on ctx, if any.
func RunIDFromContext(ctx context.Context) (string, bool) {
	return stringFrom(ctx, runIDKey)
}

// StageFromContext returns the stage name stored on ctx, if any.
func StageFromContext(ctx context.Context) (string, bool) {
	return stringFrom(ctx, stageKey)
}

func withString(ctx context.Context, key contextKey, value string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return ctx
	}
	return context.WithValue(ctx, key, value)
}

func stringFrom(ctx context.Context, key contextKey) (string, bool) {
	if ctx == nil {
		return "", false
	}
	value, ok := ctx.Value(key).(string)
	return value, ok && value != ""
}

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 4)
	for _, entry := range []struct {
		key   contextKey
		field string
	}{
		{runIDKey, FieldRunID},
		{stageKey, FieldStage},
		{metricKey, FieldMetric},
		{subjectKey, FieldSubject},
	} {
		if value, ok := stringFrom(ctx, entry.key); ok {
			fields = append(fields, slog.String(entry.field, value))
		}
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(attrsToArgs(fields)...)
}
