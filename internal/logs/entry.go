package logs

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"
)

// Entry is one decoded run log record.
type Entry struct {
	Time      time.Time
	Level     slog.Level
	Message   string
	Component string
	Stage     string
	Metric    string
	EventType string
	Fields    map[string]any
}

// reserved keys are rendered in the entry header instead of as fields.
var reserved = map[string]bool{
	"ts": true, "level": true, "msg": true, "component": true,
	"stage": true, "metric": true, "event_type": true, "run_id": true,
}

// ParseEntry decodes a JSON log line. Lines that are not JSON objects are
// reported as not ok.
func ParseEntry(line string) (Entry, bool) {
	var raw map[string]any
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return Entry{}, false
	}
	e := Entry{
		Message:   stringField(raw, "msg"),
		Component: stringField(raw, "component"),
		Stage:     stringField(raw, "stage"),
		Metric:    stringField(raw, "metric"),
		EventType: stringField(raw, "event_type"),
		Fields:    make(map[string]any),
	}
	if ts := stringField(raw, "ts"); ts != "" {
		e.Time, _ = time.Parse(time.RFC3339, ts)
	}
	if err := e.Level.UnmarshalText([]byte(stringField(raw, "level"))); err != nil {
		e.Level = slog.LevelInfo
	}
	for k, v := range raw {
		if !reserved[k] {
			e.Fields[k] = v
		}
	}
	return e, true
}

func stringField(raw map[string]any, key string) string {
	if v, ok := raw[key].(string); ok {
		return v
	}
	return ""
}

// Filter selects entries. Zero values match everything.
type Filter struct {
	Stage    string
	Metric   string
	MinLevel slog.Level
}

// Match reports whether e passes the filter.
func (f Filter) Match(e Entry) bool {
	if e.Level < f.MinLevel {
		return false
	}
	if f.Stage != "" && !strings.EqualFold(f.Stage, e.Stage) {
		return false
	}
	if f.Metric != "" && !strings.EqualFold(f.Metric, e.Metric) {
		return false
	}
	return true
}

// Format renders e as a single console line.
func (e Entry) Format() string {
	var b strings.Builder
	if !e.Time.IsZero() {
		b.WriteString(e.Time.Local().Format("15:04:05"))
		b.WriteByte(' ')
	}
	fmt.Fprintf(&b, "%-5s", strings.ToUpper(e.Level.String()))
	if e.Stage != "" {
		fmt.Fprintf(&b, " [%s]", e.Stage)
	}
	b.WriteByte(' ')
	b.WriteString(e.Message)

	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, e.Fields[k])
	}
	return b.String()
}
