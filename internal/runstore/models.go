package runstore

import "time"

// State is the lifecycle state of a run.
type State string

const (
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Run is one recorded invocation of a run-producing command.
type Run struct {
	ID           string
	Command      string
	Root         string
	CohortFile   string
	Controls     int
	Patients     int
	Metrics      []string
	Permutations int
	State        State
	FailedStage  string
	Reason       string
	ErrorKind    string
	LogPath      string
	StartedAt    time.Time
	FinishedAt   *time.Time
}

// Duration is the wall time of a finished run, or the time since it started.
func (r *Run) Duration() time.Duration {
	if r.FinishedAt != nil {
		return r.FinishedAt.Sub(r.StartedAt)
	}
	return time.Since(r.StartedAt)
}

// ShortID is the run identifier prefix used in console output.
func (r *Run) ShortID() string {
	if len(r.ID) > 8 {
		return r.ID[:8]
	}
	return r.ID
}

// RunSpec describes a run being started.
type RunSpec struct {
	Command      string
	Root         string
	CohortFile   string
	Controls     int
	Patients     int
	Metrics      []string
	Permutations int
	LogPath      string
}

// Outcome is how a run ended.
type Outcome struct {
	State       State
	FailedStage string
	Reason      string
	ErrorKind   string
}

// StageEvent is one recorded stage transition.
type StageEvent struct {
	ID         int64
	RunID      string
	Stage      string
	Event      string
	Detail     string
	Elapsed    time.Duration
	RecordedAt time.Time
}

// DecisionRecord is one recorded checkpoint answer.
type DecisionRecord struct {
	ID         int64
	RunID      string
	Stage      string
	Checkpoint string
	Approved   bool
	Reason     string
	DecidedAt  time.Time
}
