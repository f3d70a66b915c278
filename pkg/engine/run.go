package engine

import (
	"context"
	"time"
)

// RunState is a step of the orchestration state machine. States only move
// forward; LockReleased is reached on every path that acquired the lock.
type RunState string

const (
	StateInit          RunState = "init"
	StateLockAcquired  RunState = "lock_acquired"
	StateStagingReady  RunState = "staging_ready"
	StateGeneratorsRun RunState = "generators_run"
	StateTargetsRun    RunState = "targets_run"
	StateCleanup       RunState = "cleanup"
	StateLockReleased  RunState = "lock_released"
	StateDone          RunState = "done"
)

// OutcomeStatus is the result of one plugin within a run.
type OutcomeStatus string

const (
	OutcomeSucceeded OutcomeStatus = "succeeded"
	OutcomeFailed    OutcomeStatus = "failed"
	OutcomeSkipped   OutcomeStatus = "skipped"
)

// RunSpec is everything the orchestrator needs for one run.
type RunSpec struct {
	// StagingArea is the parent directory for the per-run staging root.
	// Empty means the OS temp directory.
	StagingArea string

	// Generators are run in order into their own staging subfolders.
	Generators []ProfileConfig

	// Targets are run in order against the staging root.
	Targets []ProfileConfig

	// FirstTargetIsStaging makes the first target's Folder() the staging root.
	FirstTargetIsStaging bool
}

// PluginOutcome records what happened to one configured profile.
type PluginOutcome struct {
	Kind     PluginKind    `json:"kind"`
	Name     string        `json:"name"`
	Profile  string        `json:"profile"`
	Status   OutcomeStatus `json:"status"`
	Path     string        `json:"path,omitempty"`
	Err      error         `json:"-"`
	Started  time.Time     `json:"started_at"`
	Duration time.Duration `json:"duration"`
}

// ErrorMessage returns the outcome's error text or an empty string.
func (o PluginOutcome) ErrorMessage() string {
	if o.Err == nil {
		return ""
	}
	return o.Err.Error()
}

// RunReport summarizes a completed (or aborted) orchestration run.
type RunReport struct {
	RunID       string          `json:"run_id"`
	StartedAt   time.Time       `json:"started_at"`
	FinishedAt  time.Time       `json:"finished_at"`
	StagingRoot string          `json:"staging_root"`
	External    bool            `json:"external_staging"`
	State       RunState        `json:"state"`
	Outcomes    []PluginOutcome `json:"outcomes"`
	Err         error           `json:"-"`
}

// Failed returns the outcomes that did not succeed.
func (r *RunReport) Failed() []PluginOutcome {
	var out []PluginOutcome
	for _, o := range r.Outcomes {
		if o.Status != OutcomeSucceeded {
			out = append(out, o)
		}
	}
	return out
}

// Status is "completed" when every plugin succeeded, "partial" when some did
// not, and "aborted" when the run itself failed.
func (r *RunReport) Status() string {
	switch {
	case r.Err != nil:
		return "aborted"
	case len(r.Failed()) > 0:
		return "partial"
	default:
		return "completed"
	}
}

// Recorder persists run reports.
type Recorder interface {
	RecordRun(ctx context.Context, report *RunReport) error
}

// Metrics receives per-plugin and per-run observations.
type Metrics interface {
	RecordPluginRun(kind, profile, status string, duration time.Duration)
	RecordRunCompleted(status string, duration time.Duration)
}

// Events receives run and plugin lifecycle notifications.
type Events interface {
	PublishRunStarted(runID string) error
	PublishRunCompleted(runID, status string, duration time.Duration) error
	PublishRunFailed(runID, reason string) error
	PublishPluginStarted(runID, kind, name, profile string) error
	PublishPluginCompleted(runID, kind, name, profile string, duration time.Duration) error
	PublishPluginFailed(runID, kind, name, profile, status, reason string) error
}

type clockKey struct{}

// WithClock stores the engine clock in ctx for plugins to use.
func WithClock(ctx context.Context, now func() time.Time) context.Context {
	return context.WithValue(ctx, clockKey{}, now)
}

// Now returns the engine's notion of the current time. Plugins use it to
// name dated folders and to compute retention thresholds.
func Now(ctx context.Context) time.Time {
	if now, ok := ctx.Value(clockKey{}).(func() time.Time); ok && now != nil {
		return now()
	}
	return time.Now()
}
