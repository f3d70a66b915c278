package stores

import (
	"time"
)

// Run is one recorded backup run.
type Run struct {
	ID          string    `json:"id" yaml:"id"`
	Status      string    `json:"status" yaml:"status"` // completed, partial, aborted
	State       string    `json:"state" yaml:"state"`
	StartedAt   time.Time `json:"started_at" yaml:"started_at"`
	FinishedAt  time.Time `json:"finished_at" yaml:"finished_at"`
	StagingRoot string    `json:"staging_root" yaml:"staging_root"`
	External    bool      `json:"external_staging" yaml:"external_staging"`
	Error       *string   `json:"error,omitempty" yaml:"error,omitempty"`
	CreatedAt   time.Time `json:"created_at" yaml:"created_at"`
}

// Duration is the wall time of the run.
func (r *Run) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// PluginResult is the recorded outcome of one plugin within a run.
type PluginResult struct {
	RunID     string        `json:"run_id" yaml:"run_id"`
	Seq       int           `json:"seq" yaml:"seq"`
	Kind      string        `json:"kind" yaml:"kind"`
	Name      string        `json:"name" yaml:"name"`
	Profile   string        `json:"profile" yaml:"profile"`
	Status    string        `json:"status" yaml:"status"`
	Path      string        `json:"path,omitempty" yaml:"path,omitempty"`
	Error     *string       `json:"error,omitempty" yaml:"error,omitempty"`
	StartedAt time.Time     `json:"started_at" yaml:"started_at"`
	Duration  time.Duration `json:"duration" yaml:"duration"`
}
