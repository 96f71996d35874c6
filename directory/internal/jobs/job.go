// Package jobs defines the directory's background jobs and the run wrapper
// that turns any job execution into a terminal Result.
//
// A run moves PENDING → RUNNING → COMPLETED or FAILED and is never revisited.
// Run recovers panics: a crashing job becomes a FAILED result and never
// reaches the scheduler. There is no mid-run cancellation; timeouts apply
// only to the individual outbound requests a job makes.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/GGPrompts/vibe4vets-sub003/idgen"
)

// Status is a job run state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether s is COMPLETED or FAILED.
func (s Status) Terminal() bool { return s == StatusCompleted || s == StatusFailed }

// Trigger records what started a run.
type Trigger string

const (
	TriggerScheduled Trigger = "scheduled"
	TriggerManual    Trigger = "manual"
)

// Params are per-run options passed to a manual trigger.
type Params map[string]any

// Bool reads a boolean option. Strings "true"/"1"/"yes" count as true.
func (p Params) Bool(key string) bool {
	switch v := p[key].(type) {
	case bool:
		return v
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "1", "yes":
			return true
		}
	}
	return false
}

// Strings reads a list option given as []string, []any or a
// comma-separated string.
func (p Params) Strings(key string) []string {
	var out []string
	switch v := p[key].(type) {
	case []string:
		out = append(out, v...)
	case []any:
		for _, x := range v {
			if s, ok := x.(string); ok {
				out = append(out, s)
			}
		}
	case string:
		out = strings.Split(v, ",")
	}
	clean := out[:0]
	for _, s := range out {
		if s = strings.TrimSpace(s); s != "" {
			clean = append(clean, s)
		}
	}
	if len(clean) == 0 {
		return nil
	}
	return clean
}

// Outcome is what a successful execution reports.
type Outcome struct {
	Message string
	Data    any
}

// Job is one kind of background work.
type Job interface {
	Name() string
	Description() string
	Execute(ctx context.Context, params Params) (Outcome, error)
}

// Result is one run of a job.
type Result struct {
	RunID       string     `json:"run_id"`
	JobName     string     `json:"job_name"`
	Trigger     Trigger    `json:"trigger"`
	Status      Status     `json:"status"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Message     string     `json:"message,omitempty"`
	Error       string     `json:"error,omitempty"`
	Data        any        `json:"data,omitempty"`
}

// Duration is the run length, or zero before completion.
func (r *Result) Duration() time.Duration {
	if r.StartedAt == nil || r.CompletedAt == nil {
		return 0
	}
	return r.CompletedAt.Sub(*r.StartedAt)
}

// Runner executes jobs into Results. Run IDs default to "run_" + UUIDv7.
type Runner struct {
	Now    func() time.Time
	NewID  idgen.Generator
	Logger *slog.Logger
}

// Run executes j once. It always returns a terminal Result.
func (rn Runner) Run(ctx context.Context, j Job, trigger Trigger, params Params) (res *Result) {
	now := rn.Now
	if now == nil {
		now = time.Now
	}
	logger := rn.Logger
	if logger == nil {
		logger = slog.Default()
	}

	newID := rn.NewID
	if newID == nil {
		newID = idgen.Prefixed("run_", idgen.Default)
	}

	res = &Result{RunID: newID(), JobName: j.Name(), Trigger: trigger, Status: StatusPending}
	logger = logger.With("run_id", res.RunID)
	started := now()
	res.StartedAt = &started
	res.Status = StatusRunning
	logger.Info("jobs: started", "job", res.JobName, "trigger", trigger)

	finish := func(status Status, msg string) {
		done := now()
		res.CompletedAt = &done
		res.Status = status
		if status == StatusFailed {
			res.Error = msg
			logger.Error("jobs: failed", "job", res.JobName, "error", msg, "duration", res.Duration())
			return
		}
		logger.Info("jobs: completed", "job", res.JobName, "message", res.Message, "duration", res.Duration())
	}

	defer func() {
		if p := recover(); p != nil {
			finish(StatusFailed, fmt.Sprintf("panic: %v", p))
		}
	}()

	out, err := j.Execute(ctx, params)
	res.Message = out.Message
	res.Data = out.Data
	if err != nil {
		finish(StatusFailed, err.Error())
		return res
	}
	finish(StatusCompleted, "")
	return res
}
