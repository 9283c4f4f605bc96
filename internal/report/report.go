package report

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"firmforge/internal/engine"
)

// TaskReport is the persisted record of one task within a run.
type TaskReport struct {
	Name     string `json:"name"`
	State    string `json:"state"`
	ExitCode int    `json:"exit_code"`
	Attempts int    `json:"attempts"`

	// DurationMS is wall-clock execution time in milliseconds; zero for
	// tasks that never executed.
	DurationMS int64 `json:"duration_ms"`

	Reason string `json:"reason,omitempty"`
}

// Report is the persisted record of one run.
type Report struct {
	RunID      string       `json:"run_id"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	Targets    []string     `json:"targets"`
	Jobs       int          `json:"jobs"`
	Failed     bool         `json:"failed"`
	Tasks      []TaskReport `json:"tasks"`
}

// NewRunID returns a fresh unique run identifier.
func NewRunID() string {
	return uuid.NewString()
}

// FromSummary builds a Report out of an engine run summary. Task order
// follows the summary, which is already deterministic.
func FromSummary(runID string, targets []string, jobs int, startedAt, finishedAt time.Time, sum *engine.Summary) Report {
	tasks := make([]TaskReport, 0, len(sum.Results))
	for _, res := range sum.Results {
		tasks = append(tasks, TaskReport{
			Name:       res.Name,
			State:      string(res.State),
			ExitCode:   res.ExitCode,
			Attempts:   res.Attempts,
			DurationMS: res.Duration.Milliseconds(),
			Reason:     res.Reason,
		})
	}
	if targets == nil {
		targets = []string{}
	}
	return Report{
		RunID:      runID,
		StartedAt:  startedAt.UTC(),
		FinishedAt: finishedAt.UTC(),
		Targets:    targets,
		Jobs:       jobs,
		Failed:     sum.Failed,
		Tasks:      tasks,
	}
}

// Validate checks structural invariants before the report is persisted or
// after it is read back.
func (r Report) Validate() error {
	if strings.TrimSpace(r.RunID) == "" {
		return errors.New("run_id is required")
	}
	if r.StartedAt.IsZero() || r.FinishedAt.IsZero() {
		return errors.New("started_at and finished_at are required")
	}
	if r.FinishedAt.Before(r.StartedAt) {
		return errors.New("finished_at precedes started_at")
	}
	seen := make(map[string]struct{}, len(r.Tasks))
	for _, t := range r.Tasks {
		if strings.TrimSpace(t.Name) == "" {
			return errors.New("task name is required")
		}
		if _, dup := seen[t.Name]; dup {
			return fmt.Errorf("duplicate task %q", t.Name)
		}
		seen[t.Name] = struct{}{}
	}
	return nil
}
