package domain

import (
	"errors"
	"strings"
	"time"
)

// RunStatus is the aggregate status of a pipeline run.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCanceled  RunStatus = "canceled"
	RunStatusSkipped   RunStatus = "skipped"
)

// PipelineRun is one execution instance triggered by a ref and commit. It
// exclusively owns the job results and artifacts created within it; nothing
// is shared across runs.
type PipelineRun struct {
	ID        string
	Trigger   TriggerContext
	Status    RunStatus
	CreatedAt time.Time
	EndedAt   *time.Time
}

func (r PipelineRun) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return errors.New("run id is required")
	}
	if err := r.Trigger.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(string(r.Status)) == "" {
		return errors.New("run status is required")
	}
	return nil
}

// DeriveRunStatus computes the aggregate run status: the worst status among
// all non-skipped jobs. An all-skipped run is RunStatusSkipped.
func DeriveRunStatus(results []JobResult) RunStatus {
	if len(results) == 0 {
		return RunStatusSkipped
	}

	failed := false
	running := false
	pending := false
	succeeded := false
	for _, res := range results {
		switch res.Status {
		case JobStatusFailed:
			failed = true
		case JobStatusRunning, JobStatusAdmitted:
			running = true
		case JobStatusPending, JobStatusGated:
			pending = true
		case JobStatusSucceeded:
			succeeded = true
		}
	}

	switch {
	case running:
		return RunStatusRunning
	case pending:
		if failed {
			return RunStatusRunning
		}
		return RunStatusPending
	case failed:
		return RunStatusFailed
	case succeeded:
		return RunStatusSucceeded
	default:
		return RunStatusSkipped
	}
}
