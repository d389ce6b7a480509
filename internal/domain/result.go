package domain

import "time"

// JobStatus is the scheduler state of one job within a run.
type JobStatus string

const (
	JobStatusPending  JobStatus = "pending"
	JobStatusGated    JobStatus = "gated"
	JobStatusAdmitted JobStatus = "admitted"
	JobStatusRunning  JobStatus = "running"

	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
	JobStatusSkipped   JobStatus = "skipped"
)

// Terminal reports whether the status can no longer change.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusSucceeded, JobStatusFailed, JobStatusSkipped:
		return true
	}
	return false
}

// JobResult records the outcome of one job. It is created when the scheduler
// admits the job, mutated only by the goroutine running that job, and
// immutable once terminal.
type JobResult struct {
	RunID      string
	JobName    string
	Stage      string
	Status     JobStatus
	ExitCode   int
	Output     string
	Reason     string
	StartedAt  *time.Time
	FinishedAt *time.Time
}

func (r JobResult) Clone() JobResult {
	out := r
	if r.StartedAt != nil {
		t := *r.StartedAt
		out.StartedAt = &t
	}
	if r.FinishedAt != nil {
		t := *r.FinishedAt
		out.FinishedAt = &t
	}
	return out
}
