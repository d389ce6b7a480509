package executor

import (
	"context"
	"fmt"

	"github.com/conveyor-labs/conveyor-go/internal/artifacts"
	"github.com/conveyor-labs/conveyor-go/internal/domain"
)

// Input is one dependency's artifact set, staged into the job workspace
// before the script runs.
type Input struct {
	Job   string
	Files []artifacts.File
}

// Result is what a finished script run produced. Files holds the collected
// artifact outputs and is only populated on success.
type Result struct {
	ExitCode int
	Output   string
	Files    []artifacts.File
}

// Executor runs one job as an isolated unit of work.
type Executor interface {
	Run(ctx context.Context, job domain.JobSpec, trig domain.TriggerContext, inputs []Input) (Result, error)
}

// ExecutionError is a script-level failure: non-zero exit, or declared
// artifacts missing after a clean exit. Never retried.
type ExecutionError struct {
	Job      string
	ExitCode int
	Reason   string
}

func (e *ExecutionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("job %q failed: %s", e.Job, e.Reason)
	}
	return fmt.Sprintf("job %q failed with exit code %d", e.Job, e.ExitCode)
}

// InfrastructureError is a transient environment failure (workspace or
// backend unavailable). Retried a bounded number of times with backoff
// before the job is marked failed.
type InfrastructureError struct {
	Op  string
	Err error
}

func (e *InfrastructureError) Error() string {
	return fmt.Sprintf("infrastructure failure during %s: %v", e.Op, e.Err)
}

func (e *InfrastructureError) Unwrap() error {
	return e.Err
}
