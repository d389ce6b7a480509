package repo

import (
	"context"
	"errors"
	"time"

	"github.com/conveyor-labs/conveyor-go/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("resource not found")

type RunFilter struct {
	Status domain.RunStatus
	Ref    string
	Limit  int
}

// RunRepository manages pipeline run state with immutable identity.
type RunRepository interface {
	CreateRun(ctx context.Context, run domain.PipelineRun) error
	GetRun(ctx context.Context, id string) (domain.PipelineRun, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]domain.PipelineRun, error)
	UpdateRunStatus(ctx context.Context, id string, status domain.RunStatus, endedAt *time.Time) error
}

// JobResultRepository records per-job outcomes. Results are written through
// on every job state change, keyed by run id and job name.
type JobResultRepository interface {
	UpsertJobResult(ctx context.Context, result domain.JobResult) error
	ListJobResults(ctx context.Context, runID string) ([]domain.JobResult, error)
}
