// Package memory provides in-process repository implementations used by the
// development persistence mode and by tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/conveyor-labs/conveyor-go/internal/domain"
	"github.com/conveyor-labs/conveyor-go/internal/repo"
)

type RunStore struct {
	mu   sync.RWMutex
	runs map[string]domain.PipelineRun
}

func NewRunStore() *RunStore {
	return &RunStore{runs: make(map[string]domain.PipelineRun)}
}

func (s *RunStore) CreateRun(_ context.Context, run domain.PipelineRun) error {
	if err := run.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; exists {
		return fmt.Errorf("run %s already exists", run.ID)
	}
	s.runs[run.ID] = run
	return nil
}

func (s *RunStore) GetRun(_ context.Context, id string) (domain.PipelineRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[strings.TrimSpace(id)]
	if !ok {
		return domain.PipelineRun{}, repo.ErrNotFound
	}
	return run, nil
}

func (s *RunStore) ListRuns(_ context.Context, filter repo.RunFilter) ([]domain.PipelineRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	runs := make([]domain.PipelineRun, 0, len(s.runs))
	for _, run := range s.runs {
		if filter.Status != "" && run.Status != filter.Status {
			continue
		}
		if filter.Ref != "" && run.Trigger.Ref != filter.Ref {
			continue
		}
		runs = append(runs, run)
	}
	sort.Slice(runs, func(i, j int) bool {
		if runs[i].CreatedAt.Equal(runs[j].CreatedAt) {
			return runs[i].ID < runs[j].ID
		}
		return runs[i].CreatedAt.After(runs[j].CreatedAt)
	})
	if filter.Limit > 0 && len(runs) > filter.Limit {
		runs = runs[:filter.Limit]
	}
	return runs, nil
}

func (s *RunStore) UpdateRunStatus(_ context.Context, id string, status domain.RunStatus, endedAt *time.Time) error {
	if strings.TrimSpace(string(status)) == "" {
		return fmt.Errorf("status is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[strings.TrimSpace(id)]
	if !ok {
		return repo.ErrNotFound
	}
	run.Status = status
	run.EndedAt = endedAt
	s.runs[run.ID] = run
	return nil
}

type JobResultStore struct {
	mu      sync.RWMutex
	results map[string]map[string]domain.JobResult
}

func NewJobResultStore() *JobResultStore {
	return &JobResultStore{results: make(map[string]map[string]domain.JobResult)}
}

func (s *JobResultStore) UpsertJobResult(_ context.Context, result domain.JobResult) error {
	runID := strings.TrimSpace(result.RunID)
	jobName := strings.TrimSpace(result.JobName)
	if runID == "" {
		return fmt.Errorf("run id is required")
	}
	if jobName == "" {
		return fmt.Errorf("job name is required")
	}
	if strings.TrimSpace(string(result.Status)) == "" {
		return fmt.Errorf("status is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	byJob, ok := s.results[runID]
	if !ok {
		byJob = make(map[string]domain.JobResult)
		s.results[runID] = byJob
	}
	byJob[jobName] = result.Clone()
	return nil
}

func (s *JobResultStore) ListJobResults(_ context.Context, runID string) ([]domain.JobResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byJob := s.results[strings.TrimSpace(runID)]
	results := make([]domain.JobResult, 0, len(byJob))
	for _, result := range byJob {
		results = append(results, result.Clone())
	}
	sort.Slice(results, func(i, j int) bool {
		left, right := results[i], results[j]
		switch {
		case left.StartedAt == nil && right.StartedAt == nil:
			return left.JobName < right.JobName
		case left.StartedAt == nil:
			return false
		case right.StartedAt == nil:
			return true
		case left.StartedAt.Equal(*right.StartedAt):
			return left.JobName < right.JobName
		default:
			return left.StartedAt.Before(*right.StartedAt)
		}
	})
	return results, nil
}
