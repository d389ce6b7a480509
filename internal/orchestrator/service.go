// Package orchestrator owns the run lifecycle: triggering a pipeline run,
// tracking its progress, and canceling it. One Service instance serves one
// loaded pipeline definition.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/conveyor-labs/conveyor-go/internal/domain"
	"github.com/conveyor-labs/conveyor-go/internal/pipeline/graph"
	"github.com/conveyor-labs/conveyor-go/internal/repo"
	"github.com/conveyor-labs/conveyor-go/internal/scheduler"
)

// ErrRunFinished is returned when canceling a run that already reached a
// terminal status.
var ErrRunFinished = errors.New("run already finished")

// RunDetail pairs a run with its per-job results.
type RunDetail struct {
	Run  domain.PipelineRun
	Jobs []domain.JobResult
}

type Service struct {
	logger   *slog.Logger
	pipeline *graph.Pipeline
	sched    *scheduler.Scheduler
	runs     repo.RunRepository
	results  repo.JobResultRepository

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup

	now   func() time.Time
	newID func() string
}

func NewService(logger *slog.Logger, pipeline *graph.Pipeline, sched *scheduler.Scheduler, runs repo.RunRepository, results repo.JobResultRepository) (*Service, error) {
	if logger == nil {
		return nil, errors.New("logger is required")
	}
	if pipeline == nil {
		return nil, errors.New("pipeline is required")
	}
	if sched == nil {
		return nil, errors.New("scheduler is required")
	}
	if runs == nil {
		return nil, errors.New("run repository is required")
	}
	if results == nil {
		return nil, errors.New("job result repository is required")
	}
	return &Service{
		logger:   logger,
		pipeline: pipeline,
		sched:    sched,
		runs:     runs,
		results:  results,
		cancels:  make(map[string]context.CancelFunc),
		now:      time.Now,
		newID:    uuid.NewString,
	}, nil
}

// Pipeline returns the loaded definition DAG.
func (s *Service) Pipeline() *graph.Pipeline {
	return s.pipeline
}

// Trigger creates a new run and starts executing it in the background. The
// returned run is a snapshot taken at creation.
func (s *Service) Trigger(ctx context.Context, trig domain.TriggerContext) (domain.PipelineRun, error) {
	if err := trig.Validate(); err != nil {
		return domain.PipelineRun{}, err
	}

	run := domain.PipelineRun{
		ID:        s.newID(),
		Trigger:   trig,
		Status:    domain.RunStatusPending,
		CreatedAt: s.now().UTC(),
	}
	if err := s.runs.CreateRun(ctx, run); err != nil {
		return domain.PipelineRun{}, fmt.Errorf("create run: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.mu.Lock()
	s.cancels[run.ID] = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go s.execute(runCtx, run)

	s.logger.Info("run triggered", "run_id", run.ID, "ref", trig.Ref, "commit", trig.Commit, "tag", trig.Tag)
	return run, nil
}

func (s *Service) execute(ctx context.Context, run domain.PipelineRun) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		if cancel, ok := s.cancels[run.ID]; ok {
			cancel()
			delete(s.cancels, run.ID)
		}
		s.mu.Unlock()
	}()

	if err := s.runs.UpdateRunStatus(context.WithoutCancel(ctx), run.ID, domain.RunStatusRunning, nil); err != nil {
		s.logger.Error("mark run running failed", "run_id", run.ID, "error", err)
	}
	run.Status = domain.RunStatusRunning

	status, err := s.sched.Execute(ctx, run)
	if err != nil {
		s.logger.Error("run execution failed", "run_id", run.ID, "error", err)
		status = domain.RunStatusFailed
	}

	ended := s.now().UTC()
	if err := s.runs.UpdateRunStatus(context.WithoutCancel(ctx), run.ID, status, &ended); err != nil {
		s.logger.Error("record run status failed", "run_id", run.ID, "status", string(status), "error", err)
	}
	s.logger.Info("run finished", "run_id", run.ID, "status", string(status))
}

// GetRun returns one run with its job results.
func (s *Service) GetRun(ctx context.Context, id string) (RunDetail, error) {
	run, err := s.runs.GetRun(ctx, id)
	if err != nil {
		return RunDetail{}, err
	}
	jobs, err := s.results.ListJobResults(ctx, id)
	if err != nil {
		return RunDetail{}, err
	}
	return RunDetail{Run: run, Jobs: jobs}, nil
}

// ListRuns returns runs matching the filter, newest first.
func (s *Service) ListRuns(ctx context.Context, filter repo.RunFilter) ([]domain.PipelineRun, error) {
	return s.runs.ListRuns(ctx, filter)
}

// CancelRun stops a pending or running run. Jobs already running are
// signalled, everything not yet admitted is skipped.
func (s *Service) CancelRun(ctx context.Context, id string) error {
	run, err := s.runs.GetRun(ctx, id)
	if err != nil {
		return err
	}

	s.mu.Lock()
	cancel, active := s.cancels[run.ID]
	s.mu.Unlock()
	if !active {
		return ErrRunFinished
	}
	cancel()
	s.logger.Info("run canceled", "run_id", run.ID)
	return nil
}

// Shutdown waits for in-flight runs to settle or for ctx to expire. Runs are
// not canceled; callers cancel explicitly if they want a hard stop.
func (s *Service) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
