// Package scheduler drives one pipeline run through its job DAG: stage by
// stage, jobs within a stage concurrently, dependency edges awaited across
// goroutines.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/conveyor-labs/conveyor-go/internal/artifacts"
	"github.com/conveyor-labs/conveyor-go/internal/domain"
	"github.com/conveyor-labs/conveyor-go/internal/executor"
	"github.com/conveyor-labs/conveyor-go/internal/pipeline/gate"
	"github.com/conveyor-labs/conveyor-go/internal/pipeline/graph"
	"github.com/conveyor-labs/conveyor-go/internal/repo"
)

// Scheduler executes runs of one materialized pipeline.
type Scheduler struct {
	pipeline  *graph.Pipeline
	executor  executor.Executor
	artifacts *artifacts.Store
	results   repo.JobResultRepository
	logger    *slog.Logger

	now func() time.Time
}

func New(pipeline *graph.Pipeline, exec executor.Executor, store *artifacts.Store, results repo.JobResultRepository, logger *slog.Logger) (*Scheduler, error) {
	if pipeline == nil {
		return nil, errors.New("pipeline is required")
	}
	if exec == nil {
		return nil, errors.New("executor is required")
	}
	if store == nil {
		return nil, errors.New("artifact store is required")
	}
	if results == nil {
		return nil, errors.New("job result repository is required")
	}
	if logger == nil {
		return nil, errors.New("logger is required")
	}
	return &Scheduler{
		pipeline:  pipeline,
		executor:  exec,
		artifacts: store,
		results:   results,
		logger:    logger,
		now:       time.Now,
	}, nil
}

// jobState is the per-run bookkeeping for one job. The done channel closes
// exactly once, when the job reaches a terminal status; dependents block on
// it. result is written by the owning goroutine only, read by others after
// done is closed.
type jobState struct {
	spec   domain.JobSpec
	result domain.JobResult
	done   chan struct{}
}

// Execute runs the whole pipeline for one triggered run and returns the
// derived run status. Cancellation via ctx stops running scripts, skips
// everything not yet admitted, and yields a canceled status.
func (s *Scheduler) Execute(ctx context.Context, run domain.PipelineRun) (domain.RunStatus, error) {
	if err := run.Validate(); err != nil {
		return "", err
	}

	states := make(map[string]*jobState, len(s.pipeline.Jobs))
	for _, name := range s.pipeline.JobNames() {
		spec := s.pipeline.Jobs[name]
		state := &jobState{
			spec: spec,
			result: domain.JobResult{
				RunID:   run.ID,
				JobName: name,
				Stage:   spec.Stage,
				Status:  domain.JobStatusPending,
			},
			done: make(chan struct{}),
		}
		states[name] = state
		s.persist(ctx, state.result)
	}

	halted := false
	for _, stage := range s.pipeline.Stages {
		stageJobs := s.pipeline.JobsInStage(stage)
		if len(stageJobs) == 0 {
			continue
		}
		if halted || ctx.Err() != nil {
			for _, spec := range stageJobs {
				s.finish(ctx, states[spec.Name], domain.JobStatusSkipped, haltReason(ctx))
			}
			continue
		}

		var wg sync.WaitGroup
		for _, spec := range stageJobs {
			state := states[spec.Name]

			allowed, err := gate.Allows(spec.Only, run.Trigger)
			if err != nil {
				s.finish(ctx, state, domain.JobStatusFailed, fmt.Sprintf("gate evaluation: %v", err))
				continue
			}
			if !allowed {
				s.finish(ctx, state, domain.JobStatusSkipped, fmt.Sprintf("ref %q did not match only rules", run.Trigger.Ref))
				continue
			}

			state.result.Status = domain.JobStatusAdmitted
			s.persist(ctx, state.result)

			wg.Add(1)
			go func(state *jobState) {
				defer wg.Done()
				s.runJob(ctx, run, state, states)
			}(state)
		}
		wg.Wait()

		for _, spec := range stageJobs {
			result := states[spec.Name].result
			if result.Status == domain.JobStatusFailed && !spec.AllowFailure {
				halted = true
			}
		}
	}

	// failed allow_failure jobs stay failed in their own record but do not
	// drag the run status down
	results := collectResults(states)
	for i := range results {
		if results[i].Status == domain.JobStatusFailed && states[results[i].JobName].spec.AllowFailure {
			results[i].Status = domain.JobStatusSkipped
		}
	}
	status := domain.DeriveRunStatus(results)
	if ctx.Err() != nil {
		status = domain.RunStatusCanceled
	}
	return status, nil
}

func (s *Scheduler) runJob(ctx context.Context, run domain.PipelineRun, state *jobState, states map[string]*jobState) {
	spec := state.spec

	for _, dep := range spec.Dependencies {
		select {
		case <-states[dep].done:
		case <-ctx.Done():
			s.finish(ctx, state, domain.JobStatusSkipped, "run canceled")
			return
		}
	}

	for _, dep := range spec.Dependencies {
		depState := states[dep]
		switch depState.result.Status {
		case domain.JobStatusSucceeded:
		case domain.JobStatusFailed:
			if !depState.spec.AllowFailure {
				s.finish(ctx, state, domain.JobStatusSkipped, fmt.Sprintf("dependency %q failed", dep))
				return
			}
		default:
			s.finish(ctx, state, domain.JobStatusSkipped, fmt.Sprintf("dependency %q was %s", dep, depState.result.Status))
			return
		}
	}

	inputs, holds, err := s.stageInputs(run.ID, spec, states)
	defer func() { releaseAll(holds) }()
	if err != nil {
		s.finish(ctx, state, domain.JobStatusFailed, fmt.Sprintf("stage dependency artifacts: %v", err))
		return
	}

	started := s.now().UTC()
	state.result.Status = domain.JobStatusRunning
	state.result.StartedAt = &started
	s.persist(ctx, state.result)
	s.logger.Info("job started", "run_id", run.ID, "job", spec.Name, "stage", spec.Stage)

	result, execErr := s.executor.Run(ctx, spec, run.Trigger, inputs)
	state.result.ExitCode = result.ExitCode
	state.result.Output = result.Output

	if ctx.Err() != nil {
		s.finish(ctx, state, domain.JobStatusFailed, "run canceled")
		return
	}
	if execErr != nil {
		s.finish(ctx, state, domain.JobStatusFailed, execErr.Error())
		return
	}

	if len(result.Files) > 0 {
		if _, err := s.artifacts.Put(ctx, run.ID, spec.Name, result.Files, spec.Artifacts.ExpireIn); err != nil {
			s.finish(ctx, state, domain.JobStatusFailed, fmt.Sprintf("promote artifacts: %v", err))
			return
		}
	}
	s.finish(ctx, state, domain.JobStatusSucceeded, "")
}

// stageInputs acquires holds on every dependency artifact set and fetches the
// files. Holds span the executor invocation so the reaper cannot reclaim an
// input set mid-script.
func (s *Scheduler) stageInputs(runID string, spec domain.JobSpec, states map[string]*jobState) ([]executor.Input, []*artifacts.Hold, error) {
	var inputs []executor.Input
	var holds []*artifacts.Hold
	for _, dep := range spec.Dependencies {
		if !states[dep].spec.HasArtifacts() {
			continue
		}
		hold, err := s.artifacts.Hold(runID, dep)
		if errors.Is(err, artifacts.ErrNotFound) {
			// an allow_failure dependency may have produced nothing
			continue
		}
		if err != nil {
			return nil, holds, err
		}
		holds = append(holds, hold)

		files, err := s.artifacts.Fetch(context.Background(), runID, dep)
		if err != nil {
			return nil, holds, err
		}
		inputs = append(inputs, executor.Input{Job: dep, Files: files})
	}
	return inputs, holds, nil
}

func (s *Scheduler) finish(ctx context.Context, state *jobState, status domain.JobStatus, reason string) {
	finished := s.now().UTC()
	state.result.Status = status
	state.result.Reason = reason
	state.result.FinishedAt = &finished
	s.persist(ctx, state.result)
	close(state.done)
	s.logger.Info("job finished",
		"run_id", state.result.RunID, "job", state.result.JobName,
		"status", string(status), "reason", reason)
}

func (s *Scheduler) persist(ctx context.Context, result domain.JobResult) {
	if err := s.results.UpsertJobResult(context.WithoutCancel(ctx), result.Clone()); err != nil {
		s.logger.Error("persist job result failed",
			"run_id", result.RunID, "job", result.JobName, "error", err)
	}
}

func collectResults(states map[string]*jobState) []domain.JobResult {
	out := make([]domain.JobResult, 0, len(states))
	for _, state := range states {
		out = append(out, state.result)
	}
	return out
}

func releaseAll(holds []*artifacts.Hold) {
	for _, hold := range holds {
		hold.Release()
	}
}

func haltReason(ctx context.Context) string {
	if ctx.Err() != nil {
		return "run canceled"
	}
	return "earlier stage failed"
}
