package orchestrator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/conveyor-labs/conveyor-go/internal/artifacts"
	"github.com/conveyor-labs/conveyor-go/internal/domain"
	"github.com/conveyor-labs/conveyor-go/internal/executor"
	"github.com/conveyor-labs/conveyor-go/internal/pipeline/graph"
	"github.com/conveyor-labs/conveyor-go/internal/repo"
	"github.com/conveyor-labs/conveyor-go/internal/repo/memory"
	"github.com/conveyor-labs/conveyor-go/internal/scheduler"
	"github.com/conveyor-labs/conveyor-go/internal/storage/objectstore"
)

// stubExecutor succeeds instantly unless block is set, in which case it
// waits for cancellation.
type stubExecutor struct {
	block bool
}

func (s *stubExecutor) Run(ctx context.Context, _ domain.JobSpec, _ domain.TriggerContext, _ []executor.Input) (executor.Result, error) {
	if s.block {
		<-ctx.Done()
		return executor.Result{ExitCode: -1}, ctx.Err()
	}
	return executor.Result{ExitCode: 0}, nil
}

func newTestService(t *testing.T, exec executor.Executor) *Service {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	pipe := &graph.Pipeline{
		Stages: []string{"test"},
		Jobs: map[string]domain.JobSpec{
			"unit": {Name: "unit", Stage: "test", Script: []string{"run unit"}},
		},
	}
	store, err := artifacts.NewStore(objectstore.NewMemoryStore(), "artifacts", logger)
	if err != nil {
		t.Fatalf("artifacts.NewStore() err=%v", err)
	}
	results := memory.NewJobResultStore()
	sched, err := scheduler.New(pipe, exec, store, results, logger)
	if err != nil {
		t.Fatalf("scheduler.New() err=%v", err)
	}
	svc, err := NewService(logger, pipe, sched, memory.NewRunStore(), results)
	if err != nil {
		t.Fatalf("NewService() err=%v", err)
	}
	return svc
}

func awaitTerminal(t *testing.T, svc *Service, runID string) domain.PipelineRun {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		detail, err := svc.GetRun(context.Background(), runID)
		if err != nil {
			t.Fatalf("GetRun() err=%v", err)
		}
		switch detail.Run.Status {
		case domain.RunStatusSucceeded, domain.RunStatusFailed, domain.RunStatusCanceled, domain.RunStatusSkipped:
			return detail.Run
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("run %s never reached a terminal status", runID)
	return domain.PipelineRun{}
}

func TestTriggerRunsToCompletion(t *testing.T) {
	svc := newTestService(t, &stubExecutor{})

	run, err := svc.Trigger(context.Background(), domain.TriggerContext{Ref: "main", Commit: "abc123"})
	if err != nil {
		t.Fatalf("Trigger() err=%v", err)
	}
	if run.ID == "" || run.Status != domain.RunStatusPending {
		t.Fatalf("run=%+v, want pending with id", run)
	}

	final := awaitTerminal(t, svc, run.ID)
	if final.Status != domain.RunStatusSucceeded {
		t.Fatalf("status=%s, want succeeded", final.Status)
	}
	if final.EndedAt == nil {
		t.Fatalf("ended_at not recorded")
	}

	detail, err := svc.GetRun(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("GetRun() err=%v", err)
	}
	if len(detail.Jobs) != 1 || detail.Jobs[0].Status != domain.JobStatusSucceeded {
		t.Fatalf("jobs=%+v", detail.Jobs)
	}
}

func TestTriggerRejectsInvalidContext(t *testing.T) {
	svc := newTestService(t, &stubExecutor{})
	if _, err := svc.Trigger(context.Background(), domain.TriggerContext{}); err == nil {
		t.Fatalf("expected validation error for empty trigger")
	}
}

func TestCancelRun(t *testing.T) {
	svc := newTestService(t, &stubExecutor{block: true})

	run, err := svc.Trigger(context.Background(), domain.TriggerContext{Ref: "main", Commit: "abc123"})
	if err != nil {
		t.Fatalf("Trigger() err=%v", err)
	}

	// wait for the job to be admitted before canceling
	time.Sleep(50 * time.Millisecond)
	if err := svc.CancelRun(context.Background(), run.ID); err != nil {
		t.Fatalf("CancelRun() err=%v", err)
	}

	final := awaitTerminal(t, svc, run.ID)
	if final.Status != domain.RunStatusCanceled {
		t.Fatalf("status=%s, want canceled", final.Status)
	}

	if err := svc.CancelRun(context.Background(), run.ID); !errors.Is(err, ErrRunFinished) {
		t.Fatalf("err=%v, want ErrRunFinished", err)
	}
}

func TestCancelUnknownRun(t *testing.T) {
	svc := newTestService(t, &stubExecutor{})
	if err := svc.CancelRun(context.Background(), "no-such-run"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("err=%v, want ErrNotFound", err)
	}
}

func TestShutdownWaitsForRuns(t *testing.T) {
	svc := newTestService(t, &stubExecutor{})

	if _, err := svc.Trigger(context.Background(), domain.TriggerContext{Ref: "main", Commit: "abc123"}); err != nil {
		t.Fatalf("Trigger() err=%v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := svc.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() err=%v", err)
	}
}
