package executor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/conveyor-labs/conveyor-go/internal/artifacts"
	"github.com/conveyor-labs/conveyor-go/internal/domain"
)

func newTestExecutor(t *testing.T, opts ...ShellOption) *ShellExecutor {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell executor tests require a POSIX shell")
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	exec, err := NewShellExecutor(t.TempDir(), logger, opts...)
	if err != nil {
		t.Fatalf("NewShellExecutor() err=%v", err)
	}
	return exec
}

func testTrigger() domain.TriggerContext {
	return domain.TriggerContext{Ref: "v1.4.0", Commit: "abc123", Tag: true}
}

func TestRunCapturesOutputAndExitCode(t *testing.T) {
	exec := newTestExecutor(t)
	job := domain.JobSpec{
		Name:   "unit",
		Stage:  "test",
		Script: []string{"echo first line", "echo second line"},
	}

	result, err := exec.Run(context.Background(), job, testTrigger(), nil)
	if err != nil {
		t.Fatalf("Run() err=%v", err)
	}
	if result.ExitCode != 0 {
		t.Fatalf("exit=%d, want 0", result.ExitCode)
	}
	if !strings.Contains(result.Output, "first line") || !strings.Contains(result.Output, "second line") {
		t.Fatalf("output missing lines: %q", result.Output)
	}
}

func TestRunStopsAtFirstFailure(t *testing.T) {
	exec := newTestExecutor(t)
	job := domain.JobSpec{
		Name:   "unit",
		Stage:  "test",
		Script: []string{"echo before", "exit 3", "echo after"},
	}

	result, err := exec.Run(context.Background(), job, testTrigger(), nil)
	var execErr *ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("err=%v, want ExecutionError", err)
	}
	if result.ExitCode != 3 {
		t.Fatalf("exit=%d, want 3", result.ExitCode)
	}
	if strings.Contains(result.Output, "after") {
		t.Fatalf("later commands ran after failure: %q", result.Output)
	}
}

func TestRunExportsVariablesAndTrigger(t *testing.T) {
	exec := newTestExecutor(t)
	job := domain.JobSpec{
		Name:      "unit",
		Stage:     "test",
		Script:    []string{"echo tag=$CONVEYOR_TAG python=$PYTHON_TAG job=$CONVEYOR_JOB_NAME"},
		Variables: map[string]string{"PYTHON_TAG": "cp37-cp37m"},
	}

	result, err := exec.Run(context.Background(), job, testTrigger(), nil)
	if err != nil {
		t.Fatalf("Run() err=%v", err)
	}
	if !strings.Contains(result.Output, "tag=v1.4.0") {
		t.Fatalf("tag not exported: %q", result.Output)
	}
	if !strings.Contains(result.Output, "python=cp37-cp37m") {
		t.Fatalf("variable not exported: %q", result.Output)
	}
	if !strings.Contains(result.Output, "job=unit") {
		t.Fatalf("job name not exported: %q", result.Output)
	}
}

func TestRunStagesDependencyArtifacts(t *testing.T) {
	exec := newTestExecutor(t)
	job := domain.JobSpec{
		Name:   "integration",
		Stage:  "test",
		Script: []string{"cat wheelhouse/pkg.whl"},
	}
	inputs := []Input{{
		Job:   "wheel",
		Files: []artifacts.File{{Path: "wheelhouse/pkg.whl", Body: []byte("wheel payload")}},
	}}

	result, err := exec.Run(context.Background(), job, testTrigger(), inputs)
	if err != nil {
		t.Fatalf("Run() err=%v", err)
	}
	if !strings.Contains(result.Output, "wheel payload") {
		t.Fatalf("staged input unreadable: %q", result.Output)
	}
}

func TestRunCollectsArtifacts(t *testing.T) {
	exec := newTestExecutor(t)
	job := domain.JobSpec{
		Name:   "wheel",
		Stage:  "dist",
		Script: []string{"mkdir wheelhouse", "echo payload > wheelhouse/pkg.whl"},
		Artifacts: domain.ArtifactSpec{
			Paths:    []string{"wheelhouse/*.whl"},
			ExpireIn: time.Hour,
		},
	}

	result, err := exec.Run(context.Background(), job, testTrigger(), nil)
	if err != nil {
		t.Fatalf("Run() err=%v", err)
	}
	if len(result.Files) != 1 {
		t.Fatalf("files=%d, want 1", len(result.Files))
	}
	if result.Files[0].Path != "wheelhouse/pkg.whl" {
		t.Fatalf("path=%q, want wheelhouse/pkg.whl", result.Files[0].Path)
	}
	if !strings.Contains(string(result.Files[0].Body), "payload") {
		t.Fatalf("body=%q", result.Files[0].Body)
	}
}

func TestRunFailsOnEmptyArtifactGlob(t *testing.T) {
	exec := newTestExecutor(t)
	job := domain.JobSpec{
		Name:   "wheel",
		Stage:  "dist",
		Script: []string{"true"},
		Artifacts: domain.ArtifactSpec{
			Paths:    []string{"wheelhouse/*.whl"},
			ExpireIn: time.Hour,
		},
	}

	_, err := exec.Run(context.Background(), job, testTrigger(), nil)
	var execErr *ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("err=%v, want ExecutionError", err)
	}
	if !strings.Contains(execErr.Reason, "matched no files") {
		t.Fatalf("reason=%q", execErr.Reason)
	}
}

func TestRunAllowsEmptyOptionalArtifactGlob(t *testing.T) {
	exec := newTestExecutor(t)
	job := domain.JobSpec{
		Name:   "wheel",
		Stage:  "dist",
		Script: []string{"true"},
		Artifacts: domain.ArtifactSpec{
			Paths:    []string{"wheelhouse/*.whl"},
			ExpireIn: time.Hour,
			Optional: true,
		},
	}

	result, err := exec.Run(context.Background(), job, testTrigger(), nil)
	if err != nil {
		t.Fatalf("Run() err=%v", err)
	}
	if len(result.Files) != 0 {
		t.Fatalf("files=%d, want 0", len(result.Files))
	}
}

func TestRunHonorsCancellation(t *testing.T) {
	exec := newTestExecutor(t)
	job := domain.JobSpec{
		Name:   "slow",
		Stage:  "test",
		Script: []string{"sleep 30"},
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	_, err := exec.Run(ctx, job, testTrigger(), nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v, want context.Canceled", err)
	}
}

func TestRunRetriesInfrastructureFailures(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	// a file path as workspace base makes MkdirAll fail on every attempt
	base := t.TempDir() + "/occupied"
	if err := os.WriteFile(base, []byte("x"), 0o644); err != nil {
		t.Fatalf("setup: %v", err)
	}
	exec, err := NewShellExecutor(base, logger, WithMaxAttempts(3), WithBackoff(time.Millisecond))
	if err != nil {
		t.Fatalf("NewShellExecutor() err=%v", err)
	}

	slept := 0
	exec.sleep = func(ctx context.Context, d time.Duration) error {
		slept++
		return nil
	}

	job := domain.JobSpec{Name: "unit", Stage: "test", Script: []string{"true"}}
	_, err = exec.Run(context.Background(), job, testTrigger(), nil)
	var infraErr *InfrastructureError
	if !errors.As(err, &infraErr) {
		t.Fatalf("err=%v, want InfrastructureError", err)
	}
	if slept != 2 {
		t.Fatalf("backoff sleeps=%d, want 2", slept)
	}
}
