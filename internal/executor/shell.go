package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/conveyor-labs/conveyor-go/internal/artifacts"
	"github.com/conveyor-labs/conveyor-go/internal/domain"
)

const (
	defaultShell       = "/bin/sh"
	defaultMaxAttempts = 3
	defaultBackoff     = 2 * time.Second
)

// ShellExecutor runs job scripts through the local shell, one fresh
// workspace directory per job. The `image` field of a job is recorded
// placement metadata for an external backend and is not interpreted here.
type ShellExecutor struct {
	shell       string
	baseDir     string
	logger      *slog.Logger
	maxAttempts int
	backoff     time.Duration

	sleep func(ctx context.Context, d time.Duration) error
}

type ShellOption func(*ShellExecutor)

func WithShell(shell string) ShellOption {
	return func(e *ShellExecutor) { e.shell = shell }
}

func WithMaxAttempts(n int) ShellOption {
	return func(e *ShellExecutor) { e.maxAttempts = n }
}

func WithBackoff(d time.Duration) ShellOption {
	return func(e *ShellExecutor) { e.backoff = d }
}

func NewShellExecutor(baseDir string, logger *slog.Logger, opts ...ShellOption) (*ShellExecutor, error) {
	baseDir = strings.TrimSpace(baseDir)
	if baseDir == "" {
		return nil, errors.New("workspace base dir is required")
	}
	if logger == nil {
		return nil, errors.New("logger is required")
	}
	e := &ShellExecutor{
		shell:       defaultShell,
		baseDir:     baseDir,
		logger:      logger,
		maxAttempts: defaultMaxAttempts,
		backoff:     defaultBackoff,
		sleep:       sleepCtx,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.maxAttempts < 1 {
		e.maxAttempts = 1
	}
	return e, nil
}

// Run executes the job script sequentially in a fresh workspace. Transient
// workspace failures are retried with backoff; script failures are not.
func (e *ShellExecutor) Run(ctx context.Context, job domain.JobSpec, trig domain.TriggerContext, inputs []Input) (Result, error) {
	var lastErr error
	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		result, err := e.runOnce(ctx, job, trig, inputs)

		var infraErr *InfrastructureError
		if err == nil || !errors.As(err, &infraErr) {
			return result, err
		}

		lastErr = err
		e.logger.Warn("job attempt hit infrastructure failure",
			"job", job.Name, "attempt", attempt, "error", err)
		if attempt == e.maxAttempts {
			break
		}
		if sleepErr := e.sleep(ctx, e.backoff*time.Duration(attempt)); sleepErr != nil {
			return Result{ExitCode: -1}, sleepErr
		}
	}
	return Result{ExitCode: -1}, lastErr
}

func (e *ShellExecutor) runOnce(ctx context.Context, job domain.JobSpec, trig domain.TriggerContext, inputs []Input) (Result, error) {
	if err := os.MkdirAll(e.baseDir, 0o755); err != nil {
		return Result{}, &InfrastructureError{Op: "workspace setup", Err: err}
	}
	workspace, err := os.MkdirTemp(e.baseDir, "job-")
	if err != nil {
		return Result{}, &InfrastructureError{Op: "workspace setup", Err: err}
	}
	defer os.RemoveAll(workspace)

	if err := stageInputs(workspace, inputs); err != nil {
		return Result{}, &InfrastructureError{Op: "artifact staging", Err: err}
	}

	env := jobEnv(job, trig)
	var output strings.Builder
	for _, command := range job.Script {
		cmd := exec.CommandContext(ctx, e.shell, "-c", command)
		cmd.Dir = workspace
		cmd.Env = env

		out, err := cmd.CombinedOutput()
		output.Write(out)
		if err != nil {
			if ctx.Err() != nil {
				return Result{ExitCode: -1, Output: output.String()}, ctx.Err()
			}
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				code := exitErr.ExitCode()
				return Result{ExitCode: code, Output: output.String()},
					&ExecutionError{Job: job.Name, ExitCode: code}
			}
			return Result{ExitCode: -1, Output: output.String()},
				&InfrastructureError{Op: "script execution", Err: err}
		}
	}

	files, err := collectArtifacts(workspace, job)
	if err != nil {
		return Result{ExitCode: 0, Output: output.String()}, err
	}
	return Result{ExitCode: 0, Output: output.String(), Files: files}, nil
}

func stageInputs(workspace string, inputs []Input) error {
	for _, input := range inputs {
		for _, file := range input.Files {
			dest := filepath.Join(workspace, filepath.FromSlash(file.Path))
			if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
				return err
			}
			if err := os.WriteFile(dest, file.Body, 0o644); err != nil {
				return err
			}
		}
	}
	return nil
}

func jobEnv(job domain.JobSpec, trig domain.TriggerContext) []string {
	env := []string{
		"PATH=" + os.Getenv("PATH"),
		"HOME=" + os.Getenv("HOME"),
		"CONVEYOR_JOB_NAME=" + job.Name,
		"CONVEYOR_JOB_STAGE=" + job.Stage,
		"CONVEYOR_REF=" + trig.Ref,
		"CONVEYOR_COMMIT=" + trig.Commit,
	}
	if trig.Tag {
		env = append(env, "CONVEYOR_TAG="+trig.Ref)
	}
	for key, value := range job.Variables {
		env = append(env, key+"="+value)
	}
	return env
}

// collectArtifacts gathers files matching the declared glob patterns. A
// pattern matching nothing fails the job unless the artifact set is marked
// optional.
func collectArtifacts(workspace string, job domain.JobSpec) ([]artifacts.File, error) {
	if !job.HasArtifacts() {
		return nil, nil
	}

	var files []artifacts.File
	for _, pattern := range job.Artifacts.Paths {
		matches, err := filepath.Glob(filepath.Join(workspace, filepath.FromSlash(pattern)))
		if err != nil {
			return nil, &ExecutionError{Job: job.Name, Reason: fmt.Sprintf("invalid artifact pattern %q", pattern)}
		}
		matched := 0
		for _, match := range matches {
			info, err := os.Stat(match)
			if err != nil || info.IsDir() {
				continue
			}
			body, err := os.ReadFile(match)
			if err != nil {
				return nil, &InfrastructureError{Op: "artifact collection", Err: err}
			}
			rel, err := filepath.Rel(workspace, match)
			if err != nil {
				return nil, &InfrastructureError{Op: "artifact collection", Err: err}
			}
			files = append(files, artifacts.File{Path: filepath.ToSlash(rel), Body: body})
			matched++
		}
		if matched == 0 && !job.Artifacts.Optional {
			return nil, &ExecutionError{Job: job.Name, Reason: fmt.Sprintf("artifact pattern %q matched no files", pattern)}
		}
	}
	return files, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
