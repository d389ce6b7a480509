package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ArtifactSpec declares the output files a job promotes to the artifact store.
type ArtifactSpec struct {
	Paths    []string
	ExpireIn time.Duration
	Optional bool
}

// JobSpec is one materialized job of a pipeline: templates are already merged
// in and matrix parameters resolved into Variables.
type JobSpec struct {
	Name         string
	Stage        string
	Image        string
	Script       []string
	Dependencies []string
	Artifacts    ArtifactSpec
	Only         []string
	Variables    map[string]string
	Tags         []string
	Template     string
	AllowFailure bool
}

func (j JobSpec) Validate(stages []string) error {
	if strings.TrimSpace(j.Name) == "" {
		return errors.New("job name is required")
	}
	if strings.TrimSpace(j.Stage) == "" {
		return fmt.Errorf("job %q: stage is required", j.Name)
	}
	if stageIndex(stages, j.Stage) < 0 {
		return fmt.Errorf("job %q: unknown stage %q", j.Name, j.Stage)
	}
	if len(j.Script) == 0 {
		return fmt.Errorf("job %q: script is required", j.Name)
	}
	for _, cmd := range j.Script {
		if strings.TrimSpace(cmd) == "" {
			return fmt.Errorf("job %q: empty script command", j.Name)
		}
	}
	if len(j.Artifacts.Paths) > 0 && j.Artifacts.ExpireIn <= 0 {
		return fmt.Errorf("job %q: artifacts require a positive expire_in", j.Name)
	}
	return nil
}

// HasArtifacts reports whether the job declares output patterns.
func (j JobSpec) HasArtifacts() bool {
	return len(j.Artifacts.Paths) > 0
}

func stageIndex(stages []string, stage string) int {
	for i, s := range stages {
		if s == stage {
			return i
		}
	}
	return -1
}

// StageIndex returns the barrier group position of a stage, or -1.
func StageIndex(stages []string, stage string) int {
	return stageIndex(stages, stage)
}
