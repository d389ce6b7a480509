package domain

import (
	"errors"
	"strings"
	"time"
)

// ArtifactFile is one file within a job's promoted artifact set.
type ArtifactFile struct {
	Path      string
	SizeBytes int64
	SHA256    string
}

// Artifact is the named blob set produced by one job of one run. It is owned
// by that job's result and readable by any job that lists the producer in its
// dependencies, until ExpiresAt has passed and no reader holds it.
type Artifact struct {
	RunID     string
	JobName   string
	Files     []ArtifactFile
	CreatedAt time.Time
	ExpiresAt time.Time
}

func (a Artifact) Validate() error {
	if strings.TrimSpace(a.RunID) == "" {
		return errors.New("artifact run id is required")
	}
	if strings.TrimSpace(a.JobName) == "" {
		return errors.New("artifact job name is required")
	}
	if len(a.Files) == 0 {
		return errors.New("artifact file set is empty")
	}
	if a.ExpiresAt.IsZero() {
		return errors.New("artifact expiry is required")
	}
	return nil
}

// Expired reports whether the artifact's retention has elapsed at now.
func (a Artifact) Expired(now time.Time) bool {
	return now.After(a.ExpiresAt)
}
