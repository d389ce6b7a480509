package domain

import (
	"errors"
	"strings"
)

// TriggerContext carries the ref and commit that started a pipeline run. It is
// threaded explicitly into graph materialization and job execution; nothing
// reads trigger state from ambient globals.
type TriggerContext struct {
	Ref    string
	Commit string
	Tag    bool
}

func (t TriggerContext) Validate() error {
	if strings.TrimSpace(t.Ref) == "" {
		return errors.New("trigger ref is required")
	}
	if strings.TrimSpace(t.Commit) == "" {
		return errors.New("trigger commit is required")
	}
	return nil
}
