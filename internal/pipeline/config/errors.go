package config

import "strings"

// ConfigError aggregates pipeline definition problems. It is fatal: a
// pipeline with a malformed definition never starts.
type ConfigError struct {
	Issues []string
}

func (e *ConfigError) Error() string {
	if len(e.Issues) == 0 {
		return "invalid pipeline definition"
	}
	return "invalid pipeline definition: " + strings.Join(e.Issues, "; ")
}

func (e *ConfigError) Add(issue string) {
	if strings.TrimSpace(issue) == "" {
		return
	}
	e.Issues = append(e.Issues, issue)
}

func (e *ConfigError) OrNil() error {
	if e == nil || len(e.Issues) == 0 {
		return nil
	}
	return e
}
