package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Document is the parsed pipeline definition file. Job and template fields
// are pointers or nil-able slices so the graph builder can tell an explicitly
// set field from an inherited one.
type Document struct {
	Stages    []string          `yaml:"stages"`
	Variables map[string]string `yaml:"variables"`
	Templates map[string]Job    `yaml:"templates"`
	Jobs      map[string]Job    `yaml:"jobs"`
}

// Job is one raw job or template entry. Unset fields stay nil and inherit
// from the referenced template during materialization.
type Job struct {
	Stage        *string           `yaml:"stage"`
	Image        *string           `yaml:"image"`
	Template     *string           `yaml:"template"`
	Script       []string          `yaml:"script"`
	Dependencies []string          `yaml:"dependencies"`
	Artifacts    *Artifacts        `yaml:"artifacts"`
	Only         []string          `yaml:"only"`
	Variables    map[string]string `yaml:"variables"`
	Tags         []string          `yaml:"tags"`
	AllowFailure *bool             `yaml:"allow_failure"`
	NamePattern  *string           `yaml:"name_pattern"`
}

// Artifacts declares job outputs and their retention.
type Artifacts struct {
	Paths    []string `yaml:"paths"`
	ExpireIn string   `yaml:"expire_in"`
	Optional bool     `yaml:"optional"`
}

// Load reads and parses a pipeline definition from disk.
func Load(path string) (Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Document{}, fmt.Errorf("read pipeline definition: %w", err)
	}
	return Parse(raw)
}

// Parse decodes a pipeline definition and checks its basic shape. Structural
// problems are reported as a *ConfigError.
func Parse(input []byte) (Document, error) {
	var doc Document
	if err := yaml.Unmarshal(input, &doc); err != nil {
		return Document{}, &ConfigError{Issues: []string{fmt.Sprintf("decode pipeline definition: %v", err)}}
	}
	if err := doc.validateShape(); err != nil {
		return Document{}, err
	}
	return doc, nil
}

func (d Document) validateShape() error {
	issues := &ConfigError{}

	if len(d.Stages) == 0 {
		issues.Add("stages are required")
	}
	seen := make(map[string]struct{}, len(d.Stages))
	for i, stage := range d.Stages {
		name := strings.TrimSpace(stage)
		if name == "" {
			issues.Add(fmt.Sprintf("stage[%d] name is required", i))
			continue
		}
		if _, dup := seen[name]; dup {
			issues.Add(fmt.Sprintf("duplicate stage %q", name))
		}
		seen[name] = struct{}{}
	}

	if len(d.Jobs) == 0 {
		issues.Add("jobs are required")
	}
	for name, job := range d.Jobs {
		if strings.TrimSpace(name) == "" {
			issues.Add("job name is required")
		}
		if job.NamePattern != nil {
			issues.Add(fmt.Sprintf("job %q: name_pattern is only valid on templates", name))
		}
	}
	for name, tpl := range d.Templates {
		if strings.TrimSpace(name) == "" {
			issues.Add("template name is required")
		}
		if tpl.Template != nil {
			issues.Add(fmt.Sprintf("template %q: templates cannot reference templates", name))
		}
	}

	for name, job := range d.Jobs {
		if job.Artifacts != nil && strings.TrimSpace(job.Artifacts.ExpireIn) != "" {
			if _, err := ParseExpiry(job.Artifacts.ExpireIn); err != nil {
				issues.Add(fmt.Sprintf("job %q: %v", name, err))
			}
		}
	}
	for name, tpl := range d.Templates {
		if tpl.Artifacts != nil && strings.TrimSpace(tpl.Artifacts.ExpireIn) != "" {
			if _, err := ParseExpiry(tpl.Artifacts.ExpireIn); err != nil {
				issues.Add(fmt.Sprintf("template %q: %v", name, err))
			}
		}
	}

	return issues.OrNil()
}
