package graph

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/conveyor-labs/conveyor-go/internal/domain"
	"github.com/conveyor-labs/conveyor-go/internal/pipeline/config"
	"github.com/conveyor-labs/conveyor-go/internal/pipeline/gate"
)

// Pipeline is the concrete DAG materialized from a definition: every
// template reference resolved, every matrix parameter derived, every
// dependency edge checked.
type Pipeline struct {
	Stages []string
	Jobs   map[string]domain.JobSpec
}

// JobNames returns all job names in deterministic order.
func (p *Pipeline) JobNames() []string {
	names := make([]string, 0, len(p.Jobs))
	for name := range p.Jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// JobsInStage returns the jobs of one stage in deterministic order.
func (p *Pipeline) JobsInStage(stage string) []domain.JobSpec {
	out := make([]domain.JobSpec, 0)
	for _, name := range p.JobNames() {
		if p.Jobs[name].Stage == stage {
			out = append(out, p.Jobs[name])
		}
	}
	return out
}

// Build materializes a parsed definition into a validated DAG. Definition
// problems come back as *config.ConfigError, graph problems as *CycleError.
func Build(doc config.Document) (*Pipeline, error) {
	issues := &config.ConfigError{}

	jobs := make(map[string]domain.JobSpec, len(doc.Jobs))
	for name, raw := range doc.Jobs {
		spec, err := materialize(doc, name, raw)
		if err != nil {
			issues.Add(err.Error())
			continue
		}
		if err := spec.Validate(doc.Stages); err != nil {
			issues.Add(err.Error())
			continue
		}
		if err := gate.ValidateRules(spec.Only); err != nil {
			issues.Add(fmt.Sprintf("job %q: %v", name, err))
			continue
		}
		jobs[name] = spec
	}
	if err := issues.OrNil(); err != nil {
		return nil, err
	}

	pipe := &Pipeline{Stages: doc.Stages, Jobs: jobs}
	if err := pipe.checkEdges(); err != nil {
		return nil, err
	}
	return pipe, nil
}

// materialize resolves the template reference and derives matrix parameters.
// Merge is shallow override: a field set on the job replaces the template's
// value wholesale, an unset field inherits unchanged.
func materialize(doc config.Document, name string, raw config.Job) (domain.JobSpec, error) {
	spec := domain.JobSpec{Name: name}
	vars := map[string]string{}
	for k, v := range doc.Variables {
		vars[k] = v
	}

	if raw.Template != nil {
		tplName := strings.TrimSpace(*raw.Template)
		tpl, ok := doc.Templates[tplName]
		if !ok {
			return domain.JobSpec{}, fmt.Errorf("job %q: unknown template %q", name, tplName)
		}
		spec.Template = tplName
		applyEntry(&spec, tpl)
		for k, v := range tpl.Variables {
			vars[k] = v
		}
		if tpl.NamePattern != nil {
			matrixVars, err := deriveMatrixParams(name, tplName, *tpl.NamePattern)
			if err != nil {
				return domain.JobSpec{}, err
			}
			for k, v := range matrixVars {
				vars[k] = v
			}
		}
	}

	applyEntry(&spec, raw)
	for k, v := range raw.Variables {
		vars[k] = v
	}
	if len(vars) > 0 {
		spec.Variables = vars
	}
	return spec, nil
}

// applyEntry copies the explicitly set fields of a raw entry onto spec.
func applyEntry(spec *domain.JobSpec, entry config.Job) {
	if entry.Stage != nil {
		spec.Stage = strings.TrimSpace(*entry.Stage)
	}
	if entry.Image != nil {
		spec.Image = strings.TrimSpace(*entry.Image)
	}
	if entry.Script != nil {
		spec.Script = append([]string(nil), entry.Script...)
	}
	if entry.Dependencies != nil {
		spec.Dependencies = append([]string(nil), entry.Dependencies...)
	}
	if entry.Only != nil {
		spec.Only = append([]string(nil), entry.Only...)
	}
	if entry.Tags != nil {
		spec.Tags = append([]string(nil), entry.Tags...)
	}
	if entry.AllowFailure != nil {
		spec.AllowFailure = *entry.AllowFailure
	}
	if entry.Artifacts != nil {
		spec.Artifacts = domain.ArtifactSpec{
			Paths:    append([]string(nil), entry.Artifacts.Paths...),
			Optional: entry.Artifacts.Optional,
		}
		if strings.TrimSpace(entry.Artifacts.ExpireIn) != "" {
			// shape-checked during parse
			if d, err := config.ParseExpiry(entry.Artifacts.ExpireIn); err == nil {
				spec.Artifacts.ExpireIn = d
			}
		}
	}
}

// deriveMatrixParams extracts matrix parameters from the job's own name using
// the template's declared name pattern. Every named capture group becomes one
// variable.
func deriveMatrixParams(jobName, tplName, pattern string) (map[string]string, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("template %q: invalid name_pattern: %v", tplName, err)
	}
	match := re.FindStringSubmatch(jobName)
	if match == nil {
		return nil, fmt.Errorf("job %q does not match template %q name_pattern %q", jobName, tplName, pattern)
	}
	params := map[string]string{}
	for i, group := range re.SubexpNames() {
		if i == 0 || group == "" {
			continue
		}
		params[group] = match[i]
	}
	return params, nil
}

// checkEdges enforces the stage ordering rule on dependency edges and rejects
// cycles. Edges may point at earlier stages freely and at the same stage only
// while the graph stays acyclic.
func (p *Pipeline) checkEdges() error {
	issues := &config.ConfigError{}
	for _, name := range p.JobNames() {
		job := p.Jobs[name]
		jobStage := domain.StageIndex(p.Stages, job.Stage)
		for _, dep := range job.Dependencies {
			target, ok := p.Jobs[dep]
			if !ok {
				issues.Add(fmt.Sprintf("job %q depends on unknown job %q", name, dep))
				continue
			}
			if dep == name {
				return &CycleError{Detail: fmt.Sprintf("job %q depends on itself", name)}
			}
			depStage := domain.StageIndex(p.Stages, target.Stage)
			if depStage > jobStage {
				return &CycleError{Detail: fmt.Sprintf("job %q (stage %q) depends on later-stage job %q (stage %q)", name, job.Stage, dep, target.Stage)}
			}
		}
	}
	if err := issues.OrNil(); err != nil {
		return err
	}

	if cycle := p.findCycle(); cycle != "" {
		return &CycleError{Detail: cycle}
	}
	return nil
}

func (p *Pipeline) findCycle() string {
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int, len(p.Jobs))
	var cyclic string

	var visit func(string) bool
	visit = func(node string) bool {
		switch state[node] {
		case visiting:
			cyclic = node
			return true
		case done:
			return false
		}
		state[node] = visiting
		for _, dep := range p.Jobs[node].Dependencies {
			if _, ok := p.Jobs[dep]; !ok {
				continue
			}
			if visit(dep) {
				return true
			}
		}
		state[node] = done
		return false
	}

	for _, name := range p.JobNames() {
		if state[name] == unvisited && visit(name) {
			return fmt.Sprintf("dependency cycle through job %q", cyclic)
		}
	}
	return ""
}
