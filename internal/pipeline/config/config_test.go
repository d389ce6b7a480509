package config

import (
	"errors"
	"strings"
	"testing"
	"time"
)

const sampleDefinition = `
stages: [dist, test, deploy]
variables:
  PIP_INDEX: https://pypi.org/simple
templates:
  wheel-manylinux1:
    stage: dist
    image: quay.io/pypa/manylinux1_x86_64
    name_pattern: '^wheel/(?P<PYTHON_TAG>cp\d+-cp\d+m?)-(?P<PLATFORM>[a-z0-9_]+)$'
    script:
      - ./build-wheel.sh
    artifacts:
      paths: ["wheelhouse/*.whl"]
      expire_in: 1 week
jobs:
  sdist:
    stage: dist
    script: [python setup.py sdist]
    artifacts:
      paths: ["dist/*.tar.gz"]
      expire_in: 30 days
  wheel/cp36-cp36m-manylinux1:
    template: wheel-manylinux1
  deploy/pypi:
    stage: deploy
    only: [tags]
    dependencies: [sdist]
    script: [twine upload dist/*]
`

func TestParse(t *testing.T) {
	doc, err := Parse([]byte(sampleDefinition))
	if err != nil {
		t.Fatalf("Parse() err=%v", err)
	}
	if len(doc.Stages) != 3 || doc.Stages[0] != "dist" {
		t.Fatalf("stages=%v, want [dist test deploy]", doc.Stages)
	}
	tpl, ok := doc.Templates["wheel-manylinux1"]
	if !ok {
		t.Fatalf("missing wheel-manylinux1 template")
	}
	if tpl.NamePattern == nil || !strings.Contains(*tpl.NamePattern, "PYTHON_TAG") {
		t.Fatalf("template name_pattern not parsed: %v", tpl.NamePattern)
	}
	job, ok := doc.Jobs["wheel/cp36-cp36m-manylinux1"]
	if !ok {
		t.Fatalf("missing matrix job")
	}
	if job.Template == nil || *job.Template != "wheel-manylinux1" {
		t.Fatalf("template ref=%v, want wheel-manylinux1", job.Template)
	}
	if job.Stage != nil {
		t.Fatalf("stage should stay unset on the raw job, got %v", *job.Stage)
	}
}

func TestParse_MissingStages(t *testing.T) {
	_, err := Parse([]byte("jobs:\n  a:\n    script: [true]\n"))
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected *ConfigError, got %v", err)
	}
	if !strings.Contains(cfgErr.Error(), "stages are required") {
		t.Fatalf("err=%v, want stages issue", cfgErr)
	}
}

func TestParse_DuplicateStage(t *testing.T) {
	_, err := Parse([]byte("stages: [dist, dist]\njobs:\n  a:\n    stage: dist\n    script: [true]\n"))
	if err == nil || !strings.Contains(err.Error(), `duplicate stage "dist"`) {
		t.Fatalf("err=%v, want duplicate stage issue", err)
	}
}

func TestParse_NamePatternOnJobRejected(t *testing.T) {
	src := `
stages: [dist]
jobs:
  a:
    stage: dist
    script: [true]
    name_pattern: '^a$'
`
	_, err := Parse([]byte(src))
	if err == nil || !strings.Contains(err.Error(), "only valid on templates") {
		t.Fatalf("err=%v, want name_pattern issue", err)
	}
}

func TestParse_BadExpiry(t *testing.T) {
	src := `
stages: [dist]
jobs:
  a:
    stage: dist
    script: [true]
    artifacts:
      paths: ["out/*"]
      expire_in: eventually
`
	_, err := Parse([]byte(src))
	if err == nil || !strings.Contains(err.Error(), "expire_in") {
		t.Fatalf("err=%v, want expire_in issue", err)
	}
}

func TestParseExpiry(t *testing.T) {
	cases := []struct {
		in   string
		want time.Duration
	}{
		{"72h", 72 * time.Hour},
		{"90m", 90 * time.Minute},
		{"1 week", 7 * 24 * time.Hour},
		{"30 days", 30 * 24 * time.Hour},
		{"2 hours", 2 * time.Hour},
		{"1 month", 30 * 24 * time.Hour},
		{"1 week 2 days", 9 * 24 * time.Hour},
	}
	for _, tc := range cases {
		got, err := ParseExpiry(tc.in)
		if err != nil {
			t.Fatalf("ParseExpiry(%q) err=%v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("ParseExpiry(%q)=%v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestParseExpiry_Invalid(t *testing.T) {
	for _, in := range []string{"", "eventually", "-1 day", "1 fortnight", "0h"} {
		if _, err := ParseExpiry(in); err == nil {
			t.Fatalf("ParseExpiry(%q) expected error", in)
		}
	}
}
