package gate

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/conveyor-labs/conveyor-go/internal/domain"
)

// Rule keywords. Any other rule value is an exact ref name, or a regular
// expression when written /like-this/.
const (
	KeywordTags     = "tags"
	KeywordBranches = "branches"
)

// Allows evaluates a job's `only` rules against the triggering ref. A job
// with no rules runs for every trigger; otherwise at least one rule must
// match. Invalid regular expressions are definition errors.
func Allows(rules []string, trig domain.TriggerContext) (bool, error) {
	if len(rules) == 0 {
		return true, nil
	}
	for _, rule := range rules {
		ok, err := matches(rule, trig)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// ValidateRules checks rule syntax without evaluating a trigger.
func ValidateRules(rules []string) error {
	for _, rule := range rules {
		rule = strings.TrimSpace(rule)
		if rule == "" {
			return fmt.Errorf("empty only rule")
		}
		if pattern, ok := regexRule(rule); ok {
			if _, err := regexp.Compile(pattern); err != nil {
				return fmt.Errorf("invalid only rule %q: %w", rule, err)
			}
		}
	}
	return nil
}

func matches(rule string, trig domain.TriggerContext) (bool, error) {
	rule = strings.TrimSpace(rule)
	switch rule {
	case "":
		return false, fmt.Errorf("empty only rule")
	case KeywordTags:
		return trig.Tag, nil
	case KeywordBranches:
		return !trig.Tag, nil
	}

	if pattern, ok := regexRule(rule); ok {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return false, fmt.Errorf("invalid only rule %q: %w", rule, err)
		}
		return re.MatchString(trig.Ref), nil
	}

	return rule == trig.Ref, nil
}

func regexRule(rule string) (string, bool) {
	if len(rule) > 2 && strings.HasPrefix(rule, "/") && strings.HasSuffix(rule, "/") {
		return rule[1 : len(rule)-1], true
	}
	return "", false
}
