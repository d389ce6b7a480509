package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

var expiryUnits = map[string]time.Duration{
	"second": time.Second,
	"minute": time.Minute,
	"hour":   time.Hour,
	"day":    24 * time.Hour,
	"week":   7 * 24 * time.Hour,
	"month":  30 * 24 * time.Hour,
	"year":   365 * 24 * time.Hour,
}

// ParseExpiry parses an artifact retention duration. It accepts Go duration
// syntax ("72h") and count-unit phrases ("30 days", "1 week", "2 hours").
func ParseExpiry(input string) (time.Duration, error) {
	s := strings.TrimSpace(strings.ToLower(input))
	if s == "" {
		return 0, fmt.Errorf("empty expire_in")
	}

	if d, err := time.ParseDuration(s); err == nil {
		if d <= 0 {
			return 0, fmt.Errorf("expire_in %q must be positive", input)
		}
		return d, nil
	}

	fields := strings.Fields(s)
	if len(fields)%2 != 0 {
		return 0, fmt.Errorf("invalid expire_in %q", input)
	}

	var total time.Duration
	for i := 0; i < len(fields); i += 2 {
		count, err := strconv.Atoi(fields[i])
		if err != nil || count <= 0 {
			return 0, fmt.Errorf("invalid expire_in %q", input)
		}
		unit, ok := expiryUnits[strings.TrimSuffix(fields[i+1], "s")]
		if !ok {
			return 0, fmt.Errorf("invalid expire_in unit %q", fields[i+1])
		}
		total += time.Duration(count) * unit
	}
	if total <= 0 {
		return 0, fmt.Errorf("expire_in %q must be positive", input)
	}
	return total, nil
}
