package parser

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var minutesRegex = regexp.MustCompile(`^(\d+)\s*(m|min|mins|minute|minutes)?$`)

// ParseFocusDuration parses how long a focus session should run
// Supported formats:
// - plain minutes (e.g., "25")
// - minutes with a unit (e.g., "25m", "25 min", "25 minutes")
// - Go durations (e.g., "1h", "1h30m", "90s")
func ParseFocusDuration(input string) (time.Duration, error) {
	input = strings.ToLower(strings.TrimSpace(input))
	if input == "" {
		return 0, fmt.Errorf("duration is required")
	}

	var d time.Duration
	if m := minutesRegex.FindStringSubmatch(input); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return 0, fmt.Errorf("invalid number")
		}
		d = time.Duration(n) * time.Minute
	} else {
		parsed, err := time.ParseDuration(input)
		if err != nil {
			return 0, fmt.Errorf("invalid duration '%s'. Use: 25, 25m, or 1h30m", input)
		}
		d = parsed
	}

	if d <= 0 {
		return 0, fmt.Errorf("duration must be positive")
	}
	if d > 8*time.Hour {
		return 0, fmt.Errorf("duration must be at most 8 hours")
	}
	return d, nil
}
