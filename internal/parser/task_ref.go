package parser

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	trackerRefRegex = regexp.MustCompile(`^([A-Z]+)-(\d+)$`)
	hashRefRegex    = regexp.MustCompile(`^#(\d+)$`)
)

// NormalizeTaskRef normalizes a task reference from the project-management tool
// Accepts formats like:
// - "tg-42", "TG-42" -> "TG-42"
// - "#42" -> "42"
// - any other single token is kept as is
// Returns error if the reference is empty or contains whitespace
func NormalizeTaskRef(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", fmt.Errorf("task id is required")
	}
	if strings.ContainsAny(ref, " \t\n") {
		return "", fmt.Errorf("invalid task id %q. Use a single token like TG-42 or #42", ref)
	}

	if upper := strings.ToUpper(ref); trackerRefRegex.MatchString(upper) {
		return upper, nil
	}
	if m := hashRefRegex.FindStringSubmatch(ref); m != nil {
		return m[1], nil
	}
	return ref, nil
}

// IsTrackerRef checks if a string looks like a tracker reference (XXX-111)
func IsTrackerRef(ref string) bool {
	return trackerRefRegex.MatchString(strings.ToUpper(strings.TrimSpace(ref)))
}
