package parser

import (
	"fmt"
	"strings"
)

// Session types
const (
	SessionWork       = "work"
	SessionShortBreak = "short_break"
	SessionLongBreak  = "long_break"
)

// NormalizeSessionType converts a session type to its standard form.
// Empty input means work.
func NormalizeSessionType(input string) (string, error) {
	s := strings.ToLower(strings.TrimSpace(input))
	s = strings.NewReplacer("-", "_", " ", "_").Replace(s)
	switch s {
	case "", "work", "focus", "pomodoro":
		return SessionWork, nil
	case "short_break", "short", "break", "sb":
		return SessionShortBreak, nil
	case "long_break", "long", "lb":
		return SessionLongBreak, nil
	default:
		return "", fmt.Errorf("invalid session type '%s'. Use: work, short_break, or long_break", input)
	}
}

// DefaultFocusMinutes returns the usual length of a session type
func DefaultFocusMinutes(sessionType string) int {
	switch sessionType {
	case SessionShortBreak:
		return 5
	case SessionLongBreak:
		return 15
	default:
		return 25
	}
}
