package parser

import (
	"regexp"
	"strings"
)

// ParsedTask represents a task parsed from a one-line description
type ParsedTask struct {
	TaskID  string
	Name    string
	Project string
	Errors  []string
}

var (
	inlineRefRegex     = regexp.MustCompile(`(^|\s)([A-Za-z]+-\d+|#\d+)(\s|$)`)
	inlineProjectRegex = regexp.MustCompile(`(^|\s)@([a-zA-Z0-9_-]+)`)
)

// ParseTaskLine extracts the task reference and project from a description
// Syntax: "Fix login TG-42 @web" or "#42 Fix login"
func ParseTaskLine(input string) ParsedTask {
	result := ParsedTask{Errors: []string{}}

	// Extract the first task reference (TG-42 or #42)
	if m := inlineRefRegex.FindStringSubmatchIndex(input); m != nil {
		ref := input[m[4]:m[5]]
		normalized, err := NormalizeTaskRef(ref)
		if err != nil {
			result.Errors = append(result.Errors, err.Error())
		} else {
			result.TaskID = normalized
		}
		// Remove from name
		input = input[:m[4]] + input[m[5]:]
	} else {
		result.Errors = append(result.Errors, "no task id found. Include one like TG-42 or #42")
	}

	// Extract project (@project-name)
	if m := inlineProjectRegex.FindStringSubmatch(input); len(m) > 2 {
		result.Project = m[2]
		input = inlineProjectRegex.ReplaceAllString(input, "$1")
	}

	// Clean up the name (remove extra spaces)
	result.Name = strings.Join(strings.Fields(input), " ")
	if result.Name == "" {
		result.Errors = append(result.Errors, "task name is required")
	}
	return result
}
