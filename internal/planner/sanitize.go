package planner

import (
	"regexp"
	"strings"
)

const (
	// MaxNameLength is the longest group name gpt-load accepts.
	MaxNameLength = 100

	fallbackName = "model"
)

var (
	disallowedChars = regexp.MustCompile(`[^a-z0-9\-_]`)
	dashRuns        = regexp.MustCompile(`-+`)
)

// Sanitize normalizes an arbitrary name into gpt-load's group identifier charset:
// lowercase letters, digits, '-' and '_', 1 to 100 characters.
func Sanitize(name string) string {
	name = strings.ToLower(name)
	name = disallowedChars.ReplaceAllString(name, "-")
	name = dashRuns.ReplaceAllString(name, "-")
	name = strings.Trim(name, "-")

	if len(name) > MaxNameLength {
		name = strings.TrimRight(name[:MaxNameLength], "-")
	}

	if name == "" {
		return fallbackName
	}
	return name
}
