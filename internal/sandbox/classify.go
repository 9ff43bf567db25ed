package sandbox

import (
	"fmt"
	"regexp"
	"strings"
)

// CrashRule prefixes the error text with a readable description when a crash is recognised.
// If Pattern has a capture group, the first line of its first submatch fills the %s in Prefix.
type CrashRule struct {
	Marker  string
	Pattern *regexp.Regexp
	Prefix  string
}

func (r CrashRule) apply(stderr string) (string, bool) {
	if r.Pattern != nil {
		m := r.Pattern.FindStringSubmatch(stderr)
		if m == nil {
			return "", false
		}
		if len(m) > 1 && strings.Contains(r.Prefix, "%s") {
			reason, _, _ := strings.Cut(m[1], "\n")
			return fmt.Sprintf(r.Prefix, reason), true
		}
		return r.Prefix, true
	}
	if r.Marker != "" && strings.Contains(stderr, r.Marker) {
		return r.Prefix, true
	}
	return "", false
}

// ErrorRules is the per-language error classifier table.
// Classification only rewrites error text; it never changes success or exit code.
type ErrorRules struct {
	// MemoryExitCodes mark a memory-limit kill outright.
	MemoryExitCodes []int
	// MemoryMarkers mark a memory-limit kill when the exit code is nonzero.
	MemoryMarkers []string
	// Crashes are tried in order after the memory check; the first match wins.
	Crashes []CrashRule
	// SourcePaths are rewritten to LineLabel wherever they appear.
	SourcePaths []string
	LineLabel   string
}

// Classify rewrites stderr using exit-code and signal heuristics.
func (r ErrorRules) Classify(stderr string, status ExitStatus, memoryLabel string) string {
	text := stderr

	switch {
	case r.memoryKilled(stderr, status):
		text = fmt.Sprintf("Memory limit exceeded (%s maximum)\n", memoryLabel) + stderr
	default:
		for _, c := range r.Crashes {
			if prefix, ok := c.apply(stderr); ok {
				text = prefix + stderr
				break
			}
		}
	}

	label := r.LineLabel
	if label == "" {
		label = "Line "
	}
	for _, p := range r.SourcePaths {
		text = strings.ReplaceAll(text, p, label)
	}
	return text
}

func (r ErrorRules) memoryKilled(stderr string, status ExitStatus) bool {
	for _, c := range r.MemoryExitCodes {
		if status.Code == c {
			return true
		}
	}
	if status.Code == 0 {
		return false
	}
	for _, m := range r.MemoryMarkers {
		if strings.Contains(stderr, m) {
			return true
		}
	}
	return false
}
