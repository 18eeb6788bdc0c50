package model

import "strings"

const maxWorkstreamNameLen = 50

// SanitizeName converts an operator-supplied workstream name into the
// lower-case, [a-z0-9-] short name stored on Workstream.Name and used as the
// working copy's worktree/branch key. Each character outside that set is
// replaced with its own hyphen — runs of invalid characters are not
// collapsed into one — and the result is truncated to maxWorkstreamNameLen
// characters. "Hello, World! 123" sanitizes to "hello--world--123".
func SanitizeName(name string) string {
	lower := strings.ToLower(name)
	var sb strings.Builder
	for _, r := range lower {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			sb.WriteRune(r)
		default:
			sb.WriteByte('-')
		}
	}
	sanitized := sb.String()
	if len(sanitized) > maxWorkstreamNameLen {
		sanitized = sanitized[:maxWorkstreamNameLen]
	}
	if sanitized == "" {
		sanitized = "workstream"
	}
	return sanitized
}
