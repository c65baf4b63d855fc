// Package agentid implements the single validation predicate that guards
// every point in the system taking an agent ID from untrusted input
// (spec.md §4.10). It is the security boundary against path traversal via
// agent-scoped filesystem paths (log directories, persisted sessions).
package agentid

import "strings"

// forbiddenSubstrings are checked case-insensitively for the percent-encoded
// forms, verbatim for the raw separators.
var forbiddenSubstrings = []string{"/", "\\", "..", "%2f", "%5c"}

const maxLength = 128

// Validate returns an error naming the specific rejection reason
// ("cannot be empty", "too long", "forbidden pattern", "looks like a path")
// or nil if id is acceptable. Temp IDs beginning with "." and IDs with
// embedded dots are accepted.
func Validate(id string) error {
	if id == "" {
		return &Error{Reason: "cannot be empty"}
	}
	if len(id) > maxLength {
		return &Error{Reason: "too long"}
	}
	lower := strings.ToLower(id)
	for _, pat := range forbiddenSubstrings {
		if strings.Contains(lower, pat) {
			return &Error{Reason: "forbidden pattern"}
		}
	}
	if strings.HasPrefix(id, "/") || strings.HasPrefix(id, "\\") || strings.HasPrefix(id, "./") {
		return &Error{Reason: "looks like a path"}
	}
	return nil
}

// Error is returned by Validate; its Reason is the exact phrase that must
// appear in the observable JSON-RPC error message (spec.md §8, E4).
type Error struct {
	Reason string
}

func (e *Error) Error() string { return e.Reason }

// IsTemp reports whether id is a temp-agent ID (begins with a literal ".").
func IsTemp(id string) bool {
	return strings.HasPrefix(id, ".")
}
