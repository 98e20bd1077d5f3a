// Package validate holds the guard predicates applied before any event
// touches the registry. Both are pure; rejection decisions belong to the
// caller.
package validate

import "github.com/soracane/agentwatch/internal/model"

// IsValidEventName reports whether name is one of the recognized lifecycle
// events. Matching is exact: no trimming, no case folding.
func IsValidEventName(name string) bool {
	switch model.EventKind(name) {
	case model.EventUserPromptSubmit,
		model.EventPreToolUse,
		model.EventPostToolUse,
		model.EventNotification,
		model.EventStop:
		return true
	default:
		return false
	}
}

// IsNonEmptyString reports whether v is a string of length >= 1. Any
// non-string value, including nil, fails.
func IsNonEmptyString(v any) bool {
	s, ok := v.(string)
	return ok && len(s) >= 1
}
