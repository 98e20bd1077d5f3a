package model

import (
	"errors"
	"fmt"
	"time"
)

// Status is the canonical session status persisted in the registry.
type Status string

const (
	StatusRunning      Status = "running"
	StatusWaitingInput Status = "waiting_input"
	StatusStopped      Status = "stopped"
)

// EventKind is a lifecycle event emitted by the assistant runtime.
type EventKind string

const (
	EventUserPromptSubmit EventKind = "UserPromptSubmit"
	EventPreToolUse       EventKind = "PreToolUse"
	EventPostToolUse      EventKind = "PostToolUse"
	EventNotification     EventKind = "Notification"
	EventStop             EventKind = "Stop"
)

// EventKinds lists every recognized lifecycle event. Order matters only for
// display.
var EventKinds = []EventKind{
	EventUserPromptSubmit,
	EventPreToolUse,
	EventPostToolUse,
	EventNotification,
	EventStop,
}

var (
	ErrRejected    = errors.New("event rejected")
	ErrLockBusy    = errors.New("registry lock busy")
	ErrNotRecorded = errors.New("event not recorded")
)

// Transition maps an accepted event to the resulting status. The boolean is
// false for events that touch the record without changing status (a
// Notification that is not a permission prompt).
func Transition(kind EventKind, inputPrompt bool) (Status, bool) {
	switch kind {
	case EventUserPromptSubmit, EventPreToolUse, EventPostToolUse:
		return StatusRunning, true
	case EventNotification:
		if inputPrompt {
			return StatusWaitingInput, true
		}
		return "", false
	case EventStop:
		return StatusStopped, true
	default:
		return "", false
	}
}

// Session is one tracked assistant session. The identity is the
// (SessionID, TTY) pair; TTY may be empty for sessions without a controlling
// terminal, which are never considered stale by liveness.
type Session struct {
	SessionID   string    `json:"session_id"`
	CWD         string    `json:"cwd"`
	TTY         string    `json:"tty,omitempty"`
	Status      Status    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	TaskTitle   string    `json:"task_title,omitempty"`
	LastMessage string    `json:"last_message,omitempty"`
}

// Key renders the composite identity used as the registry map key.
func (s Session) Key() string {
	return SessionKey(s.SessionID, s.TTY)
}

// SessionKey formats a registry key as "<session_id>:<tty-or-empty>".
func SessionKey(sessionID, tty string) string {
	return fmt.Sprintf("%s:%s", sessionID, tty)
}

// Registry is the whole persisted state.
type Registry struct {
	Sessions  map[string]Session `json:"sessions"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// NewRegistry returns an empty registry ready for inserts.
func NewRegistry() Registry {
	return Registry{Sessions: make(map[string]Session)}
}

// Event is a parsed lifecycle event after validation.
type Event struct {
	Kind        EventKind
	SessionID   string
	CWD         string
	TTY         string
	Message     string
	InputPrompt bool
	ReceivedAt  time.Time
}
