// Package hook is the entry point invoked once per lifecycle event from the
// assistant runtime. It validates the event, derives a session identity, and
// hands the transition to the registry store exactly once. Every failure is
// non-fatal to the caller: a missed lifecycle event self-corrects on the
// next one.
package hook

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/soracane/agentwatch/internal/model"
	"github.com/soracane/agentwatch/internal/validate"
)

// Applier is the registry store's write protocol.
type Applier interface {
	Apply(ev model.Event) error
}

// Recorder journals accepted events. Recording is best-effort; a nil
// Recorder disables it.
type Recorder interface {
	Record(ev model.Event) error
}

type Handler struct {
	store    Applier
	recorder Recorder
	markers  []string
	now      func() time.Time
	log      zerolog.Logger
}

func NewHandler(store Applier, recorder Recorder, inputMarkers []string, log zerolog.Logger) *Handler {
	markers := make([]string, 0, len(inputMarkers))
	for _, m := range inputMarkers {
		if m = strings.ToLower(strings.TrimSpace(m)); m != "" {
			markers = append(markers, m)
		}
	}
	return &Handler{
		store:    store,
		recorder: recorder,
		markers:  markers,
		now:      func() time.Time { return time.Now().UTC() },
		log:      log,
	}
}

// Handle processes one lifecycle event. payload is the JSON object from the
// runtime; contextualTTY is the caller-resolved controlling terminal, used
// only when the payload carries no tty of its own.
func (h *Handler) Handle(eventName, contextualTTY string, payload []byte) error {
	if !validate.IsValidEventName(eventName) {
		h.log.Debug().Str("event", eventName).Msg("unrecognized event name")
		return fmt.Errorf("%w: unknown event %q", model.ErrRejected, eventName)
	}

	var fields map[string]any
	if err := json.Unmarshal(payload, &fields); err != nil {
		h.log.Debug().Err(err).Str("event", eventName).Msg("unparsable payload")
		return fmt.Errorf("%w: payload: %v", model.ErrRejected, err)
	}
	if !validate.IsNonEmptyString(fields["session_id"]) {
		return fmt.Errorf("%w: missing session_id", model.ErrRejected)
	}
	if !validate.IsNonEmptyString(fields["cwd"]) {
		return fmt.Errorf("%w: missing cwd", model.ErrRejected)
	}

	tty := contextualTTY
	if validate.IsNonEmptyString(fields["tty"]) {
		tty = fields["tty"].(string)
	}
	message := ""
	if validate.IsNonEmptyString(fields["message"]) {
		message = fields["message"].(string)
	}

	kind := model.EventKind(eventName)
	ev := model.Event{
		Kind:        kind,
		SessionID:   fields["session_id"].(string),
		CWD:         fields["cwd"].(string),
		TTY:         tty,
		Message:     message,
		InputPrompt: kind == model.EventNotification && h.isInputPrompt(message),
		ReceivedAt:  h.now(),
	}

	if err := h.store.Apply(ev); err != nil {
		h.log.Warn().Err(err).
			Str("event", eventName).
			Str("session_id", ev.SessionID).
			Msg("event dropped")
		return fmt.Errorf("%w: %v", model.ErrNotRecorded, err)
	}

	if h.recorder != nil {
		if err := h.recorder.Record(ev); err != nil {
			h.log.Debug().Err(err).Msg("history record failed")
		}
	}
	h.log.Debug().
		Str("event", eventName).
		Str("session_id", ev.SessionID).
		Str("tty", ev.TTY).
		Msg("event applied")
	return nil
}

// isInputPrompt decides whether a Notification marks a permission prompt.
// The runtime's notification schema is not pinned down, so the markers are
// configurable substrings matched case-insensitively against the message.
func (h *Handler) isInputPrompt(message string) bool {
	if message == "" {
		return false
	}
	lower := strings.ToLower(message)
	for _, marker := range h.markers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
