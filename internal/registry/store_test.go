package registry_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/soracane/agentwatch/internal/model"
	"github.com/soracane/agentwatch/internal/registry"
)

func newTestStore(t *testing.T, opts registry.Options) *registry.Store {
	t.Helper()
	if opts.Path == "" {
		opts.Path = filepath.Join(t.TempDir(), "registry.json")
	}
	return registry.NewStore(opts)
}

func promptEvent(sessionID, tty string) model.Event {
	return model.Event{
		Kind:      model.EventUserPromptSubmit,
		SessionID: sessionID,
		CWD:       "/home/u/proj",
		TTY:       tty,
	}
}

func TestApplyCreatesSessionWithRunningStatus(t *testing.T) {
	s := newTestStore(t, registry.Options{})
	if err := s.Apply(promptEvent("s1", "")); err != nil {
		t.Fatalf("apply: %v", err)
	}
	sessions, err := s.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("expected 1 session, got %+v", sessions)
	}
	got := sessions[0]
	if got.SessionID != "s1" || got.Status != model.StatusRunning {
		t.Fatalf("unexpected session %+v", got)
	}
	if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
		t.Fatalf("expected timestamps set, got %+v", got)
	}
}

func TestPromptThenStopScenario(t *testing.T) {
	s := newTestStore(t, registry.Options{})
	if err := s.Apply(promptEvent("s1", "")); err != nil {
		t.Fatalf("apply prompt: %v", err)
	}
	if err := s.Apply(model.Event{
		Kind:      model.EventStop,
		SessionID: "s1",
		CWD:       "/home/u/proj",
	}); err != nil {
		t.Fatalf("apply stop: %v", err)
	}
	sessions, err := s.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(sessions) != 1 || sessions[0].Status != model.StatusStopped {
		t.Fatalf("expected one stopped session, got %+v", sessions)
	}
}

func TestPostToolUseIdempotence(t *testing.T) {
	current := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	s := newTestStore(t, registry.Options{
		Now: func() time.Time { return current },
	})
	ev := model.Event{Kind: model.EventPostToolUse, SessionID: "s1", CWD: "/p"}
	if err := s.Apply(ev); err != nil {
		t.Fatalf("first apply: %v", err)
	}
	first, err := s.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}

	current = current.Add(time.Minute)
	if err := s.Apply(ev); err != nil {
		t.Fatalf("second apply: %v", err)
	}
	second, err := s.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}

	if len(second) != 1 || second[0].Status != model.StatusRunning {
		t.Fatalf("expected still running, got %+v", second)
	}
	if !second[0].CreatedAt.Equal(first[0].CreatedAt) {
		t.Fatalf("created_at must be immutable: %v vs %v", first[0].CreatedAt, second[0].CreatedAt)
	}
	if !second[0].UpdatedAt.After(first[0].UpdatedAt) {
		t.Fatalf("updated_at must advance: %v vs %v", first[0].UpdatedAt, second[0].UpdatedAt)
	}
}

func TestNotificationMarkerSetsWaitingInput(t *testing.T) {
	s := newTestStore(t, registry.Options{})
	if err := s.Apply(promptEvent("s1", "")); err != nil {
		t.Fatalf("apply prompt: %v", err)
	}
	if err := s.Apply(model.Event{
		Kind:        model.EventNotification,
		SessionID:   "s1",
		CWD:         "/p",
		Message:     "Claude needs your permission to use Bash",
		InputPrompt: true,
	}); err != nil {
		t.Fatalf("apply notification: %v", err)
	}
	sessions, _ := s.List()
	if len(sessions) != 1 || sessions[0].Status != model.StatusWaitingInput {
		t.Fatalf("expected waiting_input, got %+v", sessions)
	}
	if sessions[0].LastMessage != "Claude needs your permission to use Bash" {
		t.Fatalf("expected last_message set, got %+v", sessions[0])
	}
}

func TestNotificationWithoutMarkerKeepsStatus(t *testing.T) {
	current := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	s := newTestStore(t, registry.Options{
		Now: func() time.Time { return current },
	})
	if err := s.Apply(promptEvent("s1", "")); err != nil {
		t.Fatalf("apply prompt: %v", err)
	}
	current = current.Add(time.Minute)
	if err := s.Apply(model.Event{
		Kind:      model.EventNotification,
		SessionID: "s1",
		CWD:       "/home/u/proj",
		Message:   "Compacting conversation",
	}); err != nil {
		t.Fatalf("apply notification: %v", err)
	}
	sessions, _ := s.List()
	if len(sessions) != 1 {
		t.Fatalf("expected 1 session, got %+v", sessions)
	}
	got := sessions[0]
	if got.Status != model.StatusRunning {
		t.Fatalf("plain notification must not change status, got %+v", got)
	}
	if got.LastMessage != "Compacting conversation" {
		t.Fatalf("expected last_message refreshed, got %+v", got)
	}
	if !got.UpdatedAt.Equal(current) {
		t.Fatalf("expected updated_at advanced to %v, got %+v", current, got)
	}
}

func TestTTYTakeover(t *testing.T) {
	dir := t.TempDir()
	tty := filepath.Join(dir, "ttys001")
	if err := os.WriteFile(tty, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	s := newTestStore(t, registry.Options{})
	if err := s.Apply(promptEvent("sA", tty)); err != nil {
		t.Fatalf("apply A: %v", err)
	}
	if err := s.Apply(promptEvent("sB", tty)); err != nil {
		t.Fatalf("apply B: %v", err)
	}
	sessions, err := s.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(sessions) != 1 || sessions[0].SessionID != "sB" {
		t.Fatalf("expected only sB after takeover, got %+v", sessions)
	}
}

func TestEvictionByTimeout(t *testing.T) {
	current := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	s := newTestStore(t, registry.Options{
		StaleAfter: time.Hour,
		Now:        func() time.Time { return current },
	})
	if err := s.Apply(promptEvent("old", "")); err != nil {
		t.Fatalf("apply old: %v", err)
	}
	current = current.Add(2 * time.Hour)
	if err := s.Apply(promptEvent("fresh", "")); err != nil {
		t.Fatalf("apply fresh: %v", err)
	}
	sessions, err := s.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(sessions) != 1 || sessions[0].SessionID != "fresh" {
		t.Fatalf("expected only fresh session, got %+v", sessions)
	}
}

func TestEvictionByDeadTTY(t *testing.T) {
	s := newTestStore(t, registry.Options{
		IsAlive: func(tty string) bool { return false },
	})
	if err := s.Apply(promptEvent("s1", "/dev/ttys001")); err != nil {
		t.Fatalf("apply: %v", err)
	}
	sessions, err := s.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(sessions) != 0 {
		t.Fatalf("expected dead-tty session evicted, got %+v", sessions)
	}
}

func TestListPersistsEvictionResult(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.json")
	current := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	s := registry.NewStore(registry.Options{
		Path:       path,
		StaleAfter: time.Hour,
		Now:        func() time.Time { return current },
	})
	if err := s.Apply(promptEvent("old", "")); err != nil {
		t.Fatalf("apply: %v", err)
	}
	current = current.Add(2 * time.Hour)
	if _, err := s.List(); err != nil {
		t.Fatalf("list: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read registry: %v", err)
	}
	var reg model.Registry
	if err := json.Unmarshal(data, &reg); err != nil {
		t.Fatalf("decode registry: %v", err)
	}
	if len(reg.Sessions) != 0 {
		t.Fatalf("expected eviction persisted, got %+v", reg.Sessions)
	}
}

func TestClearEmptiesRegistryAndAdvancesUpdatedAt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.json")
	current := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	s := registry.NewStore(registry.Options{
		Path: path,
		Now:  func() time.Time { return current },
	})
	if err := s.Apply(promptEvent("s1", "")); err != nil {
		t.Fatalf("apply: %v", err)
	}

	current = current.Add(time.Minute)
	if err := s.Clear(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	sessions, err := s.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(sessions) != 0 {
		t.Fatalf("expected empty registry, got %+v", sessions)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read registry: %v", err)
	}
	var reg model.Registry
	if err := json.Unmarshal(data, &reg); err != nil {
		t.Fatalf("decode registry: %v", err)
	}
	if !reg.UpdatedAt.Equal(current) {
		t.Fatalf("expected updated_at %v, got %v", current, reg.UpdatedAt)
	}
}

func TestCorruptRegistrySelfHeals(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	s := registry.NewStore(registry.Options{Path: path})
	if err := s.Apply(promptEvent("s1", "")); err != nil {
		t.Fatalf("apply over corrupt state: %v", err)
	}
	sessions, err := s.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(sessions) != 1 || sessions[0].SessionID != "s1" {
		t.Fatalf("expected fresh registry with s1, got %+v", sessions)
	}
}

func TestConcurrentWritersBothLand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.json")
	opts := registry.Options{Path: path, LockTimeout: 5 * time.Second}

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for _, id := range []string{"s1", "s2"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			// Each writer is its own store, mirroring independent
			// short-lived processes sharing only the file.
			errs <- registry.NewStore(opts).Apply(promptEvent(id, ""))
		}(id)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent apply: %v", err)
		}
	}

	sessions, err := registry.NewStore(opts).List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("expected both sessions recorded, got %+v", sessions)
	}
}

func TestListOrderedByCreatedAt(t *testing.T) {
	current := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	s := newTestStore(t, registry.Options{
		Now: func() time.Time { return current },
	})
	for _, id := range []string{"c", "a", "b"} {
		if err := s.Apply(promptEvent(id, "")); err != nil {
			t.Fatalf("apply %s: %v", id, err)
		}
		current = current.Add(time.Second)
	}
	sessions, err := s.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var ids []string
	for _, sess := range sessions {
		ids = append(ids, sess.SessionID)
	}
	if len(ids) != 3 || ids[0] != "c" || ids[1] != "a" || ids[2] != "b" {
		t.Fatalf("expected created_at order [c a b], got %v", ids)
	}
}

type stubEnricher struct {
	title string
	last  string
}

func (e stubEnricher) TaskTitle(sessionID, cwd string) (string, bool) {
	return e.title, e.title != ""
}

func (e stubEnricher) LastMessage(sessionID, cwd string) (string, bool) {
	return e.last, e.last != ""
}

func TestEnrichmentSetsTaskTitleOnce(t *testing.T) {
	enricher := &stubEnricher{title: "fix the parser"}
	s := newTestStore(t, registry.Options{Enricher: enricher})
	if err := s.Apply(promptEvent("s1", "")); err != nil {
		t.Fatalf("apply: %v", err)
	}

	// Title is never overwritten once set, even if the source changes.
	enricher.title = "something else"
	if err := s.Apply(promptEvent("s1", "")); err != nil {
		t.Fatalf("apply: %v", err)
	}
	sessions, _ := s.List()
	if len(sessions) != 1 || sessions[0].TaskTitle != "fix the parser" {
		t.Fatalf("expected original task title kept, got %+v", sessions)
	}
}

func TestEnrichmentFillsLastMessageOnStop(t *testing.T) {
	s := newTestStore(t, registry.Options{Enricher: stubEnricher{last: "done, tests pass"}})
	if err := s.Apply(promptEvent("s1", "")); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if err := s.Apply(model.Event{
		Kind:      model.EventStop,
		SessionID: "s1",
		CWD:       "/home/u/proj",
	}); err != nil {
		t.Fatalf("apply stop: %v", err)
	}
	sessions, _ := s.List()
	if len(sessions) != 1 || sessions[0].LastMessage != "done, tests pass" {
		t.Fatalf("expected transcript-derived last_message, got %+v", sessions)
	}
}
