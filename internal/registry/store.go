// Package registry owns the shared on-disk record of tracked sessions. All
// mutation goes through a flock-guarded read-modify-write transaction; the
// file itself is only ever replaced atomically, so plain readers never need
// the lock.
package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/soracane/agentwatch/internal/model"
)

// Enricher supplies best-effort transcript snippets. Absence of an answer is
// not an error and leaves the field unset.
type Enricher interface {
	TaskTitle(sessionID, cwd string) (string, bool)
	LastMessage(sessionID, cwd string) (string, bool)
}

type Options struct {
	Path        string
	StaleAfter  time.Duration
	LockTimeout time.Duration
	LockBackoff time.Duration

	// IsAlive reports whether a tty device still exists. Nil means every
	// tty is treated as alive.
	IsAlive func(tty string) bool

	// Enricher may be nil; enrichment is opportunistic.
	Enricher Enricher

	// Now is swappable for tests.
	Now func() time.Time
}

type Store struct {
	path        string
	staleAfter  time.Duration
	lockTimeout time.Duration
	lockBackoff time.Duration
	isAlive     func(string) bool
	enricher    Enricher
	now         func() time.Time
}

func NewStore(opts Options) *Store {
	s := &Store{
		path:        opts.Path,
		staleAfter:  opts.StaleAfter,
		lockTimeout: opts.LockTimeout,
		lockBackoff: opts.LockBackoff,
		isAlive:     opts.IsAlive,
		enricher:    opts.Enricher,
		now:         opts.Now,
	}
	if s.staleAfter <= 0 {
		s.staleAfter = 4 * time.Hour
	}
	if s.lockTimeout <= 0 {
		s.lockTimeout = 2 * time.Second
	}
	if s.lockBackoff <= 0 {
		s.lockBackoff = 25 * time.Millisecond
	}
	if s.isAlive == nil {
		s.isAlive = func(string) bool { return true }
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	return s
}

// Path returns the registry file location, for watchers.
func (s *Store) Path() string {
	return s.path
}

// Apply runs the write protocol for one accepted event: lock, load, evict,
// resolve identity (tty takeover), upsert, persist, unlock.
func (s *Store) Apply(ev model.Event) error {
	lock := newFileLock(s.path, s.lockTimeout, s.lockBackoff)
	if err := lock.acquire(); err != nil {
		return err
	}
	defer lock.release() //nolint:errcheck

	now := s.now()
	reg := s.load()
	s.evict(&reg, now)
	s.takeover(&reg, ev)
	s.upsert(&reg, ev, now)

	reg.UpdatedAt = now
	return s.persist(reg)
}

// List evicts stale entries opportunistically, persists the result if the
// pass removed anything, and returns the survivors ordered by created_at
// ascending.
func (s *Store) List() ([]model.Session, error) {
	lock := newFileLock(s.path, s.lockTimeout, s.lockBackoff)
	if err := lock.acquire(); err != nil {
		return nil, err
	}
	defer lock.release() //nolint:errcheck

	now := s.now()
	reg := s.load()
	if s.evict(&reg, now) {
		reg.UpdatedAt = now
		if err := s.persist(reg); err != nil {
			return nil, err
		}
	}

	sessions := make([]model.Session, 0, len(reg.Sessions))
	for _, sess := range reg.Sessions {
		sessions = append(sessions, sess)
	}
	sort.Slice(sessions, func(i, j int) bool {
		if !sessions[i].CreatedAt.Equal(sessions[j].CreatedAt) {
			return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
		}
		return sessions[i].Key() < sessions[j].Key()
	})
	return sessions, nil
}

// Clear unconditionally empties the registry. It bypasses eviction and
// upsert: lock, write empty state, unlock.
func (s *Store) Clear() error {
	lock := newFileLock(s.path, s.lockTimeout, s.lockBackoff)
	if err := lock.acquire(); err != nil {
		return err
	}
	defer lock.release() //nolint:errcheck

	reg := model.NewRegistry()
	reg.UpdatedAt = s.now()
	return s.persist(reg)
}

// load reads the current registry. Missing or unparsable state self-heals to
// an empty registry; the next successful write overwrites it.
func (s *Store) load() model.Registry {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return model.NewRegistry()
	}
	var reg model.Registry
	if err := json.Unmarshal(data, &reg); err != nil {
		return model.NewRegistry()
	}
	if reg.Sessions == nil {
		reg.Sessions = make(map[string]model.Session)
	}
	return reg
}

// evict drops sessions that timed out or whose tty no longer resolves to a
// live device. Returns true if anything was removed.
func (s *Store) evict(reg *model.Registry, now time.Time) bool {
	removed := false
	for key, sess := range reg.Sessions {
		if now.Sub(sess.UpdatedAt) > s.staleAfter {
			delete(reg.Sessions, key)
			removed = true
			continue
		}
		if sess.TTY != "" && !s.isAlive(sess.TTY) {
			delete(reg.Sessions, key)
			removed = true
		}
	}
	return removed
}

// takeover removes any record bound to the event's tty under a different
// session id. A terminal hosts one logical session at a time.
func (s *Store) takeover(reg *model.Registry, ev model.Event) {
	if ev.TTY == "" {
		return
	}
	for key, sess := range reg.Sessions {
		if sess.TTY == ev.TTY && sess.SessionID != ev.SessionID {
			delete(reg.Sessions, key)
		}
	}
}

func (s *Store) upsert(reg *model.Registry, ev model.Event, now time.Time) {
	key := model.SessionKey(ev.SessionID, ev.TTY)
	sess, exists := reg.Sessions[key]
	if !exists {
		sess = model.Session{
			SessionID: ev.SessionID,
			CWD:       ev.CWD,
			TTY:       ev.TTY,
			CreatedAt: now,
		}
	}

	if status, ok := model.Transition(ev.Kind, ev.InputPrompt); ok {
		sess.Status = status
	} else if sess.Status == "" {
		// A plain Notification creating a fresh record still needs one of
		// the three statuses; activity on the session means it is running.
		sess.Status = model.StatusRunning
	}
	sess.UpdatedAt = now

	if sess.TaskTitle == "" && s.enricher != nil {
		if title, ok := s.enricher.TaskTitle(ev.SessionID, ev.CWD); ok {
			sess.TaskTitle = title
		}
	}
	if ev.Kind == model.EventNotification || ev.Kind == model.EventStop {
		switch {
		case ev.Message != "":
			sess.LastMessage = ev.Message
		case s.enricher != nil:
			if msg, ok := s.enricher.LastMessage(ev.SessionID, ev.CWD); ok {
				sess.LastMessage = msg
			}
		}
	}

	reg.Sessions[key] = sess
}

// persist writes the full registry to a temp file in the same directory and
// renames it over the live path, so readers never observe a partial write.
func (s *Store) persist(reg model.Registry) error {
	data, err := json.MarshalIndent(reg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode registry: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create registry dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".registry-*.json")
	if err != nil {
		return fmt.Errorf("create temp registry: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()        //nolint:errcheck
		os.Remove(tmpPath) //nolint:errcheck
		return fmt.Errorf("write temp registry: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()        //nolint:errcheck
		os.Remove(tmpPath) //nolint:errcheck
		return fmt.Errorf("chmod temp registry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath) //nolint:errcheck
		return fmt.Errorf("close temp registry: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath) //nolint:errcheck
		return fmt.Errorf("replace registry: %w", err)
	}
	return nil
}
