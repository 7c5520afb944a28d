// Package sessions persists per-conversation state, one JSON file per
// session key, and decides when a conversation must start over.
package sessions

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hermesworks/hermes/internal/bus"
)

// ErrStore marks session persistence failures. The store recovers from
// them by recreating the affected session; callers rarely need to
// branch on it.
var ErrStore = errors.New("session store error")

// HistoryEntry is one turn fragment. Content is agent-opaque.
type HistoryEntry struct {
	Role     string            `json:"role"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Context is the persistent state of one conversation.
type Context struct {
	Key            Key               `json:"key"`
	Source         bus.SessionSource `json:"source"`
	History        []HistoryEntry    `json:"history"`
	CreatedAt      time.Time         `json:"created_at"`
	LastActivityAt time.Time         `json:"last_activity_at"`
	TurnCount      int               `json:"turn_count"`
}

// Snapshot returns a copy safe to hand to a running turn. The history
// slice is cloned so later appends cannot race with the reader.
func (c *Context) Snapshot() Context {
	out := *c
	out.History = make([]HistoryEntry, len(c.History))
	copy(out.History, c.History)
	return out
}

// Store maps session keys to contexts with durable file backing.
// Locking is per key; operations on different sessions never contend.
type Store struct {
	root string

	mu       sync.Mutex // guards the maps, never held across I/O on a session
	sessions map[Key]*Context
	locks    map[Key]*sync.Mutex
}

// NewStore opens a store rooted at dir; session files load lazily.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create %s: %v", ErrStore, dir, err)
	}
	return &Store{
		root:     dir,
		sessions: make(map[Key]*Context),
		locks:    make(map[Key]*sync.Mutex),
	}, nil
}

// keyLock returns the mutex serializing mutations of one session.
func (s *Store) keyLock(key Key) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	return l
}

// LoadOrCreate returns a snapshot of the session, materializing it from
// disk or creating it fresh. A corrupt file is logged and replaced.
func (s *Store) LoadOrCreate(key Key, source bus.SessionSource) (Context, error) {
	l := s.keyLock(key)
	l.Lock()
	defer l.Unlock()

	ctx, err := s.loadLocked(key, source)
	if err != nil {
		return Context{}, err
	}
	return ctx.Snapshot(), nil
}

func (s *Store) loadLocked(key Key, source bus.SessionSource) (*Context, error) {
	s.mu.Lock()
	if ctx, ok := s.sessions[key]; ok {
		s.mu.Unlock()
		return ctx, nil
	}
	s.mu.Unlock()

	ctx := &Context{}
	data, err := os.ReadFile(s.path(key))
	switch {
	case err == nil:
		if uerr := json.Unmarshal(data, ctx); uerr != nil {
			slog.Warn("corrupt session file, starting fresh", "key", key.String(), "error", uerr)
			ctx = nil
		}
	case os.IsNotExist(err):
		ctx = nil
	default:
		return nil, fmt.Errorf("%w: read %s: %v", ErrStore, key.String(), err)
	}

	if ctx == nil {
		now := time.Now()
		ctx = &Context{
			Key:            key,
			Source:         source,
			History:        []HistoryEntry{},
			CreatedAt:      now,
			LastActivityAt: now,
		}
		if err := s.persist(ctx); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	s.sessions[key] = ctx
	s.mu.Unlock()
	return ctx, nil
}

// Append adds history entries and bumps activity and turn count.
func (s *Store) Append(key Key, entries ...HistoryEntry) error {
	l := s.keyLock(key)
	l.Lock()
	defer l.Unlock()

	ctx, err := s.loadLocked(key, bus.SessionSource{Platform: key.Platform, ChatID: key.ChatID, ThreadID: key.ThreadID})
	if err != nil {
		return err
	}
	ctx.History = append(ctx.History, entries...)
	ctx.TurnCount++
	s.touchLocked(ctx, time.Now())
	return s.persist(ctx)
}

// RecordContext adds history entries without bumping the turn count
// or activity clock. Used for group chatter the gateway observes but
// does not answer; recording it must not defer an idle reset.
func (s *Store) RecordContext(key Key, entries ...HistoryEntry) error {
	l := s.keyLock(key)
	l.Lock()
	defer l.Unlock()

	ctx, err := s.loadLocked(key, bus.SessionSource{Platform: key.Platform, ChatID: key.ChatID, ThreadID: key.ThreadID})
	if err != nil {
		return err
	}
	ctx.History = append(ctx.History, entries...)
	return s.persist(ctx)
}

// Touch updates last_activity_at without changing history.
func (s *Store) Touch(key Key, now time.Time) error {
	l := s.keyLock(key)
	l.Lock()
	defer l.Unlock()

	s.mu.Lock()
	ctx, ok := s.sessions[key]
	s.mu.Unlock()
	if !ok {
		return nil
	}
	s.touchLocked(ctx, now)
	return s.persist(ctx)
}

// touchLocked keeps last_activity_at strictly monotonic.
func (s *Store) touchLocked(ctx *Context, now time.Time) {
	if now.After(ctx.LastActivityAt) {
		ctx.LastActivityAt = now
	}
}

// Reset atomically replaces the session with an empty one. The source
// and created_at are preserved; history and turn count are wiped.
func (s *Store) Reset(key Key) error {
	l := s.keyLock(key)
	l.Lock()
	defer l.Unlock()

	s.mu.Lock()
	old, ok := s.sessions[key]
	s.mu.Unlock()

	fresh := &Context{
		Key:            key,
		History:        []HistoryEntry{},
		CreatedAt:      time.Now(),
		LastActivityAt: time.Now(),
	}
	if ok {
		fresh.Source = old.Source
		fresh.CreatedAt = old.CreatedAt
	}

	if err := s.persist(fresh); err != nil {
		return err
	}
	s.mu.Lock()
	s.sessions[key] = fresh
	s.mu.Unlock()
	return nil
}

// UpdateSource refreshes mutable source fields (chat/user names).
func (s *Store) UpdateSource(key Key, source bus.SessionSource) {
	l := s.keyLock(key)
	l.Lock()
	defer l.Unlock()

	s.mu.Lock()
	ctx, ok := s.sessions[key]
	s.mu.Unlock()
	if ok {
		ctx.Source = source
	}
}

// List returns snapshots of all in-memory sessions.
func (s *Store) List() []Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Context, 0, len(s.sessions))
	for _, ctx := range s.sessions {
		out = append(out, ctx.Snapshot())
	}
	return out
}

func (s *Store) path(key Key) string {
	return filepath.Join(s.root, string(key.Platform), key.fileStem()+".json")
}

// persist writes the session atomically: temp file in the same
// directory, then rename.
func (s *Store) persist(ctx *Context) error {
	path := s.path(ctx.Key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("%w: mkdir for %s: %v", ErrStore, ctx.Key.String(), err)
	}

	data, err := json.MarshalIndent(ctx, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: marshal %s: %v", ErrStore, ctx.Key.String(), err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".session-*.tmp")
	if err != nil {
		return fmt.Errorf("%w: temp for %s: %v", ErrStore, ctx.Key.String(), err)
	}
	tmpName := tmp.Name()
	cleanup := true
	defer func() {
		if cleanup {
			os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: write %s: %v", ErrStore, ctx.Key.String(), err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: sync %s: %v", ErrStore, ctx.Key.String(), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: close %s: %v", ErrStore, ctx.Key.String(), err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("%w: rename %s: %v", ErrStore, ctx.Key.String(), err)
	}
	cleanup = false
	return nil
}
