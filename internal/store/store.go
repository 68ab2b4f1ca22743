// Package store provides storage backends for InterviewPipe.
//
// It includes an in-memory store and SQL-backed stores (SQLite, PostgreSQL) for
// conversation sessions, saved profiles, and transcripts, plus a Redis-backed
// session store. Every session store offers compare-and-swap writes keyed on
// ConversationState.Version.
package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/BTreeMap/InterviewPipe/internal/models"
)

var (
	// ErrVersionConflict is returned when a session was changed by another writer
	// since the caller loaded it.
	ErrVersionConflict = errors.New("session version conflict")
	// ErrProfileNotFound is returned when no profile exists for a session.
	ErrProfileNotFound = errors.New("profile not found")
)

// SessionStore persists one ConversationState per session.
type SessionStore interface {
	// GetSession returns the stored state, or nil when the session does not exist.
	GetSession(ctx context.Context, sessionID string) (*models.ConversationState, error)
	// SaveSession writes state if the stored version still equals state.Version
	// (zero meaning "not yet stored") and returns the state with its new version.
	SaveSession(ctx context.Context, state models.ConversationState) (models.ConversationState, error)
	// DeleteSession removes a session. Deleting a missing session is not an error.
	DeleteSession(ctx context.Context, sessionID string) error
}

// IdleSessionLister finds in-progress sessions nobody has touched since a
// cutoff. Every session store in this package implements it.
type IdleSessionLister interface {
	ListIdleSessions(ctx context.Context, before time.Time, limit int) ([]models.ConversationState, error)
}

// Store is the full persistence surface used by the service.
type Store interface {
	SessionStore
	SaveProfile(ctx context.Context, profile models.Profile) error
	GetProfile(ctx context.Context, sessionID string) (*models.Profile, error)
	AppendMessage(ctx context.Context, msg models.TranscriptMessage) error
	// GetHistory returns up to limit messages of a session, oldest first.
	GetHistory(ctx context.Context, sessionID string, limit int) ([]models.TranscriptMessage, error)
	Close() error
}

// InMemoryStore is a simple in-memory Store, used when no database is configured and in tests.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]models.ConversationState
	profiles map[string]models.Profile
	messages map[string][]models.TranscriptMessage
}

var (
	_ Store             = (*InMemoryStore)(nil)
	_ IdleSessionLister = (*InMemoryStore)(nil)
)

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		sessions: make(map[string]models.ConversationState),
		profiles: make(map[string]models.Profile),
		messages: make(map[string][]models.TranscriptMessage),
	}
}

func (s *InMemoryStore) GetSession(ctx context.Context, sessionID string) (*models.ConversationState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	out := st.Clone()
	return &out, nil
}

func (s *InMemoryStore) SaveSession(ctx context.Context, state models.ConversationState) (models.ConversationState, error) {
	if state.SessionID == "" {
		return state, models.ErrEmptySessionID
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.sessions[state.SessionID]
	switch {
	case !exists && state.Version != 0:
		return state, ErrVersionConflict
	case exists && current.Version != state.Version:
		return state, ErrVersionConflict
	}

	saved := state.Clone()
	saved.Version = state.Version + 1
	saved.UpdatedAt = time.Now()
	s.sessions[state.SessionID] = saved
	return saved.Clone(), nil
}

func (s *InMemoryStore) DeleteSession(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}

// ListIdleSessions returns up to limit in-progress sessions last updated before
// the cutoff, least recently updated first.
func (s *InMemoryStore) ListIdleSessions(ctx context.Context, before time.Time, limit int) ([]models.ConversationState, error) {
	limit = normalizeLimit(limit)
	s.mu.RLock()
	var idle []models.ConversationState
	for _, st := range s.sessions {
		if st.Status == models.StatusInProgress && st.UpdatedAt.Before(before) {
			idle = append(idle, st.Clone())
		}
	}
	s.mu.RUnlock()
	sort.Slice(idle, func(i, j int) bool { return idle[i].UpdatedAt.Before(idle[j].UpdatedAt) })
	if len(idle) > limit {
		idle = idle[:limit]
	}
	return idle, nil
}

func (s *InMemoryStore) SaveProfile(ctx context.Context, profile models.Profile) error {
	if err := profile.Validate(); err != nil {
		return err
	}
	fields := make(map[string]models.SlotValue, len(profile.Fields))
	for k, v := range profile.Fields {
		fields[k] = v
	}
	profile.Fields = fields

	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[profile.SessionID] = profile
	return nil
}

func (s *InMemoryStore) GetProfile(ctx context.Context, sessionID string) (*models.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[sessionID]
	if !ok {
		return nil, ErrProfileNotFound
	}
	return &p, nil
}

// ListProfiles returns all saved profiles ordered by session ID (for tests).
func (s *InMemoryStore) ListProfiles() []models.Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Profile, 0, len(s.profiles))
	for _, p := range s.profiles {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out
}

func (s *InMemoryStore) AppendMessage(ctx context.Context, msg models.TranscriptMessage) error {
	if msg.SessionID == "" {
		return models.ErrEmptySessionID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[msg.SessionID] = append(s.messages[msg.SessionID], msg)
	return nil
}

func (s *InMemoryStore) GetHistory(ctx context.Context, sessionID string, limit int) ([]models.TranscriptMessage, error) {
	limit = normalizeLimit(limit)
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.messages[sessionID]
	if len(msgs) > limit {
		msgs = msgs[:limit]
	}
	out := make([]models.TranscriptMessage, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (s *InMemoryStore) Close() error { return nil }
