// Package inmemory implements store.Store on process memory.
package inmemory

import (
	"context"
	"sync"
	"time"

	"github.com/zhouzirui/z-companion/backend/internal/model/chat"
	"github.com/zhouzirui/z-companion/backend/internal/model/memory"
	"github.com/zhouzirui/z-companion/backend/internal/store"
)

var _ store.Store = (*Store)(nil)

// Store keeps sessions in a map and facts in insertion order.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]chat.Session
	facts    []memory.Fact
	now      func() time.Time
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		sessions: make(map[string]chat.Session),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// FindSession retrieves a session by token.
func (s *Store) FindSession(_ context.Context, token string) (*chat.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[token]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneSession(session), nil
}

// UpsertSession replaces the transcript and sets the name if none is locked.
func (s *Store) UpsertSession(_ context.Context, token string, transcript []chat.Turn, lockedName string) (*chat.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	session, ok := s.sessions[token]
	if !ok {
		session = chat.Session{VisitorToken: token, CreatedAt: now}
	}
	if session.LockedName == "" {
		session.LockedName = lockedName
	}
	session.Transcript = append([]chat.Turn(nil), transcript...)
	session.UpdatedAt = now

	s.sessions[token] = session
	return cloneSession(session), nil
}

// AppendTurn pushes a turn onto an existing transcript.
func (s *Store) AppendTurn(_ context.Context, token string, turn chat.Turn) (*chat.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[token]
	if !ok {
		return nil, store.ErrNotFound
	}
	session.Transcript = append(session.Transcript, turn)
	session.UpdatedAt = s.now()

	s.sessions[token] = session
	return cloneSession(session), nil
}

// DeleteSession removes a session.
func (s *Store) DeleteSession(_ context.Context, token string) error {
	s.mu.Lock()
	delete(s.sessions, token)
	s.mu.Unlock()
	return nil
}

// FindFacts returns matching facts in insertion order.
func (s *Store) FindFacts(_ context.Context, filter store.FactFilter) ([]memory.Fact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []memory.Fact
	for _, f := range s.facts {
		if filter.Match(f) {
			out = append(out, f)
		}
	}
	return out, nil
}

// FactExists checks for an exact (owner, content) match.
func (s *Store) FactExists(ctx context.Context, owner, content string) (bool, error) {
	found, err := s.FindFacts(ctx, store.FactFilter{Owner: owner, Content: &content, IncludePrivate: true})
	if err != nil {
		return false, err
	}
	return len(found) > 0, nil
}

// InsertFact appends a fact.
func (s *Store) InsertFact(_ context.Context, f memory.Fact) error {
	s.mu.Lock()
	s.facts = append(s.facts, f)
	s.mu.Unlock()
	return nil
}

// Close is a no-op.
func (s *Store) Close(context.Context) error {
	return nil
}

func cloneSession(session chat.Session) *chat.Session {
	session.Transcript = append([]chat.Turn(nil), session.Transcript...)
	return &session
}
