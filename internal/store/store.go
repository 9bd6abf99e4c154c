// Package store defines the persistence boundary of the companion: a session
// collection keyed by visitor token and a fact collection keyed by owner name.
package store

import (
	"context"
	"errors"

	"github.com/zhouzirui/z-companion/backend/internal/model/chat"
	"github.com/zhouzirui/z-companion/backend/internal/model/memory"
)

// ErrNotFound is returned when a session doesn't exist.
var ErrNotFound = errors.New("not found")

// SessionStore persists conversation transcripts.
type SessionStore interface {
	// FindSession returns the session for token or ErrNotFound.
	FindSession(ctx context.Context, token string) (*chat.Session, error)

	// UpsertSession replaces the transcript, creating the session when absent.
	// lockedName is only written when the stored session has no name yet; an
	// empty lockedName never clears an existing one.
	UpsertSession(ctx context.Context, token string, transcript []chat.Turn, lockedName string) (*chat.Session, error)

	// AppendTurn pushes one turn onto an existing session's transcript and
	// returns the updated session. Returns ErrNotFound for unknown tokens.
	AppendTurn(ctx context.Context, token string, turn chat.Turn) (*chat.Session, error)

	// DeleteSession removes the session. Deleting an unknown token is not an error.
	DeleteSession(ctx context.Context, token string) error
}

// FactFilter selects facts of one owner. Content, when set, must match exactly.
type FactFilter struct {
	Owner          string
	Content        *string
	IncludePrivate bool
}

// Match reports whether f satisfies the filter.
func (ff FactFilter) Match(f memory.Fact) bool {
	if f.OwnerName != ff.Owner {
		return false
	}
	if !ff.IncludePrivate && f.IsPrivate {
		return false
	}
	if ff.Content != nil && f.Content != *ff.Content {
		return false
	}
	return true
}

// FactStore persists facts. Facts are returned in the backend's natural order.
type FactStore interface {
	FindFacts(ctx context.Context, filter FactFilter) ([]memory.Fact, error)

	// FactExists checks for a fact with the same owner and exact content,
	// private or not.
	FactExists(ctx context.Context, owner, content string) (bool, error)

	// InsertFact stores f. There is no uniqueness constraint on (owner, content).
	InsertFact(ctx context.Context, f memory.Fact) error
}

// Store is a backend serving both collections.
type Store interface {
	SessionStore
	FactStore
	Close(ctx context.Context) error
}
