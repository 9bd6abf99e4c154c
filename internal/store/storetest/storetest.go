// Package storetest holds the behaviour every store.Store backend must share.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/z-companion/backend/internal/model/chat"
	"github.com/zhouzirui/z-companion/backend/internal/model/memory"
	"github.com/zhouzirui/z-companion/backend/internal/store"
)

// Run executes the shared contract against stores built by open.
func Run(t *testing.T, open func(t *testing.T) store.Store) {
	t.Run("FindMissingSession", func(t *testing.T) {
		s := open(t)
		_, err := s.FindSession(context.Background(), "nobody")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("TranscriptRoundTrip", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		turns := []chat.Turn{
			turn(chat.SpeakerVisitor, "hi"),
			turn(chat.SpeakerCompanion, "hello! what's your name?"),
			turn(chat.SpeakerVisitor, "my name is Alice"),
		}

		_, err := s.UpsertSession(ctx, "tok", turns, "")
		require.NoError(t, err)

		got, err := s.FindSession(ctx, "tok")
		require.NoError(t, err)
		require.Len(t, got.Transcript, len(turns))
		for i := range turns {
			assert.Equal(t, turns[i].Speaker, got.Transcript[i].Speaker)
			assert.Equal(t, turns[i].Text, got.Transcript[i].Text)
		}
		assert.Empty(t, got.LockedName)
		assert.False(t, got.CreatedAt.IsZero())
	})

	t.Run("LockedNameWrittenOnce", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		got, err := s.UpsertSession(ctx, "tok", []chat.Turn{turn(chat.SpeakerVisitor, "my name is Alice")}, "Alice")
		require.NoError(t, err)
		assert.Equal(t, "Alice", got.LockedName)

		got, err = s.UpsertSession(ctx, "tok", []chat.Turn{turn(chat.SpeakerVisitor, "my name is Bob")}, "Bob")
		require.NoError(t, err)
		assert.Equal(t, "Alice", got.LockedName)

		got, err = s.UpsertSession(ctx, "tok", []chat.Turn{turn(chat.SpeakerVisitor, "hey")}, "")
		require.NoError(t, err)
		assert.Equal(t, "Alice", got.LockedName)
	})

	t.Run("AppendTurn", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		_, err := s.AppendTurn(ctx, "missing", turn(chat.SpeakerCompanion, "x"))
		assert.ErrorIs(t, err, store.ErrNotFound)

		_, err = s.UpsertSession(ctx, "tok", []chat.Turn{turn(chat.SpeakerVisitor, "hi")}, "")
		require.NoError(t, err)

		got, err := s.AppendTurn(ctx, "tok", turn(chat.SpeakerCompanion, "hey there"))
		require.NoError(t, err)
		require.Len(t, got.Transcript, 2)
		assert.Equal(t, chat.SpeakerCompanion, got.Transcript[1].Speaker)
		assert.Equal(t, "hey there", got.Transcript[1].Text)
	})

	t.Run("DeleteSession", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		_, err := s.UpsertSession(ctx, "tok", []chat.Turn{turn(chat.SpeakerVisitor, "hi")}, "")
		require.NoError(t, err)
		require.NoError(t, s.DeleteSession(ctx, "tok"))
		require.NoError(t, s.DeleteSession(ctx, "tok"))

		_, err = s.FindSession(ctx, "tok")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("Facts", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		require.NoError(t, s.InsertFact(ctx, fact("f1", "Alice", "likes tea", false)))
		require.NoError(t, s.InsertFact(ctx, fact("f2", "Alice", "has a secret crush", true)))
		require.NoError(t, s.InsertFact(ctx, fact("f3", "Alice", "studies biology", false)))
		require.NoError(t, s.InsertFact(ctx, fact("f4", "alice", "likes coffee", false)))

		public, err := s.FindFacts(ctx, store.FactFilter{Owner: "Alice"})
		require.NoError(t, err)
		require.Len(t, public, 2)
		assert.Equal(t, "likes tea", public[0].Content)
		assert.Equal(t, "studies biology", public[1].Content)

		all, err := s.FindFacts(ctx, store.FactFilter{Owner: "Alice", IncludePrivate: true})
		require.NoError(t, err)
		assert.Len(t, all, 3)

		ok, err := s.FactExists(ctx, "Alice", "has a secret crush")
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = s.FactExists(ctx, "Alice", "likes coffee")
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func turn(speaker chat.Speaker, text string) chat.Turn {
	return chat.Turn{Speaker: speaker, Text: text, OccurredAt: time.Now().UTC().Truncate(time.Millisecond)}
}

func fact(id, owner, content string, private bool) memory.Fact {
	return memory.Fact{
		ID:        id,
		OwnerName: owner,
		Content:   content,
		IsPrivate: private,
		CreatedAt: time.Now().UTC(),
	}
}
