package ai

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/z-companion/backend/internal/logger"
	"github.com/zhouzirui/z-companion/backend/internal/model/memory"
	"github.com/zhouzirui/z-companion/backend/internal/store"
	"github.com/zhouzirui/z-companion/backend/internal/store/inmemory"
)

const persona = "You are Mira."

type failingFacts struct {
	store.FactStore
}

func (failingFacts) FindFacts(context.Context, store.FactFilter) ([]memory.Fact, error) {
	return nil, errors.New("connection reset")
}

func TestSystemPromptWithoutName(t *testing.T) {
	c := NewComposer(persona, inmemory.New(), logger.Nop())
	assert.Equal(t, persona, c.SystemPrompt(context.Background(), ""))
}

func TestSystemPromptWithoutFacts(t *testing.T) {
	c := NewComposer(persona, inmemory.New(), logger.Nop())
	assert.Equal(t, persona, c.SystemPrompt(context.Background(), "Alice"))
}

func TestSystemPromptAppendsPublicFacts(t *testing.T) {
	ctx := context.Background()
	facts := inmemory.New()
	require.NoError(t, facts.InsertFact(ctx, memory.Fact{ID: "1", OwnerName: "Alice", Content: "likes tea"}))
	require.NoError(t, facts.InsertFact(ctx, memory.Fact{ID: "2", OwnerName: "Alice", Content: "keeps a diary", IsPrivate: true}))
	require.NoError(t, facts.InsertFact(ctx, memory.Fact{ID: "3", OwnerName: "Alice", Content: "studies biology"}))
	require.NoError(t, facts.InsertFact(ctx, memory.Fact{ID: "4", OwnerName: "Bob", Content: "plays chess"}))

	c := NewComposer(persona, facts, logger.Nop())
	want := persona + "\n\nADDITIONAL KNOWLEDGE GATHERED FROM PAST CHATS:\n- likes tea\n- studies biology"
	assert.Equal(t, want, c.SystemPrompt(ctx, "Alice"))
}

func TestSystemPromptDegradesOnStoreError(t *testing.T) {
	c := NewComposer(persona, failingFacts{}, logger.Nop())
	assert.Equal(t, persona, c.SystemPrompt(context.Background(), "Alice"))
}
