package ai

import (
	"context"
	"log/slog"
	"strings"

	"github.com/zhouzirui/z-companion/backend/internal/store"
)

const knowledgeHeader = "\n\nADDITIONAL KNOWLEDGE GATHERED FROM PAST CHATS:\n"

// Composer builds the effective system instruction for a visitor.
type Composer struct {
	persona string
	facts   store.FactStore
	logger  *slog.Logger
}

// NewComposer creates a composer around a fixed persona block.
func NewComposer(persona string, facts store.FactStore, logger *slog.Logger) *Composer {
	return &Composer{
		persona: persona,
		facts:   facts,
		logger:  logger.With("component", "composer"),
	}
}

// SystemPrompt appends owner's public facts to the persona block, one bullet
// per fact in the order the store returns them. Without an owner, without
// facts, or when the store fails, the persona block is returned unchanged.
func (c *Composer) SystemPrompt(ctx context.Context, owner string) string {
	if owner == "" {
		return c.persona
	}

	facts, err := c.facts.FindFacts(ctx, store.FactFilter{Owner: owner})
	if err != nil {
		c.logger.Error("failed to fetch facts, using base persona", "owner", owner, "error", err)
		return c.persona
	}
	if len(facts) == 0 {
		return c.persona
	}

	var b strings.Builder
	b.WriteString(c.persona)
	b.WriteString(knowledgeHeader)
	for i, f := range facts {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString("- ")
		b.WriteString(f.Content)
	}
	return b.String()
}
