// Package memory mines durable facts about a visitor out of their conversation.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"

	"github.com/zhouzirui/z-companion/backend/internal/model/chat"
	memoryModel "github.com/zhouzirui/z-companion/backend/internal/model/memory"
	"github.com/zhouzirui/z-companion/backend/internal/store"
)

// DefaultWindow is how many trailing turns are re-read per extraction.
const DefaultWindow = 10

const extractorSystemPrompt = "You are a highly detailed factual information extractor. You only output JSON."

const extractorUserPrompt = `As an expert information extractor, analyze these recent messages and extract EVERY possible detail about the user "{{.owner}}".
Capture:
- Personal facts (age, birthday, location, job, education)
- Preferences (likes, dislikes, hobbies, favorite food/movies/music)
- Personality traits and mood
- Relationships mentioned
- Important events or stories shared

Return ONLY a JSON array of objects: [{"content": "detailed fact here", "isPrivate": false}].
Set "isPrivate" to true for anything the user would not want repeated back to them.
Be very detailed and thorough. If no new information, return [].

Messages:
{{.messages}}`

// Extractor asks the model for facts about an owner and stores the new ones.
type Extractor struct {
	chain  compose.Runnable[map[string]any, *schema.Message]
	facts  store.FactStore
	window int
	logger *slog.Logger
	now    func() time.Time
	newID  func() string
}

// NewExtractor compiles the extraction chain around chatModel.
func NewExtractor(ctx context.Context, chatModel model.BaseChatModel, facts store.FactStore, window int, logger *slog.Logger) (*Extractor, error) {
	if window <= 0 {
		window = DefaultWindow
	}

	template := prompt.FromMessages(
		schema.GoTemplate,
		schema.SystemMessage(extractorSystemPrompt),
		schema.UserMessage(extractorUserPrompt),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(template)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile extraction chain: %w", err)
	}

	return &Extractor{
		chain:  runnable,
		facts:  facts,
		window: window,
		logger: logger.With("component", "extractor"),
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
	}, nil
}

// Extract mines the transcript tail and inserts facts that owner does not have
// yet, compared by exact content. It returns how many facts were saved before
// any error stopped it.
func (e *Extractor) Extract(ctx context.Context, owner string, transcript []chat.Turn) (int, error) {
	if owner == "" {
		return 0, nil
	}

	tail := chat.Tail(transcript, e.window)
	msg, err := e.chain.Invoke(ctx, map[string]any{
		"owner":    owner,
		"messages": formatMessages(tail),
	})
	if err != nil {
		return 0, fmt.Errorf("extraction completion failed: %w", err)
	}
	if msg == nil {
		return 0, nil
	}

	candidates, err := ParseCandidates(msg.Content)
	if err != nil {
		return 0, err
	}

	saved := 0
	for _, c := range candidates {
		exists, err := e.facts.FactExists(ctx, owner, c.Content)
		if err != nil {
			return saved, err
		}
		if exists {
			continue
		}

		fact := memoryModel.Fact{
			ID:        e.newID(),
			OwnerName: owner,
			Content:   c.Content,
			IsPrivate: c.IsPrivate,
			CreatedAt: e.now(),
		}
		if err := e.facts.InsertFact(ctx, fact); err != nil {
			return saved, err
		}
		saved++
		e.logger.Info("new memory saved", "owner", owner, "content", c.Content, "private", c.IsPrivate)
	}
	return saved, nil
}

func formatMessages(turns []chat.Turn) string {
	lines := make([]string, 0, len(turns))
	for _, t := range turns {
		role := string(schema.User)
		if t.Speaker == chat.SpeakerCompanion {
			role = string(schema.Assistant)
		}
		lines = append(lines, role+": "+t.Text)
	}
	return strings.Join(lines, "\n")
}
