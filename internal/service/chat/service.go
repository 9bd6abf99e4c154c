package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/zhouzirui/z-companion/backend/internal/model/chat"
	"github.com/zhouzirui/z-companion/backend/internal/service/ai"
	"github.com/zhouzirui/z-companion/backend/internal/service/identity"
	"github.com/zhouzirui/z-companion/backend/internal/store"
)

var (
	ErrTokenRequired   = errors.New("visitor token is required")
	ErrEmptyTranscript = errors.New("transcript must contain at least one turn")
)

// PromptComposer builds the system instruction for a (possibly anonymous) visitor.
type PromptComposer interface {
	SystemPrompt(ctx context.Context, owner string) string
}

// Completer runs one upstream completion.
type Completer interface {
	Complete(ctx context.Context, system string, transcript []chat.Turn) (*ai.Result, error)
}

// MemoryDispatcher starts background fact extraction. It must not block.
type MemoryDispatcher interface {
	Dispatch(ctx context.Context, owner string, transcript []chat.Turn)
}

// Reply is the outcome of one handled turn.
type Reply struct {
	Outcome    ai.Outcome
	Text       string
	Payload    json.RawMessage
	LockedName string
}

// Service 负责单轮对话的编排：身份锁定、持久化、提示词构建、上游调用与记忆抽取。
type Service struct {
	sessions store.SessionStore
	composer PromptComposer
	gateway  Completer
	memory   MemoryDispatcher
	logger   *slog.Logger
	now      func() time.Time
}

// NewService wires the orchestrator. memory may be nil to disable extraction.
func NewService(sessions store.SessionStore, composer PromptComposer, gateway Completer, memory MemoryDispatcher, logger *slog.Logger) *Service {
	return &Service{
		sessions: sessions,
		composer: composer,
		gateway:  gateway,
		memory:   memory,
		logger:   logger.With("component", "chat"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// HandleTurn processes the full client transcript for token and returns the
// companion's reply. Auth, rate-limit and malformed upstream answers come back
// as canned replies without touching the stored transcript. Other upstream
// failures are returned as errors wrapping ai.ErrUpstreamTransport.
func (s *Service) HandleTurn(ctx context.Context, token string, transcript []chat.Turn) (*Reply, error) {
	if token == "" {
		return nil, ErrTokenRequired
	}
	if len(transcript) == 0 {
		return nil, ErrEmptyTranscript
	}

	locked, err := s.lockedName(ctx, token)
	if err != nil {
		return nil, err
	}

	turns := s.stamp(transcript)
	name := identity.Resolve(locked, turns[len(turns)-1])
	if name != locked {
		s.logger.Info("visitor name locked", "token", token, "name", name)
	}

	session, err := s.sessions.UpsertSession(ctx, token, turns, name)
	if err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}
	// the store keeps the first name ever written
	name = session.LockedName

	system := s.composer.SystemPrompt(ctx, name)

	result, err := s.gateway.Complete(ctx, system, session.Transcript)
	if err != nil {
		return nil, err
	}

	reply := &Reply{
		Outcome:    result.Outcome,
		Text:       result.Reply,
		Payload:    result.Payload,
		LockedName: name,
	}
	if result.Outcome.Canned() || result.Reply == "" {
		return reply, nil
	}

	history := session.Transcript
	turn := chat.Turn{Speaker: chat.SpeakerCompanion, Text: result.Reply, OccurredAt: s.now()}
	updated, err := s.sessions.AppendTurn(ctx, token, turn)
	if err != nil {
		// the visitor already has the answer; it is missing from the next load only
		s.logger.Error("failed to append reply", "token", token, "error", err)
		history = append(append([]chat.Turn(nil), history...), turn)
	} else {
		history = updated.Transcript
	}

	if session.HasLockedName() && s.memory != nil {
		s.memory.Dispatch(ctx, name, history)
	}
	return reply, nil
}

// LoadTranscript returns the stored transcript, empty when the token is unknown.
func (s *Service) LoadTranscript(ctx context.Context, token string) ([]chat.Turn, error) {
	if token == "" {
		return nil, ErrTokenRequired
	}

	session, err := s.sessions.FindSession(ctx, token)
	if errors.Is(err, store.ErrNotFound) {
		return []chat.Turn{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	return session.Transcript, nil
}

// ResetSession forgets the conversation. Facts learned about the visitor stay.
func (s *Service) ResetSession(ctx context.Context, token string) error {
	if token == "" {
		return ErrTokenRequired
	}
	if err := s.sessions.DeleteSession(ctx, token); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	s.logger.Info("session cleared", "token", token)
	return nil
}

func (s *Service) lockedName(ctx context.Context, token string) (string, error) {
	session, err := s.sessions.FindSession(ctx, token)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return "", nil
	case err != nil:
		return "", fmt.Errorf("failed to load session: %w", err)
	default:
		return session.LockedName, nil
	}
}

// stamp copies the transcript, filling in missing timestamps.
func (s *Service) stamp(transcript []chat.Turn) []chat.Turn {
	now := s.now()
	turns := make([]chat.Turn, len(transcript))
	for i, t := range transcript {
		if t.OccurredAt.IsZero() {
			t.OccurredAt = now
		}
		turns[i] = t
	}
	return turns
}
