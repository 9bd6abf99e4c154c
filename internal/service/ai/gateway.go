package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/z-companion/backend/internal/config"
	"github.com/zhouzirui/z-companion/backend/internal/model/chat"
)

// Outcome is the domain-level classification of one completion call.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeAuthFailure
	OutcomeRateLimited
	OutcomeMalformed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeAuthFailure:
		return "auth_failure"
	case OutcomeRateLimited:
		return "rate_limited"
	case OutcomeMalformed:
		return "malformed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Canned reports whether the reply is a substitute for an upstream answer.
func (o Outcome) Canned() bool {
	return o != OutcomeSuccess
}

// Result is what the gateway hands back for a handled call.
// Payload is the upstream body verbatim on success, a synthesized reply otherwise.
type Result struct {
	Outcome Outcome
	Reply   string
	Payload json.RawMessage
}

// Gateway wraps the completion client with role mapping and failure recovery.
type Gateway struct {
	client  *Client
	replies config.CannedReplies
	logger  *slog.Logger
}

// NewGateway creates a gateway.
func NewGateway(client *Client, replies config.CannedReplies, logger *slog.Logger) *Gateway {
	return &Gateway{
		client:  client,
		replies: replies,
		logger:  logger.With("component", "gateway"),
	}
}

// Complete runs one completion for system + transcript.
// Auth, rate-limit and malformed-body failures come back as canned Results;
// anything else is returned as an error wrapping ErrUpstreamTransport.
func (g *Gateway) Complete(ctx context.Context, system string, transcript []chat.Turn) (*Result, error) {
	result, err := g.client.Chat(ctx, "", BuildMessages(system, transcript))
	if err != nil {
		return g.recover(err)
	}

	reply := result.Response.Message.Content
	g.logger.Debug("completion succeeded", "length", len(reply))
	return &Result{Outcome: OutcomeSuccess, Reply: reply, Payload: result.Raw}, nil
}

func (g *Gateway) recover(err error) (*Result, error) {
	var outcome Outcome
	var reply string

	switch {
	case errors.Is(err, ErrUpstreamAuth):
		outcome, reply = OutcomeAuthFailure, g.replies.AuthFailure
	case errors.Is(err, ErrUpstreamRateLimit):
		outcome, reply = OutcomeRateLimited, g.replies.RateLimited
	case errors.Is(err, ErrUpstreamMalformed):
		outcome, reply = OutcomeMalformed, g.replies.Malformed
	default:
		g.logger.Error("completion failed", "error", err)
		if errors.Is(err, ErrUpstreamTransport) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrUpstreamTransport, err)
	}

	g.logger.Warn("completion recovered with canned reply", "outcome", outcome.String(), "error", err)
	return &Result{Outcome: outcome, Reply: reply, Payload: CannedPayload(reply)}, nil
}

// CannedPayload renders a reply in the upstream's success shape.
func CannedPayload(content string) json.RawMessage {
	data, _ := json.Marshal(ChatResponse{Message: &ChatMessage{
		Role:    string(schema.Assistant),
		Content: content,
	}})
	return data
}

// BuildMessages prefixes the system instruction and maps speakers onto
// upstream roles: visitor -> user, companion -> assistant.
func BuildMessages(system string, transcript []chat.Turn) []*schema.Message {
	messages := make([]*schema.Message, 0, len(transcript)+1)
	messages = append(messages, schema.SystemMessage(system))
	for _, turn := range transcript {
		switch turn.Speaker {
		case chat.SpeakerCompanion:
			messages = append(messages, schema.AssistantMessage(turn.Text, nil))
		default:
			messages = append(messages, schema.UserMessage(turn.Text))
		}
	}
	return messages
}
