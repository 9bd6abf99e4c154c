package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"
)

// Client speaks the non-streaming chat endpoint of the completion service.
type Client struct {
	url        string
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewClient creates a completion client. A zero timeout leaves requests unbounded.
func NewClient(url, apiKey, model string, timeout time.Duration) *Client {
	return &Client{
		url:    strings.TrimSpace(url),
		apiKey: apiKey,
		model:  model,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// ChatMessage is one wire message.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the upstream request body.
type ChatRequest struct {
	Model    string        `json:"model"`
	Messages []ChatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

// ChatResponse is the part of the upstream reply the companion reads.
type ChatResponse struct {
	Message *ChatMessage `json:"message"`
}

// ChatResult carries the decoded reply plus the body exactly as received.
type ChatResult struct {
	Response ChatResponse
	Raw      json.RawMessage
}

// Chat sends messages and returns the decoded reply.
// Errors wrap ErrUpstreamTransport, ErrUpstreamMalformed or are a *StatusError.
func (c *Client) Chat(ctx context.Context, model string, messages []*schema.Message) (*ChatResult, error) {
	if model == "" {
		model = c.model
	}

	req := ChatRequest{
		Model:    model,
		Messages: make([]ChatMessage, 0, len(messages)),
		Stream:   false,
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, ChatMessage{Role: string(m.Role), Content: m.Content})
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create request: %v", ErrUpstreamTransport, err)
	}
	c.setHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to send request: %v", ErrUpstreamTransport, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %v", ErrUpstreamTransport, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var decoded ChatResponse
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamMalformed, err)
	}
	if decoded.Message == nil {
		return nil, fmt.Errorf("%w: missing message", ErrUpstreamMalformed)
	}

	return &ChatResult{Response: decoded, Raw: json.RawMessage(respBody)}, nil
}

// setHeaders sets common request headers.
func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}
