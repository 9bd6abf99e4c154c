package ai

import (
	"context"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

var _ model.BaseChatModel = (*ChatModel)(nil)

// ChatModel exposes the completion client as an eino chat model so it can sit
// at the end of a compose chain. Errors are returned unclassified.
type ChatModel struct {
	client *Client
}

// NewChatModel wraps client.
func NewChatModel(client *Client) *ChatModel {
	return &ChatModel{client: client}
}

// Generate runs one non-streaming completion.
func (m *ChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	options := model.GetCommonOptions(&model.Options{}, opts...)

	var name string
	if options.Model != nil {
		name = *options.Model
	}

	result, err := m.client.Chat(ctx, name, input)
	if err != nil {
		return nil, err
	}
	return schema.AssistantMessage(result.Response.Message.Content, nil), nil
}

// Stream is not supported upstream; it yields the full reply as one chunk.
func (m *ChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}
