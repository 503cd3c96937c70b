package provider

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino/schema"

	"flowpilot/internal/config"
	"flowpilot/internal/models"
)

// Claude streams chat completions from the Anthropic API. Model name and
// token cap come from deployment config; the API key is resolved per turn
// from the requesting user's stored credential.
type Claude struct {
	cfg config.AnthropicConfig
}

// NewClaude builds the provider adapter.
func NewClaude(cfg config.AnthropicConfig) *Claude {
	return &Claude{cfg: cfg}
}

// Stream opens a streaming completion for the given messages and forwards
// each delta token to onToken as it arrives. Returning an error from onToken
// aborts the stream.
func (p *Claude) Stream(ctx context.Context, apiKey string, messages []models.ChatMessage, onToken func(string) error) error {
	var baseURLPtr *string
	if p.cfg.BaseURL != "" {
		baseURL := p.cfg.BaseURL
		baseURLPtr = &baseURL
	}
	chatModel, err := claude.NewChatModel(ctx, &claude.Config{
		APIKey:    apiKey,
		Model:     p.cfg.Model,
		BaseURL:   baseURLPtr,
		MaxTokens: p.cfg.MaxTokens,
	})
	if err != nil {
		return fmt.Errorf("init anthropic model: %w", err)
	}

	reader, err := chatModel.Stream(ctx, convertMessages(messages))
	if err != nil {
		return fmt.Errorf("open anthropic stream: %w", err)
	}
	defer reader.Close()

	for {
		chunk, err := reader.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("receive stream chunk: %w", err)
		}
		if chunk.Content == "" {
			continue
		}
		if err := onToken(chunk.Content); err != nil {
			return err
		}
	}
}

func convertMessages(messages []models.ChatMessage) []*schema.Message {
	converted := make([]*schema.Message, 0, len(messages))
	for _, msg := range messages {
		var role schema.RoleType
		switch msg.Role {
		case models.RoleUser:
			role = schema.User
		case models.RoleAssistant:
			role = schema.Assistant
		case models.RoleSystem:
			role = schema.System
		default:
			role = schema.User
		}
		converted = append(converted, &schema.Message{
			Role:    role,
			Content: msg.Content,
		})
	}
	return converted
}
