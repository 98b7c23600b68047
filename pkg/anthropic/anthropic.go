// Package anthropic adapts the Anthropic Messages API to an eino chat model.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	inferencex "github.com/tanpawarit/agent-orchestrator/pkg/inference"
)

const providerName = "anthropic"

var _ inferencex.Builder = (*Config)(nil)

type Config struct {
	BaseURL     string        `envconfig:"BASE_URL" split_words:"true"`
	APIKey      string        `envconfig:"API_KEY" split_words:"true" required:"true"`
	Model       string        `envconfig:"MODEL" split_words:"true" default:"claude-3-5-haiku-latest"`
	MaxTokens   int64         `envconfig:"MAX_TOKENS" split_words:"true" default:"500"`
	Temperature float64       `envconfig:"TEMPERATURE" split_words:"true" default:"0.3"`
	Timeout     time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"30s"`
}

func (c *Config) New(ctx context.Context) (einomodel.BaseChatModel, error) {
	if strings.TrimSpace(c.APIKey) == "" {
		return nil, errors.New("anthropic: api key is required")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(strings.TrimSpace(c.APIKey)),
		option.WithMaxRetries(0),
	}
	if trimmed := strings.TrimRight(c.BaseURL, "/"); trimmed != "" {
		opts = append(opts, option.WithBaseURL(trimmed))
	}
	if c.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(c.Timeout))
	}

	client := anthropic.NewClient(opts...)
	maxTokens := c.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 500
	}
	return &ChatModel{
		client:      &client,
		model:       anthropic.Model(strings.TrimSpace(c.Model)),
		maxTokens:   maxTokens,
		temperature: c.Temperature,
	}, nil
}

type ChatModel struct {
	client      *anthropic.Client
	model       anthropic.Model
	maxTokens   int64
	temperature float64
}

var _ einomodel.BaseChatModel = (*ChatModel)(nil)

func (m *ChatModel) Generate(ctx context.Context, input []*schema.Message, _ ...einomodel.Option) (*schema.Message, error) {
	system, turns := inferencex.SplitMessages(input)

	params := anthropic.MessageNewParams{
		Model:       m.model,
		Messages:    buildMessages(turns),
		MaxTokens:   m.maxTokens,
		Temperature: anthropic.Float(m.temperature),
	}
	for _, text := range system {
		params.System = append(params.System, anthropic.TextBlockParam{Text: text})
	}

	resp, err := m.client.Messages.New(ctx, params)
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return nil, &inferencex.StatusError{Provider: providerName, StatusCode: apiErr.StatusCode, Err: err}
		}
		return nil, fmt.Errorf("anthropic: messages: %w", err)
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.AsText().Text)
		}
	}
	return schema.AssistantMessage(sb.String(), nil), nil
}

func (m *ChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.StreamReader[*schema.Message], error) {
	return inferencex.SingleChunk(m.Generate(ctx, input, opts...))
}

func buildMessages(turns []*schema.Message) []anthropic.MessageParam {
	messages := make([]anthropic.MessageParam, 0, len(turns))
	for _, msg := range turns {
		block := anthropic.NewTextBlock(msg.Content)
		if msg.Role == schema.Assistant {
			messages = append(messages, anthropic.NewAssistantMessage(block))
			continue
		}
		messages = append(messages, anthropic.NewUserMessage(block))
	}
	return messages
}
