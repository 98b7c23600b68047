// Package openai adapts the OpenAI Chat Completions API to an eino chat model.
// Requests ask for a JSON object response, which every analyzer prompt expects.
package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	inferencex "github.com/tanpawarit/agent-orchestrator/pkg/inference"
)

const providerName = "openai"

var _ inferencex.Builder = (*Config)(nil)

type Config struct {
	BaseURL     string        `envconfig:"BASE_URL" split_words:"true"`
	APIKey      string        `envconfig:"API_KEY" split_words:"true" required:"true"`
	Model       string        `envconfig:"MODEL" split_words:"true" default:"gpt-4o-mini"`
	MaxTokens   int64         `envconfig:"MAX_TOKENS" split_words:"true" default:"500"`
	Temperature float64       `envconfig:"TEMPERATURE" split_words:"true" default:"0.3"`
	Timeout     time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"30s"`
	Headers     map[string]string
}

func (c *Config) New(ctx context.Context) (einomodel.BaseChatModel, error) {
	client := NewClient(*c)
	if client == nil {
		return nil, errors.New("openai: api key is required")
	}
	return &ChatModel{client: client, cfg: *c}, nil
}

// NewClient returns nil when no API key is configured.
func NewClient(cfg Config) *openaisdk.Client {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil
	}

	opts := []option.RequestOption{
		option.WithAPIKey(strings.TrimSpace(cfg.APIKey)),
	}
	if trimmed := strings.TrimRight(cfg.BaseURL, "/"); trimmed != "" {
		opts = append(opts, option.WithBaseURL(trimmed))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}
	for k, v := range cfg.Headers {
		opts = append(opts, option.WithHeader(k, v))
	}
	// the caller owns retries
	opts = append(opts, option.WithMaxRetries(0))

	client := openaisdk.NewClient(opts...)
	return &client
}

type ChatModel struct {
	client *openaisdk.Client
	cfg    Config
}

var _ einomodel.BaseChatModel = (*ChatModel)(nil)

func (m *ChatModel) Generate(ctx context.Context, input []*schema.Message, _ ...einomodel.Option) (*schema.Message, error) {
	params := openaisdk.ChatCompletionNewParams{
		Messages:    buildMessages(input),
		Model:       strings.TrimSpace(m.cfg.Model),
		Temperature: openaisdk.Float(m.cfg.Temperature),
		ResponseFormat: openaisdk.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &openaisdk.ResponseFormatJSONObjectParam{},
		},
	}
	if m.cfg.MaxTokens > 0 {
		params.MaxTokens = openaisdk.Int(m.cfg.MaxTokens)
	}

	resp, err := m.client.Chat.Completions.New(ctx, params)
	if err != nil {
		var apiErr *openaisdk.Error
		if errors.As(err, &apiErr) {
			return nil, &inferencex.StatusError{Provider: providerName, StatusCode: apiErr.StatusCode, Err: err}
		}
		return nil, fmt.Errorf("openai: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("openai: response has no choices")
	}

	return schema.AssistantMessage(resp.Choices[0].Message.Content, nil), nil
}

func (m *ChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.StreamReader[*schema.Message], error) {
	return inferencex.SingleChunk(m.Generate(ctx, input, opts...))
}

func buildMessages(input []*schema.Message) []openaisdk.ChatCompletionMessageParamUnion {
	messages := make([]openaisdk.ChatCompletionMessageParamUnion, 0, len(input))
	for _, msg := range input {
		if msg == nil {
			continue
		}
		switch msg.Role {
		case schema.System:
			messages = append(messages, openaisdk.SystemMessage(msg.Content))
		case schema.Assistant:
			messages = append(messages, openaisdk.AssistantMessage(msg.Content))
		default:
			messages = append(messages, openaisdk.UserMessage(msg.Content))
		}
	}
	return messages
}
