package llm

import (
	"fmt"
	"strings"
	"time"

	contractx "github.com/tanpawarit/agent-orchestrator/agent/contract"
	anthropicx "github.com/tanpawarit/agent-orchestrator/pkg/anthropic"
	inferencex "github.com/tanpawarit/agent-orchestrator/pkg/inference"
	openaix "github.com/tanpawarit/agent-orchestrator/pkg/openai"
	openrouterx "github.com/tanpawarit/agent-orchestrator/pkg/openrouter"
)

type Provider string

const (
	ProviderOpenRouter Provider = "openrouter"
	ProviderOpenAI     Provider = "openai"
	ProviderAnthropic  Provider = "anthropic"
)

type Config struct {
	Provider Provider      `envconfig:"PROVIDER" split_words:"true" default:"openrouter"`
	BaseURL  string        `envconfig:"BASE_URL" split_words:"true"`
	APIKey   string        `envconfig:"API_KEY" split_words:"true" required:"true"`
	Model    string        `envconfig:"MODEL" split_words:"true" default:"gpt-4o-mini"`
	Timeout  time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"30s"`
	SiteURL  string        `envconfig:"SITE_URL" split_words:"true"`
	SiteName string        `envconfig:"SITE_NAME" split_words:"true"`

	SummarizerModel       string  `envconfig:"SUMMARIZER_MODEL" split_words:"true"`
	SentimentModel        string  `envconfig:"SENTIMENT_MODEL" split_words:"true"`
	EntityModel           string  `envconfig:"ENTITY_MODEL" split_words:"true"`
	SummarizerTemperature float32 `envconfig:"SUMMARIZER_TEMPERATURE" split_words:"true" default:"0.3"`
	SentimentTemperature  float32 `envconfig:"SENTIMENT_TEMPERATURE" split_words:"true" default:"0.1"`
	EntityTemperature     float32 `envconfig:"ENTITY_TEMPERATURE" split_words:"true" default:"0.2"`
	SummarizerMaxTokens   int     `envconfig:"SUMMARIZER_MAX_TOKENS" split_words:"true" default:"300"`
	SentimentMaxTokens    int     `envconfig:"SENTIMENT_MAX_TOKENS" split_words:"true" default:"100"`
	EntityMaxTokens       int     `envconfig:"ENTITY_MAX_TOKENS" split_words:"true" default:"500"`
}

// ModelSettings are the resolved per-agent generation parameters.
type ModelSettings struct {
	Model       string
	Temperature float32
	MaxTokens   int
}

func (c Config) Validate() error {
	switch c.Provider {
	case ProviderOpenRouter, ProviderOpenAI, ProviderAnthropic:
	default:
		return fmt.Errorf("%w: unknown llm provider %q", contractx.ErrValidation, c.Provider)
	}
	if strings.TrimSpace(c.APIKey) == "" {
		return fmt.Errorf("%w: llm api key is required", contractx.ErrValidation)
	}
	if strings.TrimSpace(c.Model) == "" {
		return fmt.Errorf("%w: default model is required", contractx.ErrValidation)
	}
	return nil
}

func (c Config) SettingsFor(agent contractx.AgentName) ModelSettings {
	out := ModelSettings{Model: strings.TrimSpace(c.Model)}

	var model string
	switch agent {
	case contractx.AgentSummarizer:
		model, out.Temperature, out.MaxTokens = c.SummarizerModel, c.SummarizerTemperature, c.SummarizerMaxTokens
	case contractx.AgentSentiment:
		model, out.Temperature, out.MaxTokens = c.SentimentModel, c.SentimentTemperature, c.SentimentMaxTokens
	case contractx.AgentEntityExtractor:
		model, out.Temperature, out.MaxTokens = c.EntityModel, c.EntityTemperature, c.EntityMaxTokens
	}
	if v := strings.TrimSpace(model); v != "" {
		out.Model = v
	}
	return out
}

// BuilderFor returns the chat model builder for agent on the configured provider.
func (c Config) BuilderFor(agent contractx.AgentName) (inferencex.Builder, error) {
	s := c.SettingsFor(agent)
	apiKey := strings.TrimSpace(c.APIKey)
	baseURL := strings.TrimSpace(c.BaseURL)

	switch c.Provider {
	case ProviderOpenRouter:
		maxTokens := s.MaxTokens
		return &openrouterx.Config{
			BaseURL:            baseURL,
			APIKey:             apiKey,
			Model:              s.Model,
			MaxCompletionToken: &maxTokens,
			Temperature:        s.Temperature,
			Timeout:            c.Timeout,
			SiteURL:            strings.TrimSpace(c.SiteURL),
			SiteName:           strings.TrimSpace(c.SiteName),
		}, nil
	case ProviderOpenAI:
		return &openaix.Config{
			BaseURL:     baseURL,
			APIKey:      apiKey,
			Model:       s.Model,
			MaxTokens:   int64(s.MaxTokens),
			Temperature: float64(s.Temperature),
			Timeout:     c.Timeout,
		}, nil
	case ProviderAnthropic:
		return &anthropicx.Config{
			BaseURL:     baseURL,
			APIKey:      apiKey,
			Model:       s.Model,
			MaxTokens:   int64(s.MaxTokens),
			Temperature: float64(s.Temperature),
			Timeout:     c.Timeout,
		}, nil
	default:
		return nil, fmt.Errorf("%w: unknown llm provider %q", contractx.ErrValidation, c.Provider)
	}
}
