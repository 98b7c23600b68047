package llm

import (
	"errors"
	"testing"

	contractx "github.com/tanpawarit/agent-orchestrator/agent/contract"
	anthropicx "github.com/tanpawarit/agent-orchestrator/pkg/anthropic"
	openaix "github.com/tanpawarit/agent-orchestrator/pkg/openai"
	openrouterx "github.com/tanpawarit/agent-orchestrator/pkg/openrouter"
)

func baseConfig() Config {
	return Config{
		Provider:              ProviderOpenRouter,
		APIKey:                " key ",
		Model:                 "gpt-4o-mini",
		SummarizerTemperature: 0.3,
		SentimentTemperature:  0.1,
		EntityTemperature:     0.2,
		SummarizerMaxTokens:   300,
		SentimentMaxTokens:    100,
		EntityMaxTokens:       500,
	}
}

func TestSettingsForUsesPerAgentOverrides(t *testing.T) {
	t.Parallel()

	cfg := baseConfig()
	cfg.SentimentModel = "anthropic/claude-3-haiku"

	got := cfg.SettingsFor(contractx.AgentSentiment)
	if got.Model != "anthropic/claude-3-haiku" || got.Temperature != 0.1 || got.MaxTokens != 100 {
		t.Fatalf("SettingsFor(sentiment) = %#v", got)
	}

	got = cfg.SettingsFor(contractx.AgentEntityExtractor)
	if got.Model != "gpt-4o-mini" || got.Temperature != 0.2 || got.MaxTokens != 500 {
		t.Fatalf("SettingsFor(entity_extractor) = %#v", got)
	}
}

func TestBuilderForSelectsProvider(t *testing.T) {
	t.Parallel()

	cfg := baseConfig()
	b, err := cfg.BuilderFor(contractx.AgentSummarizer)
	if err != nil {
		t.Fatalf("BuilderFor() error = %v", err)
	}
	or, ok := b.(*openrouterx.Config)
	if !ok || or.APIKey != "key" || *or.MaxCompletionToken != 300 {
		t.Fatalf("openrouter builder = %#v", b)
	}

	cfg.Provider = ProviderOpenAI
	b, _ = cfg.BuilderFor(contractx.AgentSentiment)
	if oa, ok := b.(*openaix.Config); !ok || oa.MaxTokens != 100 {
		t.Fatalf("openai builder = %#v", b)
	}

	cfg.Provider = ProviderAnthropic
	b, _ = cfg.BuilderFor(contractx.AgentEntityExtractor)
	if an, ok := b.(*anthropicx.Config); !ok || an.MaxTokens != 500 {
		t.Fatalf("anthropic builder = %#v", b)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	cfg := baseConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	cfg.Provider = "mystery"
	if err := cfg.Validate(); !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("Validate() error = %v, want ErrValidation", err)
	}

	cfg = baseConfig()
	cfg.APIKey = "  "
	if err := cfg.Validate(); !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("Validate() error = %v, want ErrValidation", err)
	}
}
