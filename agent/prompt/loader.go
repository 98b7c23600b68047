package prompt

import (
	_ "embed"
	"fmt"
	"strings"

	contractx "github.com/tanpawarit/agent-orchestrator/agent/contract"
)

var (
	//go:embed template/summarizer.txt
	summarizerRaw string

	//go:embed template/sentiment.txt
	sentimentRaw string

	//go:embed template/entity_extractor.txt
	entityExtractorRaw string
)

// PromptSet holds the system prompt of every analyzer agent.
type PromptSet struct {
	Summarizer      string
	Sentiment       string
	EntityExtractor string
}

// LoadPromptSet returns a PromptSet with trimmed prompt strings.
func LoadPromptSet() PromptSet {
	return PromptSet{
		Summarizer:      strings.TrimSpace(summarizerRaw),
		Sentiment:       strings.TrimSpace(sentimentRaw),
		EntityExtractor: strings.TrimSpace(entityExtractorRaw),
	}
}

func (s PromptSet) For(agent contractx.AgentName) (string, error) {
	var p string
	switch agent {
	case contractx.AgentSummarizer:
		p = s.Summarizer
	case contractx.AgentSentiment:
		p = s.Sentiment
	case contractx.AgentEntityExtractor:
		p = s.EntityExtractor
	}
	if p == "" {
		return "", fmt.Errorf("%w: agent=%s", contractx.ErrPromptMissing, agent)
	}
	return p, nil
}
