package analyzer

import (
	"context"
	"fmt"

	einomodel "github.com/cloudwego/eino/components/model"
	contractx "github.com/tanpawarit/agent-orchestrator/agent/contract"
	llmx "github.com/tanpawarit/agent-orchestrator/agent/llm"
	promptx "github.com/tanpawarit/agent-orchestrator/agent/prompt"
)

// NewAgents builds every analyzer on the configured provider, in AgentOrder.
func NewAgents(ctx context.Context, cfg llmx.Config) ([]contractx.Agent, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	models := make(map[contractx.AgentName]einomodel.BaseChatModel, len(contractx.AgentOrder))
	for _, name := range contractx.AgentOrder {
		builder, err := cfg.BuilderFor(name)
		if err != nil {
			return nil, err
		}
		m, err := builder.New(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: create %s model: %v", contractx.ErrModelInvoke, name, err)
		}
		models[name] = m
	}
	return NewAgentsWithModels(ctx, promptx.LoadPromptSet(), models)
}

// NewAgentsWithModels builds the analyzers on caller-supplied chat models.
func NewAgentsWithModels(
	ctx context.Context,
	prompts promptx.PromptSet,
	models map[contractx.AgentName]einomodel.BaseChatModel,
) ([]contractx.Agent, error) {
	agents := make([]contractx.Agent, 0, len(contractx.AgentOrder))
	for _, name := range contractx.AgentOrder {
		systemPrompt, err := prompts.For(name)
		if err != nil {
			return nil, err
		}

		var agent contractx.Agent
		switch name {
		case contractx.AgentSummarizer:
			agent, err = newAnalyzer(ctx, name, models[name], systemPrompt, summarizerUserTemplate, finalizeSummary)
		case contractx.AgentSentiment:
			agent, err = newAnalyzer(ctx, name, models[name], systemPrompt, sentimentUserTemplate, finalizeSentiment)
		case contractx.AgentEntityExtractor:
			agent, err = newAnalyzer(ctx, name, models[name], systemPrompt, entityUserTemplate, finalizeEntities)
		}
		if err != nil {
			return nil, err
		}
		agents = append(agents, agent)
	}
	return agents, nil
}
