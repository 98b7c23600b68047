package analyzer

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	contractx "github.com/tanpawarit/agent-orchestrator/agent/contract"
)

const maxSummaryWords = 200

const (
	summarizerUserTemplate = "Please summarize the following text:\n\n{input}"
	sentimentUserTemplate  = "Analyze the sentiment of this text:\n\n{input}"
	entityUserTemplate     = "Extract entities from this text:\n\n{input}"
)

type summaryOutput struct {
	Summary string `json:"summary"`
}

func finalizeSummary(out summaryOutput) (contractx.AgentPayload, error) {
	summary := strings.TrimSpace(out.Summary)
	if summary == "" {
		return contractx.AgentPayload{}, errors.New("summary field is empty")
	}
	words := strings.Fields(summary)
	if len(words) > maxSummaryWords {
		summary = strings.Join(words[:maxSummaryWords], " ")
	}
	return contractx.AgentPayload{Summary: summary}, nil
}

type sentimentOutput struct {
	Sentiment  string      `json:"sentiment"`
	Confidence json.Number `json:"confidence"`
}

var sentimentLabels = map[string]bool{
	"positive": true,
	"negative": true,
	"neutral":  true,
}

func finalizeSentiment(out sentimentOutput) (contractx.AgentPayload, error) {
	label := strings.ToLower(strings.TrimSpace(out.Sentiment))
	if !sentimentLabels[label] {
		return contractx.AgentPayload{}, fmt.Errorf("invalid sentiment value %q", out.Sentiment)
	}

	confidence := 0.0
	if raw := strings.TrimSpace(out.Confidence.String()); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return contractx.AgentPayload{}, fmt.Errorf("confidence %q is not a number", raw)
		}
		confidence = v
	}
	if math.IsNaN(confidence) || confidence < 0 || confidence > 1 {
		return contractx.AgentPayload{}, fmt.Errorf("confidence must be between 0.0 and 1.0, got %v", confidence)
	}

	return contractx.AgentPayload{Sentiment: &contractx.SentimentResult{
		Label:      label,
		Confidence: math.Round(confidence*1000) / 1000,
	}}, nil
}

type entityOutput struct {
	Persons       json.RawMessage `json:"persons"`
	Organizations json.RawMessage `json:"organizations"`
	Locations     json.RawMessage `json:"locations"`
	Dates         json.RawMessage `json:"dates"`
}

func finalizeEntities(out entityOutput) (contractx.AgentPayload, error) {
	var (
		e   contractx.Entities
		err error
	)
	if e.Persons, err = entityList("persons", out.Persons); err != nil {
		return contractx.AgentPayload{}, err
	}
	if e.Organizations, err = entityList("organizations", out.Organizations); err != nil {
		return contractx.AgentPayload{}, err
	}
	if e.Locations, err = entityList("locations", out.Locations); err != nil {
		return contractx.AgentPayload{}, err
	}
	if e.Dates, err = entityList("dates", out.Dates); err != nil {
		return contractx.AgentPayload{}, err
	}
	return contractx.AgentPayload{Entities: &e}, nil
}

// entityList accepts a missing or null field as empty, rejects non-arrays, and
// keeps the first occurrence of each non-empty item.
func entityList(field string, raw json.RawMessage) ([]string, error) {
	out := []string{}
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return out, nil
	}

	var items []any
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("%s must be a list", field)
	}

	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		var s string
		switch v := item.(type) {
		case nil:
			continue
		case string:
			s = strings.TrimSpace(v)
		case float64:
			s = strconv.FormatFloat(v, 'f', -1, 64)
		case bool:
			s = strconv.FormatBool(v)
		default:
			b, _ := json.Marshal(v)
			s = string(b)
		}
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out, nil
}
