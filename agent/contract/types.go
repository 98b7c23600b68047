package contract

import (
	"time"
)

type ExecutionMode string

const (
	ModeSequential ExecutionMode = "sequential"
	ModeParallel   ExecutionMode = "parallel"
)

func (m ExecutionMode) Valid() bool {
	return m == ModeSequential || m == ModeParallel
}

type RequestStatus string

const (
	StatusPending    RequestStatus = "pending"
	StatusProcessing RequestStatus = "processing"
	StatusCompleted  RequestStatus = "completed"
	StatusFailed     RequestStatus = "failed"
)

func (s RequestStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransitionTo reports whether next is a legal successor of s.
// pending may fail directly when a request cannot be scheduled.
func (s RequestStatus) CanTransitionTo(next RequestStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusProcessing || next == StatusFailed
	case StatusProcessing:
		return next == StatusCompleted || next == StatusFailed
	default:
		return false
	}
}

type AgentName string

const (
	AgentSummarizer      AgentName = "summarizer"
	AgentSentiment       AgentName = "sentiment"
	AgentEntityExtractor AgentName = "entity_extractor"
)

// AgentOrder is the sequential invocation order and the presentation order of results.
var AgentOrder = []AgentName{AgentSummarizer, AgentSentiment, AgentEntityExtractor}

// AgentRank returns the position of name in AgentOrder, or len(AgentOrder) if unknown.
func AgentRank(name AgentName) int {
	for i, n := range AgentOrder {
		if n == name {
			return i
		}
	}
	return len(AgentOrder)
}

type AgentOutcome string

const (
	OutcomeSuccess AgentOutcome = "success"
	OutcomeFailure AgentOutcome = "failure"
)

type DeliveryOutcome string

const (
	DeliveryDelivered DeliveryOutcome = "delivered"
	DeliveryRetrying  DeliveryOutcome = "retrying"
	DeliveryExhausted DeliveryOutcome = "exhausted"
)

type DeliveryTrigger string

const (
	TriggerAutomatic DeliveryTrigger = "automatic"
	TriggerManual    DeliveryTrigger = "manual"
)

type WebhookTarget struct {
	URL    string `json:"url"`
	Secret string `json:"-"`
}

type ProcessingRequest struct {
	ID        string           `json:"id"`
	Text      string           `json:"text"`
	Mode      ExecutionMode    `json:"mode"`
	Webhook   *WebhookTarget   `json:"webhook,omitempty"`
	Status    RequestStatus    `json:"status"`
	Error     RequestErrorKind `json:"error,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

type SentimentResult struct {
	Label      string  `json:"sentiment"`
	Confidence float64 `json:"confidence"`
}

type Entities struct {
	Persons       []string `json:"persons"`
	Organizations []string `json:"organizations"`
	Locations     []string `json:"locations"`
	Dates         []string `json:"dates"`
}

type AgentPayload struct {
	Summary   string           `json:"summary,omitempty"`
	Sentiment *SentimentResult `json:"sentiment,omitempty"`
	Entities  *Entities        `json:"entities,omitempty"`
}

type AgentResult struct {
	RequestID  string        `json:"request_id"`
	Agent      AgentName     `json:"agent"`
	Outcome    AgentOutcome  `json:"outcome"`
	Payload    *AgentPayload `json:"payload,omitempty"`
	Error      *AgentError   `json:"error,omitempty"`
	DurationMS int64         `json:"duration_ms"`
	Timestamp  time.Time     `json:"timestamp"`
}

func (r AgentResult) Succeeded() bool {
	return r.Outcome == OutcomeSuccess
}

type WebhookDeliveryAttempt struct {
	ID           string            `json:"id"`
	RequestID    string            `json:"request_id"`
	DeliveryID   string            `json:"delivery_id"`
	Trigger      DeliveryTrigger   `json:"trigger"`
	Attempt      int               `json:"attempt"`
	URL          string            `json:"url"`
	Signature    string            `json:"signature,omitempty"`
	StatusCode   int               `json:"status_code,omitempty"`
	ErrorKind    DeliveryErrorKind `json:"error_kind,omitempty"`
	Error        string            `json:"error,omitempty"`
	ResponseBody string            `json:"response_body,omitempty"`
	Outcome      DeliveryOutcome   `json:"outcome"`
	TimedOut     bool              `json:"timed_out,omitempty"`
	Timestamp    time.Time         `json:"timestamp"`
}

// ProcessingResult is the read-only projection of a request and its agent results.
// It is also the webhook body.
type ProcessingResult struct {
	RequestID        string           `json:"request_id"`
	Status           RequestStatus    `json:"status"`
	Mode             ExecutionMode    `json:"mode"`
	Summary          string           `json:"summary,omitempty"`
	Sentiment        *SentimentResult `json:"sentiment,omitempty"`
	Entities         *Entities        `json:"entities,omitempty"`
	AgentResults     []AgentResult    `json:"agent_results"`
	TotalExecutionMS int64            `json:"total_execution_ms"`
	Error            RequestErrorKind `json:"error,omitempty"`
	CompletedAt      time.Time        `json:"completed_at"`
}

// RequestRecord is a request with all of its children as held by a store.
type RequestRecord struct {
	Request  ProcessingRequest
	Results  []AgentResult
	Attempts []WebhookDeliveryAttempt
}

// Result builds the ProcessingResult projection. Agent results are ordered by AgentOrder.
// TotalExecutionMS is the sum of agent durations, or the longest one in parallel mode.
func (r *RequestRecord) Result() ProcessingResult {
	results := SortAgentResults(r.Results)
	out := ProcessingResult{
		RequestID:    r.Request.ID,
		Status:       r.Request.Status,
		Mode:         r.Request.Mode,
		AgentResults: results,
		Error:        r.Request.Error,
		CompletedAt:  r.Request.UpdatedAt,
	}
	for _, res := range results {
		// parallel agents overlap, so the slowest one bounds the run
		if r.Request.Mode == ModeParallel {
			out.TotalExecutionMS = max(out.TotalExecutionMS, res.DurationMS)
		} else {
			out.TotalExecutionMS += res.DurationMS
		}
		if !res.Succeeded() || res.Payload == nil {
			continue
		}
		switch res.Agent {
		case AgentSummarizer:
			out.Summary = res.Payload.Summary
		case AgentSentiment:
			out.Sentiment = res.Payload.Sentiment
		case AgentEntityExtractor:
			out.Entities = res.Payload.Entities
		}
	}
	return out
}

// WebhookStatus is the outcome of the most recent attempt, empty when none was made.
func (r *RequestRecord) WebhookStatus() DeliveryOutcome {
	if len(r.Attempts) == 0 {
		return ""
	}
	return r.Attempts[len(r.Attempts)-1].Outcome
}

func (r *RequestRecord) WebhookAttempts() int {
	return len(r.Attempts)
}

// SortAgentResults returns a copy of results ordered by AgentOrder.
func SortAgentResults(results []AgentResult) []AgentResult {
	out := make([]AgentResult, len(results))
	copy(out, results)
	// insertion sort; the slice never holds more than a handful of entries
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && AgentRank(out[j].Agent) < AgentRank(out[j-1].Agent); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

type Page struct {
	Page     int
	PageSize int
}

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Normalize clamps the page to valid bounds.
func (p Page) Normalize() Page {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PageSize < 1 {
		p.PageSize = DefaultPageSize
	}
	if p.PageSize > MaxPageSize {
		p.PageSize = MaxPageSize
	}
	return p
}

func (p Page) Offset() int {
	return (p.Page - 1) * p.PageSize
}

type RequestPage struct {
	Items    []ProcessingRequest
	Total    int
	Page     int
	PageSize int
}
