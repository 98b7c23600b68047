package contract

import (
	"errors"
	"fmt"
)

var (
	ErrValidation        = errors.New("validation failed")
	ErrNotFound          = errors.New("request not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrDuplicateResult   = errors.New("agent result already recorded")
	ErrNoWebhookTarget   = errors.New("request has no webhook target")
	ErrNotFinished       = errors.New("request has not finished processing")
	ErrDeliveryInFlight  = errors.New("webhook delivery already in progress")
	ErrQueueUnavailable  = errors.New("work queue unavailable")
	ErrPromptMissing     = errors.New("required prompt is missing")
	ErrModelInvoke       = errors.New("model invoke failed")
)

// Agent failure kinds.
var (
	ErrAgentTimeout    = errors.New("agent timed out")
	ErrInvalidResponse = errors.New("agent response is invalid")
	ErrRateLimited     = errors.New("inference provider rate limited")
	ErrUnavailable     = errors.New("inference provider unavailable")
)

// Delivery failure kinds.
var (
	ErrTransportFailure  = errors.New("webhook transport failure")
	ErrNonSuccessStatus  = errors.New("webhook non-success status")
	ErrDeliveryExhausted = errors.New("webhook delivery exhausted")
)

// Request-level failure kinds.
var (
	ErrInvalidInput    = errors.New("invalid input")
	ErrAllAgentsFailed = errors.New("all agents failed")
)

type ErrorKind string

const (
	ErrorKindTimeout         ErrorKind = "timeout"
	ErrorKindInvalidResponse ErrorKind = "invalid_response"
	ErrorKindRateLimited     ErrorKind = "rate_limited"
	ErrorKindUnavailable     ErrorKind = "unavailable"
)

func (k ErrorKind) sentinel() error {
	switch k {
	case ErrorKindTimeout:
		return ErrAgentTimeout
	case ErrorKindInvalidResponse:
		return ErrInvalidResponse
	case ErrorKindRateLimited:
		return ErrRateLimited
	case ErrorKindUnavailable:
		return ErrUnavailable
	default:
		return nil
	}
}

// AgentError is the only error an Agent returns.
type AgentError struct {
	Agent   AgentName `json:"agent,omitempty"`
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

func NewAgentError(agent AgentName, kind ErrorKind, format string, args ...any) *AgentError {
	return &AgentError{
		Agent:   agent,
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
	}
}

func (e *AgentError) Error() string {
	if e.Agent == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("agent %s: %s: %s", e.Agent, e.Kind, e.Message)
}

func (e *AgentError) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && s == target
}

// AsAgentError converts any error into an AgentError, defaulting to unavailable.
func AsAgentError(agent AgentName, err error) *AgentError {
	if err == nil {
		return nil
	}
	var agentErr *AgentError
	if errors.As(err, &agentErr) {
		out := *agentErr
		if out.Agent == "" {
			out.Agent = agent
		}
		return &out
	}
	return &AgentError{Agent: agent, Kind: ErrorKindUnavailable, Message: err.Error()}
}

type DeliveryErrorKind string

const (
	DeliveryErrorTransport        DeliveryErrorKind = "transport_failure"
	DeliveryErrorNonSuccessStatus DeliveryErrorKind = "non_success_status"
	DeliveryErrorExhausted        DeliveryErrorKind = "exhausted"
)

type DeliveryError struct {
	Kind       DeliveryErrorKind
	StatusCode int
	TimedOut   bool
	Err        error
}

func (e *DeliveryError) Error() string {
	switch {
	case e.Kind == DeliveryErrorNonSuccessStatus:
		return fmt.Sprintf("webhook %s: status %d", e.Kind, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("webhook %s: %v", e.Kind, e.Err)
	default:
		return fmt.Sprintf("webhook %s", e.Kind)
	}
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

func (e *DeliveryError) Is(target error) bool {
	switch e.Kind {
	case DeliveryErrorTransport:
		return target == ErrTransportFailure
	case DeliveryErrorNonSuccessStatus:
		return target == ErrNonSuccessStatus
	case DeliveryErrorExhausted:
		return target == ErrDeliveryExhausted
	}
	return false
}

type RequestErrorKind string

const (
	RequestErrorInvalidInput    RequestErrorKind = "invalid_input"
	RequestErrorAllAgentsFailed RequestErrorKind = "all_agents_failed"
)

type RequestError struct {
	Kind    RequestErrorKind
	Message string
}

func InvalidInput(format string, args ...any) *RequestError {
	return &RequestError{Kind: RequestErrorInvalidInput, Message: fmt.Sprintf(format, args...)}
}

func (e *RequestError) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *RequestError) Is(target error) bool {
	switch e.Kind {
	case RequestErrorInvalidInput:
		return target == ErrInvalidInput
	case RequestErrorAllAgentsFailed:
		return target == ErrAllAgentsFailed
	}
	return false
}
