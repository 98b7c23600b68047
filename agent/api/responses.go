package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	contractx "github.com/tanpawarit/agent-orchestrator/agent/contract"
)

type processResponse struct {
	RequestID         string                  `json:"request_id"`
	Status            contractx.RequestStatus `json:"status"`
	Message           string                  `json:"message"`
	WebhookRegistered bool                    `json:"webhook_registered"`
}

type resultResponse struct {
	contractx.ProcessingResult
	CreatedAt       time.Time                 `json:"created_at"`
	WebhookStatus   contractx.DeliveryOutcome `json:"webhook_status,omitempty"`
	WebhookAttempts int                       `json:"webhook_attempts"`
}

func newResultResponse(rec *contractx.RequestRecord) resultResponse {
	return resultResponse{
		ProcessingResult: rec.Result(),
		CreatedAt:        rec.Request.CreatedAt,
		WebhookStatus:    rec.WebhookStatus(),
		WebhookAttempts:  rec.WebhookAttempts(),
	}
}

type listResponse struct {
	Items       []resultResponse `json:"items"`
	Total       int              `json:"total"`
	Page        int              `json:"page"`
	PageSize    int              `json:"page_size"`
	HasNext     bool             `json:"has_next"`
	HasPrevious bool             `json:"has_previous"`
}

type retryResponse struct {
	RequestID string                    `json:"request_id"`
	Outcome   contractx.DeliveryOutcome `json:"outcome"`
	Message   string                    `json:"message"`
}

type healthResponse struct {
	Status    string    `json:"status"`
	Store     string    `json:"store"`
	Provider  string    `json:"provider"`
	Timestamp time.Time `json:"timestamp"`
}

type signatureInfo struct {
	Present bool  `json:"signature_present"`
	Valid   *bool `json:"signature_valid,omitempty"`
}

type callbackResponse struct {
	Message         string        `json:"message"`
	ReceivedPayload any           `json:"received_payload"`
	Timestamp       time.Time     `json:"timestamp"`
	SignatureInfo   signatureInfo `json:"signature_info"`
}

type errorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		Error:     code,
		Message:   message,
		RequestID: middleware.GetReqID(r.Context()),
	})
}

// writeServiceError maps orchestrator errors onto HTTP statuses.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, contractx.ErrInvalidInput), errors.Is(err, contractx.ErrValidation):
		s.writeError(w, r, http.StatusBadRequest, "invalid_input", err.Error())
	case errors.Is(err, contractx.ErrNotFound):
		s.writeError(w, r, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, contractx.ErrNoWebhookTarget):
		s.writeError(w, r, http.StatusConflict, "no_webhook_target", err.Error())
	case errors.Is(err, contractx.ErrNotFinished):
		s.writeError(w, r, http.StatusConflict, "not_finished", err.Error())
	case errors.Is(err, contractx.ErrDeliveryInFlight):
		s.writeError(w, r, http.StatusConflict, "delivery_in_progress", err.Error())
	case errors.Is(err, contractx.ErrQueueUnavailable):
		s.writeError(w, r, http.StatusServiceUnavailable, "queue_unavailable", err.Error())
	default:
		s.logger.Error().
			Err(err).
			Str("http_request_id", middleware.GetReqID(r.Context())).
			Msg("request failed")
		s.writeError(w, r, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}
