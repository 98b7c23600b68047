package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	orchestratorx "github.com/tanpawarit/agent-orchestrator/agent/agents/orchestrator"
	contractx "github.com/tanpawarit/agent-orchestrator/agent/contract"
	webhookx "github.com/tanpawarit/agent-orchestrator/agent/webhook"
)

type processBody struct {
	Text              string `json:"text"`
	OrchestrationMode string `json:"orchestration_mode"`
	Mode              string `json:"mode"`
	WebhookURL        string `json:"webhook_url"`
	WebhookSecret     string `json:"webhook_secret"`
}

func (b processBody) toSubmit() orchestratorx.SubmitRequest {
	mode := b.OrchestrationMode
	if mode == "" {
		mode = b.Mode
	}
	in := orchestratorx.SubmitRequest{
		Text: b.Text,
		Mode: contractx.ExecutionMode(strings.ToLower(strings.TrimSpace(mode))),
	}
	if b.WebhookURL != "" || b.WebhookSecret != "" {
		in.Webhook = &contractx.WebhookTarget{URL: b.WebhookURL, Secret: b.WebhookSecret}
	}
	return in
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	var body processBody
	if !s.decodeJSON(w, r, &body) {
		return
	}

	req, err := s.svc.Submit(r.Context(), body.toSubmit())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, processResponse{
		RequestID:         req.ID,
		Status:            req.Status,
		Message:           "Processing started",
		WebhookRegistered: req.Webhook != nil,
	})
}

func (s *Server) handleGetResult(w http.ResponseWriter, r *http.Request) {
	rec, err := s.svc.GetResult(r.Context(), chi.URLParam(r, "requestID"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newResultResponse(rec))
}

func (s *Server) handleListResults(w http.ResponseWriter, r *http.Request) {
	page, err := parsePage(r)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}

	list, err := s.svc.ListResults(r.Context(), page)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	items := make([]resultResponse, 0, len(list.Items))
	for _, req := range list.Items {
		rec, err := s.svc.GetResult(r.Context(), req.ID)
		if errors.Is(err, contractx.ErrNotFound) {
			continue
		}
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		items = append(items, newResultResponse(rec))
	}

	writeJSON(w, http.StatusOK, listResponse{
		Items:       items,
		Total:       list.Total,
		Page:        list.Page,
		PageSize:    list.PageSize,
		HasNext:     list.Page*list.PageSize < list.Total,
		HasPrevious: list.Page > 1,
	})
}

func (s *Server) handleWebhookLogs(w http.ResponseWriter, r *http.Request) {
	rec, err := s.svc.GetResult(r.Context(), chi.URLParam(r, "requestID"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	attempts := rec.Attempts
	if attempts == nil {
		attempts = []contractx.WebhookDeliveryAttempt{}
	}
	writeJSON(w, http.StatusOK, attempts)
}

func (s *Server) handleRetryWebhook(w http.ResponseWriter, r *http.Request) {
	requestID := strings.TrimSpace(chi.URLParam(r, "requestID"))
	outcome, err := s.svc.RetryWebhook(r.Context(), requestID)
	if err != nil && !errors.Is(err, contractx.ErrDeliveryExhausted) {
		s.writeServiceError(w, r, err)
		return
	}

	msg := "Webhook delivered"
	if outcome != contractx.DeliveryDelivered {
		msg = "Webhook delivery failed after all attempts"
	}
	writeJSON(w, http.StatusOK, retryResponse{
		RequestID: requestID,
		Outcome:   outcome,
		Message:   msg,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.HealthTimeout)
	defer cancel()

	resp := healthResponse{
		Status:    "healthy",
		Store:     "connected",
		Provider:  "configured",
		Timestamp: s.now().UTC(),
	}
	status := http.StatusOK
	if err := s.health.Ping(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("store health check failed")
		resp.Status = "unhealthy"
		resp.Store = "disconnected"
		status = http.StatusServiceUnavailable
	}
	if !s.cfg.ProviderConfigured {
		resp.Provider = "not_configured"
		if resp.Status == "healthy" {
			resp.Status = "degraded"
		}
	}
	writeJSON(w, status, resp)
}

// verifyInbound rejects unsigned or mis-signed bodies when inbound keys are configured.
func (s *Server) verifyInbound(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.inbound.Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		body, ok := s.readBody(w, r)
		if !ok {
			return
		}
		if !s.inbound.Verify(body, r.Header.Get(s.inbound.Header())) {
			s.writeError(w, r, http.StatusUnauthorized, "invalid_signature", "webhook signature is missing or invalid")
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleCallbackTest(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}

	var payload any = string(body)
	if json.Valid(body) {
		payload = json.RawMessage(body)
	}

	signature := r.Header.Get(webhookx.DefaultSignatureHeader)
	info := signatureInfo{Present: signature != ""}
	if info.Present && s.cfg.CallbackSecret != "" {
		valid := webhookx.Verify(body, signature, s.cfg.CallbackSecret)
		info.Valid = &valid
	}

	s.logger.Info().
		Bool("signature_present", info.Present).
		Int("bytes", len(body)).
		Msg("test webhook callback received")

	writeJSON(w, http.StatusOK, callbackResponse{
		Message:         "Webhook callback test successful",
		ReceivedPayload: payload,
		Timestamp:       s.now().UTC(),
		SignatureInfo:   info,
	})
}

func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, r, http.StatusRequestEntityTooLarge, "payload_too_large", "request body too large")
			return nil, false
		}
		s.writeError(w, r, http.StatusBadRequest, "invalid_body", "could not read request body")
		return nil, false
	}
	return body, true
}

func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	body, ok := s.readBody(w, r)
	if !ok {
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		s.writeError(w, r, http.StatusBadRequest, "invalid_json", "request body must be a JSON object")
		return false
	}
	return true
}

func parsePage(r *http.Request) (contractx.Page, error) {
	page := contractx.Page{Page: 1, PageSize: contractx.DefaultPageSize}
	q := r.URL.Query()

	if raw := q.Get("page"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return page, errors.New("page must be a positive integer")
		}
		page.Page = n
	}
	if raw := q.Get("page_size"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > contractx.MaxPageSize {
			return page, errors.New("page_size must be between 1 and " + strconv.Itoa(contractx.MaxPageSize))
		}
		page.PageSize = n
	}
	return page, nil
}
