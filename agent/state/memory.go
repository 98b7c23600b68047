package state

import (
	"context"
	"fmt"
	"sort"
	"sync"

	contractx "github.com/tanpawarit/agent-orchestrator/agent/contract"
)

// MemoryStore keeps records in process memory. Used for development and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*contractx.RequestRecord
	order   []string
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*contractx.RequestRecord),
	}
}

func (s *MemoryStore) CreateRequest(_ context.Context, req contractx.ProcessingRequest) error {
	if err := validateNewRequest(req); err != nil {
		return err
	}
	if req.Webhook != nil {
		target := *req.Webhook
		req.Webhook = &target
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[req.ID]; ok {
		return fmt.Errorf("%w: request %s already exists", contractx.ErrValidation, req.ID)
	}
	s.records[req.ID] = &contractx.RequestRecord{Request: req}
	s.order = append(s.order, req.ID)
	return nil
}

func (s *MemoryStore) AppendAgentResult(_ context.Context, requestID string, res contractx.AgentResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[requestID]
	if !ok {
		return notFound(requestID)
	}
	for _, existing := range rec.Results {
		if existing.Agent == res.Agent {
			return duplicateResult(requestID, res.Agent)
		}
	}
	res.RequestID = requestID
	rec.Results = append(rec.Results, res)
	return nil
}

func (s *MemoryStore) UpdateRequestStatus(_ context.Context, requestID string, update StatusUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[requestID]
	if !ok {
		return notFound(requestID)
	}
	if err := checkTransition(requestID, rec.Request.Status, update.Status); err != nil {
		return err
	}
	rec.Request.Status = update.Status
	rec.Request.Error = update.Error
	if !update.At.IsZero() {
		rec.Request.UpdatedAt = update.At
	}
	return nil
}

func (s *MemoryStore) AppendDeliveryAttempt(_ context.Context, requestID string, attempt contractx.WebhookDeliveryAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[requestID]
	if !ok {
		return notFound(requestID)
	}
	attempt.RequestID = requestID
	rec.Attempts = append(rec.Attempts, attempt)
	return nil
}

func (s *MemoryStore) GetRequest(_ context.Context, requestID string) (*contractx.RequestRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[requestID]
	if !ok {
		return nil, notFound(requestID)
	}
	return cloneRecord(rec), nil
}

func (s *MemoryStore) ListRequests(_ context.Context, page contractx.Page) (contractx.RequestPage, error) {
	page = page.Normalize()

	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]contractx.ProcessingRequest, 0, len(s.order))
	for _, id := range s.order {
		items = append(items, s.records[id].Request)
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})

	out := contractx.RequestPage{
		Total:    len(items),
		Page:     page.Page,
		PageSize: page.PageSize,
	}
	start := page.Offset()
	if start >= len(items) {
		out.Items = []contractx.ProcessingRequest{}
		return out, nil
	}
	end := min(start+page.PageSize, len(items))
	out.Items = items[start:end]
	return out, nil
}

func (s *MemoryStore) Ping(context.Context) error {
	return nil
}

func cloneRecord(rec *contractx.RequestRecord) *contractx.RequestRecord {
	out := &contractx.RequestRecord{
		Request:  rec.Request,
		Results:  append([]contractx.AgentResult(nil), rec.Results...),
		Attempts: append([]contractx.WebhookDeliveryAttempt(nil), rec.Attempts...),
	}
	if rec.Request.Webhook != nil {
		target := *rec.Request.Webhook
		out.Request.Webhook = &target
	}
	return out
}
