package state

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	contractx "github.com/tanpawarit/agent-orchestrator/agent/contract"
)

const (
	defaultStoreKeyPrefix = "aorch:"
	maxResponseSizeBytes  = 2 << 20
)

// StoreOption customizes UpstashRedisStore.
type StoreOption func(*UpstashRedisStore)

func WithKeyPrefix(prefix string) StoreOption {
	return func(s *UpstashRedisStore) {
		trimmed := strings.TrimSpace(prefix)
		if trimmed != "" {
			s.keyPrefix = trimmed
		}
	}
}

// WithTTL expires request keys after ttl. Zero keeps them forever.
func WithTTL(ttl time.Duration) StoreOption {
	return func(s *UpstashRedisStore) {
		s.ttl = ttl
	}
}

func WithHTTPClient(client *http.Client) StoreOption {
	return func(s *UpstashRedisStore) {
		if client != nil {
			s.httpClient = client
		}
	}
}

// UpstashRedisStore persists request records in Upstash Redis via its REST API.
//
// Layout: request JSON under <prefix>request:<id>, agent results and delivery
// attempts as lists under <prefix>request:<id>:results / :attempts, and a
// sorted set <prefix>requests scored by creation time for listing.
type UpstashRedisStore struct {
	baseURL    string
	token      string
	httpClient *http.Client
	keyPrefix  string
	ttl        time.Duration
}

var _ Store = (*UpstashRedisStore)(nil)

type redisRESTResponse struct {
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error"`
}

type UpstashRedisConfig struct {
	URL     string        `envconfig:"URL" split_words:"true"`
	Token   string        `envconfig:"TOKEN" split_words:"true"`
	Timeout time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"10s"`
	TTL     time.Duration `envconfig:"TTL" split_words:"true" default:"0s"`
}

type storedRequest struct {
	contractx.ProcessingRequest
	WebhookSecret string `json:"webhook_secret,omitempty"`
}

func NewUpstashRedisStore(cfg UpstashRedisConfig, opts ...StoreOption) (*UpstashRedisStore, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	if baseURL == "" {
		return nil, errors.New("upstash redis url is required")
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid redis rest url: %w", err)
	}

	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("upstash redis token is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	store := &UpstashRedisStore{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		keyPrefix: defaultStoreKeyPrefix,
		ttl:       cfg.TTL,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}

	if store.ttl < 0 {
		return nil, errors.New("ttl must be >= 0")
	}

	return store, nil
}

func (s *UpstashRedisStore) CreateRequest(ctx context.Context, req contractx.ProcessingRequest) error {
	if err := validateNewRequest(req); err != nil {
		return err
	}

	payload, err := encodeStoredRequest(req)
	if err != nil {
		return err
	}

	cmd := []any{"SET", s.requestKey(req.ID), payload, "NX"}
	if s.ttl > 0 {
		cmd = append(cmd, "EX", ttlSeconds(s.ttl))
	}
	resp, err := s.exec(ctx, cmd)
	if err != nil {
		return err
	}
	if isNull(resp.Result) {
		return fmt.Errorf("%w: request %s already exists", contractx.ErrValidation, req.ID)
	}

	_, err = s.exec(ctx, []any{"ZADD", s.indexKey(), req.CreatedAt.UnixMilli(), req.ID})
	return err
}

func (s *UpstashRedisStore) AppendAgentResult(ctx context.Context, requestID string, res contractx.AgentResult) error {
	if err := s.ensureExists(ctx, requestID); err != nil {
		return err
	}

	existing, err := s.lrange(ctx, s.resultsKey(requestID))
	if err != nil {
		return err
	}
	for _, raw := range existing {
		var prev contractx.AgentResult
		if err := json.Unmarshal([]byte(raw), &prev); err != nil {
			return fmt.Errorf("unmarshal agent result: %w", err)
		}
		if prev.Agent == res.Agent {
			return duplicateResult(requestID, res.Agent)
		}
	}

	res.RequestID = requestID
	return s.rpush(ctx, s.resultsKey(requestID), res)
}

func (s *UpstashRedisStore) UpdateRequestStatus(ctx context.Context, requestID string, update StatusUpdate) error {
	req, err := s.loadRequest(ctx, requestID)
	if err != nil {
		return err
	}
	if err := checkTransition(requestID, req.Status, update.Status); err != nil {
		return err
	}

	req.Status = update.Status
	req.Error = update.Error
	if !update.At.IsZero() {
		req.UpdatedAt = update.At
	}

	payload, err := encodeStoredRequest(*req)
	if err != nil {
		return err
	}
	_, err = s.exec(ctx, []any{"SET", s.requestKey(requestID), payload, "XX", "KEEPTTL"})
	return err
}

func (s *UpstashRedisStore) AppendDeliveryAttempt(ctx context.Context, requestID string, attempt contractx.WebhookDeliveryAttempt) error {
	if err := s.ensureExists(ctx, requestID); err != nil {
		return err
	}
	attempt.RequestID = requestID
	return s.rpush(ctx, s.attemptsKey(requestID), attempt)
}

func (s *UpstashRedisStore) GetRequest(ctx context.Context, requestID string) (*contractx.RequestRecord, error) {
	req, err := s.loadRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}

	rec := &contractx.RequestRecord{Request: *req}

	rawResults, err := s.lrange(ctx, s.resultsKey(requestID))
	if err != nil {
		return nil, err
	}
	for _, raw := range rawResults {
		var res contractx.AgentResult
		if err := json.Unmarshal([]byte(raw), &res); err != nil {
			return nil, fmt.Errorf("unmarshal agent result: %w", err)
		}
		rec.Results = append(rec.Results, res)
	}

	rawAttempts, err := s.lrange(ctx, s.attemptsKey(requestID))
	if err != nil {
		return nil, err
	}
	for _, raw := range rawAttempts {
		var attempt contractx.WebhookDeliveryAttempt
		if err := json.Unmarshal([]byte(raw), &attempt); err != nil {
			return nil, fmt.Errorf("unmarshal delivery attempt: %w", err)
		}
		rec.Attempts = append(rec.Attempts, attempt)
	}

	return rec, nil
}

func (s *UpstashRedisStore) ListRequests(ctx context.Context, page contractx.Page) (contractx.RequestPage, error) {
	page = page.Normalize()
	out := contractx.RequestPage{
		Items:    []contractx.ProcessingRequest{},
		Page:     page.Page,
		PageSize: page.PageSize,
	}

	resp, err := s.exec(ctx, []any{"ZCARD", s.indexKey()})
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(resp.Result, &out.Total); err != nil {
		return out, fmt.Errorf("decode zcard: %w", err)
	}

	start := page.Offset()
	if start >= out.Total {
		return out, nil
	}
	stop := start + page.PageSize - 1

	resp, err = s.exec(ctx, []any{"ZREVRANGE", s.indexKey(), start, stop})
	if err != nil {
		return out, err
	}
	var ids []string
	if err := json.Unmarshal(resp.Result, &ids); err != nil {
		return out, fmt.Errorf("decode zrevrange: %w", err)
	}
	if len(ids) == 0 {
		return out, nil
	}

	cmd := make([]any, 0, len(ids)+1)
	cmd = append(cmd, "MGET")
	for _, id := range ids {
		cmd = append(cmd, s.requestKey(id))
	}
	resp, err = s.exec(ctx, cmd)
	if err != nil {
		return out, err
	}
	var payloads []*string
	if err := json.Unmarshal(resp.Result, &payloads); err != nil {
		return out, fmt.Errorf("decode mget: %w", err)
	}
	for _, p := range payloads {
		// expired by TTL while still indexed
		if p == nil {
			continue
		}
		req, err := decodeStoredRequest([]byte(*p))
		if err != nil {
			return out, err
		}
		out.Items = append(out.Items, *req)
	}
	return out, nil
}

func (s *UpstashRedisStore) Ping(ctx context.Context) error {
	_, err := s.exec(ctx, []any{"PING"})
	return err
}

func (s *UpstashRedisStore) loadRequest(ctx context.Context, requestID string) (*contractx.ProcessingRequest, error) {
	if strings.TrimSpace(requestID) == "" {
		return nil, notFound(requestID)
	}
	resp, err := s.exec(ctx, []any{"GET", s.requestKey(requestID)})
	if err != nil {
		return nil, err
	}
	if isNull(resp.Result) {
		return nil, notFound(requestID)
	}

	var encoded string
	if err := json.Unmarshal(resp.Result, &encoded); err != nil {
		return nil, fmt.Errorf("decode request payload: %w", err)
	}
	return decodeStoredRequest([]byte(encoded))
}

func (s *UpstashRedisStore) ensureExists(ctx context.Context, requestID string) error {
	if strings.TrimSpace(requestID) == "" {
		return notFound(requestID)
	}
	resp, err := s.exec(ctx, []any{"EXISTS", s.requestKey(requestID)})
	if err != nil {
		return err
	}
	var n int
	if err := json.Unmarshal(resp.Result, &n); err != nil {
		return fmt.Errorf("decode exists: %w", err)
	}
	if n == 0 {
		return notFound(requestID)
	}
	return nil
}

func (s *UpstashRedisStore) rpush(ctx context.Context, key string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal list entry: %w", err)
	}
	if _, err := s.exec(ctx, []any{"RPUSH", key, string(payload)}); err != nil {
		return err
	}
	if s.ttl > 0 {
		if _, err := s.exec(ctx, []any{"EXPIRE", key, ttlSeconds(s.ttl)}); err != nil {
			return err
		}
	}
	return nil
}

func (s *UpstashRedisStore) lrange(ctx context.Context, key string) ([]string, error) {
	resp, err := s.exec(ctx, []any{"LRANGE", key, 0, -1})
	if err != nil {
		return nil, err
	}
	if isNull(resp.Result) {
		return nil, nil
	}
	var items []string
	if err := json.Unmarshal(resp.Result, &items); err != nil {
		return nil, fmt.Errorf("decode lrange: %w", err)
	}
	return items, nil
}

func (s *UpstashRedisStore) requestKey(requestID string) string {
	return s.keyPrefix + "request:" + requestID
}

func (s *UpstashRedisStore) resultsKey(requestID string) string {
	return s.requestKey(requestID) + ":results"
}

func (s *UpstashRedisStore) attemptsKey(requestID string) string {
	return s.requestKey(requestID) + ":attempts"
}

func (s *UpstashRedisStore) indexKey() string {
	return s.keyPrefix + "requests"
}

func (s *UpstashRedisStore) exec(ctx context.Context, command []any) (*redisRESTResponse, error) {
	if s == nil {
		return nil, errors.New("nil store")
	}
	if len(command) == 0 {
		return nil, errors.New("empty redis command")
	}

	body, err := json.Marshal(command)
	if err != nil {
		return nil, fmt.Errorf("marshal redis command: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build redis request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute redis request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSizeBytes))
	if err != nil {
		return nil, fmt.Errorf("read redis response: %w", err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("redis http status=%d body=%s", resp.StatusCode, string(raw))
	}

	var parsed redisRESTResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("decode redis response: %w", err)
	}
	if parsed.Error != "" {
		return nil, errors.New(parsed.Error)
	}
	return &parsed, nil
}

func encodeStoredRequest(req contractx.ProcessingRequest) (string, error) {
	stored := storedRequest{ProcessingRequest: req}
	if req.Webhook != nil {
		stored.WebhookSecret = req.Webhook.Secret
	}
	payload, err := json.Marshal(stored)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}
	return string(payload), nil
}

func decodeStoredRequest(raw []byte) (*contractx.ProcessingRequest, error) {
	var stored storedRequest
	if err := json.Unmarshal(raw, &stored); err != nil {
		return nil, fmt.Errorf("unmarshal request: %w", err)
	}
	req := stored.ProcessingRequest
	if req.Webhook != nil {
		req.Webhook.Secret = stored.WebhookSecret
	}
	return &req, nil
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func ttlSeconds(ttl time.Duration) int64 {
	seconds := ttl / time.Second
	if seconds <= 0 {
		return 1
	}
	if ttl%time.Second != 0 {
		seconds++
	}
	return int64(seconds)
}
