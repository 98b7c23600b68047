package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cloudwego/eino/compose"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/agent-orchestrator/agent/contract"
	nodex "github.com/tanpawarit/agent-orchestrator/agent/nodes"
	statex "github.com/tanpawarit/agent-orchestrator/agent/state"
	metricsx "github.com/tanpawarit/agent-orchestrator/pkg/metrics"
)

type Config struct {
	AgentTimeout    time.Duration `envconfig:"AGENT_TIMEOUT" split_words:"true" default:"30s"`
	MinTextLength   int           `envconfig:"MIN_TEXT_LENGTH" split_words:"true" default:"10"`
	MaxTextLength   int           `envconfig:"MAX_TEXT_LENGTH" split_words:"true" default:"10000"`
	MaxSecretLength int           `envconfig:"MAX_SECRET_LENGTH" split_words:"true" default:"255"`
}

func (c Config) withDefaults() Config {
	if c.AgentTimeout <= 0 {
		c.AgentTimeout = 30 * time.Second
	}
	if c.MinTextLength <= 0 {
		c.MinTextLength = 10
	}
	if c.MaxTextLength <= 0 {
		c.MaxTextLength = 10000
	}
	if c.MaxSecretLength <= 0 {
		c.MaxSecretLength = 255
	}
	return c
}

// SubmitRequest is the caller's input before validation.
type SubmitRequest struct {
	Text    string
	Mode    contractx.ExecutionMode
	Webhook *contractx.WebhookTarget
}

type Option func(*Orchestrator)

func WithMetrics(m *metricsx.Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

func WithIDGenerator(newID func() string) Option {
	return func(o *Orchestrator) {
		if newID != nil {
			o.newID = newID
		}
	}
}

type Orchestrator struct {
	store      statex.Store
	agents     []contractx.Agent
	dispatcher contractx.WebhookDispatcher
	pool       contractx.TaskSubmitter
	metrics    *metricsx.Metrics
	cfg        Config

	graphRunner compose.Runnable[nodex.GraphInput, nodex.GraphOutput]

	now   func() time.Time
	newID func() string
}

// New wires the orchestrator. dispatcher may be nil when webhooks are not used.
func New(
	store statex.Store,
	agents []contractx.Agent,
	dispatcher contractx.WebhookDispatcher,
	pool contractx.TaskSubmitter,
	cfg Config,
	opts ...Option,
) (*Orchestrator, error) {
	if store == nil {
		return nil, errors.New("result store is required")
	}
	if pool == nil {
		return nil, errors.New("processing pool is required")
	}
	if len(agents) == 0 {
		return nil, errors.New("at least one agent is required")
	}
	seen := make(map[contractx.AgentName]struct{}, len(agents))
	for _, a := range agents {
		if a == nil {
			return nil, errors.New("agent is nil")
		}
		if _, dup := seen[a.Name()]; dup {
			return nil, fmt.Errorf("%w: agent %s configured twice", contractx.ErrValidation, a.Name())
		}
		seen[a.Name()] = struct{}{}
	}

	o := &Orchestrator{
		store:      store,
		agents:     append([]contractx.Agent(nil), agents...),
		dispatcher: dispatcher,
		pool:       pool,
		cfg:        cfg.withDefaults(),
		now:        time.Now,
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}

	graphRunner, err := o.compileProcessGraph(context.Background())
	if err != nil {
		return nil, err
	}
	o.graphRunner = graphRunner

	return o, nil
}

// Submit validates and stores a pending request, queues it for processing and
// returns without waiting for the agents.
func (o *Orchestrator) Submit(ctx context.Context, in SubmitRequest) (contractx.ProcessingRequest, error) {
	req, err := o.newRequest(in)
	if err != nil {
		return contractx.ProcessingRequest{}, err
	}
	if err := o.store.CreateRequest(ctx, req); err != nil {
		return contractx.ProcessingRequest{}, fmt.Errorf("create request: %w", err)
	}

	err = o.pool.Submit(ctx, func(taskCtx context.Context) {
		if _, err := o.Process(taskCtx, req); err != nil {
			log.Error().Err(err).Str("request_id", req.ID).Msg("processing failed")
		}
	})
	if err != nil {
		o.abandon(req.ID, "")
		return contractx.ProcessingRequest{}, fmt.Errorf("%w: %v", contractx.ErrQueueUnavailable, err)
	}

	log.Info().
		Str("request_id", req.ID).
		Str("mode", string(req.Mode)).
		Bool("webhook", req.Webhook != nil).
		Msg("request accepted")
	return req, nil
}

// Process runs every agent for req and returns the stored result. ctx bounds
// the agent calls only; the request always reaches a terminal status.
func (o *Orchestrator) Process(ctx context.Context, req contractx.ProcessingRequest) (contractx.ProcessingResult, error) {
	out, err := o.graphRunner.Invoke(nodex.Detach(ctx), nodex.GraphInput{Request: req})
	if err != nil {
		kind := contractx.RequestErrorKind("")
		var reqErr *contractx.RequestError
		if errors.As(err, &reqErr) {
			kind = reqErr.Kind
		}
		o.abandon(req.ID, kind)
		o.metrics.ObserveRequest(string(req.Mode), string(contractx.StatusFailed))
		return contractx.ProcessingResult{}, err
	}

	o.metrics.ObserveRequest(string(out.Result.Mode), string(out.Result.Status))
	return out.Result, nil
}

func (o *Orchestrator) GetResult(ctx context.Context, requestID string) (*contractx.RequestRecord, error) {
	return o.store.GetRequest(ctx, strings.TrimSpace(requestID))
}

func (o *Orchestrator) ListResults(ctx context.Context, page contractx.Page) (contractx.RequestPage, error) {
	return o.store.ListRequests(ctx, page.Normalize())
}

// RetryWebhook re-runs delivery for a finished request from attempt 1.
func (o *Orchestrator) RetryWebhook(ctx context.Context, requestID string) (contractx.DeliveryOutcome, error) {
	requestID = strings.TrimSpace(requestID)
	if o.dispatcher == nil {
		if _, err := o.store.GetRequest(ctx, requestID); err != nil {
			return "", err
		}
		return "", fmt.Errorf("%w: webhook delivery is disabled", contractx.ErrNoWebhookTarget)
	}
	return o.dispatcher.Retry(ctx, requestID)
}

func (o *Orchestrator) newRequest(in SubmitRequest) (contractx.ProcessingRequest, error) {
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return contractx.ProcessingRequest{}, contractx.InvalidInput("text must not be empty or whitespace")
	}
	if n := utf8.RuneCountInString(text); n < o.cfg.MinTextLength || n > o.cfg.MaxTextLength {
		return contractx.ProcessingRequest{}, contractx.InvalidInput(
			"text must be between %d and %d characters, got %d", o.cfg.MinTextLength, o.cfg.MaxTextLength, n)
	}

	mode := in.Mode
	if mode == "" {
		mode = contractx.ModeSequential
	}
	if !mode.Valid() {
		return contractx.ProcessingRequest{}, contractx.InvalidInput("unknown mode %q", in.Mode)
	}

	target, err := o.normalizeTarget(in.Webhook)
	if err != nil {
		return contractx.ProcessingRequest{}, err
	}

	now := o.now().UTC()
	return contractx.ProcessingRequest{
		ID:        o.newID(),
		Text:      text,
		Mode:      mode,
		Webhook:   target,
		Status:    contractx.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (o *Orchestrator) normalizeTarget(t *contractx.WebhookTarget) (*contractx.WebhookTarget, error) {
	if t == nil {
		return nil, nil
	}
	rawURL := strings.TrimSpace(t.URL)
	if rawURL == "" {
		if t.Secret != "" {
			return nil, contractx.InvalidInput("webhook secret given without a webhook url")
		}
		return nil, nil
	}

	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, contractx.InvalidInput("webhook url must be an absolute http(s) url")
	}
	if utf8.RuneCountInString(t.Secret) > o.cfg.MaxSecretLength {
		return nil, contractx.InvalidInput("webhook secret must be at most %d characters", o.cfg.MaxSecretLength)
	}
	return &contractx.WebhookTarget{URL: rawURL, Secret: t.Secret}, nil
}

// abandon marks a request that could not be processed as failed.
func (o *Orchestrator) abandon(requestID string, kind contractx.RequestErrorKind) {
	ctx := context.Background()
	rec, err := o.store.GetRequest(ctx, requestID)
	if err != nil || rec.Request.Status.Terminal() {
		return
	}
	if err := o.store.UpdateRequestStatus(ctx, requestID, statex.StatusUpdate{
		Status: contractx.StatusFailed,
		Error:  kind,
		At:     o.now().UTC(),
	}); err != nil {
		log.Error().Err(err).Str("request_id", requestID).Msg("mark request failed")
	}
}
