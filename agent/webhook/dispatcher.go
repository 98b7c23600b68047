package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/agent-orchestrator/agent/contract"
	statex "github.com/tanpawarit/agent-orchestrator/agent/state"
	metricsx "github.com/tanpawarit/agent-orchestrator/pkg/metrics"
)

const (
	defaultTimeout         = 30 * time.Second
	defaultMaxAttempts     = 3
	defaultInitialBackoff  = time.Second
	defaultMaxBackoff      = 30 * time.Second
	defaultMultiplier      = 2.0
	defaultUserAgent       = "AI-Agent-Orchestrator/1.0"
	defaultMaxResponseBody = 1000
)

type Config struct {
	Timeout           time.Duration   `envconfig:"TIMEOUT" split_words:"true" default:"30s"`
	MaxAttempts       int             `envconfig:"MAX_ATTEMPTS" split_words:"true" default:"3"`
	InitialBackoff    time.Duration   `envconfig:"INITIAL_BACKOFF" split_words:"true" default:"1s"`
	MaxBackoff        time.Duration   `envconfig:"MAX_BACKOFF" split_words:"true" default:"30s"`
	BackoffMultiplier float64         `envconfig:"BACKOFF_MULTIPLIER" split_words:"true" default:"2"`
	RetryDelays       []time.Duration `envconfig:"RETRY_DELAYS" split_words:"true"`
	OverallTimeout    time.Duration   `envconfig:"OVERALL_TIMEOUT" split_words:"true" default:"0s"`
	SignatureHeader   string          `envconfig:"SIGNATURE_HEADER" split_words:"true" default:"X-Webhook-Signature"`
	UserAgent         string          `envconfig:"USER_AGENT" split_words:"true" default:"AI-Agent-Orchestrator/1.0"`
	MaxResponseBody   int             `envconfig:"MAX_RESPONSE_BODY" split_words:"true" default:"1000"`
}

// withDefaults fills zero values so a literal Config{} is usable.
func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = defaultInitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = defaultMaxBackoff
	}
	if c.MaxBackoff < c.InitialBackoff {
		c.MaxBackoff = c.InitialBackoff
	}
	if c.BackoffMultiplier < 1 {
		c.BackoffMultiplier = defaultMultiplier
	}
	if strings.TrimSpace(c.SignatureHeader) == "" {
		c.SignatureHeader = DefaultSignatureHeader
	}
	if strings.TrimSpace(c.UserAgent) == "" {
		c.UserAgent = defaultUserAgent
	}
	if c.MaxResponseBody <= 0 {
		c.MaxResponseBody = defaultMaxResponseBody
	}
	return c
}

func (c Config) validate() error {
	for i, d := range c.RetryDelays {
		if d < 0 {
			return fmt.Errorf("%w: retry delay %d is negative", contractx.ErrValidation, i)
		}
	}
	if c.OverallTimeout < 0 {
		return fmt.Errorf("%w: overall timeout is negative", contractx.ErrValidation)
	}
	return nil
}

type Option func(*Dispatcher)

func WithHTTPClient(client *http.Client) Option {
	return func(d *Dispatcher) {
		if client != nil {
			d.client = client
		}
	}
}

func WithMetrics(m *metricsx.Metrics) Option {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// WithPool runs Enqueue'd deliveries on pool.
func WithPool(pool contractx.TaskSubmitter) Option {
	return func(d *Dispatcher) {
		d.pool = pool
	}
}

// Dispatcher signs and delivers processing results, retrying with backoff and
// appending one audit record per attempt.
type Dispatcher struct {
	cfg     Config
	store   statex.Store
	client  *http.Client
	pool    contractx.TaskSubmitter
	metrics *metricsx.Metrics
	logger  zerolog.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
	newID func() string

	// request IDs with a delivery run in progress
	mu       sync.Mutex
	inFlight map[string]struct{}
}

var _ contractx.WebhookDispatcher = (*Dispatcher)(nil)

func New(store statex.Store, cfg Config, opts ...Option) (*Dispatcher, error) {
	if store == nil {
		return nil, errors.New("result store is required")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	d := &Dispatcher{
		cfg:    cfg.withDefaults(),
		store:  store,
		client: &http.Client{},
		logger: log.With().Str("component", "webhook.dispatcher").Logger(),
		now:    time.Now,
		sleep:  sleepContext,
		newID:  uuid.NewString,

		inFlight: make(map[string]struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d, nil
}

// Enqueue schedules an automatic delivery on the worker pool and returns immediately.
func (d *Dispatcher) Enqueue(ctx context.Context, result contractx.ProcessingResult, target contractx.WebhookTarget) error {
	if d.pool == nil {
		return fmt.Errorf("%w: dispatcher has no worker pool", contractx.ErrQueueUnavailable)
	}
	err := d.pool.Submit(ctx, func(taskCtx context.Context) {
		if d.cfg.OverallTimeout > 0 {
			var cancel context.CancelFunc
			taskCtx, cancel = context.WithTimeout(taskCtx, d.cfg.OverallTimeout)
			defer cancel()
		}
		if _, err := d.Deliver(taskCtx, result, target); err != nil && !errors.Is(err, contractx.ErrDeliveryExhausted) {
			d.logger.Error().Err(err).Str("request_id", result.RequestID).Msg("webhook delivery failed")
		}
	})
	if err != nil {
		return fmt.Errorf("%w: %v", contractx.ErrQueueUnavailable, err)
	}
	return nil
}

// Deliver runs the delivery state machine for an automatic delivery.
//
// The outcome is exhausted together with an error matching ErrDeliveryExhausted when
// the budget or the caller's deadline runs out; other errors mean the run could not
// start or its audit record could not be written.
func (d *Dispatcher) Deliver(ctx context.Context, result contractx.ProcessingResult, target contractx.WebhookTarget) (contractx.DeliveryOutcome, error) {
	return d.run(ctx, result, target, contractx.TriggerAutomatic)
}

// Retry re-runs delivery from attempt 1 against the stored target. The run is
// detached from ctx cancellation and bounded by the overall timeout instead, so a
// caller that goes away cannot leave the audit trail mid-sequence.
func (d *Dispatcher) Retry(ctx context.Context, requestID string) (contractx.DeliveryOutcome, error) {
	rec, err := d.store.GetRequest(ctx, requestID)
	if err != nil {
		return "", err
	}
	if rec.Request.Webhook == nil || strings.TrimSpace(rec.Request.Webhook.URL) == "" {
		return "", fmt.Errorf("%w: %s", contractx.ErrNoWebhookTarget, requestID)
	}
	if !rec.Request.Status.Terminal() {
		return "", fmt.Errorf("%w: request %s is %s", contractx.ErrNotFinished, requestID, rec.Request.Status)
	}

	runCtx := context.WithoutCancel(ctx)
	if d.cfg.OverallTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(runCtx, d.cfg.OverallTimeout)
		defer cancel()
	}
	return d.run(runCtx, rec.Result(), *rec.Request.Webhook, contractx.TriggerManual)
}

func (d *Dispatcher) run(
	ctx context.Context,
	result contractx.ProcessingResult,
	target contractx.WebhookTarget,
	trigger contractx.DeliveryTrigger,
) (contractx.DeliveryOutcome, error) {
	if strings.TrimSpace(target.URL) == "" {
		return "", fmt.Errorf("%w: %s", contractx.ErrNoWebhookTarget, result.RequestID)
	}
	if !d.acquire(result.RequestID) {
		return "", fmt.Errorf("%w: %s", contractx.ErrDeliveryInFlight, result.RequestID)
	}
	defer d.release(result.RequestID)

	// marshalled and signed once; every attempt sends exactly these bytes
	body, err := json.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("marshal webhook payload: %w", err)
	}
	signature := ""
	if target.Secret != "" {
		signature = Sign(body, target.Secret)
	}

	deliveryID := d.newID()
	schedule := newBackOff(d.cfg)
	logger := d.logger.With().
		Str("request_id", result.RequestID).
		Str("delivery_id", deliveryID).
		Str("trigger", string(trigger)).
		Logger()

	for attempt := 1; ; attempt++ {
		sent := d.send(ctx, target.URL, body, signature, result.RequestID, deliveryID, attempt)

		rec := contractx.WebhookDeliveryAttempt{
			ID:           d.newID(),
			RequestID:    result.RequestID,
			DeliveryID:   deliveryID,
			Trigger:      trigger,
			Attempt:      attempt,
			URL:          target.URL,
			Signature:    signature,
			StatusCode:   sent.statusCode,
			ResponseBody: sent.body,
			Timestamp:    d.now().UTC(),
		}

		if sent.err == nil {
			rec.Outcome = contractx.DeliveryDelivered
			logger.Info().Int("attempt", attempt).Int("status_code", sent.statusCode).Msg("webhook delivered")
			return d.finish(ctx, rec, nil)
		}

		rec.ErrorKind = sent.err.Kind
		rec.Error = sent.err.Error()
		rec.TimedOut = sent.err.TimedOut

		delay := schedule.NextBackOff()
		final := attempt >= d.cfg.MaxAttempts
		deadlineHit := !final && d.deadlineBefore(ctx, delay)
		if final || deadlineHit {
			rec.Outcome = contractx.DeliveryExhausted
			if deadlineHit {
				rec.TimedOut = true
			}
			logger.Warn().
				Int("attempt", attempt).
				Bool("deadline", deadlineHit).
				Err(sent.err).
				Msg("webhook delivery exhausted")
			return d.finish(ctx, rec, &contractx.DeliveryError{
				Kind:     contractx.DeliveryErrorExhausted,
				TimedOut: deadlineHit,
				Err:      sent.err,
			})
		}

		rec.Outcome = contractx.DeliveryRetrying
		if err := d.record(ctx, rec); err != nil {
			return contractx.DeliveryExhausted, err
		}
		logger.Warn().
			Int("attempt", attempt).
			Dur("retry_in", delay).
			Err(sent.err).
			Msg("webhook attempt failed")

		if err := d.sleep(ctx, delay); err != nil {
			// close the trail on the attempt that was left pending
			rec.ID = d.newID()
			rec.Outcome = contractx.DeliveryExhausted
			rec.TimedOut = true
			rec.Error = fmt.Sprintf("retry cancelled after attempt %d: %v", attempt, err)
			rec.Timestamp = d.now().UTC()
			logger.Warn().Int("attempt", attempt).Err(err).Msg("webhook retry loop cancelled")
			return d.finish(ctx, rec, &contractx.DeliveryError{
				Kind:     contractx.DeliveryErrorExhausted,
				TimedOut: true,
				Err:      err,
			})
		}
	}
}

// finish appends the terminal attempt record and reports the run outcome.
func (d *Dispatcher) finish(ctx context.Context, rec contractx.WebhookDeliveryAttempt, runErr error) (contractx.DeliveryOutcome, error) {
	d.metrics.ObserveDelivery(string(rec.Trigger), string(rec.Outcome))
	if err := d.record(ctx, rec); err != nil {
		return rec.Outcome, err
	}
	return rec.Outcome, runErr
}

func (d *Dispatcher) record(ctx context.Context, rec contractx.WebhookDeliveryAttempt) error {
	d.metrics.ObserveDeliveryAttempt(string(rec.Trigger), string(rec.Outcome))
	// the audit trail is written even when the caller has gone away
	if err := d.store.AppendDeliveryAttempt(context.WithoutCancel(ctx), rec.RequestID, rec); err != nil {
		return fmt.Errorf("append delivery attempt %d: %w", rec.Attempt, err)
	}
	return nil
}

func (d *Dispatcher) acquire(requestID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, busy := d.inFlight[requestID]; busy {
		return false
	}
	d.inFlight[requestID] = struct{}{}
	return true
}

func (d *Dispatcher) release(requestID string) {
	d.mu.Lock()
	delete(d.inFlight, requestID)
	d.mu.Unlock()
}

// deadlineBefore reports whether ctx ends before another attempt could start.
func (d *Dispatcher) deadlineBefore(ctx context.Context, delay time.Duration) bool {
	if ctx.Err() != nil {
		return true
	}
	deadline, ok := ctx.Deadline()
	if !ok {
		return false
	}
	return !d.now().Add(delay).Before(deadline)
}

type sendResult struct {
	statusCode int
	body       string
	err        *contractx.DeliveryError
}

func (d *Dispatcher) send(
	ctx context.Context,
	url string,
	body []byte,
	signature string,
	requestID string,
	deliveryID string,
	attempt int,
) sendResult {
	// an attempt in flight is bounded by its own timeout, not by the caller
	attemptCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return sendResult{err: &contractx.DeliveryError{Kind: contractx.DeliveryErrorTransport, Err: err}}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", d.cfg.UserAgent)
	req.Header.Set("X-Webhook-Request-ID", requestID)
	req.Header.Set("X-Webhook-Delivery-ID", deliveryID)
	req.Header.Set("X-Webhook-Attempt", strconv.Itoa(attempt))
	if signature != "" {
		req.Header.Set(d.cfg.SignatureHeader, signature)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return sendResult{err: &contractx.DeliveryError{
			Kind:     contractx.DeliveryErrorTransport,
			TimedOut: isTimeout(err),
			Err:      err,
		}}
	}
	defer resp.Body.Close()

	// a character is at most utf8.UTFMax bytes
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, int64(d.cfg.MaxResponseBody*utf8.UTFMax)))
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	out := sendResult{
		statusCode: resp.StatusCode,
		body:       truncateChars(string(raw), d.cfg.MaxResponseBody),
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		out.err = &contractx.DeliveryError{
			Kind:       contractx.DeliveryErrorNonSuccessStatus,
			StatusCode: resp.StatusCode,
		}
	}
	return out
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func truncateChars(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit])
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
