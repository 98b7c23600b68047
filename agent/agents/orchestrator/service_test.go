package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	contractx "github.com/tanpawarit/agent-orchestrator/agent/contract"
	statex "github.com/tanpawarit/agent-orchestrator/agent/state"
	workerpoolx "github.com/tanpawarit/agent-orchestrator/pkg/workerpool"
)

const sampleText = "AI systems are transforming software engineering"

type fakeAgent struct {
	name  contractx.AgentName
	err   error
	delay time.Duration
	panic bool
	// blockUntilDone makes Run wait for ctx instead of answering.
	blockUntilDone bool
	onRun          func()
	calls          *callLog
}

type callLog struct {
	mu    sync.Mutex
	names []contractx.AgentName
}

func (c *callLog) add(name contractx.AgentName) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.names = append(c.names, name)
}

func (c *callLog) Names() []contractx.AgentName {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]contractx.AgentName(nil), c.names...)
}

func (f *fakeAgent) Name() contractx.AgentName {
	return f.name
}

func (f *fakeAgent) Run(ctx context.Context, text string) (contractx.AgentPayload, error) {
	if f.calls != nil {
		f.calls.add(f.name)
	}
	if f.onRun != nil {
		f.onRun()
	}
	if f.panic {
		panic("agent exploded")
	}
	if f.blockUntilDone {
		<-ctx.Done()
		return contractx.AgentPayload{}, contractx.NewAgentError(f.name, contractx.ErrorKindTimeout, "%v", ctx.Err())
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return contractx.AgentPayload{}, contractx.NewAgentError(f.name, contractx.ErrorKindTimeout, "%v", ctx.Err())
		}
	}
	if f.err != nil {
		return contractx.AgentPayload{}, f.err
	}
	return samplePayload(f.name), nil
}

func samplePayload(name contractx.AgentName) contractx.AgentPayload {
	switch name {
	case contractx.AgentSummarizer:
		return contractx.AgentPayload{Summary: "AI is reshaping how software is built."}
	case contractx.AgentSentiment:
		return contractx.AgentPayload{Sentiment: &contractx.SentimentResult{Label: "positive", Confidence: 0.87}}
	default:
		return contractx.AgentPayload{Entities: &contractx.Entities{
			Persons:       []string{},
			Organizations: []string{},
			Locations:     []string{},
			Dates:         []string{},
		}}
	}
}

func newAgents(calls *callLog) map[contractx.AgentName]*fakeAgent {
	out := map[contractx.AgentName]*fakeAgent{}
	for _, name := range contractx.AgentOrder {
		out[name] = &fakeAgent{name: name, calls: calls}
	}
	return out
}

func agentList(m map[contractx.AgentName]*fakeAgent) []contractx.Agent {
	list := make([]contractx.Agent, 0, len(m))
	for _, name := range contractx.AgentOrder {
		list = append(list, m[name])
	}
	return list
}

// inlinePool runs tasks on the caller's goroutine.
type inlinePool struct {
	err error
}

func (p *inlinePool) Submit(ctx context.Context, task func(context.Context)) error {
	if p.err != nil {
		return p.err
	}
	task(context.WithoutCancel(ctx))
	return nil
}

type enqueued struct {
	result contractx.ProcessingResult
	target contractx.WebhookTarget
}

type fakeDispatcher struct {
	mu         sync.Mutex
	enqueued   []enqueued
	enqueueErr error
	retried    []string
	outcome    contractx.DeliveryOutcome
}

func (f *fakeDispatcher) Enqueue(ctx context.Context, result contractx.ProcessingResult, target contractx.WebhookTarget) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enqueued = append(f.enqueued, enqueued{result: result, target: target})
	return f.enqueueErr
}

func (f *fakeDispatcher) Retry(ctx context.Context, requestID string) (contractx.DeliveryOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retried = append(f.retried, requestID)
	return f.outcome, nil
}

type fixture struct {
	orch       *Orchestrator
	store      *statex.MemoryStore
	dispatcher *fakeDispatcher
}

func newFixture(t *testing.T, agents []contractx.Agent, cfg Config) *fixture {
	t.Helper()

	store := statex.NewMemoryStore()
	dispatcher := &fakeDispatcher{outcome: contractx.DeliveryDelivered}
	orch, err := New(store, agents, dispatcher, &inlinePool{}, cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return &fixture{orch: orch, store: store, dispatcher: dispatcher}
}

func (fx *fixture) submit(t *testing.T, mode contractx.ExecutionMode, target *contractx.WebhookTarget) *contractx.RequestRecord {
	t.Helper()

	req, err := fx.orch.Submit(context.Background(), SubmitRequest{Text: sampleText, Mode: mode, Webhook: target})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	rec, err := fx.orch.GetResult(context.Background(), req.ID)
	if err != nil {
		t.Fatalf("GetResult() error = %v", err)
	}
	return rec
}

func resultAgents(results []contractx.AgentResult) []contractx.AgentName {
	names := make([]contractx.AgentName, 0, len(results))
	for _, r := range results {
		names = append(names, r.Agent)
	}
	return names
}

func TestSubmitParallelExampleScenario(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, agentList(newAgents(nil)), Config{})
	rec := fx.submit(t, contractx.ModeParallel, nil)

	result := rec.Result()
	if result.Status != contractx.StatusCompleted {
		t.Fatalf("status = %s, want completed", result.Status)
	}
	if len(result.AgentResults) != 3 {
		t.Fatalf("len(agent_results) = %d, want 3", len(result.AgentResults))
	}
	for _, r := range result.AgentResults {
		if r.Outcome != contractx.OutcomeSuccess {
			t.Fatalf("agent %s outcome = %s, want success", r.Agent, r.Outcome)
		}
	}
	if result.Summary == "" || result.Sentiment == nil || result.Sentiment.Label == "" || result.Entities == nil {
		t.Fatalf("result payload incomplete: %#v", result)
	}
	if rec.Request.Text != sampleText || rec.Request.Mode != contractx.ModeParallel {
		t.Fatalf("request = %#v", rec.Request)
	}
	if len(fx.dispatcher.enqueued) != 0 {
		t.Fatal("webhook enqueued without a target")
	}
}

func TestSequentialInvocationOrder(t *testing.T) {
	t.Parallel()

	for i := 0; i < 5; i++ {
		calls := &callLog{}
		fx := newFixture(t, agentList(newAgents(calls)), Config{})
		rec := fx.submit(t, contractx.ModeSequential, nil)

		got := calls.Names()
		if fmt.Sprint(got) != fmt.Sprint(contractx.AgentOrder) {
			t.Fatalf("run %d invocation order = %v, want %v", i, got, contractx.AgentOrder)
		}
		if fmt.Sprint(resultAgents(rec.Result().AgentResults)) != fmt.Sprint(contractx.AgentOrder) {
			t.Fatalf("run %d result order = %v", i, resultAgents(rec.Result().AgentResults))
		}
	}
}

func TestParallelResultOrderIgnoresCompletionOrder(t *testing.T) {
	t.Parallel()

	agents := newAgents(nil)
	agents[contractx.AgentSummarizer].delay = 40 * time.Millisecond
	agents[contractx.AgentSentiment].delay = 20 * time.Millisecond

	fx := newFixture(t, agentList(agents), Config{})
	for i := 0; i < 3; i++ {
		req, err := fx.orch.Submit(context.Background(), SubmitRequest{Text: sampleText, Mode: contractx.ModeParallel})
		if err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
		rec, _ := fx.orch.GetResult(context.Background(), req.ID)
		result := rec.Result()
		if fmt.Sprint(resultAgents(result.AgentResults)) != fmt.Sprint(contractx.AgentOrder) {
			t.Fatalf("result order = %v, want %v", resultAgents(result.AgentResults), contractx.AgentOrder)
		}
		if result.TotalExecutionMS < 40 || result.TotalExecutionMS >= 1000 {
			t.Fatalf("total_execution_ms = %d, want the slowest agent's duration", result.TotalExecutionMS)
		}
	}
}

func TestResultCountInvariant(t *testing.T) {
	t.Parallel()

	for _, mode := range []contractx.ExecutionMode{contractx.ModeSequential, contractx.ModeParallel} {
		for mask := 0; mask < 1<<len(contractx.AgentOrder); mask++ {
			t.Run(fmt.Sprintf("%s/%03b", mode, mask), func(t *testing.T) {
				t.Parallel()

				agents := newAgents(nil)
				for i, name := range contractx.AgentOrder {
					if mask&(1<<i) != 0 {
						agents[name].err = contractx.NewAgentError(name, contractx.ErrorKindUnavailable, "down")
					}
				}
				fx := newFixture(t, agentList(agents), Config{})
				result := fx.submit(t, mode, nil).Result()

				if len(result.AgentResults) != len(contractx.AgentOrder) {
					t.Fatalf("len(agent_results) = %d", len(result.AgentResults))
				}
				seen := map[contractx.AgentName]bool{}
				for _, r := range result.AgentResults {
					if seen[r.Agent] {
						t.Fatalf("duplicate result for %s", r.Agent)
					}
					seen[r.Agent] = true
				}

				allFailed := mask == 1<<len(contractx.AgentOrder)-1
				switch {
				case allFailed && (result.Status != contractx.StatusFailed || result.Error != contractx.RequestErrorAllAgentsFailed):
					t.Fatalf("status = %s error = %s, want failed/all_agents_failed", result.Status, result.Error)
				case !allFailed && result.Status != contractx.StatusCompleted:
					t.Fatalf("status = %s, want completed", result.Status)
				}
			})
		}
	}
}

func TestPartialFailureKeepsOtherResults(t *testing.T) {
	t.Parallel()

	agents := newAgents(nil)
	agents[contractx.AgentSentiment].err = contractx.NewAgentError(contractx.AgentSentiment, contractx.ErrorKindRateLimited, "429")

	fx := newFixture(t, agentList(agents), Config{})
	result := fx.submit(t, contractx.ModeSequential, nil).Result()

	if result.Status != contractx.StatusCompleted {
		t.Fatalf("status = %s, want completed", result.Status)
	}
	failed := result.AgentResults[contractx.AgentRank(contractx.AgentSentiment)]
	if failed.Outcome != contractx.OutcomeFailure || failed.Error == nil || failed.Error.Kind != contractx.ErrorKindRateLimited {
		t.Fatalf("sentiment result = %#v", failed)
	}
	if result.Sentiment != nil {
		t.Fatal("failed sentiment leaked into the aggregate")
	}
	if result.Summary == "" || result.Entities == nil {
		t.Fatal("successful agents missing from the aggregate")
	}
}

func TestPlainAgentErrorBecomesUnavailable(t *testing.T) {
	t.Parallel()

	agents := newAgents(nil)
	agents[contractx.AgentSummarizer].err = errors.New("boom")

	fx := newFixture(t, agentList(agents), Config{})
	result := fx.submit(t, contractx.ModeParallel, nil).Result()

	r := result.AgentResults[0]
	if r.Error == nil || r.Error.Kind != contractx.ErrorKindUnavailable || r.Error.Agent != contractx.AgentSummarizer {
		t.Fatalf("summarizer result = %#v", r)
	}
}

func TestPanickingAgentIsRecorded(t *testing.T) {
	t.Parallel()

	agents := newAgents(nil)
	agents[contractx.AgentEntityExtractor].panic = true

	fx := newFixture(t, agentList(agents), Config{})
	result := fx.submit(t, contractx.ModeParallel, nil).Result()

	r := result.AgentResults[2]
	if r.Outcome != contractx.OutcomeFailure || r.Error.Kind != contractx.ErrorKindUnavailable {
		t.Fatalf("entity_extractor result = %#v", r)
	}
	if result.Status != contractx.StatusCompleted {
		t.Fatalf("status = %s, want completed", result.Status)
	}
}

func TestParallelAgentTimeout(t *testing.T) {
	t.Parallel()

	agents := newAgents(nil)
	agents[contractx.AgentSentiment].blockUntilDone = true

	fx := newFixture(t, agentList(agents), Config{AgentTimeout: 30 * time.Millisecond})
	result := fx.submit(t, contractx.ModeParallel, nil).Result()

	r := result.AgentResults[1]
	if r.Error == nil || r.Error.Kind != contractx.ErrorKindTimeout {
		t.Fatalf("sentiment result = %#v, want timeout", r)
	}
	if result.AgentResults[0].Outcome != contractx.OutcomeSuccess || result.AgentResults[2].Outcome != contractx.OutcomeSuccess {
		t.Fatal("sibling agents were affected by the timeout")
	}
}

func TestCancellationPreservesCompletedResults(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	calls := &callLog{}
	agents := newAgents(calls)
	agents[contractx.AgentSummarizer].onRun = cancel

	fx := newFixture(t, agentList(agents), Config{})
	result, err := fx.orch.Process(ctx, contractx.ProcessingRequest{
		ID:   "req-cancel",
		Text: sampleText,
		Mode: contractx.ModeSequential,
	})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	if got := calls.Names(); len(got) != 1 {
		t.Fatalf("agents invoked after cancellation: %v", got)
	}
	if len(result.AgentResults) != 3 {
		t.Fatalf("len(agent_results) = %d, want 3", len(result.AgentResults))
	}
	if result.AgentResults[0].Outcome != contractx.OutcomeSuccess {
		t.Fatalf("completed summarizer result lost: %#v", result.AgentResults[0])
	}
	for _, r := range result.AgentResults[1:] {
		if r.Error == nil || r.Error.Kind != contractx.ErrorKindTimeout {
			t.Fatalf("%s result = %#v, want timeout", r.Agent, r)
		}
	}
	if result.Status != contractx.StatusCompleted {
		t.Fatalf("status = %s, want completed", result.Status)
	}

	rec, err := fx.store.GetRequest(context.Background(), "req-cancel")
	if err != nil || rec.Request.Status != contractx.StatusCompleted {
		t.Fatalf("stored request = %#v, %v", rec, err)
	}
}

func TestParallelCancellationReachesAllAgents(t *testing.T) {
	t.Parallel()

	agents := newAgents(nil)
	for _, a := range agents {
		a.blockUntilDone = true
	}
	fx := newFixture(t, agentList(agents), Config{})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	result, err := fx.orch.Process(ctx, contractx.ProcessingRequest{ID: "req-p", Text: sampleText, Mode: contractx.ModeParallel})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if result.Status != contractx.StatusFailed || result.Error != contractx.RequestErrorAllAgentsFailed {
		t.Fatalf("status = %s error = %s", result.Status, result.Error)
	}
	for _, r := range result.AgentResults {
		if r.Error == nil || r.Error.Kind != contractx.ErrorKindTimeout {
			t.Fatalf("%s result = %#v, want timeout", r.Agent, r)
		}
	}
}

func TestWebhookHandedOffAfterCompletion(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, agentList(newAgents(nil)), Config{})
	target := &contractx.WebhookTarget{URL: "https://hooks.example.com/done", Secret: "s3cret"}
	rec := fx.submit(t, contractx.ModeSequential, target)

	if len(fx.dispatcher.enqueued) != 1 {
		t.Fatalf("enqueued = %d, want 1", len(fx.dispatcher.enqueued))
	}
	got := fx.dispatcher.enqueued[0]
	if got.target != *target {
		t.Fatalf("target = %#v", got.target)
	}
	if got.result.RequestID != rec.Request.ID || got.result.Status != contractx.StatusCompleted || len(got.result.AgentResults) != 3 {
		t.Fatalf("result = %#v", got.result)
	}
}

func TestEnqueueFailureDoesNotFailRequest(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, agentList(newAgents(nil)), Config{})
	fx.dispatcher.enqueueErr = contractx.ErrQueueUnavailable

	rec := fx.submit(t, contractx.ModeParallel, &contractx.WebhookTarget{URL: "https://hooks.example.com"})
	if rec.Request.Status != contractx.StatusCompleted {
		t.Fatalf("status = %s, want completed", rec.Request.Status)
	}
}

func TestSubmitValidation(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   SubmitRequest
	}{
		{name: "empty", in: SubmitRequest{Text: ""}},
		{name: "whitespace", in: SubmitRequest{Text: "   \n\t   "}},
		{name: "too short", in: SubmitRequest{Text: "short"}},
		{name: "too long", in: SubmitRequest{Text: strings.Repeat("a", 10001)}},
		{name: "unknown mode", in: SubmitRequest{Text: sampleText, Mode: "batch"}},
		{name: "relative url", in: SubmitRequest{Text: sampleText, Webhook: &contractx.WebhookTarget{URL: "/hook"}}},
		{name: "ftp url", in: SubmitRequest{Text: sampleText, Webhook: &contractx.WebhookTarget{URL: "ftp://example.com/x"}}},
		{name: "secret without url", in: SubmitRequest{Text: sampleText, Webhook: &contractx.WebhookTarget{Secret: "k"}}},
		{name: "secret too long", in: SubmitRequest{Text: sampleText, Webhook: &contractx.WebhookTarget{URL: "https://example.com", Secret: strings.Repeat("k", 256)}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			fx := newFixture(t, agentList(newAgents(nil)), Config{})
			_, err := fx.orch.Submit(context.Background(), tc.in)
			if !errors.Is(err, contractx.ErrInvalidInput) {
				t.Fatalf("Submit() error = %v, want ErrInvalidInput", err)
			}
			page, _ := fx.orch.ListResults(context.Background(), contractx.Page{})
			if page.Total != 0 {
				t.Fatalf("invalid request was stored")
			}
		})
	}
}

func TestSubmitDefaultsModeAndTrimsText(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, agentList(newAgents(nil)), Config{})
	fx.orch.newID = func() string { return "fixed-id" }

	req, err := fx.orch.Submit(context.Background(), SubmitRequest{Text: "  " + sampleText + "  "})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if req.ID != "fixed-id" || req.Mode != contractx.ModeSequential || req.Text != sampleText {
		t.Fatalf("request = %#v", req)
	}
}

func TestSubmitWhenQueueUnavailable(t *testing.T) {
	t.Parallel()

	store := statex.NewMemoryStore()
	orch, err := New(store, agentList(newAgents(nil)), nil, &inlinePool{err: errors.New("pool closed")}, Config{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	_, err = orch.Submit(context.Background(), SubmitRequest{Text: sampleText})
	if !errors.Is(err, contractx.ErrQueueUnavailable) {
		t.Fatalf("Submit() error = %v, want ErrQueueUnavailable", err)
	}

	page, _ := store.ListRequests(context.Background(), contractx.Page{Page: 1, PageSize: 10})
	if page.Total != 1 || page.Items[0].Status != contractx.StatusFailed {
		t.Fatalf("stored requests = %#v", page.Items)
	}
}

func TestSubmitFailsFastWhenProcessingQueueFull(t *testing.T) {
	t.Parallel()

	pool, err := workerpoolx.New("processing", workerpoolx.Config{Workers: 1, QueueSize: 1})
	if err != nil {
		t.Fatalf("workerpool.New() error = %v", err)
	}
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	agents := newAgents(nil)
	agents[contractx.AgentSummarizer].onRun = func() {
		once.Do(func() { close(started) })
		<-release
	}
	t.Cleanup(func() {
		close(release)
		_ = pool.Stop(context.Background())
	})

	store := statex.NewMemoryStore()
	orch, err := New(store, agentList(agents), nil, pool, Config{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if _, err := orch.Submit(context.Background(), SubmitRequest{Text: sampleText}); err != nil {
		t.Fatalf("Submit(running) error = %v", err)
	}
	<-started
	if _, err := orch.Submit(context.Background(), SubmitRequest{Text: sampleText}); err != nil {
		t.Fatalf("Submit(queued) error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	begin := time.Now()
	_, err = orch.Submit(ctx, SubmitRequest{Text: sampleText})
	if !errors.Is(err, contractx.ErrQueueUnavailable) {
		t.Fatalf("Submit(full) error = %v, want ErrQueueUnavailable", err)
	}
	if elapsed := time.Since(begin); elapsed > 100*time.Millisecond {
		t.Fatalf("Submit(full) blocked for %v", elapsed)
	}

	page, err := store.ListRequests(context.Background(), contractx.Page{Page: 1, PageSize: 10})
	if err != nil {
		t.Fatalf("ListRequests() error = %v", err)
	}
	failed := 0
	for _, item := range page.Items {
		if item.Status == contractx.StatusFailed {
			failed++
		}
	}
	if page.Total != 3 || failed != 1 {
		t.Fatalf("stored = %d requests, %d failed; want 3 and 1", page.Total, failed)
	}
}

func TestRetryWebhook(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, agentList(newAgents(nil)), Config{})
	outcome, err := fx.orch.RetryWebhook(context.Background(), " req-1 ")
	if err != nil || outcome != contractx.DeliveryDelivered {
		t.Fatalf("RetryWebhook() = %s, %v", outcome, err)
	}
	if len(fx.dispatcher.retried) != 1 || fx.dispatcher.retried[0] != "req-1" {
		t.Fatalf("retried = %v", fx.dispatcher.retried)
	}

	store := statex.NewMemoryStore()
	orch, err := New(store, agentList(newAgents(nil)), nil, &inlinePool{}, Config{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, err := orch.RetryWebhook(context.Background(), "missing"); !errors.Is(err, contractx.ErrNotFound) {
		t.Fatalf("RetryWebhook(missing) error = %v, want ErrNotFound", err)
	}
	req, _ := orch.Submit(context.Background(), SubmitRequest{Text: sampleText})
	if _, err := orch.RetryWebhook(context.Background(), req.ID); !errors.Is(err, contractx.ErrNoWebhookTarget) {
		t.Fatalf("RetryWebhook() error = %v, want ErrNoWebhookTarget", err)
	}
}

func TestGetResultNotFound(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, agentList(newAgents(nil)), Config{})
	if _, err := fx.orch.GetResult(context.Background(), "nope"); !errors.Is(err, contractx.ErrNotFound) {
		t.Fatalf("GetResult() error = %v, want ErrNotFound", err)
	}
}

func TestNewValidatesDependencies(t *testing.T) {
	t.Parallel()

	store := statex.NewMemoryStore()
	agents := agentList(newAgents(nil))
	pool := &inlinePool{}

	if _, err := New(nil, agents, nil, pool, Config{}); err == nil {
		t.Fatal("New(nil store) error = nil")
	}
	if _, err := New(store, nil, nil, pool, Config{}); err == nil {
		t.Fatal("New(no agents) error = nil")
	}
	if _, err := New(store, agents, nil, nil, Config{}); err == nil {
		t.Fatal("New(nil pool) error = nil")
	}
	dup := append(agentList(newAgents(nil)), &fakeAgent{name: contractx.AgentSummarizer})
	if _, err := New(store, dup, nil, pool, Config{}); !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("New(duplicate agent) error = %v, want ErrValidation", err)
	}
}
