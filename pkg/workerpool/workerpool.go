package workerpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
)

var (
	ErrPoolClosed = errors.New("worker pool closed")
	ErrQueueFull  = errors.New("worker pool queue full")
)

type Config struct {
	Workers   int `envconfig:"WORKERS" split_words:"true" default:"4"`
	QueueSize int `envconfig:"QUEUE_SIZE" split_words:"true" default:"100"`

	// EnqueueWait is how long Submit waits for queue space. Zero fails fast.
	EnqueueWait time.Duration `envconfig:"ENQUEUE_WAIT" split_words:"true" default:"0s"`
}

// Pool runs submitted tasks on a fixed set of workers fed by a buffered queue.
// Tasks get a context that outlives the submitter and is cancelled only when
// Stop gives up waiting.
type Pool struct {
	name   string
	wait   time.Duration
	tasks  chan task
	wg     conc.WaitGroup
	logger zerolog.Logger

	mu     sync.RWMutex
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
}

type task struct {
	ctx context.Context
	fn  func(context.Context)
}

func New(name string, cfg Config) (*Pool, error) {
	if cfg.Workers <= 0 {
		return nil, fmt.Errorf("worker pool %s: workers must be positive", name)
	}
	if cfg.QueueSize < 0 {
		return nil, fmt.Errorf("worker pool %s: queue size must not be negative", name)
	}
	if cfg.EnqueueWait < 0 {
		return nil, fmt.Errorf("worker pool %s: enqueue wait must not be negative", name)
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		name:   name,
		wait:   cfg.EnqueueWait,
		tasks:  make(chan task, cfg.QueueSize),
		logger: log.With().Str("component", "workerpool").Str("pool", name).Logger(),
		ctx:    ctx,
		cancel: cancel,
	}
	for i := 0; i < cfg.Workers; i++ {
		p.wg.Go(p.workerLoop)
	}
	p.logger.Debug().Int("workers", cfg.Workers).Int("queue_size", cfg.QueueSize).Msg("worker pool started")
	return p, nil
}

// Submit queues fn. When the queue is full it waits up to the configured
// enqueue wait, or until ctx is done, and then fails with ErrQueueFull.
func (p *Pool) Submit(ctx context.Context, fn func(ctx context.Context)) error {
	if fn == nil {
		return errors.New("task is nil")
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}

	t := task{ctx: context.WithoutCancel(ctx), fn: fn}
	select {
	case p.tasks <- t:
		return nil
	default:
	}
	if p.wait <= 0 {
		return ErrQueueFull
	}

	timer := time.NewTimer(p.wait)
	defer timer.Stop()
	select {
	case p.tasks <- t:
		return nil
	case <-timer.C:
		return ErrQueueFull
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrQueueFull, ctx.Err())
	}
}

// Stop refuses new tasks and waits for queued and running ones. When ctx ends
// first, running tasks see their context cancelled and Stop returns ctx.Err()
// without waiting for them; a task that ignores its context keeps its worker.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.tasks)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.logger.Warn().Msg("worker pool stop deadline reached, cancelling running tasks")
		p.cancel()
		return ctx.Err()
	}
}

func (p *Pool) workerLoop() {
	for t := range p.tasks {
		p.run(t)
	}
}

func (p *Pool) run(t task) {
	ctx, cancel := context.WithCancel(t.ctx)
	stop := context.AfterFunc(p.ctx, cancel)
	defer func() {
		stop()
		cancel()
	}()

	var catcher panics.Catcher
	catcher.Try(func() { t.fn(ctx) })
	if r := catcher.Recovered(); r != nil {
		p.logger.Error().
			Interface("panic", r.Value).
			Str("stack", string(r.Stack)).
			Msg("worker task panicked")
	}
}
