package webhook

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

// newBackOff builds the delay schedule for one delivery run. Delays never decrease.
func newBackOff(cfg Config) backoff.BackOff {
	if len(cfg.RetryDelays) > 0 {
		return &delaySchedule{delays: cfg.RetryDelays}
	}
	b := &backoff.ExponentialBackOff{
		InitialInterval:     cfg.InitialBackoff,
		RandomizationFactor: 0,
		Multiplier:          cfg.BackoffMultiplier,
		MaxInterval:         cfg.MaxBackoff,
	}
	b.Reset()
	return b
}

// delaySchedule replays a fixed list of delays, repeating the last one.
type delaySchedule struct {
	delays []time.Duration
	next   int
	last   time.Duration
}

func (s *delaySchedule) NextBackOff() time.Duration {
	d := s.delays[len(s.delays)-1]
	if s.next < len(s.delays) {
		d = s.delays[s.next]
		s.next++
	}
	if d < s.last {
		d = s.last
	}
	s.last = d
	return d
}

func (s *delaySchedule) Reset() {
	s.next = 0
	s.last = 0
}
