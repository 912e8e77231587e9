package connector

import "time"

// BreakerConfig tunes a CircuitBreaker. Zero fields take defaults.
type BreakerConfig struct {
	MaxFailures int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// Default breaker tuning.
const (
	DefaultMaxFailures = 3
	DefaultBaseBackoff = time.Second
	DefaultMaxBackoff  = 30 * time.Second
)

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.MaxFailures <= 0 {
		c.MaxFailures = DefaultMaxFailures
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = DefaultBaseBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = DefaultMaxBackoff
	}
	return c
}

// CircuitState is a read-only view of a breaker.
type CircuitState struct {
	FailureCount  int        `json:"failureCount"`
	LastFailureAt *time.Time `json:"lastFailureAt"`
	NextRetryAt   *time.Time `json:"nextRetryAt"`
}

// CircuitBreaker suppresses attempts during a backoff window after
// repeated failures.
//
// Below MaxFailures, failures are counted but attempts are never blocked.
// From the threshold on, each failure sets
// nextRetryAt = lastFailureAt + min(MaxBackoff, BaseBackoff * 2^(failures-MaxFailures)).
//
// Thread-safety: CircuitBreaker has no internal lock. Callers serialize
// access (Registry holds a per-connector mutex around bookkeeping).
type CircuitBreaker struct {
	cfg           BreakerConfig
	failureCount  int
	lastFailureAt time.Time
	nextRetryAt   time.Time
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(cfg BreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{cfg: cfg.withDefaults()}
}

// RecordSuccess closes the breaker and clears all failure state.
func (b *CircuitBreaker) RecordSuccess() {
	b.failureCount = 0
	b.lastFailureAt = time.Time{}
	b.nextRetryAt = time.Time{}
}

// RecordFailure counts a failure observed at now.
func (b *CircuitBreaker) RecordFailure(now time.Time) {
	b.failureCount++
	b.lastFailureAt = now
	if b.failureCount >= b.cfg.MaxFailures {
		b.nextRetryAt = now.Add(b.backoff())
	}
}

// CanAttempt reports whether a call may be made at now.
func (b *CircuitBreaker) CanAttempt(now time.Time) bool {
	if b.nextRetryAt.IsZero() {
		return true
	}
	return !now.Before(b.nextRetryAt)
}

// State returns a copy of the breaker's counters.
func (b *CircuitBreaker) State() CircuitState {
	st := CircuitState{FailureCount: b.failureCount}
	if !b.lastFailureAt.IsZero() {
		t := b.lastFailureAt
		st.LastFailureAt = &t
	}
	if !b.nextRetryAt.IsZero() {
		t := b.nextRetryAt
		st.NextRetryAt = &t
	}
	return st
}

func (b *CircuitBreaker) backoff() time.Duration {
	exp := b.failureCount - b.cfg.MaxFailures
	// Past 2^30 any sane base exceeds the cap.
	if exp >= 30 {
		return b.cfg.MaxBackoff
	}
	d := b.cfg.BaseBackoff * time.Duration(1<<uint(exp))
	if d <= 0 || d > b.cfg.MaxBackoff {
		return b.cfg.MaxBackoff
	}
	return d
}
