package connector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// DefaultCallTimeout bounds every connector call made through a Registry.
const DefaultCallTimeout = 10 * time.Second

// CircuitObserver is notified whenever a breaker opens or closes.
type CircuitObserver interface {
	SetCircuitOpen(connectorID string, open bool)
}

// HealthReport is one row of the registry's health aggregation.
type HealthReport struct {
	ConnectorID string       `json:"connectorId"`
	ReadOnly    bool         `json:"readOnly"`
	Health      HealthResult `json:"health"`
	Circuit     CircuitState `json:"circuit"`
	Error       string       `json:"error,omitempty"`
	ErrorCode   ErrorCode    `json:"errorCode,omitempty"`
}

// Registry holds connector instances and their circuit breakers.
//
// Thread-safety: Register must complete before concurrent use. Each entry
// has its own mutex guarding breaker bookkeeping only; it is never held
// across a connector call.
type Registry struct {
	entries  map[string]*entry
	order    []string
	timeout  time.Duration
	breaker  BreakerConfig
	now      Clock
	logger   *slog.Logger
	observer CircuitObserver
}

type entry struct {
	conn    Connector
	mu      sync.Mutex
	breaker *CircuitBreaker
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithCallTimeout sets the per-call deadline.
func WithCallTimeout(d time.Duration) RegistryOption {
	return func(r *Registry) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithBreakerConfig sets breaker tuning for connectors registered after it.
func WithBreakerConfig(cfg BreakerConfig) RegistryOption {
	return func(r *Registry) {
		r.breaker = cfg
	}
}

// WithRegistryClock overrides the clock used for breaker decisions.
func WithRegistryClock(now Clock) RegistryOption {
	return func(r *Registry) {
		r.now = now
	}
}

// WithRegistryLogger sets the logger.
func WithRegistryLogger(l *slog.Logger) RegistryOption {
	return func(r *Registry) {
		r.logger = l
	}
}

// WithCircuitObserver reports breaker open/close transitions.
func WithCircuitObserver(o CircuitObserver) RegistryOption {
	return func(r *Registry) {
		r.observer = o
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		entries: make(map[string]*entry),
		timeout: DefaultCallTimeout,
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a connector. Read-only connectors are wrapped so that a
// write intent is rejected even if the implementation forgets to check.
func (r *Registry) Register(c Connector) error {
	id := c.ID()
	if id == "" {
		return fmt.Errorf("connector with empty id")
	}
	if _, dup := r.entries[id]; dup {
		return fmt.Errorf("connector %q already registered", id)
	}
	if c.ReadOnly() {
		c = readOnlyGuard{c}
	}
	r.entries[id] = &entry{conn: c, breaker: NewCircuitBreaker(r.breaker)}
	r.order = append(r.order, id)
	sort.Strings(r.order)
	if r.observer != nil {
		r.observer.SetCircuitOpen(id, false)
	}
	return nil
}

// IDs returns registered connector ids in sorted order.
func (r *Registry) IDs() []string {
	return append([]string(nil), r.order...)
}

// ReadOnly reports whether the connector is read-only.
func (r *Registry) ReadOnly(id string) (bool, bool) {
	e, ok := r.entries[id]
	if !ok {
		return false, false
	}
	return e.conn.ReadOnly(), true
}

// Execute runs an execute call through the connector's breaker.
func (r *Registry) Execute(ctx context.Context, id string, req ExecuteRequest) (Result, error) {
	e, err := r.lookup(id)
	if err != nil {
		return Result{}, err
	}
	return call(ctx, r, e, func(ctx context.Context) (Result, error) {
		return e.conn.Execute(ctx, req)
	})
}

// ReadStatus runs a read call through the connector's breaker.
func (r *Registry) ReadStatus(ctx context.Context, id string, input map[string]any) (Result, error) {
	e, err := r.lookup(id)
	if err != nil {
		return Result{}, err
	}
	return call(ctx, r, e, func(ctx context.Context) (Result, error) {
		return e.conn.ReadStatus(ctx, input)
	})
}

// Health probes every connector. A connector whose breaker is open is
// reported as circuit_open without a transport call.
func (r *Registry) Health(ctx context.Context) []HealthReport {
	reports := make([]HealthReport, 0, len(r.order))
	for _, id := range r.order {
		e := r.entries[id]
		rep := HealthReport{ConnectorID: id, ReadOnly: e.conn.ReadOnly()}

		h, err := call(ctx, r, e, func(ctx context.Context) (HealthResult, error) {
			return e.conn.Health(ctx)
		})
		rep.Health = h
		if err != nil {
			ce := Classify(id, err)
			rep.Error = ce.Error()
			rep.ErrorCode = ce.Code
			rep.Health.OK = false
			if rep.Health.Availability == "" {
				rep.Health.Availability = AvailabilityUnavailable
			}
			if isCircuitOpen(err) {
				rep.Health.Availability = AvailabilityCircuitOpen
			}
		}

		e.mu.Lock()
		rep.Circuit = e.breaker.State()
		e.mu.Unlock()
		reports = append(reports, rep)
	}
	return reports
}

// Circuit returns the breaker state of one connector.
func (r *Registry) Circuit(id string) (CircuitState, bool) {
	e, ok := r.entries[id]
	if !ok {
		return CircuitState{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.breaker.State(), true
}

func (r *Registry) lookup(id string) (*entry, error) {
	e, ok := r.entries[id]
	if !ok {
		return nil, NewError(ErrCodeUnknown, id, "connector not registered")
	}
	return e, nil
}

// errCircuitOpen marks a call refused by the breaker.
type errCircuitOpen struct {
	retryAt time.Time
}

func (e errCircuitOpen) Error() string {
	return fmt.Sprintf("circuit open until %s; service unavailable", e.retryAt.UTC().Format(time.RFC3339))
}

func isCircuitOpen(err error) bool {
	var co errCircuitOpen
	return errors.As(err, &co)
}

// call consults the breaker, runs fn under the registry timeout and
// records the outcome. Only the caller's goroutine touches the breaker;
// a timed-out fn keeps running but its result is discarded.
func call[T any](ctx context.Context, r *Registry, e *entry, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	id := e.conn.ID()

	e.mu.Lock()
	if !e.breaker.CanAttempt(r.now()) {
		st := e.breaker.State()
		e.mu.Unlock()
		var retryAt time.Time
		if st.NextRetryAt != nil {
			retryAt = *st.NextRetryAt
		}
		ce := NewError(ErrCodeUnavailable, id, "circuit open")
		ce.Err = errCircuitOpen{retryAt: retryAt}
		return zero, ce
	}
	e.mu.Unlock()

	v, err := withTimeout(ctx, r.timeout, fn)
	if err != nil {
		ce := Classify(id, err)
		// A write refused by a read-only connector says nothing about the
		// remote system's health.
		if ce.Code != ErrCodeReadOnlyViolation {
			r.recordFailure(e, id, ce)
		}
		return v, ce
	}
	r.recordSuccess(e, id)
	return v, nil
}

func (r *Registry) recordFailure(e *entry, id string, ce *Error) {
	e.mu.Lock()
	wasOpen := !e.breaker.CanAttempt(r.now())
	e.breaker.RecordFailure(r.now())
	open := !e.breaker.CanAttempt(r.now())
	failures := e.breaker.State().FailureCount
	e.mu.Unlock()

	r.logger.Warn("connector call failed",
		"connector", id,
		"code", string(ce.Code),
		"retryable", ce.Retryable,
		"failures", failures,
		"error", ce.Message,
	)
	if open && !wasOpen && r.observer != nil {
		r.observer.SetCircuitOpen(id, true)
	}
}

func (r *Registry) recordSuccess(e *entry, id string) {
	e.mu.Lock()
	hadFailures := e.breaker.State().FailureCount > 0
	e.breaker.RecordSuccess()
	e.mu.Unlock()
	if hadFailures && r.observer != nil {
		r.observer.SetCircuitOpen(id, false)
	}
}

// withTimeout runs fn with a deadline. On timeout the caller returns
// immediately; fn's late result lands in a buffered channel nobody reads.
func withTimeout[T any](ctx context.Context, d time.Duration, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	type outcome struct {
		v   T
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		v, err := fn(ctx)
		done <- outcome{v, err}
	}()

	select {
	case out := <-done:
		return out.v, out.err
	case <-ctx.Done():
		var zero T
		return zero, fmt.Errorf("connector call timeout: %w", ctx.Err())
	}
}

// readOnlyGuard enforces the read-only contract around any connector.
type readOnlyGuard struct {
	Connector
}

func (g readOnlyGuard) Execute(ctx context.Context, req ExecuteRequest) (Result, error) {
	if req.Intent != IntentRead {
		return Result{}, NewReadOnlyViolation(g.ID(), req.Action)
	}
	return g.Connector.Execute(ctx, req)
}
