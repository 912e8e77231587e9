// Package jobs runs periodic background work on a single jittered timer.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"
)

// ErrRunInProgress is returned by RunOnce when a run is already active.
var ErrRunInProgress = errors.New("jobs: run already in progress")

// Func is one unit of periodic work.
type Func func(ctx context.Context) error

// RunObserver is told the outcome of each run. *metrics.Metrics
// satisfies it.
type RunObserver interface {
	ObserveJobRun(job string, ok bool, consecutiveFailures int)
}

// Status is a point-in-time copy of a runner's counters.
type Status struct {
	Name                string     `json:"name"`
	Running             bool       `json:"running"`
	TotalRuns           int        `json:"totalRuns"`
	TotalFailures       int        `json:"totalFailures"`
	ConsecutiveFailures int        `json:"consecutiveFailures"`
	LastRunStartedAt    *time.Time `json:"lastRunStartedAt"`
	LastRunCompletedAt  *time.Time `json:"lastRunCompletedAt"`
	LastRunDurationMs   int64      `json:"lastRunDurationMs"`
	LastError           string     `json:"lastError,omitempty"`
	NextRunAt           *time.Time `json:"nextRunAt"`
}

// Runner owns one job's schedule and counters.
//
// Thread-safety: all methods are safe for concurrent use. At most one run
// is active at any time, whether triggered by the timer or by RunOnce.
type Runner struct {
	name     string
	fn       Func
	interval time.Duration
	jitter   time.Duration
	logger   *slog.Logger
	observer RunObserver
	now      func() time.Time
	randN    func(n int64) int64

	active sync.Mutex

	mu      sync.Mutex
	status  Status
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// Option configures a Runner.
type Option func(*Runner)

// WithJitter adds a random delay in [0, jitter) to every interval.
func WithJitter(d time.Duration) Option {
	return func(r *Runner) {
		r.jitter = d
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) {
		r.logger = l
	}
}

// WithObserver reports run outcomes (metrics).
func WithObserver(o RunObserver) Option {
	return func(r *Runner) {
		r.observer = o
	}
}

// WithClock overrides the wall clock used for status timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) {
		r.now = now
	}
}

// WithRandom overrides the jitter source. fn(n) must return a value in
// [0, n).
func WithRandom(fn func(n int64) int64) Option {
	return func(r *Runner) {
		r.randN = fn
	}
}

// NewRunner creates a runner. It does nothing until Start or RunOnce.
func NewRunner(name string, interval time.Duration, fn Func, opts ...Option) *Runner {
	r := &Runner{
		name:     name,
		fn:       fn,
		interval: interval,
		logger:   slog.Default(),
		now:      time.Now,
		randN:    rand.Int63n, //nolint:gosec // jitter, not security
		status:   Status{Name: name},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start begins the timer loop. Calling Start on a started runner is a
// no-op. The loop stops when ctx is cancelled or Stop is called.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return
	}
	r.started = true
	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})
	go r.loop(ctx, r.done)
}

// Stop cancels the loop and waits for an active run to return.
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return
	}
	r.started = false
	cancel, done := r.cancel, r.done
	r.mu.Unlock()

	cancel()
	<-done
}

func (r *Runner) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		delay := r.nextDelay()
		next := r.now().Add(delay)
		r.mu.Lock()
		r.status.NextRunAt = &next
		r.mu.Unlock()

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			r.mu.Lock()
			r.status.NextRunAt = nil
			r.mu.Unlock()
			return
		case <-timer.C:
		}

		if err := r.RunOnce(ctx); errors.Is(err, ErrRunInProgress) {
			r.logger.Debug("skipping scheduled run; previous run still active", "job", r.name)
		}
	}
}

func (r *Runner) nextDelay() time.Duration {
	if r.jitter <= 0 {
		return r.interval
	}
	return r.interval + time.Duration(r.randN(int64(r.jitter)))
}

// RunOnce runs the job now. It returns ErrRunInProgress without running
// if another run is active, and otherwise the job's own error. A failed
// run is logged and counted; it never stops the timer.
func (r *Runner) RunOnce(ctx context.Context) error {
	if !r.active.TryLock() {
		return ErrRunInProgress
	}
	defer r.active.Unlock()

	started := r.now()
	r.mu.Lock()
	r.status.Running = true
	r.status.TotalRuns++
	r.status.LastRunStartedAt = &started
	r.mu.Unlock()

	err := r.safeRun(ctx)

	completed := r.now()
	r.mu.Lock()
	r.status.Running = false
	r.status.LastRunCompletedAt = &completed
	r.status.LastRunDurationMs = completed.Sub(started).Milliseconds()
	if err != nil {
		r.status.TotalFailures++
		r.status.ConsecutiveFailures++
		r.status.LastError = err.Error()
	} else {
		r.status.ConsecutiveFailures = 0
		r.status.LastError = ""
	}
	consecutive := r.status.ConsecutiveFailures
	r.mu.Unlock()

	if err != nil {
		r.logger.Error("state job run failed",
			"job", r.name,
			"consecutive_failures", consecutive,
			"error", err,
		)
	}
	if r.observer != nil {
		r.observer.ObserveJobRun(r.name, err == nil, consecutive)
	}
	return err
}

func (r *Runner) safeRun(ctx context.Context) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &PanicError{Value: p}
		}
	}()
	return r.fn(ctx)
}

// Status returns a copy of the runner's counters.
func (r *Runner) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.status
	s.LastRunStartedAt = copyTime(s.LastRunStartedAt)
	s.LastRunCompletedAt = copyTime(s.LastRunCompletedAt)
	s.NextRunAt = copyTime(s.NextRunAt)
	return s
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// PanicError wraps a panic recovered from a job.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("job panicked: %v", e.Value)
}
