package state

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/studiobrain/internal/canon"
	"github.com/roach88/studiobrain/internal/model"
)

// DefaultSourceTimeout bounds each source when no timeout is configured.
const DefaultSourceTimeout = 10 * time.Second

// Computer assembles snapshots from a fixed list of sources.
//
// Thread-safety: Compute is safe for concurrent use; the computer holds
// no mutable state.
type Computer struct {
	sources []Source
	timeout time.Duration
	now     func() time.Time
	loc     *time.Location
	logger  *slog.Logger
}

// Option configures a Computer.
type Option func(*Computer)

// WithSourceTimeout sets the per-source deadline.
func WithSourceTimeout(d time.Duration) Option {
	return func(c *Computer) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(c *Computer) {
		c.now = now
	}
}

// WithLocation sets the calendar used for snapshot dates (UTC by default).
func WithLocation(loc *time.Location) Option {
	return func(c *Computer) {
		c.loc = loc
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Computer) {
		c.logger = l
	}
}

// NewComputer creates a computer over sources. Source names must be
// unique; they key SourceHashes and DurationsMs.
func NewComputer(sources []Source, opts ...Option) *Computer {
	c := &Computer{
		sources: append([]Source(nil), sources...),
		timeout: DefaultSourceTimeout,
		now:     time.Now,
		loc:     time.UTC,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type sourceResult struct {
	contribution Contribution
	err          error
	duration     time.Duration
}

// Compute runs every source concurrently and assembles the snapshot.
// It never fails: source errors become warnings and mark the snapshot
// partial.
func (c *Computer) Compute(ctx context.Context) model.StudioStateSnapshot {
	started := c.now()

	results := make([]sourceResult, len(c.sources))
	var wg sync.WaitGroup
	for i, src := range c.sources {
		i, src := i, src
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = c.collect(ctx, src)
		}()
	}
	wg.Wait()

	snap := model.StudioStateSnapshot{
		SchemaVersion: model.SnapshotSchemaVersion,
		SnapshotDate:  started.In(c.loc).Format(time.DateOnly),
		GeneratedAt:   c.now().UTC().Truncate(time.Millisecond),
		Counts:        map[string]int64{},
		Ops:           map[string]int64{},
		Finance:       map[string]int64{},
		SourceHashes:  map[string]string{},
		Diagnostics: model.Diagnostics{
			Completeness: model.CompletenessFull,
			Warnings:     []string{},
			DurationsMs:  map[string]int64{},
		},
	}
	for _, f := range Fields {
		section, name := splitField(f)
		sectionMap(&snap, section)[name] = 0
	}

	for i, src := range c.sources {
		res := results[i]
		snap.Diagnostics.DurationsMs[src.Name()] = res.duration.Milliseconds()
		if res.err != nil {
			snap.Diagnostics.Completeness = model.CompletenessPartial
			snap.Diagnostics.Warnings = append(snap.Diagnostics.Warnings,
				fmt.Sprintf("source %s: %v", src.Name(), res.err))
			c.logger.Warn("state source failed", "source", src.Name(), "error", res.err)
			continue
		}
		target := sectionMap(&snap, res.contribution.Section)
		if target == nil {
			snap.Diagnostics.Completeness = model.CompletenessPartial
			snap.Diagnostics.Warnings = append(snap.Diagnostics.Warnings,
				fmt.Sprintf("source %s: unknown section %q", src.Name(), res.contribution.Section))
			continue
		}
		for k, v := range res.contribution.Values {
			target[k] = v
		}
		hash, err := canon.StableHashDeep(res.contribution.Values)
		if err == nil {
			snap.SourceHashes[src.Name()] = hash
		}
	}
	return snap
}

// collect runs one source under its own deadline. A source that ignores
// its context is abandoned once the deadline passes.
func (c *Computer) collect(ctx context.Context, src Source) sourceResult {
	sctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := c.now()
	done := make(chan sourceResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- sourceResult{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		contribution, err := src.Collect(sctx)
		done <- sourceResult{contribution: contribution, err: err}
	}()

	var res sourceResult
	select {
	case res = <-done:
	case <-sctx.Done():
		res = sourceResult{err: fmt.Errorf("timed out after %s: %w", c.timeout, sctx.Err())}
	}
	res.duration = c.now().Sub(start)
	return res
}
