package state

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/studiobrain/internal/connector"
	"github.com/roach88/studiobrain/internal/model"
	"github.com/roach88/studiobrain/internal/testutil"
)

func staticSource(name string, section Section, values map[string]int64) Source {
	return SourceFunc{SourceName: name, Fn: func(ctx context.Context) (Contribution, error) {
		return Contribution{Section: section, Values: values}, nil
	}}
}

func failingSource(name string, err error) Source {
	return SourceFunc{SourceName: name, Fn: func(ctx context.Context) (Contribution, error) {
		return Contribution{}, err
	}}
}

func TestCompute_Full(t *testing.T) {
	clock := testutil.NewFakeClock(time.Time{})
	c := NewComputer([]Source{
		staticSource("proposals", SectionCounts, map[string]int64{"proposalsPending": 3}),
		staticSource("hubitat", SectionOps, map[string]int64{"devicesTotal": 5}),
	}, WithClock(clock.Now))

	snap := c.Compute(context.Background())
	assert.Equal(t, model.SnapshotSchemaVersion, snap.SchemaVersion)
	assert.Equal(t, "2026-03-14", snap.SnapshotDate)
	assert.Equal(t, model.CompletenessFull, snap.Diagnostics.Completeness)
	assert.Empty(t, snap.Diagnostics.Warnings)
	assert.Equal(t, int64(3), snap.Counts["proposalsPending"])
	assert.Equal(t, int64(5), snap.Ops["devicesTotal"])
	assert.Len(t, snap.SourceHashes, 2)
	assert.Contains(t, snap.Diagnostics.DurationsMs, "hubitat")

	// Every tracked field is present even when no source set it.
	v, ok := snap.Finance["unpaidCents"]
	assert.True(t, ok)
	assert.Zero(t, v)
}

func TestCompute_FailedSourceIsPartial(t *testing.T) {
	c := NewComputer([]Source{
		staticSource("proposals", SectionCounts, map[string]int64{"proposalsPending": 3}),
		failingSource("hubitat", connector.NewError(connector.ErrCodeUnavailable, "hubitat", "http 503")),
	})

	snap := c.Compute(context.Background())
	assert.Equal(t, model.CompletenessPartial, snap.Diagnostics.Completeness)
	require.Len(t, snap.Diagnostics.Warnings, 1)
	assert.Contains(t, snap.Diagnostics.Warnings[0], "source hubitat")
	assert.Equal(t, int64(3), snap.Counts["proposalsPending"])
	assert.Zero(t, snap.Ops["devicesTotal"])
	assert.NotContains(t, snap.SourceHashes, "hubitat")
}

func TestCompute_SourceTimeout(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	stuck := SourceFunc{SourceName: "stuck", Fn: func(ctx context.Context) (Contribution, error) {
		<-release
		return Contribution{}, nil
	}}
	c := NewComputer([]Source{
		stuck,
		staticSource("proposals", SectionCounts, map[string]int64{"proposalsExecuted": 1}),
	}, WithSourceTimeout(20*time.Millisecond))

	start := time.Now()
	snap := c.Compute(context.Background())
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, model.CompletenessPartial, snap.Diagnostics.Completeness)
	require.Len(t, snap.Diagnostics.Warnings, 1)
	assert.Contains(t, snap.Diagnostics.Warnings[0], "timed out")
	assert.Equal(t, int64(1), snap.Counts["proposalsExecuted"])
}

func TestCompute_PanickingSource(t *testing.T) {
	boom := SourceFunc{SourceName: "boom", Fn: func(ctx context.Context) (Contribution, error) {
		panic("nil map")
	}}
	snap := NewComputer([]Source{boom}).Compute(context.Background())
	assert.Equal(t, model.CompletenessPartial, snap.Diagnostics.Completeness)
	assert.Contains(t, snap.Diagnostics.Warnings[0], "panic")
}

func TestCompute_SourcesRunConcurrently(t *testing.T) {
	// Each source waits for the other; a sequential computer would time out.
	a, b := make(chan struct{}), make(chan struct{})
	pair := func(name string, mine, theirs chan struct{}) Source {
		return SourceFunc{SourceName: name, Fn: func(ctx context.Context) (Contribution, error) {
			close(mine)
			select {
			case <-theirs:
				return Contribution{Section: SectionOps, Values: map[string]int64{}}, nil
			case <-ctx.Done():
				return Contribution{}, ctx.Err()
			}
		}}
	}
	c := NewComputer([]Source{pair("a", a, b), pair("b", b, a)}, WithSourceTimeout(time.Second))

	snap := c.Compute(context.Background())
	assert.Equal(t, model.CompletenessFull, snap.Diagnostics.Completeness)
}

func TestCompute_DateUsesLocation(t *testing.T) {
	late := time.Date(2026, time.March, 14, 23, 30, 0, 0, time.UTC)
	tokyo := time.FixedZone("JST", 9*3600)
	c := NewComputer(nil, WithClock(func() time.Time { return late }), WithLocation(tokyo))
	assert.Equal(t, "2026-03-15", c.Compute(context.Background()).SnapshotDate)
}

type fakeStatusReader struct {
	result connector.Result
	err    error
}

func (f fakeStatusReader) ReadStatus(ctx context.Context, id string, input map[string]any) (connector.Result, error) {
	return f.result, f.err
}

func TestDeviceSource(t *testing.T) {
	low, ok := 12, 80
	r := fakeStatusReader{result: connector.Result{Devices: []connector.Device{
		{ID: "1", Online: true, BatteryPct: &ok, Attributes: map[string]any{}},
		{ID: "2", Online: false, BatteryPct: &low, Attributes: map[string]any{"stale": true}},
		{ID: "3", Online: true, Attributes: map[string]any{}},
	}}}

	got, err := DeviceSource(r, "hubitat", "devices").Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SectionOps, got.Section)
	assert.Equal(t, map[string]int64{
		"devicesTotal": 3, "devicesOnline": 2, "devicesStale": 1, "devicesLowBattery": 1,
	}, got.Values)

	_, err = DeviceSource(fakeStatusReader{err: errors.New("down")}, "hubitat", "devices").Collect(context.Background())
	assert.Error(t, err)
}

type fakeSummary map[string]int64

func (f fakeSummary) Summary(ctx context.Context) (map[string]int64, error) { return f, nil }

func TestFinanceSource_KeepsTrackedFields(t *testing.T) {
	got, err := FinanceSource(fakeSummary{"openInvoices": 2, "untracked": 9}).Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Values["openInvoices"])
	assert.Zero(t, got.Values["unpaidCents"])
	assert.NotContains(t, got.Values, "untracked")
}
