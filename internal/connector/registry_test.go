package connector

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/studiobrain/internal/testutil"
)

// leakyReadOnly claims to be read-only but forgets to check intent.
type leakyReadOnly struct {
	transport Transport
}

func (l leakyReadOnly) ID() string     { return "leaky" }
func (l leakyReadOnly) ReadOnly() bool { return true }
func (l leakyReadOnly) Health(ctx context.Context) (HealthResult, error) {
	return HealthResult{OK: true}, nil
}
func (l leakyReadOnly) ReadStatus(ctx context.Context, input map[string]any) (Result, error) {
	return Result{}, nil
}
func (l leakyReadOnly) Execute(ctx context.Context, req ExecuteRequest) (Result, error) {
	_, err := l.transport(ctx, Request{Path: "/write"})
	return Result{}, err
}

type recordingObserver struct {
	mu    sync.Mutex
	state map[string]bool
}

func (o *recordingObserver) SetCircuitOpen(id string, open bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state == nil {
		o.state = map[string]bool{}
	}
	o.state[id] = open
}

func TestRegistry_DuplicateRegister(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(NewHubitat(newFakeTransport().Transport(), 0, fixedClock)))
	require.Error(t, r.Register(NewHubitat(newFakeTransport().Transport(), 0, fixedClock)))
}

func TestRegistry_GuardsReadOnlyConnectors(t *testing.T) {
	ft := newFakeTransport()
	r := NewRegistry()
	require.NoError(t, r.Register(leakyReadOnly{transport: ft.Transport()}))

	_, err := r.Execute(context.Background(), "leaky", ExecuteRequest{Intent: IntentWrite, Action: "x"})
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrCodeReadOnlyViolation))
	assert.EqualValues(t, 0, ft.calls.Load())

	st, ok := r.Circuit("leaky")
	require.True(t, ok)
	assert.Equal(t, 0, st.FailureCount, "read-only violations do not count against the breaker")
}

func TestRegistry_BreakerOpensAndSkipsTransport(t *testing.T) {
	clock := testutil.NewFakeClock(testNow)
	obs := &recordingObserver{}
	ft := newFakeTransport()
	ft.errs["/devices"] = errors.New("http 503 Service Unavailable")
	ft.errs["/health"] = errors.New("http 503 Service Unavailable")

	r := NewRegistry(WithRegistryClock(clock.Now), WithCircuitObserver(obs))
	require.NoError(t, r.Register(NewHubitat(ft.Transport(), 0, clock.Now)))

	for i := 0; i < DefaultMaxFailures; i++ {
		_, err := r.ReadStatus(context.Background(), HubitatID, nil)
		require.Error(t, err)
	}
	assert.True(t, obs.state[HubitatID])
	calls := ft.calls.Load()

	_, err := r.ReadStatus(context.Background(), HubitatID, nil)
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrCodeUnavailable))
	assert.Equal(t, calls, ft.calls.Load(), "open circuit must not reach the transport")

	reports := r.Health(context.Background())
	require.Len(t, reports, 1)
	assert.False(t, reports[0].Health.OK)
	assert.Equal(t, AvailabilityCircuitOpen, reports[0].Health.Availability)
	assert.Equal(t, calls, ft.calls.Load())

	// After the backoff the next success closes the circuit.
	clock.Advance(DefaultBaseBackoff)
	delete(ft.errs, "/devices")
	ft.replies["/devices"] = `{"devices":[]}`
	_, err = r.ReadStatus(context.Background(), HubitatID, nil)
	require.NoError(t, err)
	assert.False(t, obs.state[HubitatID])
	st, _ := r.Circuit(HubitatID)
	assert.Equal(t, 0, st.FailureCount)
}

func TestRegistry_TimeoutAbandonsCall(t *testing.T) {
	release := make(chan struct{})
	slow := func(ctx context.Context, req Request) (Response, error) {
		<-release
		return Response{Status: 200, Body: []byte(`{"devices":[]}`)}, nil
	}
	r := NewRegistry(WithCallTimeout(20 * time.Millisecond))
	require.NoError(t, r.Register(NewHubitat(slow, 0, fixedClock)))

	_, err := r.ReadStatus(context.Background(), HubitatID, nil)
	close(release)
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrCodeTimeout))

	st, _ := r.Circuit(HubitatID)
	assert.Equal(t, 1, st.FailureCount)
}

func TestRegistry_HealthAggregation(t *testing.T) {
	hub := newFakeTransport()
	hub.replies["/health"] = `{"status":"ok"}`
	backend := newFakeTransport()
	backend.errs["/healthz"] = errors.New("401 unauthorized")

	r := NewRegistry()
	require.NoError(t, r.Register(NewHubitat(hub.Transport(), 0, fixedClock)))
	require.NoError(t, r.Register(NewBackend(backend.Transport(), 0, fixedClock)))

	reports := r.Health(context.Background())
	require.Len(t, reports, 2)

	assert.Equal(t, HubitatID, reports[0].ConnectorID)
	assert.True(t, reports[0].Health.OK)
	assert.True(t, reports[0].ReadOnly)
	assert.Equal(t, AvailabilityHealthy, reports[0].Health.Availability)

	assert.Equal(t, BackendID, reports[1].ConnectorID)
	assert.False(t, reports[1].Health.OK)
	assert.Equal(t, ErrCodeAuth, reports[1].ErrorCode)
	assert.Equal(t, AvailabilityUnavailable, reports[1].Health.Availability)
}

func TestRegistry_UnknownConnector(t *testing.T) {
	_, err := NewRegistry().Execute(context.Background(), "nope", ExecuteRequest{Intent: IntentRead})
	require.Error(t, err)
}
