package capability

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/studiobrain/internal/connector"
	"github.com/roach88/studiobrain/internal/model"
	"github.com/roach88/studiobrain/internal/policy"
	"github.com/roach88/studiobrain/internal/store"
	"github.com/roach88/studiobrain/internal/testutil"
)

// fakeExecutor records connector calls and returns a canned result.
type fakeExecutor struct {
	mu    sync.Mutex
	calls []connector.ExecuteRequest
	err   error
}

func (f *fakeExecutor) Execute(ctx context.Context, id string, req connector.ExecuteRequest) (connector.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	if f.err != nil {
		return connector.Result{}, f.err
	}
	return connector.Result{RequestID: "req-1", OutputHash: "out-" + req.Action, Devices: []connector.Device{}}, nil
}

func (f *fakeExecutor) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type testEnv struct {
	rt    *Runtime
	store *store.Store
	clock *testutil.FakeClock
	exec  *fakeExecutor
}

func newTestEnv(t *testing.T, caps []policy.Capability, meta policy.MetadataSet) *testEnv {
	t.Helper()
	clock := testutil.NewFakeClock(time.Time{})
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"),
		store.WithClock(clock.Now),
		store.WithIDGenerator(testutil.NewSequenceIDs("evt").Next),
	)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	if caps == nil {
		caps = policy.DefaultCapabilities()
	}
	if meta == nil {
		meta, err = policy.DefaultMetadata()
		require.NoError(t, err)
	}
	reg, err := policy.NewRegistry(caps)
	require.NoError(t, err)

	exec := &fakeExecutor{}
	rt, err := New(context.Background(), s, reg,
		WithMetadata(meta),
		WithConnectors(exec),
		WithClock(clock.Now),
		WithIDGenerator(testutil.NewSequenceIDs("p").Next),
	)
	require.NoError(t, err)
	return &testEnv{rt: rt, store: s, clock: clock, exec: exec}
}

var agent = Actor{ID: "agent-1", Type: model.ActorSystem, OwnerUID: "owner-1"}

func batchCloseInput() CreateInput {
	return CreateInput{
		CapabilityID:    "firestore.batch.close",
		Rationale:       "all pieces unloaded",
		PreviewSummary:  "Close batch 12",
		RequestInput:    map[string]any{"batchId": "b-12"},
		ExpectedEffects: []string{"batch b-12 closed"},
	}
}

// auditActions returns every stored action, oldest first.
func auditActions(t *testing.T, s *store.Store) []string {
	t.Helper()
	events, err := s.ListRecentAuditEvents(context.Background(), 1000)
	require.NoError(t, err)
	out := make([]string, 0, len(events))
	for i := len(events) - 1; i >= 0; i-- {
		out = append(out, events[i].Action)
	}
	return out
}

func countSuffix(actions []string, suffix string) int {
	n := 0
	for _, a := range actions {
		if strings.HasSuffix(a, suffix) {
			n++
		}
	}
	return n
}
