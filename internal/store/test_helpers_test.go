package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/studiobrain/internal/model"
	"github.com/roach88/studiobrain/internal/testutil"
)

// createTestStore opens a fresh database in a temp dir with a fake clock
// and sequential ids.
func createTestStore(t *testing.T) (*Store, *testutil.FakeClock) {
	t.Helper()
	clock := testutil.NewFakeClock(time.Time{})
	ids := testutil.NewSequenceIDs("evt")
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, WithClock(clock.Now), WithIDGenerator(ids.Next))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, clock
}

// createTestProposal creates a pending proposal with minimal required fields.
func createTestProposal(id string, createdAt time.Time) model.Proposal {
	return model.Proposal{
		ID:              id,
		CapabilityID:    "firestore.batch.close",
		ActorID:         "agent-1",
		OwnerUID:        "owner-1",
		Rationale:       "batch complete",
		PreviewSummary:  "close batch 12",
		RequestInput:    map[string]any{"batchId": "b-12"},
		ExpectedEffects: []string{"batch marked closed"},
		InputHash:       "hash-" + id,
		Status:          model.StatusPending,
		CreatedAt:       createdAt,
	}
}
