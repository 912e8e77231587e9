package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/studiobrain/internal/model"
)

func TestInsertAndGetProposal(t *testing.T) {
	s, clock := createTestStore(t)
	ctx := context.Background()

	p := createTestProposal("p-1", clock.Now())
	p.IntakeID = "intake-1"
	p.IntakeCategory = "unknown"
	require.NoError(t, s.InsertProposal(ctx, p))

	got, err := s.GetProposal(ctx, "p-1")
	require.NoError(t, err)
	assert.Equal(t, p.CapabilityID, got.CapabilityID)
	assert.Equal(t, model.StatusPending, got.Status)
	assert.Equal(t, "b-12", got.RequestInput["batchId"])
	assert.Equal(t, []string{"batch marked closed"}, got.ExpectedEffects)
	assert.Equal(t, clock.Now(), got.CreatedAt)
	assert.Nil(t, got.ApprovedAt)
	assert.False(t, got.IntakeFlagged)
	assert.Equal(t, "intake-1", got.IntakeID)
}

func TestInsertProposal_DuplicateID(t *testing.T) {
	s, clock := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.InsertProposal(ctx, createTestProposal("p-1", clock.Now())))
	require.Error(t, s.InsertProposal(ctx, createTestProposal("p-1", clock.Now())))
}

func TestGetProposal_NotFound(t *testing.T) {
	s, _ := createTestStore(t)

	_, err := s.GetProposal(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestTransitionProposal_Approve(t *testing.T) {
	s, clock := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.InsertProposal(ctx, createTestProposal("p-1", clock.Now())))
	at := clock.Advance(time.Minute)
	require.NoError(t, s.TransitionProposal(ctx, "p-1", model.StatusPending, model.StatusApproved, "staff-1", at))

	got, err := s.GetProposal(ctx, "p-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusApproved, got.Status)
	assert.Equal(t, "staff-1", got.ApprovedBy)
	require.NotNil(t, got.ApprovedAt)
	assert.Equal(t, at, *got.ApprovedAt)
}

func TestTransitionProposal_StaleFromState(t *testing.T) {
	s, clock := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.InsertProposal(ctx, createTestProposal("p-1", clock.Now())))
	require.NoError(t, s.TransitionProposal(ctx, "p-1", model.StatusPending, model.StatusApproved, "staff-1", clock.Now()))

	err := s.TransitionProposal(ctx, "p-1", model.StatusPending, model.StatusRejected, "staff-2", clock.Now())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStaleTransition))

	got, err := s.GetProposal(ctx, "p-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusApproved, got.Status)
	assert.Equal(t, "staff-1", got.ApprovedBy)
}

func TestTransitionProposal_ExecuteKeepsApprover(t *testing.T) {
	s, clock := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.InsertProposal(ctx, createTestProposal("p-1", clock.Now())))
	require.NoError(t, s.TransitionProposal(ctx, "p-1", model.StatusPending, model.StatusApproved, "staff-1", clock.Now()))
	require.NoError(t, s.TransitionProposal(ctx, "p-1", model.StatusApproved, model.StatusExecuted, "agent-1", clock.Now()))

	got, err := s.GetProposal(ctx, "p-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusExecuted, got.Status)
	assert.Equal(t, "staff-1", got.ApprovedBy)
}

func TestTransitionProposal_IllegalMove(t *testing.T) {
	s, clock := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.InsertProposal(ctx, createTestProposal("p-1", clock.Now())))
	err := s.TransitionProposal(ctx, "p-1", model.StatusPending, model.StatusExecuted, "agent-1", clock.Now())
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrStaleTransition))
}

func TestSetIntakeOverride(t *testing.T) {
	s, clock := createTestStore(t)
	ctx := context.Background()

	p := createTestProposal("p-1", clock.Now())
	p.IntakeFlagged = true
	require.NoError(t, s.InsertProposal(ctx, p))
	require.NoError(t, s.SetIntakeOverride(ctx, "p-1", model.OverrideGranted))

	got, err := s.GetProposal(ctx, "p-1")
	require.NoError(t, err)
	assert.True(t, got.IntakeFlagged)
	assert.Equal(t, model.OverrideGranted, got.IntakeOverride)

	require.NoError(t, s.TransitionProposal(ctx, "p-1", model.StatusPending, model.StatusRejected, "staff-1", clock.Now()))
	err = s.SetIntakeOverride(ctx, "p-1", model.OverrideDenied)
	assert.True(t, errors.Is(err, ErrStaleTransition))
}

func TestListProposals(t *testing.T) {
	s, clock := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.InsertProposal(ctx, createTestProposal("p-1", clock.Now())))
	require.NoError(t, s.InsertProposal(ctx, createTestProposal("p-2", clock.Advance(time.Second))))
	require.NoError(t, s.InsertProposal(ctx, createTestProposal("p-3", clock.Advance(time.Second))))
	require.NoError(t, s.TransitionProposal(ctx, "p-2", model.StatusPending, model.StatusRejected, "staff-1", clock.Now()))

	all, err := s.ListProposals(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "p-3", all[0].ID)
	assert.Equal(t, "p-1", all[2].ID)

	pending, err := s.ListProposals(ctx, model.StatusPending, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "p-3", pending[0].ID)
	assert.Equal(t, "p-1", pending[1].ID)
}

func TestCountProposalsByStatus(t *testing.T) {
	s, clock := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.InsertProposal(ctx, createTestProposal("p-1", clock.Now())))
	require.NoError(t, s.InsertProposal(ctx, createTestProposal("p-2", clock.Now())))
	require.NoError(t, s.TransitionProposal(ctx, "p-2", model.StatusPending, model.StatusApproved, "staff-1", clock.Now()))

	counts, err := s.CountProposalsByStatus(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, counts[model.StatusPending])
	assert.EqualValues(t, 1, counts[model.StatusApproved])
	assert.EqualValues(t, 0, counts[model.StatusRejected])
	assert.Contains(t, counts, model.StatusExecuted)
}
