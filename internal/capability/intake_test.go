package capability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/studiobrain/internal/intake"
	"github.com/roach88/studiobrain/internal/model"
)

func flaggedInput() CreateInput {
	in := batchCloseInput()
	in.PreviewSummary = "Close batch of suppressor housings"
	return in
}

func TestRuntime_FlaggedIntakeRoutedToReview(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	ctx := context.Background()

	p, err := env.rt.Create(ctx, agent, flaggedInput())
	require.NoError(t, err)
	assert.True(t, p.IntakeFlagged)
	assert.Equal(t, intake.CategoryWeaponization, p.IntakeCategory)
	assert.Equal(t, model.StatusPending, p.Status)

	actions := auditActions(t, env.store)
	assert.Equal(t, []string{ActionIntakeRoutedToReview}, actions)

	_, err = env.rt.Approve(ctx, p.ID, "staff-1", "ok")
	require.Error(t, err)
	assert.Equal(t, ErrCodeIntakeBlocked, CodeOf(err))
}

func TestRuntime_OverrideGrantedAllowsApproval(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	ctx := context.Background()

	p, err := env.rt.Create(ctx, agent, flaggedInput())
	require.NoError(t, err)

	_, err = env.rt.RecordIntakeOverride(ctx, p.ID, "override_granted", "looks fine", "staff-1", "")
	require.Error(t, err)
	assert.Equal(t, ErrCodeInvalidOverride, CodeOf(err))

	p, err = env.rt.RecordIntakeOverride(ctx, p.ID, "override_granted", "staff_override_ceramic_art_piece", "staff-1", "decorative")
	require.NoError(t, err)
	assert.Equal(t, model.OverrideGranted, p.IntakeOverride)

	p, err = env.rt.Approve(ctx, p.ID, "staff-1", "ok")
	require.NoError(t, err)
	assert.Equal(t, model.StatusApproved, p.Status)

	assert.Contains(t, auditActions(t, env.store), ActionIntakeOverrideGranted)
}

func TestRuntime_OverrideDeniedRejects(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	ctx := context.Background()

	p, err := env.rt.Create(ctx, agent, flaggedInput())
	require.NoError(t, err)

	p, err = env.rt.RecordIntakeOverride(ctx, p.ID, "override_denied", "policy_weapon_parts", "staff-1", "")
	require.NoError(t, err)
	assert.Equal(t, model.StatusRejected, p.Status)
	assert.Equal(t, model.OverrideDenied, p.IntakeOverride)

	actions := auditActions(t, env.store)
	assert.Equal(t, []string{
		ActionIntakeRoutedToReview,
		ActionIntakeOverrideDenied,
		"capability.firestore.batch.close.proposal_rejected",
	}, actions)
}

func TestRuntime_OverrideOnCleanIntake(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	ctx := context.Background()

	p, err := env.rt.Create(ctx, agent, batchCloseInput())
	require.NoError(t, err)

	_, err = env.rt.RecordIntakeOverride(ctx, p.ID, "override_granted", "staff_override_x", "staff-1", "")
	assert.Equal(t, ErrCodeInvalidOverride, CodeOf(err))
}

func TestRuntime_IntakeIDStableAcrossSubmissions(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	ctx := context.Background()

	a, err := env.rt.Create(ctx, agent, batchCloseInput())
	require.NoError(t, err)
	b, err := env.rt.Create(ctx, agent, batchCloseInput())
	require.NoError(t, err)
	assert.Equal(t, a.IntakeID, b.IntakeID)
}
