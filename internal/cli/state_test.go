package cli

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/studiobrain/internal/model"
	"github.com/roach88/studiobrain/internal/state"
)

func TestStateCompute_WithoutConnectors(t *testing.T) {
	rootOpts := isolatedEnv(t)
	seedAuditEvents(t, rootOpts.DBPath, 2)

	buf, err := execute(NewStateComputeCommand(rootOpts))
	require.NoError(t, err)

	var res state.RunResult
	require.NoError(t, json.Unmarshal(buf.Bytes(), &res))
	assert.NotEmpty(t, res.Snapshot.SnapshotDate)
	assert.Equal(t, model.CompletenessFull, res.Snapshot.Diagnostics.Completeness)
	assert.Equal(t, int64(2), res.Snapshot.Counts["auditEvents24h"])
	assert.Equal(t, int64(0), res.Snapshot.Counts["proposalsPending"])
	assert.Nil(t, res.Diff, "first snapshot has nothing to diff against")
}

func TestStateCompute_RerunIsIdempotent(t *testing.T) {
	rootOpts := isolatedEnv(t)

	_, err := execute(NewStateComputeCommand(rootOpts))
	require.NoError(t, err)
	buf, err := execute(NewStateComputeCommand(rootOpts))
	require.NoError(t, err)

	var res state.RunResult
	require.NoError(t, json.Unmarshal(buf.Bytes(), &res))
	assert.Nil(t, res.Diff)
}

func TestStateCompute_UnreachableConnectorIsPartial(t *testing.T) {
	rootOpts := isolatedEnv(t)
	t.Setenv("STUDIO_BRAIN_HUBITAT_URL", "http://127.0.0.1:1")
	t.Setenv("STUDIO_BRAIN_CONNECTOR_TIMEOUT", "200ms")

	buf, err := execute(NewStateComputeCommand(rootOpts))
	require.NoError(t, err)

	var res state.RunResult
	require.NoError(t, json.Unmarshal(buf.Bytes(), &res))
	assert.Equal(t, model.CompletenessPartial, res.Snapshot.Diagnostics.Completeness)
	require.Len(t, res.Snapshot.Diagnostics.Warnings, 1)
	assert.Contains(t, res.Snapshot.Diagnostics.Warnings[0], "source hubitat")
}

func TestServe_RequiresAdminToken(t *testing.T) {
	rootOpts := isolatedEnv(t)

	_, err := execute(NewServeCommand(rootOpts))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "ADMIN_TOKEN")
}
