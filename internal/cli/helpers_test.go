package cli

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/roach88/studiobrain/internal/model"
	"github.com/roach88/studiobrain/internal/store"
)

// isolatedEnv clears every variable that changes command behaviour and
// returns root options pointing at a fresh database.
func isolatedEnv(t *testing.T) *RootOptions {
	t.Helper()
	for _, k := range []string{
		"ADMIN_TOKEN", "EXPORT_SIGNING_KEY", "EXPORT_S3_BUCKET",
		"HUBITAT_URL", "BACKEND_URL", "POLICY_FILE",
	} {
		t.Setenv("STUDIO_BRAIN_"+k, "")
	}
	dir := t.TempDir()
	return &RootOptions{
		Format:  "json",
		EnvFile: filepath.Join(dir, "missing.env"),
		DBPath:  filepath.Join(dir, "studio-brain.db"),
	}
}

func seedAuditEvents(t *testing.T, dbPath string, n int) {
	t.Helper()
	st, err := store.Open(dbPath)
	require.NoError(t, err)
	defer st.Close()
	for i := 0; i < n; i++ {
		_, err := st.AppendAuditEvent(context.Background(), model.AuditEvent{
			ActorType: model.ActorStaff,
			ActorID:   "staff:kim",
			Action:    "capability.firestore.batch.close.proposal_created",
			Target:    "firestore",
			Metadata:  map[string]any{"seq": i},
		})
		require.NoError(t, err)
	}
}

func execute(cmd *cobra.Command, args ...string) (*bytes.Buffer, error) {
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	return buf, cmd.Execute()
}
