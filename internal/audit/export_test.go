package audit

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/studiobrain/internal/model"
)

func sampleEvents() []model.AuditEvent {
	at := time.Date(2026, time.March, 14, 9, 30, 0, 0, time.UTC)
	return []model.AuditEvent{
		{
			ID:            "evt-0002",
			At:            at.Add(time.Minute),
			ActorType:     model.ActorStaff,
			ActorID:       "staff-1",
			Action:        "capability.firestore.batch.close.proposal_approved",
			Target:        "firestore",
			ApprovalState: "approved",
			InputHash:     "abc",
			Metadata:      map[string]any{"proposalId": "p-1"},
		},
		{
			ID:        "evt-0001",
			At:        at,
			ActorType: model.ActorSystem,
			ActorID:   "agent",
			Action:    "capability.firestore.batch.close.proposal_created",
			Metadata:  map[string]any{"attempt": 1},
		},
	}
}

func TestBuildBundle_SignedRoundTrip(t *testing.T) {
	b, err := BuildBundle(sampleEvents(), BuildOptions{SigningKey: "secret"})
	require.NoError(t, err)

	assert.Equal(t, 2, b.Manifest.RowCount)
	assert.Equal(t, AlgorithmHMACSHA256, b.Manifest.SignatureAlgorithm)
	assert.Len(t, b.Manifest.PayloadHash, 64)
	assert.Len(t, b.Signature, 64)

	assert.True(t, VerifyBundle(b, "secret").OK)

	res := VerifyBundle(b, "wrong")
	assert.False(t, res.OK)
	assert.Equal(t, ReasonSignatureMismatch, res.Reason)
}

func TestBuildBundle_Unsigned(t *testing.T) {
	b, err := BuildBundle(sampleEvents(), BuildOptions{})
	require.NoError(t, err)

	assert.Equal(t, AlgorithmNone, b.Manifest.SignatureAlgorithm)
	assert.Empty(t, b.Signature)
	assert.True(t, VerifyBundle(b, "").OK)
	assert.Equal(t, ReasonUnexpectedSigningKey, VerifyBundle(b, "secret").Reason)
}

func TestBuildBundle_Empty(t *testing.T) {
	b, err := BuildBundle(nil, BuildOptions{SigningKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, 0, b.Manifest.RowCount)
	assert.NotNil(t, b.Rows)
	assert.True(t, VerifyBundle(b, "k").OK)
}

func TestBuildBundle_GeneratedAt(t *testing.T) {
	at := time.Date(2026, time.March, 14, 12, 0, 0, 0, time.UTC)
	b, err := BuildBundle(sampleEvents(), BuildOptions{GeneratedAt: at})
	require.NoError(t, err)
	assert.Equal(t, at, b.GeneratedAt)
}

func TestVerifyBundle_DetectsTampering(t *testing.T) {
	b, err := BuildBundle(sampleEvents(), BuildOptions{SigningKey: "secret"})
	require.NoError(t, err)

	b.Rows[0]["actorId"] = "someone-else"
	res := VerifyBundle(b, "secret")
	assert.False(t, res.OK)
	assert.Equal(t, ReasonPayloadHashMismatch, res.Reason)
}

func TestVerifyBundle_RowCountMismatch(t *testing.T) {
	b, err := BuildBundle(sampleEvents(), BuildOptions{})
	require.NoError(t, err)

	b.Rows = b.Rows[:1]
	assert.Equal(t, ReasonRowCountMismatch, VerifyBundle(b, "").Reason)
}

func TestVerifyBundle_MissingKeyForSignedBundle(t *testing.T) {
	b, err := BuildBundle(sampleEvents(), BuildOptions{SigningKey: "secret"})
	require.NoError(t, err)
	assert.Equal(t, ReasonSigningKeyRequired, VerifyBundle(b, "").Reason)
}

func TestVerifyBundle_StrippedSignatureAlgorithm(t *testing.T) {
	b, err := BuildBundle(sampleEvents(), BuildOptions{SigningKey: "secret"})
	require.NoError(t, err)

	// Downgrading the manifest while keeping the signature must not pass.
	b.Manifest.SignatureAlgorithm = AlgorithmNone
	assert.False(t, VerifyBundle(b, "").OK)
}

func TestDecode_SurvivesFileRoundTrip(t *testing.T) {
	b, err := BuildBundle(sampleEvents(), BuildOptions{SigningKey: "secret"})
	require.NoError(t, err)

	data, err := json.MarshalIndent(b, "", "  ")
	require.NoError(t, err)
	decoded, err := Decode(data)
	require.NoError(t, err)

	assert.True(t, VerifyBundle(decoded, "secret").OK)
}

func TestDecode_Invalid(t *testing.T) {
	_, err := Decode([]byte("{not json"))
	require.Error(t, err)
}
