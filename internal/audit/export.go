// Package audit builds and verifies signed export bundles of audit events.
//
// The live store has no cryptographic chaining; a bundle's payload hash
// and optional HMAC signature are the only way to detect tampering after
// export.
package audit

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/studiobrain/internal/canon"
	"github.com/roach88/studiobrain/internal/model"
)

// Signature algorithms recorded in the manifest.
const (
	AlgorithmHMACSHA256 = "hmac-sha256"
	AlgorithmNone       = "none"
)

// Manifest summarises a bundle's rows.
type Manifest struct {
	RowCount           int    `json:"rowCount"`
	PayloadHash        string `json:"payloadHash"`
	SignatureAlgorithm string `json:"signatureAlgorithm"`
}

// Bundle is the exported, self-verifying snapshot of audit rows.
type Bundle struct {
	Manifest    Manifest         `json:"manifest"`
	GeneratedAt time.Time        `json:"generatedAt"`
	Rows        []map[string]any `json:"rows"`
	Signature   string           `json:"signature,omitempty"`
}

// BuildOptions configures BuildBundle.
type BuildOptions struct {
	// SigningKey enables an HMAC-SHA256 signature over the payload hash.
	SigningKey string
	// GeneratedAt defaults to time.Now().
	GeneratedAt time.Time
}

// BuildBundle canonicalises events, hashes the payload and signs it when
// a key is supplied. Row order is preserved as given.
func BuildBundle(events []model.AuditEvent, opts BuildOptions) (Bundle, error) {
	rows := make([]map[string]any, 0, len(events))
	for _, ev := range events {
		row, err := toRow(ev)
		if err != nil {
			return Bundle{}, fmt.Errorf("build bundle: event %s: %w", ev.ID, err)
		}
		rows = append(rows, row)
	}

	payloadHash, err := hashRows(rows)
	if err != nil {
		return Bundle{}, fmt.Errorf("build bundle: %w", err)
	}

	generatedAt := opts.GeneratedAt
	if generatedAt.IsZero() {
		generatedAt = time.Now()
	}

	b := Bundle{
		Manifest: Manifest{
			RowCount:           len(rows),
			PayloadHash:        payloadHash,
			SignatureAlgorithm: AlgorithmNone,
		},
		GeneratedAt: generatedAt.UTC(),
		Rows:        rows,
	}
	if opts.SigningKey != "" {
		b.Manifest.SignatureAlgorithm = AlgorithmHMACSHA256
		b.Signature = sign(opts.SigningKey, payloadHash)
	}
	return b, nil
}

// VerifyResult reports the outcome of a verification. Failures are data,
// not errors, so unattended integrity checks never need to recover.
type VerifyResult struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
}

// Verification failure reasons.
const (
	ReasonRowCountMismatch     = "row_count_mismatch"
	ReasonPayloadHashMismatch  = "payload_hash_mismatch"
	ReasonSignatureMismatch    = "signature_mismatch"
	ReasonSigningKeyRequired   = "signing_key_required"
	ReasonUnexpectedSigningKey = "bundle_not_signed"
	ReasonUnknownAlgorithm     = "unknown_signature_algorithm"
	ReasonUnhashableRows       = "rows_not_canonicalizable"
)

// VerifyBundle recomputes the payload hash and, for signed bundles, the
// signature. An empty key on a signed bundle fails; a key supplied for an
// unsigned bundle also fails, since the caller expected a signature.
func VerifyBundle(b Bundle, key string) VerifyResult {
	if b.Manifest.RowCount != len(b.Rows) {
		return VerifyResult{Reason: ReasonRowCountMismatch}
	}
	payloadHash, err := hashRows(b.Rows)
	if err != nil {
		return VerifyResult{Reason: ReasonUnhashableRows}
	}
	if payloadHash != b.Manifest.PayloadHash {
		return VerifyResult{Reason: ReasonPayloadHashMismatch}
	}

	switch b.Manifest.SignatureAlgorithm {
	case AlgorithmHMACSHA256:
		if key == "" {
			return VerifyResult{Reason: ReasonSigningKeyRequired}
		}
		provided, err := hex.DecodeString(strings.TrimSpace(b.Signature))
		if err != nil {
			return VerifyResult{Reason: ReasonSignatureMismatch}
		}
		expected, _ := hex.DecodeString(sign(key, payloadHash))
		if !hmac.Equal(expected, provided) {
			return VerifyResult{Reason: ReasonSignatureMismatch}
		}
	case AlgorithmNone, "":
		if key != "" {
			return VerifyResult{Reason: ReasonUnexpectedSigningKey}
		}
		if b.Signature != "" {
			return VerifyResult{Reason: ReasonSignatureMismatch}
		}
	default:
		return VerifyResult{Reason: ReasonUnknownAlgorithm}
	}
	return VerifyResult{OK: true}
}

// Decode parses a bundle file written by the export command.
func Decode(data []byte) (Bundle, error) {
	var b Bundle
	if err := json.Unmarshal(data, &b); err != nil {
		return Bundle{}, fmt.Errorf("decode bundle: %w", err)
	}
	return b, nil
}

func toRow(ev model.AuditEvent) (map[string]any, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	var row map[string]any
	if err := json.Unmarshal(data, &row); err != nil {
		return nil, err
	}
	return row, nil
}

func hashRows(rows []map[string]any) (string, error) {
	generic := make([]any, len(rows))
	for i, r := range rows {
		generic[i] = r
	}
	return canon.StableHashDeep(generic)
}

func sign(key, payloadHash string) string {
	mac := hmac.New(sha256.New, []byte(key))
	_, _ = mac.Write([]byte(payloadHash))
	return hex.EncodeToString(mac.Sum(nil))
}
