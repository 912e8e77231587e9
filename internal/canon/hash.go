package canon

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for derived identifiers. The version suffix leaves room
// for an algorithm migration without colliding with existing ids.
const (
	DomainIntake  = "studiobrain/intake/v1"
	DomainRequest = "studiobrain/request/v1"
)

// StableHashDeep returns the hex SHA-256 of the canonical JSON encoding
// of v. Deeply equal values hash identically regardless of map key order.
func StableHashDeep(v any) (string, error) {
	data, err := Marshal(v)
	if err != nil {
		return "", fmt.Errorf("stable hash: %w", err)
	}
	return HashBytes(data), nil
}

// MustStableHashDeep is like StableHashDeep but panics on error.
// Use only with values built from generic JSON types.
func MustStableHashDeep(v any) string {
	h, err := StableHashDeep(v)
	if err != nil {
		panic(err)
	}
	return h
}

// HashBytes returns the hex SHA-256 of data.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashWithDomain computes SHA-256 with domain separation.
// Format: SHA256(domain + 0x00 + canonical(v))
// The null byte separator prevents domain/data boundary ambiguity.
func HashWithDomain(domain string, v any) (string, error) {
	data, err := Marshal(v)
	if err != nil {
		return "", fmt.Errorf("hash %s: %w", domain, err)
	}
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil)), nil
}
