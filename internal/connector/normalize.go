package connector

import (
	"fmt"
	"time"

	"github.com/roach88/studiobrain/internal/canon"
)

// Normalizer applies the freshness rule shared by every connector.
type Normalizer struct {
	StaleAfter time.Duration
	Now        Clock
}

// Apply forces a device offline and marks attributes.stale when
// lastSeenAt is older than the staleness window. A source claiming online
// for a stale device is never trusted. A zero lastSeenAt or window
// leaves the device untouched.
func (n Normalizer) Apply(d Device, lastSeenAt time.Time) Device {
	if d.Attributes == nil {
		d.Attributes = map[string]any{}
	}
	if n.StaleAfter <= 0 || lastSeenAt.IsZero() {
		return d
	}
	now := time.Now
	if n.Now != nil {
		now = n.Now
	}
	d.Attributes["lastSeenAt"] = lastSeenAt.UTC().Format(time.RFC3339)
	if now().Sub(lastSeenAt) > n.StaleAfter {
		d.Online = false
		d.Attributes["stale"] = true
	}
	return d
}

// requestMeta derives the request id and input hash for one call. The id
// is domain-separated from content hashes so the two never collide.
func requestMeta(connectorID, operation string, input any, at time.Time) (requestID, inputHash string, err error) {
	inputHash, err = canon.StableHashDeep(input)
	if err != nil {
		return "", "", fmt.Errorf("hash %s input: %w", operation, err)
	}
	id, err := canon.HashWithDomain(canon.DomainRequest, map[string]any{
		"connector": connectorID,
		"operation": operation,
		"inputHash": inputHash,
		"atMs":      at.UnixMilli(),
	})
	if err != nil {
		return "", "", err
	}
	return id[:32], inputHash, nil
}

// finish fills in the output hash over the normalized payload.
func finish(r Result) (Result, error) {
	if r.Devices == nil {
		r.Devices = []Device{}
	}
	h, err := canon.StableHashDeep(map[string]any{
		"devices":  r.Devices,
		"rawCount": r.RawCount,
		"output":   r.Output,
	})
	if err != nil {
		return Result{}, fmt.Errorf("hash output: %w", err)
	}
	r.OutputHash = h
	return r, nil
}
