package connector

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/roach88/studiobrain/internal/canon"
)

// HubitatID is the registry key of the smart-home hub connector.
const HubitatID = "hubitat"

// Hubitat reads sensor and switch status from the studio's smart-home
// hub. It is read-only: the runtime may never flip a kiln relay through
// it.
type Hubitat struct {
	transport Transport
	norm      Normalizer
	now       Clock
}

// NewHubitat creates the hub connector. staleAfter is the freshness
// window applied to every device.
func NewHubitat(transport Transport, staleAfter time.Duration, now Clock) *Hubitat {
	if now == nil {
		now = time.Now
	}
	return &Hubitat{
		transport: transport,
		norm:      Normalizer{StaleAfter: staleAfter, Now: now},
		now:       now,
	}
}

func (h *Hubitat) ID() string     { return HubitatID }
func (h *Hubitat) ReadOnly() bool { return true }

// Health probes the hub.
func (h *Hubitat) Health(ctx context.Context) (HealthResult, error) {
	return probe(ctx, HubitatID, h.transport, h.now, Request{Method: http.MethodGet, Path: "/health"})
}

// ReadStatus lists devices from GET /devices.
func (h *Hubitat) ReadStatus(ctx context.Context, input map[string]any) (Result, error) {
	start := h.now()
	reqID, inHash, err := requestMeta(HubitatID, "readStatus", input, start)
	if err != nil {
		return Result{}, NewError(ErrCodeUnknown, HubitatID, err.Error())
	}

	resp, err := h.transport(ctx, Request{Method: http.MethodGet, Path: "/devices"})
	if err != nil {
		return Result{}, Classify(HubitatID, err)
	}

	var payload struct {
		Devices json.RawMessage `json:"devices"`
	}
	if err := json.Unmarshal(resp.Body, &payload); err != nil {
		return Result{}, NewError(ErrCodeBadResponse, HubitatID, "malformed devices payload: "+err.Error())
	}
	var native []hubitatDevice
	if len(payload.Devices) == 0 {
		return Result{}, NewError(ErrCodeBadResponse, HubitatID, "malformed devices payload: missing devices")
	}
	if err := json.Unmarshal(payload.Devices, &native); err != nil {
		return Result{}, NewError(ErrCodeBadResponse, HubitatID, "malformed devices payload: devices is not a list")
	}

	devices := make([]Device, 0, len(native))
	for _, nd := range native {
		devices = append(devices, h.normalize(nd))
	}
	return finish(Result{RequestID: reqID, InputHash: inHash, Devices: devices, RawCount: len(native)})
}

// Execute only serves read intents. A write intent is rejected before the
// transport is touched.
func (h *Hubitat) Execute(ctx context.Context, req ExecuteRequest) (Result, error) {
	if req.Intent != IntentRead {
		return Result{}, NewReadOnlyViolation(HubitatID, req.Action)
	}
	return h.ReadStatus(ctx, req.Input)
}

type hubitatDevice struct {
	ID           flexString     `json:"id"`
	Name         string         `json:"name"`
	Label        string         `json:"label"`
	Status       string         `json:"status"`
	Disabled     bool           `json:"disabled"`
	Battery      *float64       `json:"battery"`
	LastActivity string         `json:"lastActivity"`
	Attributes   map[string]any `json:"attributes"`
}

func (h *Hubitat) normalize(nd hubitatDevice) Device {
	label := nd.Label
	if label == "" {
		label = nd.Name
	}
	attrs := map[string]any{}
	for k, v := range nd.Attributes {
		attrs[k] = v
	}
	d := Device{
		ID:         string(nd.ID),
		Label:      label,
		Online:     strings.EqualFold(nd.Status, "active") && !nd.Disabled,
		BatteryPct: batteryPct(nd.Battery),
		Attributes: attrs,
	}
	seen, _ := time.Parse(time.RFC3339, nd.LastActivity)
	return h.norm.Apply(d, seen)
}

// flexString accepts a JSON string or number.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

func batteryPct(v *float64) *int {
	if v == nil {
		return nil
	}
	pct := int(*v + 0.5)
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	return &pct
}

// probe runs a health request and reports latency. Transport failures
// are classified and also reported as an unhealthy result.
func probe(ctx context.Context, id string, transport Transport, now Clock, req Request) (HealthResult, error) {
	start := now()
	reqID, inHash, err := requestMeta(id, "health", map[string]any{"path": req.Path}, start)
	if err != nil {
		return HealthResult{}, NewError(ErrCodeUnknown, id, err.Error())
	}
	resp, err := transport(ctx, req)
	latency := now().Sub(start).Milliseconds()
	if err != nil {
		return HealthResult{
			OK:           false,
			LatencyMs:    latency,
			Availability: AvailabilityUnavailable,
			RequestID:    reqID,
			InputHash:    inHash,
		}, Classify(id, err)
	}
	return HealthResult{
		OK:           true,
		LatencyMs:    latency,
		Availability: AvailabilityHealthy,
		RequestID:    reqID,
		InputHash:    inHash,
		OutputHash:   hashBody(resp.Body),
	}, nil
}

// hashBody hashes a JSON body canonically, falling back to the raw bytes
// for non-JSON replies.
func hashBody(body []byte) string {
	var v any
	if err := json.Unmarshal(body, &v); err == nil {
		if h, err := canon.StableHashDeep(v); err == nil {
			return h
		}
	}
	return canon.HashBytes(body)
}
