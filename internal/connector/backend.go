package connector

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// BackendID is the registry key of the studio business backend connector.
const BackendID = "studio-backend"

// Backend is the write-capable connector to the studio's internal
// business backend. Reads list kiln controllers; writes post to
// /actions/<action>.
type Backend struct {
	transport Transport
	norm      Normalizer
	now       Clock
}

// NewBackend creates the backend connector.
func NewBackend(transport Transport, staleAfter time.Duration, now Clock) *Backend {
	if now == nil {
		now = time.Now
	}
	return &Backend{
		transport: transport,
		norm:      Normalizer{StaleAfter: staleAfter, Now: now},
		now:       now,
	}
}

func (b *Backend) ID() string     { return BackendID }
func (b *Backend) ReadOnly() bool { return false }

// Health probes the backend.
func (b *Backend) Health(ctx context.Context) (HealthResult, error) {
	return probe(ctx, BackendID, b.transport, b.now, Request{Method: http.MethodGet, Path: "/healthz"})
}

// ReadStatus lists kiln controllers from GET /kilns.
func (b *Backend) ReadStatus(ctx context.Context, input map[string]any) (Result, error) {
	reqID, inHash, err := requestMeta(BackendID, "readStatus", input, b.now())
	if err != nil {
		return Result{}, NewError(ErrCodeUnknown, BackendID, err.Error())
	}

	resp, err := b.transport(ctx, Request{Method: http.MethodGet, Path: "/kilns"})
	if err != nil {
		return Result{}, Classify(BackendID, err)
	}

	var payload struct {
		Kilns *[]backendKiln `json:"kilns"`
	}
	if err := json.Unmarshal(resp.Body, &payload); err != nil {
		return Result{}, NewError(ErrCodeBadResponse, BackendID, "malformed kilns payload: "+err.Error())
	}
	if payload.Kilns == nil {
		return Result{}, NewError(ErrCodeBadResponse, BackendID, "malformed kilns payload: missing kilns")
	}

	devices := make([]Device, 0, len(*payload.Kilns))
	for _, k := range *payload.Kilns {
		devices = append(devices, b.normalize(k))
	}
	return finish(Result{RequestID: reqID, InputHash: inHash, Devices: devices, RawCount: len(*payload.Kilns)})
}

// Execute performs a backend action. Read intents are served by
// ReadStatus.
func (b *Backend) Execute(ctx context.Context, req ExecuteRequest) (Result, error) {
	if req.Intent == IntentRead {
		return b.ReadStatus(ctx, req.Input)
	}
	if strings.TrimSpace(req.Action) == "" {
		return Result{}, NewError(ErrCodeBadResponse, BackendID, "invalid request: empty action")
	}

	reqID, inHash, err := requestMeta(BackendID, "execute:"+req.Action, req.Input, b.now())
	if err != nil {
		return Result{}, NewError(ErrCodeUnknown, BackendID, err.Error())
	}

	resp, err := b.transport(ctx, Request{
		Method: http.MethodPost,
		Path:   "/actions/" + url.PathEscape(req.Action),
		Body:   map[string]any{"requestId": reqID, "input": req.Input},
	})
	if err != nil {
		return Result{}, Classify(BackendID, err)
	}

	var payload struct {
		Result map[string]any `json:"result"`
	}
	if err := json.Unmarshal(resp.Body, &payload); err != nil {
		return Result{}, NewError(ErrCodeBadResponse, BackendID, "malformed action payload: "+err.Error())
	}
	if payload.Result == nil {
		payload.Result = map[string]any{}
	}
	return finish(Result{RequestID: reqID, InputHash: inHash, Output: payload.Result})
}

type backendKiln struct {
	KilnID            string   `json:"kilnId"`
	DisplayName       string   `json:"displayName"`
	State             string   `json:"state"`
	LastSeenAt        string   `json:"lastSeenAt"`
	ControllerBattery *float64 `json:"controllerBattery"`
	TempF             *float64 `json:"tempF"`
}

func (b *Backend) normalize(k backendKiln) Device {
	attrs := map[string]any{"state": k.State}
	if k.TempF != nil {
		attrs["tempF"] = *k.TempF
	}
	d := Device{
		ID:         k.KilnID,
		Label:      k.DisplayName,
		Online:     k.State != "" && !strings.EqualFold(k.State, "offline"),
		BatteryPct: batteryPct(k.ControllerBattery),
		Attributes: attrs,
	}
	seen, _ := time.Parse(time.RFC3339, k.LastSeenAt)
	return b.norm.Apply(d, seen)
}

// Summary reads the backend's daily business rollup from GET /summary.
// Every numeric field of the "summary" object is returned; non-numeric
// fields are ignored.
func (b *Backend) Summary(ctx context.Context) (map[string]int64, error) {
	resp, err := b.transport(ctx, Request{Method: http.MethodGet, Path: "/summary"})
	if err != nil {
		return nil, Classify(BackendID, err)
	}
	var payload struct {
		Summary map[string]any `json:"summary"`
	}
	if err := json.Unmarshal(resp.Body, &payload); err != nil {
		return nil, NewError(ErrCodeBadResponse, BackendID, "malformed summary payload: "+err.Error())
	}
	if payload.Summary == nil {
		return nil, NewError(ErrCodeBadResponse, BackendID, "malformed summary payload: missing summary")
	}
	out := make(map[string]int64, len(payload.Summary))
	for k, v := range payload.Summary {
		if f, ok := v.(float64); ok {
			out[k] = int64(f)
		}
	}
	return out, nil
}
