package connector

import (
	"context"
	"time"
)

// Intent declares whether an execute call may change external state.
type Intent string

const (
	IntentRead  Intent = "read"
	IntentWrite Intent = "write"
)

// Device is the normalized device shape shared by every connector.
type Device struct {
	ID         string         `json:"id"`
	Label      string         `json:"label"`
	Online     bool           `json:"online"`
	BatteryPct *int           `json:"batteryPct"`
	Attributes map[string]any `json:"attributes"`
}

// HealthResult is the outcome of a health probe.
type HealthResult struct {
	OK           bool   `json:"ok"`
	LatencyMs    int64  `json:"latencyMs"`
	Availability string `json:"availability"`
	RequestID    string `json:"requestId"`
	InputHash    string `json:"inputHash"`
	OutputHash   string `json:"outputHash"`
}

// Availability values reported by health probes.
const (
	AvailabilityHealthy     = "healthy"
	AvailabilityDegraded    = "degraded"
	AvailabilityUnavailable = "unavailable"
	AvailabilityCircuitOpen = "circuit_open"
)

// Result is returned by ReadStatus and Execute.
type Result struct {
	RequestID  string         `json:"requestId"`
	InputHash  string         `json:"inputHash"`
	OutputHash string         `json:"outputHash"`
	Devices    []Device       `json:"devices"`
	RawCount   int            `json:"rawCount"`
	Output     map[string]any `json:"output,omitempty"`
}

// ExecuteRequest is the payload of an execute call.
type ExecuteRequest struct {
	Intent Intent         `json:"intent"`
	Action string         `json:"action"`
	Input  map[string]any `json:"input"`
}

// Connector is implemented once per external system.
type Connector interface {
	// ID is the registry key ("hubitat", "studio-backend").
	ID() string
	// ReadOnly connectors reject IntentWrite with READ_ONLY_VIOLATION
	// before any transport call.
	ReadOnly() bool
	Health(ctx context.Context) (HealthResult, error)
	ReadStatus(ctx context.Context, input map[string]any) (Result, error)
	Execute(ctx context.Context, req ExecuteRequest) (Result, error)
}

// Clock returns the current time. Connectors take one so staleness and
// latency are testable.
type Clock func() time.Time
