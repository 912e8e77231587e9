package policy

import (
	"fmt"
	"sort"
)

// Risk grades how much damage a misfired capability can do.
type Risk string

const (
	RiskLow    Risk = "low"
	RiskMedium Risk = "medium"
	RiskHigh   Risk = "high"
)

// Capability is a named, pre-registered kind of side-effecting action.
// Immutable once registered.
type Capability struct {
	ID               string `json:"id"`
	Target           string `json:"target"`
	Description      string `json:"description"`
	ReadOnly         bool   `json:"readOnly"`
	RequiresApproval bool   `json:"requiresApproval"`
	MaxCallsPerHour  int    `json:"maxCallsPerHour"`
	Risk             Risk   `json:"risk"`

	// ConnectorID names the registry connector invoked on execute. Empty
	// means the capability has no external side effect to perform.
	ConnectorID string `json:"connectorId,omitempty"`
	// Action is passed to the connector as the execute action.
	Action string `json:"action,omitempty"`
}

// DefaultCapabilities is the capability contract shipped with the runtime.
func DefaultCapabilities() []Capability {
	return []Capability{
		{
			ID:               "firestore.batch.close",
			Target:           "firestore",
			Description:      "Close a completed firing batch and release its shelf slots",
			ReadOnly:         false,
			RequiresApproval: true,
			MaxCallsPerHour:  10,
			Risk:             RiskHigh,
			ConnectorID:      "studio-backend",
			Action:           "batch.close",
		},
		{
			ID:               "firestore.reservation.note",
			Target:           "firestore",
			Description:      "Append a staff-visible note to a reservation",
			ReadOnly:         false,
			RequiresApproval: true,
			MaxCallsPerHour:  30,
			Risk:             RiskMedium,
			ConnectorID:      "studio-backend",
			Action:           "reservation.note",
		},
		{
			ID:               "hubitat.devices.read",
			Target:           "hubitat",
			Description:      "Read kiln room sensor and switch status",
			ReadOnly:         true,
			RequiresApproval: false,
			MaxCallsPerHour:  120,
			Risk:             RiskLow,
			ConnectorID:      "hubitat",
			Action:           "devices.read",
		},
		{
			ID:               "studio.kiln.schedule.read",
			Target:           "studio",
			Description:      "Summarise the upcoming kiln firing schedule",
			ReadOnly:         true,
			RequiresApproval: false,
			MaxCallsPerHour:  60,
			Risk:             RiskLow,
		},
	}
}

// Registry is an immutable id-indexed capability set.
type Registry struct {
	byID  map[string]Capability
	order []string
}

// NewRegistry indexes caps by id. Duplicate or empty ids are rejected.
func NewRegistry(caps []Capability) (*Registry, error) {
	r := &Registry{byID: make(map[string]Capability, len(caps))}
	for _, c := range caps {
		if c.ID == "" {
			return nil, fmt.Errorf("capability with empty id")
		}
		if _, dup := r.byID[c.ID]; dup {
			return nil, fmt.Errorf("duplicate capability id %q", c.ID)
		}
		r.byID[c.ID] = c
		r.order = append(r.order, c.ID)
	}
	sort.Strings(r.order)
	return r, nil
}

// Lookup returns the capability with the given id.
func (r *Registry) Lookup(id string) (Capability, bool) {
	c, ok := r.byID[id]
	return c, ok
}

// All returns every capability sorted by id.
func (r *Registry) All() []Capability {
	out := make([]Capability, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id])
	}
	return out
}
