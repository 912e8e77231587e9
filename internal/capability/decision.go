package capability

// Decision reason codes.
const (
	ReasonAllowed         = "ALLOWED"
	ReasonBlockedByPolicy = "BLOCKED_BY_POLICY"
	ReasonQuotaExceeded   = "QUOTA_EXCEEDED"
)

// Decision is the outcome of the pre-execution checks. A blocked decision
// is a normal result the caller presents to the actor, not a failure.
type Decision struct {
	Allowed    bool   `json:"allowed"`
	ReasonCode string `json:"reasonCode"`
	Message    string `json:"message,omitempty"`
}

func allow() Decision {
	return Decision{Allowed: true, ReasonCode: ReasonAllowed}
}

func block(reason, msg string) Decision {
	return Decision{Allowed: false, ReasonCode: reason, Message: msg}
}
