package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/roach88/studiobrain/internal/capability"
	"github.com/roach88/studiobrain/internal/connector"
)

func newRequestID() string { return "req_" + uuid.NewString() }

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeOK adds a request id to a successful response body.
func writeOK(w http.ResponseWriter, status int, body map[string]any) {
	body["request_id"] = newRequestID()
	writeJSON(w, status, body)
}

func readJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	writeJSON(w, status, map[string]any{
		"request_id": newRequestID(),
		"error": map[string]any{
			"code": code, "message": message, "details": details,
		},
	})
}

// statusFor maps runtime error codes to HTTP statuses.
var statusFor = map[capability.ErrorCode]int{
	capability.ErrCodeUnknownCapability:      http.StatusBadRequest,
	capability.ErrCodeProposalNotFound:       http.StatusNotFound,
	capability.ErrCodeInvalidStateTransition: http.StatusConflict,
	capability.ErrCodeInvalidOverride:        http.StatusBadRequest,
	capability.ErrCodeIntakeBlocked:          http.StatusConflict,
}

// writeErr renders err in the error envelope. Runtime errors keep their
// code; connector failures are 502 with the connector's code.
func writeErr(w http.ResponseWriter, err error) {
	var re *capability.Error
	if errors.As(err, &re) {
		status, ok := statusFor[re.Code]
		if !ok {
			status = http.StatusInternalServerError
		}
		details := map[string]any{}
		if re.ProposalID != "" {
			details["proposalId"] = re.ProposalID
		}
		if re.CapabilityID != "" {
			details["capabilityId"] = re.CapabilityID
		}
		writeError(w, status, string(re.Code), re.Message, details)
		return
	}
	var ce *connector.Error
	if errors.As(err, &ce) {
		writeError(w, http.StatusBadGateway, string(ce.Code), ce.Message, map[string]any{
			"connector": ce.Connector,
			"retryable": ce.Retryable,
		})
		return
	}
	writeError(w, http.StatusInternalServerError, "INTERNAL", err.Error(), nil)
}
