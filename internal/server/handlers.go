package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/roach88/studiobrain/internal/capability"
	"github.com/roach88/studiobrain/internal/jobs"
	"github.com/roach88/studiobrain/internal/model"
	"github.com/roach88/studiobrain/internal/store"
)

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 500
)

func (s *Server) handleCapabilities(w http.ResponseWriter, r *http.Request) {
	writeOK(w, http.StatusOK, map[string]any{"capabilities": s.deps.Runtime.Capabilities()})
}

type createRequest struct {
	ActorID         string         `json:"actorId"`
	ActorType       string         `json:"actorType"`
	OwnerUID        string         `json:"ownerUid"`
	TenantID        string         `json:"tenantId"`
	CapabilityID    string         `json:"capabilityId"`
	Rationale       string         `json:"rationale"`
	PreviewSummary  string         `json:"previewSummary"`
	RequestInput    map[string]any `json:"requestInput"`
	ExpectedEffects []string       `json:"expectedEffects"`
	RequestedBy     string         `json:"requestedBy"`
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_JSON", err.Error(), nil)
		return
	}
	if req.ActorID == "" || req.CapabilityID == "" {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "actorId and capabilityId are required", nil)
		return
	}
	p, err := s.deps.Runtime.Create(r.Context(), capability.Actor{
		ID:       req.ActorID,
		Type:     model.ActorType(req.ActorType),
		OwnerUID: req.OwnerUID,
		TenantID: req.TenantID,
	}, capability.CreateInput{
		CapabilityID:    req.CapabilityID,
		Rationale:       req.Rationale,
		PreviewSummary:  req.PreviewSummary,
		RequestInput:    req.RequestInput,
		ExpectedEffects: req.ExpectedEffects,
		RequestedBy:     req.RequestedBy,
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, http.StatusCreated, map[string]any{"proposal": p})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r, 100, 1000)
	if err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return
	}
	status := model.ProposalStatus(r.URL.Query().Get("status"))
	if status != "" && !model.ValidProposalStatuses[status] {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid status filter", map[string]any{"status": status})
		return
	}
	proposals, err := s.deps.Runtime.List(r.Context(), status, limit)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"proposals": proposals})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	p, err := s.deps.Runtime.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"proposal": p})
}

type reviewRequest struct {
	ApprovedBy string `json:"approvedBy"`
	Rationale  string `json:"rationale"`
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	s.review(w, r, s.deps.Runtime.Approve)
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	s.review(w, r, s.deps.Runtime.Reject)
}

type reviewFunc func(ctx context.Context, proposalID, approverID, rationale string) (model.Proposal, error)

func (s *Server) review(w http.ResponseWriter, r *http.Request, fn reviewFunc) {
	var req reviewRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_JSON", err.Error(), nil)
		return
	}
	if req.ApprovedBy == "" {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "approvedBy is required", nil)
		return
	}
	p, err := fn(r.Context(), chi.URLParam(r, "id"), req.ApprovedBy, req.Rationale)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"proposal": p})
}

type executeRequest struct {
	ActorID        string         `json:"actorId"`
	ActorType      string         `json:"actorType"`
	ExecutionInput map[string]any `json:"executionInput"`
}

// handleExecute answers 200 for both allowed and blocked decisions; the
// decision body says which.
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_JSON", err.Error(), nil)
		return
	}
	if req.ActorID == "" {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "actorId is required", nil)
		return
	}
	res, err := s.deps.Runtime.Execute(r.Context(), chi.URLParam(r, "id"), capability.Actor{
		ID:   req.ActorID,
		Type: model.ActorType(req.ActorType),
	}, req.ExecutionInput)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{
		"decision": res.Decision,
		"proposal": res.Proposal,
		"output":   res.Output,
	})
}

type overrideRequest struct {
	Decision   string `json:"decision"`
	ReasonCode string `json:"reasonCode"`
	ActorID    string `json:"actorId"`
	Rationale  string `json:"rationale"`
}

func (s *Server) handleIntakeOverride(w http.ResponseWriter, r *http.Request) {
	var req overrideRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_JSON", err.Error(), nil)
		return
	}
	if req.ActorID == "" {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "actorId is required", nil)
		return
	}
	p, err := s.deps.Runtime.RecordIntakeOverride(r.Context(), chi.URLParam(r, "id"),
		req.Decision, req.ReasonCode, req.ActorID, req.Rationale)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"proposal": p})
}

func (s *Server) handleGetKillSwitch(w http.ResponseWriter, r *http.Request) {
	writeOK(w, http.StatusOK, map[string]any{"enabled": s.deps.Runtime.KillSwitch()})
}

type killSwitchRequest struct {
	Enabled   *bool  `json:"enabled"`
	ActorID   string `json:"actorId"`
	Rationale string `json:"rationale"`
}

func (s *Server) handleSetKillSwitch(w http.ResponseWriter, r *http.Request) {
	var req killSwitchRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_JSON", err.Error(), nil)
		return
	}
	if req.Enabled == nil || req.ActorID == "" {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "enabled and actorId are required", nil)
		return
	}
	if err := s.deps.Runtime.SetKillSwitch(r.Context(), *req.Enabled, req.ActorID, req.Rationale); err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"enabled": *req.Enabled})
}

func (s *Server) handleConnectorHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.Connectors == nil {
		writeError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "no connectors configured", nil)
		return
	}
	reports := s.deps.Connectors.Health(r.Context())
	ok := true
	for _, rep := range reports {
		ok = ok && rep.Health.OK
	}
	writeOK(w, http.StatusOK, map[string]any{"ok": ok, "connectors": reports})
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	if s.deps.Audit == nil {
		writeError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "audit store not configured", nil)
		return
	}
	limit, err := parseLimit(r, defaultAuditLimit, maxAuditLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return
	}
	events, err := s.deps.Audit.ListRecentAuditEvents(r.Context(), limit)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"events": events})
}

func (s *Server) handleRecompute(w http.ResponseWriter, r *http.Request) {
	if s.deps.StateJob == nil || s.deps.Snapshots == nil {
		writeError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "state job not configured", nil)
		return
	}
	if err := s.deps.StateJob.RunOnce(r.Context()); err != nil {
		if errors.Is(err, jobs.ErrRunInProgress) {
			writeError(w, http.StatusConflict, "STATE_RUN_IN_PROGRESS", err.Error(), nil)
			return
		}
		writeError(w, http.StatusInternalServerError, "STATE_RUN_FAILED", err.Error(), nil)
		return
	}
	s.handleLatestState(w, r)
}

func (s *Server) handleLatestState(w http.ResponseWriter, r *http.Request) {
	if s.deps.Snapshots == nil {
		writeError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "snapshots not configured", nil)
		return
	}
	body := map[string]any{"snapshot": nil, "diff": nil}
	snap, err := s.deps.Snapshots.LatestSnapshot(r.Context())
	switch {
	case err == nil:
		body["snapshot"] = snap
	case !errors.Is(err, store.ErrNotFound):
		writeErr(w, err)
		return
	}
	diff, err := s.deps.Snapshots.LatestDiff(r.Context())
	switch {
	case err == nil:
		// A diff is only current if it targets the latest snapshot.
		if snap.SnapshotDate == diff.ToSnapshotDate {
			body["diff"] = diff
		}
	case !errors.Is(err, store.ErrNotFound):
		writeErr(w, err)
		return
	}
	if s.deps.StateJob != nil {
		body["job"] = s.deps.StateJob.Status()
	}
	writeOK(w, http.StatusOK, body)
}

func (s *Server) handleSnapshotByDate(w http.ResponseWriter, r *http.Request) {
	if s.deps.Snapshots == nil {
		writeError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "snapshots not configured", nil)
		return
	}
	date := chi.URLParam(r, "date")
	if _, err := time.Parse(time.DateOnly, date); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "date must be YYYY-MM-DD", nil)
		return
	}
	snap, err := s.deps.Snapshots.GetSnapshot(r.Context(), date)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "SNAPSHOT_NOT_FOUND", "no snapshot for "+date, nil)
		return
	}
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"snapshot": snap})
}

func parseLimit(r *http.Request, def, ceiling int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, errors.New("limit must be a positive integer")
	}
	return min(n, ceiling), nil
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if s.deps.DB != nil {
		if err := s.deps.DB.Ping(r.Context()); err != nil {
			s.logger.Warn("health check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ok": false, "db": "unreachable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}
