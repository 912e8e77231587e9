package capability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/studiobrain/internal/canon"
	"github.com/roach88/studiobrain/internal/connector"
	"github.com/roach88/studiobrain/internal/intake"
	"github.com/roach88/studiobrain/internal/model"
	"github.com/roach88/studiobrain/internal/policy"
	"github.com/roach88/studiobrain/internal/store"
)

// Store is the persistence the runtime needs. *store.Store satisfies it.
type Store interface {
	ActionCounter
	InsertProposal(ctx context.Context, p model.Proposal) error
	GetProposal(ctx context.Context, id string) (model.Proposal, error)
	TransitionProposal(ctx context.Context, id string, from, to model.ProposalStatus, actorID string, at time.Time) error
	SetIntakeOverride(ctx context.Context, id string, override model.IntakeOverride) error
	ListProposals(ctx context.Context, status model.ProposalStatus, limit int) ([]model.Proposal, error)
	AppendAuditEvent(ctx context.Context, ev model.AuditEvent) (model.AuditEvent, error)
	SetFlag(ctx context.Context, name, value string) error
	GetFlag(ctx context.Context, name string) (string, bool, error)
}

// Executor invokes connectors. *connector.Registry satisfies it.
type Executor interface {
	Execute(ctx context.Context, connectorID string, req connector.ExecuteRequest) (connector.Result, error)
}

// DecisionObserver is told the outcome of every execute call.
type DecisionObserver interface {
	ObserveDecision(capabilityID, outcome string)
}

// Actor identifies who is calling the runtime.
type Actor struct {
	ID       string
	Type     model.ActorType
	OwnerUID string
	TenantID string
}

// CreateInput is the content of a new proposal.
type CreateInput struct {
	CapabilityID    string         `json:"capabilityId"`
	Rationale       string         `json:"rationale"`
	PreviewSummary  string         `json:"previewSummary"`
	RequestInput    map[string]any `json:"requestInput"`
	ExpectedEffects []string       `json:"expectedEffects"`
	RequestedBy     string         `json:"requestedBy"`
}

// ExecuteResult is returned by Execute. Output is set only when a
// connector ran.
type ExecuteResult struct {
	Decision Decision          `json:"decision"`
	Proposal model.Proposal    `json:"proposal"`
	Output   *connector.Result `json:"output,omitempty"`
}

// Runtime is the capability state machine.
//
// Thread-safety: all methods are safe for concurrent use. Execute calls
// are serialized so the quota check and the connector call for one
// decision never interleave with another's.
type Runtime struct {
	store      Store
	caps       *policy.Registry
	meta       policy.MetadataSet
	connectors Executor
	classifier intake.Classifier
	quota      *QuotaEnforcer
	observer   DecisionObserver
	logger     *slog.Logger
	now        func() time.Time
	newID      func() string

	killSwitch atomic.Bool
	execMu     sync.Mutex
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithMetadata sets the policy metadata consulted on execute.
func WithMetadata(meta policy.MetadataSet) Option {
	return func(r *Runtime) {
		r.meta = meta
	}
}

// WithConnectors sets the connector executor.
func WithConnectors(e Executor) Option {
	return func(r *Runtime) {
		r.connectors = e
	}
}

// WithClassifier replaces the default rule classifier.
func WithClassifier(c intake.Classifier) Option {
	return func(r *Runtime) {
		r.classifier = c
	}
}

// WithDecisionObserver reports execute outcomes (metrics).
func WithDecisionObserver(o DecisionObserver) Option {
	return func(r *Runtime) {
		r.observer = o
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runtime) {
		r.logger = l
	}
}

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(r *Runtime) {
		r.now = now
	}
}

// WithIDGenerator overrides proposal id generation (UUIDv7 by default).
func WithIDGenerator(next func() string) Option {
	return func(r *Runtime) {
		r.newID = next
	}
}

// New creates a runtime and restores the persisted kill switch.
func New(ctx context.Context, s Store, caps *policy.Registry, opts ...Option) (*Runtime, error) {
	r := &Runtime{
		store:      s,
		caps:       caps,
		meta:       policy.MetadataSet{},
		classifier: intake.NewRuleClassifier(nil),
		quota:      NewQuotaEnforcer(s),
		logger:     slog.Default(),
		now:        time.Now,
		newID:      func() string { return uuid.Must(uuid.NewV7()).String() },
	}
	for _, opt := range opts {
		opt(r)
	}

	v, ok, err := s.GetFlag(ctx, store.FlagKillSwitch)
	if err != nil {
		return nil, fmt.Errorf("load kill switch: %w", err)
	}
	if ok {
		enabled, _ := strconv.ParseBool(v)
		r.killSwitch.Store(enabled)
	}
	return r, nil
}

// Create validates and persists a new proposal.
//
// Content flagged by the intake classifier is still persisted, but marked
// and audited as intake.routed_to_review instead of proposal_created.
func (r *Runtime) Create(ctx context.Context, actor Actor, in CreateInput) (model.Proposal, error) {
	c, ok := r.caps.Lookup(in.CapabilityID)
	if !ok {
		return model.Proposal{}, &Error{
			Code:         ErrCodeUnknownCapability,
			Message:      fmt.Sprintf("capability %q is not registered", in.CapabilityID),
			CapabilityID: in.CapabilityID,
		}
	}

	cls, err := r.classifier.Classify(intake.Input{
		ActorID:        actor.ID,
		OwnerUID:       actor.OwnerUID,
		CapabilityID:   c.ID,
		Rationale:      in.Rationale,
		PreviewSummary: in.PreviewSummary,
		RequestInput:   in.RequestInput,
	})
	if err != nil {
		return model.Proposal{}, fmt.Errorf("classify intake: %w", err)
	}

	requestInput := in.RequestInput
	if requestInput == nil {
		requestInput = map[string]any{}
	}
	inputHash, err := canon.StableHashDeep(map[string]any{
		"capabilityId": c.ID,
		"requestInput": requestInput,
	})
	if err != nil {
		return model.Proposal{}, fmt.Errorf("hash request input: %w", err)
	}

	flagged := cls.Disposition == intake.DispositionManualReview
	p := model.Proposal{
		ID:              r.newID(),
		CapabilityID:    c.ID,
		ActorID:         actor.ID,
		OwnerUID:        actor.OwnerUID,
		TenantID:        actor.TenantID,
		Rationale:       in.Rationale,
		PreviewSummary:  in.PreviewSummary,
		RequestInput:    requestInput,
		ExpectedEffects: in.ExpectedEffects,
		RequestedBy:     in.RequestedBy,
		InputHash:       inputHash,
		Status:          model.StatusPending,
		CreatedAt:       r.stamp(),
		IntakeID:        cls.IntakeID,
		IntakeCategory:  cls.Category,
		IntakeFlagged:   flagged,
	}
	if p.ExpectedEffects == nil {
		p.ExpectedEffects = []string{}
	}
	if err := r.store.InsertProposal(ctx, p); err != nil {
		return model.Proposal{}, err
	}

	ev := model.AuditEvent{
		ActorType:     actorType(actor),
		ActorID:       actor.ID,
		Action:        actionProposalCreated(c.ID),
		Rationale:     in.Rationale,
		Target:        c.Target,
		ApprovalState: string(p.Status),
		InputHash:     inputHash,
		Metadata: map[string]any{
			"proposalId":     p.ID,
			"intakeId":       cls.IntakeID,
			"intakeCategory": cls.Category,
		},
	}
	if flagged {
		ev.Action = ActionIntakeRoutedToReview
		ev.Target = cls.IntakeID
		ev.Metadata["capabilityId"] = c.ID
		ev.Metadata["reasonCode"] = cls.ReasonCode
		ev.Metadata["confidence"] = cls.Confidence
		ev.Metadata["rulesVersion"] = cls.RulesVersion
	}
	if _, err := r.store.AppendAuditEvent(ctx, ev); err != nil {
		return model.Proposal{}, err
	}
	r.logger.Debug("proposal created",
		"proposal_id", p.ID,
		"capability", c.ID,
		"intake_flagged", flagged,
	)

	if !flagged && r.approvalExempt(c) {
		return r.transition(ctx, p, model.StatusApproved, Actor{ID: SystemPolicyActor, Type: model.ActorSystem},
			"policy approvalMode exempt", actionProposalApproved(c.ID))
	}
	return p, nil
}

// Approve moves a pending proposal to approved.
func (r *Runtime) Approve(ctx context.Context, proposalID, approverID, rationale string) (model.Proposal, error) {
	p, err := r.Get(ctx, proposalID)
	if err != nil {
		return model.Proposal{}, err
	}
	if p.Status != model.StatusPending {
		return model.Proposal{}, newTransitionError(p.ID, string(p.Status), "approve")
	}
	if p.IntakeFlagged && p.IntakeOverride != model.OverrideGranted {
		return model.Proposal{}, &Error{
			Code:       ErrCodeIntakeBlocked,
			Message:    "flagged intake requires a granted override before approval",
			ProposalID: p.ID,
		}
	}
	return r.transition(ctx, p, model.StatusApproved, Actor{ID: approverID, Type: model.ActorStaff},
		rationale, actionProposalApproved(p.CapabilityID))
}

// Reject moves a pending proposal to rejected (terminal).
func (r *Runtime) Reject(ctx context.Context, proposalID, approverID, rationale string) (model.Proposal, error) {
	p, err := r.Get(ctx, proposalID)
	if err != nil {
		return model.Proposal{}, err
	}
	if p.Status != model.StatusPending {
		return model.Proposal{}, newTransitionError(p.ID, string(p.Status), "reject")
	}
	return r.transition(ctx, p, model.StatusRejected, Actor{ID: approverID, Type: model.ActorStaff},
		rationale, actionProposalRejected(p.CapabilityID))
}

// Execute evaluates the decision for an approved proposal and, if
// allowed, invokes the mapped connector and marks the proposal executed.
//
// Order: kill switch, status, quota, policy consistency, connector. The
// kill switch is checked before status so that it blocks regardless of
// approval state. A blocked decision returns a nil error and leaves the
// proposal approved. A connector failure is returned as an error and also
// leaves the proposal approved.
func (r *Runtime) Execute(ctx context.Context, proposalID string, actor Actor, executionInput map[string]any) (ExecuteResult, error) {
	r.execMu.Lock()
	defer r.execMu.Unlock()

	p, err := r.Get(ctx, proposalID)
	if err != nil {
		return ExecuteResult{}, err
	}
	c, ok := r.caps.Lookup(p.CapabilityID)
	if !ok {
		return ExecuteResult{}, &Error{
			Code:         ErrCodeUnknownCapability,
			Message:      "proposal references a capability that is no longer registered",
			ProposalID:   p.ID,
			CapabilityID: p.CapabilityID,
		}
	}

	if r.killSwitch.Load() {
		d := block(ReasonBlockedByPolicy, "kill switch is enabled")
		return r.blocked(ctx, p, c, actor, d, nil)
	}

	if p.Status != model.StatusApproved {
		return ExecuteResult{}, newTransitionError(p.ID, string(p.Status), "execute")
	}

	usage, err := r.quota.Current(ctx, c.ID, c.MaxCallsPerHour, r.now())
	if err != nil {
		return ExecuteResult{}, err
	}
	if usage.Exceeded() {
		d := block(ReasonQuotaExceeded,
			fmt.Sprintf("%d calls in the last hour; limit is %d", usage.Count, usage.Limit))
		return r.blocked(ctx, p, c, actor, d, map[string]any{"count": usage.Count, "limit": usage.Limit})
	}

	if err := policy.Consistent(c, r.meta[c.ID]); err != nil {
		return r.refused(ctx, p, c, actor, err)
	}

	input := mergeInput(p.RequestInput, executionInput)
	var output *connector.Result
	outputHash := ""
	if c.ConnectorID != "" {
		res, err := r.invoke(ctx, c, input)
		if err != nil {
			return r.failed(ctx, p, c, actor, err)
		}
		output = &res
		outputHash = res.OutputHash
	} else {
		outputHash, err = canon.StableHashDeep(map[string]any{
			"proposalId":   p.ID,
			"capabilityId": c.ID,
			"input":        input,
		})
		if err != nil {
			return ExecuteResult{}, fmt.Errorf("hash execution output: %w", err)
		}
	}

	if err := r.store.TransitionProposal(ctx, p.ID, model.StatusApproved, model.StatusExecuted, actor.ID, r.stamp()); err != nil {
		return ExecuteResult{}, r.mapStoreError(p.ID, "execute", err)
	}
	p.Status = model.StatusExecuted

	meta := map[string]any{"proposalId": p.ID}
	if output != nil {
		meta["connector"] = c.ConnectorID
		meta["requestId"] = output.RequestID
		meta["rawCount"] = output.RawCount
	}
	if _, err := r.store.AppendAuditEvent(ctx, model.AuditEvent{
		ActorType:     actorType(actor),
		ActorID:       actor.ID,
		Action:        actionExecuted(c.ID),
		Rationale:     p.Rationale,
		Target:        c.Target,
		ApprovalState: string(p.Status),
		InputHash:     p.InputHash,
		OutputHash:    outputHash,
		Metadata:      meta,
	}); err != nil {
		return ExecuteResult{}, err
	}

	r.observe(c.ID, "allowed")
	r.logger.Info("capability executed", "proposal_id", p.ID, "capability", c.ID)
	return ExecuteResult{Decision: allow(), Proposal: p, Output: output}, nil
}

// SetKillSwitch toggles the global kill switch. The new value is
// persisted before it takes effect and every toggle is audited.
// An execute already past its decision check is not interrupted.
func (r *Runtime) SetKillSwitch(ctx context.Context, enabled bool, actorID, rationale string) error {
	if err := r.store.SetFlag(ctx, store.FlagKillSwitch, strconv.FormatBool(enabled)); err != nil {
		return err
	}
	previous := r.killSwitch.Swap(enabled)

	action := ActionKillSwitchDisabled
	if enabled {
		action = ActionKillSwitchEnabled
	}
	if _, err := r.store.AppendAuditEvent(ctx, model.AuditEvent{
		ActorType: model.ActorStaff,
		ActorID:   actorID,
		Action:    action,
		Rationale: rationale,
		Target:    "runtime",
		Metadata:  map[string]any{"previous": previous, "enabled": enabled},
	}); err != nil {
		return err
	}
	r.logger.Warn("kill switch toggled", "enabled", enabled, "actor", actorID)
	return nil
}

// KillSwitch reports whether the kill switch is enabled.
func (r *Runtime) KillSwitch() bool {
	return r.killSwitch.Load()
}

// RecordIntakeOverride records a staff decision on a flagged proposal.
// decision is "override_granted" or "override_denied"; the reason code
// must match the format for that decision. A denied override also
// rejects the proposal.
func (r *Runtime) RecordIntakeOverride(ctx context.Context, proposalID, decision, reasonCode, actorID, rationale string) (model.Proposal, error) {
	if err := intake.ValidateOverrideReason(decision, reasonCode); err != nil {
		return model.Proposal{}, &Error{Code: ErrCodeInvalidOverride, Message: err.Error(), ProposalID: proposalID}
	}
	p, err := r.Get(ctx, proposalID)
	if err != nil {
		return model.Proposal{}, err
	}
	if !p.IntakeFlagged {
		return model.Proposal{}, &Error{Code: ErrCodeInvalidOverride, Message: "intake is not flagged", ProposalID: p.ID}
	}
	if p.Status != model.StatusPending {
		return model.Proposal{}, newTransitionError(p.ID, string(p.Status), "override")
	}

	override := model.IntakeOverride(decision)
	if err := r.store.SetIntakeOverride(ctx, p.ID, override); err != nil {
		return model.Proposal{}, r.mapStoreError(p.ID, "override", err)
	}
	p.IntakeOverride = override

	action := ActionIntakeOverrideGranted
	if override == model.OverrideDenied {
		action = ActionIntakeOverrideDenied
	}
	if _, err := r.store.AppendAuditEvent(ctx, model.AuditEvent{
		ActorType:     model.ActorStaff,
		ActorID:       actorID,
		Action:        action,
		Rationale:     rationale,
		Target:        p.IntakeID,
		ApprovalState: string(p.Status),
		InputHash:     p.InputHash,
		Metadata: map[string]any{
			"proposalId":   p.ID,
			"capabilityId": p.CapabilityID,
			"reasonCode":   reasonCode,
		},
	}); err != nil {
		return model.Proposal{}, err
	}

	if override == model.OverrideDenied {
		return r.transition(ctx, p, model.StatusRejected, Actor{ID: actorID, Type: model.ActorStaff},
			rationale, actionProposalRejected(p.CapabilityID))
	}
	return p, nil
}

// Get returns a proposal or PROPOSAL_NOT_FOUND.
func (r *Runtime) Get(ctx context.Context, proposalID string) (model.Proposal, error) {
	p, err := r.store.GetProposal(ctx, proposalID)
	if errors.Is(err, store.ErrNotFound) {
		return model.Proposal{}, &Error{
			Code:       ErrCodeProposalNotFound,
			Message:    "no such proposal",
			ProposalID: proposalID,
			Err:        err,
		}
	}
	return p, err
}

// List returns proposals newest first, optionally filtered by status.
func (r *Runtime) List(ctx context.Context, status model.ProposalStatus, limit int) ([]model.Proposal, error) {
	if status != "" && !model.ValidProposalStatuses[status] {
		return nil, fmt.Errorf("invalid status filter %q", status)
	}
	return r.store.ListProposals(ctx, status, limit)
}

// Capabilities returns the registered capability list.
func (r *Runtime) Capabilities() []policy.Capability {
	return r.caps.All()
}

func (r *Runtime) transition(ctx context.Context, p model.Proposal, to model.ProposalStatus, actor Actor, rationale, action string) (model.Proposal, error) {
	at := r.stamp()
	if err := r.store.TransitionProposal(ctx, p.ID, p.Status, to, actor.ID, at); err != nil {
		return model.Proposal{}, r.mapStoreError(p.ID, string(to), err)
	}
	p.Status = to
	p.ApprovedBy = actor.ID
	p.ApprovedAt = &at

	c, _ := r.caps.Lookup(p.CapabilityID)
	if _, err := r.store.AppendAuditEvent(ctx, model.AuditEvent{
		ActorType:     actorType(actor),
		ActorID:       actor.ID,
		Action:        action,
		Rationale:     rationale,
		Target:        c.Target,
		ApprovalState: string(to),
		InputHash:     p.InputHash,
		Metadata:      map[string]any{"proposalId": p.ID},
	}); err != nil {
		return model.Proposal{}, err
	}
	return p, nil
}

func (r *Runtime) blocked(ctx context.Context, p model.Proposal, c policy.Capability, actor Actor, d Decision, extra map[string]any) (ExecuteResult, error) {
	meta := map[string]any{"proposalId": p.ID, "reasonCode": d.ReasonCode}
	for k, v := range extra {
		meta[k] = v
	}
	if _, err := r.store.AppendAuditEvent(ctx, model.AuditEvent{
		ActorType:     actorType(actor),
		ActorID:       actor.ID,
		Action:        actionExecutionBlocked(c.ID),
		Rationale:     d.Message,
		Target:        c.Target,
		ApprovalState: string(p.Status),
		InputHash:     p.InputHash,
		Metadata:      meta,
	}); err != nil {
		return ExecuteResult{}, err
	}
	r.observe(c.ID, d.ReasonCode)
	r.logger.Info("capability execution blocked",
		"proposal_id", p.ID,
		"capability", c.ID,
		"reason", d.ReasonCode,
	)
	return ExecuteResult{Decision: d, Proposal: p}, nil
}

func (r *Runtime) refused(ctx context.Context, p model.Proposal, c policy.Capability, actor Actor, cause error) (ExecuteResult, error) {
	rerr := &Error{
		Code:         ErrCodePolicyMisconfigured,
		Message:      cause.Error(),
		ProposalID:   p.ID,
		CapabilityID: c.ID,
		Err:          cause,
	}
	if _, err := r.store.AppendAuditEvent(ctx, model.AuditEvent{
		ActorType:     actorType(actor),
		ActorID:       actor.ID,
		Action:        actionExecutionRefused(c.ID),
		Rationale:     cause.Error(),
		Target:        c.Target,
		ApprovalState: string(p.Status),
		InputHash:     p.InputHash,
		Metadata:      map[string]any{"proposalId": p.ID, "reasonCode": string(ErrCodePolicyMisconfigured)},
	}); err != nil {
		return ExecuteResult{}, err
	}
	r.observe(c.ID, string(ErrCodePolicyMisconfigured))
	r.logger.Error("capability policy misconfigured", "capability", c.ID, "error", cause)
	return ExecuteResult{Proposal: p}, rerr
}

func (r *Runtime) failed(ctx context.Context, p model.Proposal, c policy.Capability, actor Actor, cause error) (ExecuteResult, error) {
	ce := connector.Classify(c.ConnectorID, cause)
	if _, err := r.store.AppendAuditEvent(ctx, model.AuditEvent{
		ActorType:     actorType(actor),
		ActorID:       actor.ID,
		Action:        actionExecutionFailed(c.ID),
		Rationale:     ce.Message,
		Target:        c.Target,
		ApprovalState: string(p.Status),
		InputHash:     p.InputHash,
		Metadata: map[string]any{
			"proposalId": p.ID,
			"connector":  c.ConnectorID,
			"errorCode":  string(ce.Code),
			"retryable":  ce.Retryable,
		},
	}); err != nil {
		return ExecuteResult{}, err
	}
	r.observe(c.ID, "failed")
	r.logger.Warn("capability execution failed",
		"proposal_id", p.ID,
		"capability", c.ID,
		"code", string(ce.Code),
		"error", ce,
	)
	return ExecuteResult{Decision: allow(), Proposal: p}, fmt.Errorf("execute %s: %w", p.ID, ce)
}

func (r *Runtime) invoke(ctx context.Context, c policy.Capability, input map[string]any) (connector.Result, error) {
	if r.connectors == nil {
		return connector.Result{}, connector.NewError(connector.ErrCodeUnknown, c.ConnectorID, "no connector registry configured")
	}
	intent := connector.IntentWrite
	if c.ReadOnly {
		intent = connector.IntentRead
	}
	return r.connectors.Execute(ctx, c.ConnectorID, connector.ExecuteRequest{
		Intent: intent,
		Action: c.Action,
		Input:  input,
	})
}

func (r *Runtime) approvalExempt(c policy.Capability) bool {
	m, ok := r.meta[c.ID]
	return ok && c.ReadOnly && !c.RequiresApproval && m.ApprovalMode == policy.ApprovalExempt
}

func (r *Runtime) mapStoreError(proposalID, action string, err error) error {
	if errors.Is(err, store.ErrStaleTransition) {
		return &Error{
			Code:       ErrCodeInvalidStateTransition,
			Message:    fmt.Sprintf("proposal changed state before %s", action),
			ProposalID: proposalID,
			Err:        err,
		}
	}
	return err
}

func (r *Runtime) observe(capabilityID, outcome string) {
	if r.observer != nil {
		r.observer.ObserveDecision(capabilityID, outcome)
	}
}

// stamp returns the current time at the store's millisecond precision.
func (r *Runtime) stamp() time.Time {
	return r.now().UTC().Truncate(time.Millisecond)
}

func actorType(a Actor) model.ActorType {
	if a.Type == "" {
		return model.ActorSystem
	}
	return a.Type
}

// mergeInput adds execution-time keys to the approved request input.
// Keys that were approved are never overridden at execution time.
func mergeInput(approved, extra map[string]any) map[string]any {
	out := make(map[string]any, len(approved)+len(extra))
	for k, v := range extra {
		out[k] = v
	}
	for k, v := range approved {
		out[k] = v
	}
	return out
}
