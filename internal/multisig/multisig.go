package multisig

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tuborlabs/tyield/internal/errors"
	"github.com/tuborlabs/tyield/internal/protocol"
	"github.com/tuborlabs/tyield/internal/store"
)

const authorityComponent = "multisig"

// ActionType enumerates the administrative operations a proposal can carry.
type ActionType string

const (
	ActionUpdateProtocolConfig ActionType = "update_protocol_config"
	ActionUpdateYieldRate      ActionType = "update_yield_rate"
	ActionPauseProtocol        ActionType = "pause_protocol"
	ActionUnpauseProtocol      ActionType = "unpause_protocol"
	ActionEmergencyPause       ActionType = "emergency_pause"
	ActionResetCircuitBreaker  ActionType = "reset_circuit_breaker"
	ActionBanActor             ActionType = "ban_actor"
	ActionUnbanActor           ActionType = "unban_actor"
)

// Action is the tagged payload of a proposal. Exactly the fields relevant
// to the action type are set.
type Action struct {
	Type         ActionType             `json:"type"`
	ConfigUpdate *protocol.ConfigUpdate `json:"config_update,omitempty"`
	YieldRateBps *uint64                `json:"yield_rate_bps,omitempty"`
	Actor        string                 `json:"actor,omitempty"`
}

// Validate checks the action payload shape.
func (a Action) Validate() error {
	switch a.Type {
	case ActionUpdateProtocolConfig:
		if a.ConfigUpdate == nil {
			return errors.Validation(authorityComponent, "validate_action", "config_update", "config update payload required")
		}
	case ActionUpdateYieldRate:
		if a.YieldRateBps == nil {
			return errors.Validation(authorityComponent, "validate_action", "yield_rate_bps", "yield rate payload required")
		}
	case ActionBanActor, ActionUnbanActor:
		if a.Actor == "" {
			return errors.Validation(authorityComponent, "validate_action", "actor", "actor identity required")
		}
	case ActionPauseProtocol, ActionUnpauseProtocol, ActionEmergencyPause, ActionResetCircuitBreaker:
		// No payload.
	default:
		return errors.Validationf(authorityComponent, "validate_action", "type", "unknown action type %q", a.Type)
	}
	return nil
}

// ProposalState is the lifecycle of a proposal: Proposed until the approval
// threshold is reached, then Approved, then Executed; proposals that miss
// the threshold before expiry become Expired.
type ProposalState string

const (
	StateProposed ProposalState = "proposed"
	StateApproved ProposalState = "approved"
	StateExecuted ProposalState = "executed"
	StateExpired  ProposalState = "expired"
)

// Proposal is one pending administrative change. Approvals are a set of
// signer identities; cardinality against the configured threshold is the
// only weight that matters.
type Proposal struct {
	ID        string        `json:"id"`
	Action    Action        `json:"action"`
	Proposer  string        `json:"proposer"`
	Approvals []string      `json:"approvals"`
	State     ProposalState `json:"state"`
	CreatedAt time.Time     `json:"created_at"`
	ExpiresAt time.Time     `json:"expires_at"`

	ExecutedAt *time.Time `json:"executed_at,omitempty"`
}

// HasApproval reports whether the signer already approved.
func (p *Proposal) HasApproval(signer string) bool {
	for _, s := range p.Approvals {
		if s == signer {
			return true
		}
	}
	return false
}

// Expired reports whether the proposal's expiry time has passed without it
// reaching execution.
func (p *Proposal) Expired(now time.Time) bool {
	return p.State != StateExecuted && !now.Before(p.ExpiresAt)
}

// Authority runs the threshold-signature workflow over the entity store.
// It owns the proposal lifecycle only; applying an executed action to the
// protocol config is the engine's job.
type Authority struct {
	store store.EntityStore
	now   func() time.Time
	log   *zap.Logger
}

// NewAuthority creates a multisig authority over the given store.
func NewAuthority(s store.EntityStore, log *zap.Logger) *Authority {
	return &Authority{
		store: s,
		now:   time.Now,
		log:   log.Named(authorityComponent),
	}
}

// WithClock overrides the time source. Test hook.
func (a *Authority) WithClock(now func() time.Time) *Authority {
	a.now = now
	return a
}

// Propose creates a proposal for the given action. The proposer must be a
// configured signer but does not implicitly approve; approvals are
// collected explicitly.
func (a *Authority) Propose(ctx context.Context, proposer string, action Action, cfg *protocol.Config) (*Proposal, error) {
	if !cfg.IsSigner(proposer) {
		return nil, errors.Unauthorized(authorityComponent, "propose", "proposer is not in the signer set")
	}
	if err := action.Validate(); err != nil {
		return nil, err
	}

	now := a.now()
	proposal := &Proposal{
		ID:        uuid.NewString(),
		Action:    action,
		Proposer:  proposer,
		Approvals: []string{},
		State:     StateProposed,
		CreatedAt: now,
		ExpiresAt: now.Add(cfg.ProposalTTL),
	}

	if _, err := store.PutJSON(ctx, a.store, protocol.ProposalKey(proposal.ID), proposal, store.CreateVersion); err != nil {
		return nil, err
	}
	a.log.Info("proposal created",
		zap.String("proposal_id", proposal.ID),
		zap.String("action", string(action.Type)),
		zap.String("proposer", proposer),
		zap.Time("expires_at", proposal.ExpiresAt))
	return proposal, nil
}

// Approve records a signer's approval. Re-approval by the same signer is a
// no-op, not an error: the proposal is returned unchanged and the approval
// count does not move.
func (a *Authority) Approve(ctx context.Context, signer, proposalID string, cfg *protocol.Config) (*Proposal, error) {
	if !cfg.IsSigner(signer) {
		return nil, errors.Unauthorized(authorityComponent, "approve", "signer is not in the signer set")
	}

	proposal, version, err := a.Get(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	if err := a.checkOpen(ctx, proposal, version, "approve"); err != nil {
		return nil, err
	}
	if proposal.HasApproval(signer) {
		return proposal, nil
	}

	proposal.Approvals = append(proposal.Approvals, signer)
	if len(proposal.Approvals) >= cfg.MinSignatures {
		proposal.State = StateApproved
	}
	if _, err := store.PutJSON(ctx, a.store, protocol.ProposalKey(proposalID), proposal, version); err != nil {
		return nil, err
	}
	a.log.Info("proposal approved",
		zap.String("proposal_id", proposalID),
		zap.String("signer", signer),
		zap.Int("approvals", len(proposal.Approvals)),
		zap.Int("threshold", cfg.MinSignatures))
	return proposal, nil
}

// MarkExecuted validates threshold and expiry and transitions the proposal
// to Executed under compare-and-set. The CAS on the proposal record is the
// commit point: of two racing executors exactly one observes success, the
// other a ConcurrencyConflict.
func (a *Authority) MarkExecuted(ctx context.Context, proposalID string, cfg *protocol.Config) (*Proposal, error) {
	proposal, version, err := a.Get(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	if proposal.State == StateExecuted {
		return nil, errors.Newf(errors.KindValidation, authorityComponent, "execute",
			"proposal %s already executed", proposalID)
	}
	if err := a.checkOpen(ctx, proposal, version, "execute"); err != nil {
		return nil, err
	}
	if len(proposal.Approvals) < cfg.MinSignatures {
		return nil, errors.Newf(errors.KindInsufficientSignatures, authorityComponent, "execute",
			"%d of %d required approvals", len(proposal.Approvals), cfg.MinSignatures)
	}

	now := a.now()
	proposal.State = StateExecuted
	proposal.ExecutedAt = &now
	if _, err := store.PutJSON(ctx, a.store, protocol.ProposalKey(proposalID), proposal, version); err != nil {
		return nil, err
	}
	a.log.Info("proposal executed",
		zap.String("proposal_id", proposalID),
		zap.String("action", string(proposal.Action.Type)))
	return proposal, nil
}

// Get loads a proposal and its version.
func (a *Authority) Get(ctx context.Context, proposalID string) (*Proposal, uint64, error) {
	var proposal Proposal
	version, err := store.GetJSON(ctx, a.store, protocol.ProposalKey(proposalID), &proposal)
	if err != nil {
		return nil, 0, err
	}
	return &proposal, version, nil
}

// List returns all stored proposals.
func (a *Authority) List(ctx context.Context) ([]Proposal, error) {
	records, err := a.store.List(ctx, protocol.ProposalPrefix)
	if err != nil {
		return nil, err
	}
	out := make([]Proposal, 0, len(records))
	for _, rec := range records {
		var p Proposal
		if _, err := store.GetJSON(ctx, a.store, rec.Key, &p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// checkOpen rejects operations on expired or executed proposals. Expiry is
// detected lazily: the record is transitioned to Expired best-effort when
// first observed past its deadline.
func (a *Authority) checkOpen(ctx context.Context, proposal *Proposal, version uint64, op string) error {
	if proposal.State == StateExpired || proposal.Expired(a.now()) {
		if proposal.State != StateExpired {
			proposal.State = StateExpired
			// Losing this CAS only delays the marker; expiry itself is
			// decided by the timestamp.
			if _, err := store.PutJSON(ctx, a.store, protocol.ProposalKey(proposal.ID), proposal, version); err != nil && !errors.IsKind(err, errors.KindConcurrencyConflict) {
				return err
			}
		}
		return errors.Newf(errors.KindProposalExpired, authorityComponent, op,
			"proposal %s expired at %s", proposal.ID, proposal.ExpiresAt.Format(time.RFC3339))
	}
	if proposal.State == StateExecuted {
		return errors.Newf(errors.KindValidation, authorityComponent, op,
			"proposal %s already executed", proposal.ID)
	}
	return nil
}
