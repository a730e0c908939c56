package multisig

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tuborlabs/tyield/internal/errors"
	"github.com/tuborlabs/tyield/internal/protocol"
	"github.com/tuborlabs/tyield/internal/store"
)

type authFixture struct {
	authority *Authority
	cfg       protocol.Config
	now       time.Time
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()
	f := &authFixture{
		cfg: protocol.Config{
			Signers:       []string{"s1", "s2", "s3"},
			MinSignatures: 2,
			ProposalTTL:   time.Hour,
		},
		now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	f.authority = NewAuthority(store.NewMemoryStore(), zap.NewNop()).WithClock(func() time.Time { return f.now })
	return f
}

func pauseAction() Action {
	return Action{Type: ActionPauseProtocol}
}

// TestAuthority_ProposeRequiresSigner tests that outsiders cannot propose
func TestAuthority_ProposeRequiresSigner(t *testing.T) {
	f := newAuthFixture(t)

	_, err := f.authority.Propose(context.Background(), "mallory", pauseAction(), &f.cfg)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindAuthorization))
}

// TestAuthority_ProposerDoesNotAutoApprove tests that proposing carries no implicit approval
func TestAuthority_ProposerDoesNotAutoApprove(t *testing.T) {
	f := newAuthFixture(t)

	proposal, err := f.authority.Propose(context.Background(), "s1", pauseAction(), &f.cfg)
	require.NoError(t, err)
	assert.Empty(t, proposal.Approvals)
	assert.Equal(t, StateProposed, proposal.State)
	assert.Equal(t, f.now.Add(f.cfg.ProposalTTL), proposal.ExpiresAt)
}

// TestAuthority_ApprovalThreshold tests the 2-of-3 approval flow
func TestAuthority_ApprovalThreshold(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	proposal, err := f.authority.Propose(ctx, "s1", pauseAction(), &f.cfg)
	require.NoError(t, err)

	// One approval is below the threshold: execution must fail.
	proposal, err = f.authority.Approve(ctx, "s1", proposal.ID, &f.cfg)
	require.NoError(t, err)
	assert.Equal(t, StateProposed, proposal.State)

	_, err = f.authority.MarkExecuted(ctx, proposal.ID, &f.cfg)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindInsufficientSignatures))

	// A second distinct approval reaches the threshold.
	proposal, err = f.authority.Approve(ctx, "s2", proposal.ID, &f.cfg)
	require.NoError(t, err)
	assert.Equal(t, StateApproved, proposal.State)

	executed, err := f.authority.MarkExecuted(ctx, proposal.ID, &f.cfg)
	require.NoError(t, err)
	assert.Equal(t, StateExecuted, executed.State)
	require.NotNil(t, executed.ExecutedAt)
}

// TestAuthority_DuplicateApprovalIsNoOp tests that re-approving does not double-count
func TestAuthority_DuplicateApprovalIsNoOp(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	proposal, err := f.authority.Propose(ctx, "s1", pauseAction(), &f.cfg)
	require.NoError(t, err)

	_, err = f.authority.Approve(ctx, "s1", proposal.ID, &f.cfg)
	require.NoError(t, err)

	again, err := f.authority.Approve(ctx, "s1", proposal.ID, &f.cfg)
	require.NoError(t, err)
	assert.Len(t, again.Approvals, 1)
	assert.Equal(t, StateProposed, again.State)
}

// TestAuthority_ApproveRequiresSigner tests that outsiders cannot approve
func TestAuthority_ApproveRequiresSigner(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	proposal, err := f.authority.Propose(ctx, "s1", pauseAction(), &f.cfg)
	require.NoError(t, err)

	_, err = f.authority.Approve(ctx, "mallory", proposal.ID, &f.cfg)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindAuthorization))
}

// TestAuthority_ExpiredProposalRejected tests expiry on approve and execute
func TestAuthority_ExpiredProposalRejected(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	proposal, err := f.authority.Propose(ctx, "s1", pauseAction(), &f.cfg)
	require.NoError(t, err)
	_, err = f.authority.Approve(ctx, "s1", proposal.ID, &f.cfg)
	require.NoError(t, err)
	_, err = f.authority.Approve(ctx, "s2", proposal.ID, &f.cfg)
	require.NoError(t, err)

	f.now = f.now.Add(f.cfg.ProposalTTL + time.Second)

	_, err = f.authority.Approve(ctx, "s3", proposal.ID, &f.cfg)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindProposalExpired))

	_, err = f.authority.MarkExecuted(ctx, proposal.ID, &f.cfg)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindProposalExpired))

	// The lazy expiry marker landed on the record.
	stored, _, err := f.authority.Get(ctx, proposal.ID)
	require.NoError(t, err)
	assert.Equal(t, StateExpired, stored.State)
}

// TestAuthority_ExecuteOnlyOnce tests that re-execution is rejected
func TestAuthority_ExecuteOnlyOnce(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	proposal, err := f.authority.Propose(ctx, "s1", pauseAction(), &f.cfg)
	require.NoError(t, err)
	_, err = f.authority.Approve(ctx, "s1", proposal.ID, &f.cfg)
	require.NoError(t, err)
	_, err = f.authority.Approve(ctx, "s2", proposal.ID, &f.cfg)
	require.NoError(t, err)

	_, err = f.authority.MarkExecuted(ctx, proposal.ID, &f.cfg)
	require.NoError(t, err)

	_, err = f.authority.MarkExecuted(ctx, proposal.ID, &f.cfg)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindValidation))
}

// TestAction_Validate tests payload shape checks per action type
func TestAction_Validate(t *testing.T) {
	assert.NoError(t, Action{Type: ActionPauseProtocol}.Validate())
	assert.NoError(t, Action{Type: ActionResetCircuitBreaker}.Validate())

	assert.Error(t, Action{Type: ActionUpdateProtocolConfig}.Validate())
	rate := uint64(75)
	assert.NoError(t, Action{Type: ActionUpdateYieldRate, YieldRateBps: &rate}.Validate())
	assert.Error(t, Action{Type: ActionUpdateYieldRate}.Validate())

	assert.Error(t, Action{Type: ActionBanActor}.Validate())
	assert.NoError(t, Action{Type: ActionBanActor, Actor: "mallory"}.Validate())

	assert.Error(t, Action{Type: "bogus"}.Validate())
}

// TestAuthority_List tests listing stored proposals
func TestAuthority_List(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	_, err := f.authority.Propose(ctx, "s1", pauseAction(), &f.cfg)
	require.NoError(t, err)
	_, err = f.authority.Propose(ctx, "s2", Action{Type: ActionUnpauseProtocol}, &f.cfg)
	require.NoError(t, err)

	proposals, err := f.authority.List(ctx)
	require.NoError(t, err)
	assert.Len(t, proposals, 2)
}
