package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tuborlabs/tyield/internal/errors"
	"github.com/tuborlabs/tyield/internal/monitoring"
	"github.com/tuborlabs/tyield/internal/multisig"
	"github.com/tuborlabs/tyield/internal/oracle"
	"github.com/tuborlabs/tyield/internal/protocol"
	"github.com/tuborlabs/tyield/internal/risk"
	"github.com/tuborlabs/tyield/internal/safety"
	"github.com/tuborlabs/tyield/internal/store"
)

const engineComponent = "engine"

// casAttempts bounds compare-and-set retries on the config record when
// applying an already-committed proposal. The proposal itself commits in a
// single CAS; only the follow-up config write retries.
const casAttempts = 3

// Engine is the transactional core. Every public operation validates against
// the current protocol config, consults the safety layer, and commits its
// effect through a single compare-and-set on the owning record.
type Engine struct {
	store     store.EntityStore
	oracle    *oracle.Consensus
	risk      *risk.Validator
	limiter   *safety.RateLimiter
	breaker   *safety.CircuitBreaker
	authority *multisig.Authority
	sink      EventSink
	log       *zap.Logger
	now       func() time.Time
	newID     func() string
}

// New wires an engine over the given store and oracle consensus.
func New(s store.EntityStore, consensus *oracle.Consensus, log *zap.Logger, sinks ...EventSink) *Engine {
	e := &Engine{
		store:     s,
		oracle:    consensus,
		risk:      risk.NewValidator(),
		limiter:   safety.NewRateLimiter(s, log),
		breaker:   safety.NewCircuitBreaker(s, log),
		authority: multisig.NewAuthority(s, log),
		log:       log.Named(engineComponent),
		now:       time.Now,
		newID:     uuid.NewString,
	}
	sinks = append(sinks, NewLogSink(log))
	e.sink = multiSink(sinks)
	return e
}

// WithClock overrides the time source of the engine and every safety
// component. Test hook.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	e.limiter.WithClock(now)
	e.breaker.WithClock(now)
	e.authority.WithClock(now)
	e.oracle.WithClock(now)
	return e
}

// Breaker exposes the circuit breaker for daemon status reporting.
func (e *Engine) Breaker() *safety.CircuitBreaker {
	return e.breaker
}

// Limiter exposes the rate limiter for usage reporting.
func (e *Engine) Limiter() *safety.RateLimiter {
	return e.limiter
}

// Init writes the genesis config and the initial breaker state. It fails
// with ConcurrencyConflict when the protocol is already initialized.
func (e *Engine) Init(ctx context.Context, genesis protocol.Config) error {
	if err := genesis.Validate(); err != nil {
		return err
	}
	if genesis.InceptionTime.IsZero() {
		genesis.InceptionTime = e.now()
	}
	if _, err := store.PutJSON(ctx, e.store, protocol.ConfigKey, &genesis, store.CreateVersion); err != nil {
		return err
	}
	if err := e.breaker.Init(ctx); err != nil {
		return err
	}
	e.log.Info("protocol initialized",
		zap.Int("signers", len(genesis.Signers)),
		zap.Int("min_signatures", genesis.MinSignatures))
	return nil
}

// Config returns the current protocol config snapshot and its version.
func (e *Engine) Config(ctx context.Context) (protocol.Config, uint64, error) {
	var cfg protocol.Config
	version, err := store.GetJSON(ctx, e.store, protocol.ConfigKey, &cfg)
	if err != nil {
		return protocol.Config{}, 0, err
	}
	return cfg, version, nil
}

// OpenTrade validates and opens a new trade for the actor. The pipeline is
// fail-fast: pause and ban gates, rate limit, risk validation, breaker
// check, oracle consensus, then the create. Nothing is persisted unless
// every gate passes.
func (e *Engine) OpenTrade(ctx context.Context, actor string, params risk.TradeParams) (*protocol.Trade, error) {
	cfg, _, err := e.Config(ctx)
	if err != nil {
		return nil, err
	}
	if cfg.Paused {
		return nil, e.fail(errors.Validation(engineComponent, "open_trade", "paused", "protocol is paused"))
	}
	if cfg.IsBanned(actor) {
		return nil, e.fail(errors.Unauthorized(engineComponent, "open_trade", "actor is banned"))
	}

	if limit, ok := cfg.RateLimitFor(protocol.OpClassOpenTrade); ok {
		if err := e.limiter.TryAdmit(ctx, protocol.OpClassOpenTrade, actor, limit); err != nil {
			if errors.IsKind(err, errors.KindRateLimitExceeded) {
				monitoring.RecordRateLimitRejection(protocol.OpClassOpenTrade)
			}
			return nil, e.fail(err)
		}
	}

	if err := e.risk.Validate(params, cfg.Risk); err != nil {
		return nil, e.fail(err)
	}
	if err := e.breaker.Check(ctx); err != nil {
		return nil, e.fail(err)
	}

	consensus, err := e.oracle.ConsensusPrice(ctx, params.FeedID, cfg.Oracle)
	if err != nil {
		monitoring.RecordOracleRejection(params.FeedID, string(errors.KindOf(err)))
		if recErr := e.breaker.RecordOracleFailure(ctx, cfg.Breaker, params.FeedID, err); recErr != nil {
			e.log.Error("failed to record oracle failure", zap.Error(recErr))
		}
		return nil, e.fail(err)
	}
	if err := e.breaker.RecordOracleSuccess(ctx); err != nil {
		return nil, err
	}
	monitoring.UpdateConsensusPrice(params.FeedID, consensus.Price)

	if err := e.risk.ValidateEntrySlippage(params.EntryPrice, consensus.Price, cfg.Risk); err != nil {
		return nil, e.fail(err)
	}

	if err := e.breaker.RecordTradeActivity(ctx, cfg.Breaker, params.Size); err != nil {
		return nil, err
	}
	// The activity above may have tripped the breaker; the trade that
	// crossed the ceiling does not get through.
	if err := e.breaker.Check(ctx); err != nil {
		monitoring.SetBreakerTripped(true)
		e.sink.Emit(Event{Type: EventBreakerTripped, Time: e.now(), Actor: actor, Entity: params.FeedID})
		return nil, e.fail(err)
	}

	now := e.now()
	trade := &protocol.Trade{
		ID:         e.newID(),
		Owner:      actor,
		Pair:       params.Pair,
		FeedID:     params.FeedID,
		Side:       params.Side,
		EntryPrice: params.EntryPrice,
		StopLoss:   params.StopLoss,
		TakeProfit: params.TakeProfit,
		Size:       params.Size,
		State:      protocol.TradeOpen,
		OpenedAt:   now,
		UpdatedAt:  now,
	}
	if _, err := store.PutJSON(ctx, e.store, protocol.TradeKey(trade.ID), trade, store.CreateVersion); err != nil {
		return nil, e.fail(err)
	}

	monitoring.RecordTradeOpened(trade.Pair, string(trade.Side), trade.Size)
	e.sink.Emit(Event{
		Type: EventTradeOpened, Time: now, Actor: actor, Entity: trade.ID,
		Fields: map[string]interface{}{
			"pair": trade.Pair, "side": trade.Side, "entry_price": trade.EntryPrice, "size": trade.Size,
		},
	})
	return trade, nil
}

// UpdateTrade evaluates the current consensus price against the trade's
// levels and closes it when one is crossed. The price is read from the
// oracle under the configured staleness and deviation gates, never supplied
// by the caller; that is what keeps the operation safe to call
// permissionlessly. Take-profit wins when a single observation crosses both
// levels. Updating a trade already in a terminal state is an idempotent
// no-op. A version conflict surfaces as ConcurrencyConflict for the caller
// to retry against the fresh state.
func (e *Engine) UpdateTrade(ctx context.Context, tradeID string) (*protocol.Trade, error) {
	cfg, _, err := e.Config(ctx)
	if err != nil {
		return nil, err
	}

	trade, version, err := e.GetTrade(ctx, tradeID)
	if err != nil {
		return nil, err
	}
	if trade.Terminal() {
		return trade, nil
	}

	// Deliberately no breaker gate here: closing positions is
	// risk-reducing and must stay available while tripped.
	consensus, err := e.oracle.ConsensusPrice(ctx, trade.FeedID, cfg.Oracle)
	if err != nil {
		monitoring.RecordOracleRejection(trade.FeedID, string(errors.KindOf(err)))
		if recErr := e.breaker.RecordOracleFailure(ctx, cfg.Breaker, trade.FeedID, err); recErr != nil {
			e.log.Error("failed to record oracle failure", zap.Error(recErr))
		}
		return nil, e.fail(err)
	}
	if err := e.breaker.RecordOracleSuccess(ctx); err != nil {
		return nil, err
	}
	monitoring.UpdateConsensusPrice(trade.FeedID, consensus.Price)
	price := consensus.Price

	var to protocol.TradeState
	var reason protocol.CloseReason
	switch {
	case trade.HitTakeProfit(price):
		to, reason = protocol.TradeClosedTakeProfit, protocol.CloseTakeProfit
	case trade.HitStopLoss(price):
		to, reason = protocol.TradeClosedStopLoss, protocol.CloseStopLoss
	default:
		return trade, nil
	}

	now := e.now()
	if err := trade.Transition(to, price, reason, now); err != nil {
		return nil, e.fail(err)
	}
	if _, err := store.PutJSON(ctx, e.store, protocol.TradeKey(tradeID), trade, version); err != nil {
		return nil, e.fail(err)
	}

	monitoring.RecordTradeClosed(trade.Pair, string(trade.State))
	e.sink.Emit(Event{
		Type: EventTradeClosed, Time: now, Actor: trade.Owner, Entity: trade.ID,
		Fields: map[string]interface{}{
			"state": trade.State, "close_price": price, "realized_pnl": trade.RealizedPnL,
		},
	})
	return trade, nil
}

// CancelTrade cancels an open trade. Only the owner or a configured signer
// may cancel. Cancellation is risk-reducing and stays available while the
// breaker is tripped or the protocol is paused; the trade closes at entry
// with zero realized PnL.
func (e *Engine) CancelTrade(ctx context.Context, actor, tradeID string) (*protocol.Trade, error) {
	cfg, _, err := e.Config(ctx)
	if err != nil {
		return nil, err
	}

	trade, version, err := e.GetTrade(ctx, tradeID)
	if err != nil {
		return nil, err
	}
	if actor != trade.Owner && !cfg.IsSigner(actor) {
		return nil, e.fail(errors.Unauthorized(engineComponent, "cancel_trade", "only the owner or a signer may cancel"))
	}
	if trade.Terminal() {
		return trade, nil
	}

	now := e.now()
	if err := trade.Transition(protocol.TradeCancelled, trade.EntryPrice, protocol.CloseCancelled, now); err != nil {
		return nil, e.fail(err)
	}
	if _, err := store.PutJSON(ctx, e.store, protocol.TradeKey(tradeID), trade, version); err != nil {
		return nil, e.fail(err)
	}

	monitoring.RecordTradeClosed(trade.Pair, string(trade.State))
	e.sink.Emit(Event{Type: EventTradeCancelled, Time: now, Actor: actor, Entity: trade.ID})
	return trade, nil
}

// GetTrade loads a trade and its version.
func (e *Engine) GetTrade(ctx context.Context, tradeID string) (*protocol.Trade, uint64, error) {
	var trade protocol.Trade
	version, err := store.GetJSON(ctx, e.store, protocol.TradeKey(tradeID), &trade)
	if err != nil {
		return nil, 0, err
	}
	return &trade, version, nil
}

// ListTrades returns all stored trades.
func (e *Engine) ListTrades(ctx context.Context) ([]protocol.Trade, error) {
	records, err := e.store.List(ctx, protocol.TradePrefix)
	if err != nil {
		return nil, err
	}
	out := make([]protocol.Trade, 0, len(records))
	for _, rec := range records {
		var t protocol.Trade
		if _, err := store.GetJSON(ctx, e.store, rec.Key, &t); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// OpenTrades returns the trades still in the open state.
func (e *Engine) OpenTrades(ctx context.Context) ([]protocol.Trade, error) {
	trades, err := e.ListTrades(ctx)
	if err != nil {
		return nil, err
	}
	open := trades[:0]
	for _, t := range trades {
		if !t.Terminal() {
			open = append(open, t)
		}
	}
	return open, nil
}

// ProposeAdminChange creates a multisig proposal for an administrative
// action. Proposals count against a rate-limit window shared across all
// signers: yield-rate updates consume the yield_update class, everything
// else the admin_change class.
func (e *Engine) ProposeAdminChange(ctx context.Context, proposer string, action multisig.Action) (*multisig.Proposal, error) {
	cfg, _, err := e.Config(ctx)
	if err != nil {
		return nil, err
	}
	if !cfg.IsSigner(proposer) {
		return nil, e.fail(errors.Unauthorized(engineComponent, "propose_admin_change", "proposer is not in the signer set"))
	}

	class := protocol.OpClassAdminChange
	if action.Type == multisig.ActionUpdateYieldRate {
		class = protocol.OpClassYieldUpdate
	}
	if limit, ok := cfg.RateLimitFor(class); ok {
		if err := e.limiter.TryAdmit(ctx, class, "", limit); err != nil {
			if errors.IsKind(err, errors.KindRateLimitExceeded) {
				monitoring.RecordRateLimitRejection(class)
			}
			return nil, e.fail(err)
		}
	}

	proposal, err := e.authority.Propose(ctx, proposer, action, &cfg)
	if err != nil {
		return nil, e.fail(err)
	}
	monitoring.RecordProposalEvent(string(action.Type), "proposed")
	e.sink.Emit(Event{
		Type: EventProposalCreated, Time: e.now(), Actor: proposer, Entity: proposal.ID,
		Fields: map[string]interface{}{"action": action.Type},
	})
	return proposal, nil
}

// ApproveAdminChange records a signer's approval on a pending proposal.
func (e *Engine) ApproveAdminChange(ctx context.Context, signer, proposalID string) (*multisig.Proposal, error) {
	cfg, _, err := e.Config(ctx)
	if err != nil {
		return nil, err
	}
	proposal, err := e.authority.Approve(ctx, signer, proposalID, &cfg)
	if err != nil {
		return nil, e.fail(err)
	}
	monitoring.RecordProposalEvent(string(proposal.Action.Type), "approved")
	return proposal, nil
}

// ExecuteAdminChange executes an approved proposal. The action's effect is
// validated against the current config first, so a deterministically invalid
// action (e.g. a yield rate above the ceiling) rejects without touching the
// proposal. Only then does the proposal record CAS to Executed — the commit
// point — and the config (or breaker) effect is applied after, retried on
// conflicts. While the breaker is tripped only breaker-reset and
// emergency-pause actions may execute.
func (e *Engine) ExecuteAdminChange(ctx context.Context, executor, proposalID string) (*multisig.Proposal, error) {
	cfg, _, err := e.Config(ctx)
	if err != nil {
		return nil, err
	}
	if !cfg.IsSigner(executor) {
		return nil, e.fail(errors.Unauthorized(engineComponent, "execute_admin_change", "executor is not in the signer set"))
	}

	proposal, _, err := e.authority.Get(ctx, proposalID)
	if err != nil {
		return nil, err
	}

	switch proposal.Action.Type {
	case multisig.ActionResetCircuitBreaker:
		if limit, ok := cfg.RateLimitFor(protocol.OpClassBreakerReset); ok {
			if err := e.limiter.TryAdmit(ctx, protocol.OpClassBreakerReset, "", limit); err != nil {
				if errors.IsKind(err, errors.KindRateLimitExceeded) {
					monitoring.RecordRateLimitRejection(protocol.OpClassBreakerReset)
				}
				return nil, e.fail(err)
			}
		}
	case multisig.ActionEmergencyPause:
		// Always executable; it only moves the protocol to a safer state.
	default:
		if err := e.breaker.Check(ctx); err != nil {
			return nil, e.fail(err)
		}
	}

	if effect := configEffect(proposal.Action); effect != nil {
		if _, err := effect(cfg); err != nil {
			return nil, e.fail(err)
		}
	}

	proposal, err = e.authority.MarkExecuted(ctx, proposalID, &cfg)
	if err != nil {
		return nil, e.fail(err)
	}
	if err := e.applyAction(ctx, proposal.Action); err != nil {
		return nil, e.fail(err)
	}

	monitoring.RecordProposalEvent(string(proposal.Action.Type), "executed")
	e.sink.Emit(Event{
		Type: EventProposalExecuted, Time: e.now(), Actor: executor, Entity: proposal.ID,
		Fields: map[string]interface{}{"action": proposal.Action.Type},
	})
	return proposal, nil
}

// Proposals lists all stored proposals.
func (e *Engine) Proposals(ctx context.Context) ([]multisig.Proposal, error) {
	return e.authority.List(ctx)
}

// configEffect returns the config transformation an action performs, or nil
// when the action does not touch the config record. The same function is run
// twice: once against a config snapshot before the proposal commits (a dry
// run that rejects deterministically invalid actions) and once under
// compare-and-set when applying the committed proposal.
func configEffect(action multisig.Action) func(protocol.Config) (protocol.Config, error) {
	switch action.Type {
	case multisig.ActionUpdateProtocolConfig:
		return func(c protocol.Config) (protocol.Config, error) {
			return c.Apply(*action.ConfigUpdate)
		}
	case multisig.ActionUpdateYieldRate:
		return func(c protocol.Config) (protocol.Config, error) {
			c.YieldRateBps = *action.YieldRateBps
			if err := c.Validate(); err != nil {
				return protocol.Config{}, err
			}
			return c, nil
		}
	case multisig.ActionPauseProtocol, multisig.ActionEmergencyPause:
		return func(c protocol.Config) (protocol.Config, error) {
			c.Paused = true
			return c, nil
		}
	case multisig.ActionUnpauseProtocol:
		return func(c protocol.Config) (protocol.Config, error) {
			c.Paused = false
			return c, nil
		}
	case multisig.ActionBanActor:
		return func(c protocol.Config) (protocol.Config, error) {
			if !c.IsBanned(action.Actor) {
				c.BannedActors = append(c.BannedActors, action.Actor)
			}
			return c, nil
		}
	case multisig.ActionUnbanActor:
		return func(c protocol.Config) (protocol.Config, error) {
			kept := make([]string, 0, len(c.BannedActors))
			for _, a := range c.BannedActors {
				if a != action.Actor {
					kept = append(kept, a)
				}
			}
			c.BannedActors = kept
			return c, nil
		}
	default:
		return nil
	}
}

// applyAction applies a committed proposal's effect. Config writes go
// through compare-and-set against the version read in the same attempt, so
// concurrent executions of distinct proposals serialize cleanly.
func (e *Engine) applyAction(ctx context.Context, action multisig.Action) error {
	switch action.Type {
	case multisig.ActionResetCircuitBreaker:
		if err := e.breaker.Reset(ctx); err != nil {
			return err
		}
		monitoring.SetBreakerTripped(false)
		e.sink.Emit(Event{Type: EventBreakerReset, Time: e.now()})
		return nil
	case multisig.ActionEmergencyPause:
		cfg, _, err := e.Config(ctx)
		if err != nil {
			return err
		}
		if err := e.breaker.Trip(ctx, cfg.Breaker, safety.TripEmergencyPause, "emergency pause executed"); err != nil {
			return err
		}
		monitoring.SetBreakerTripped(true)
		e.sink.Emit(Event{Type: EventBreakerTripped, Time: e.now()})
	}

	effect := configEffect(action)
	if effect == nil {
		return errors.Newf(errors.KindValidation, engineComponent, "apply_action",
			"unknown action type %q", action.Type)
	}
	return e.mutateConfig(ctx, effect)
}

// mutateConfig applies fn to the config under compare-and-set with bounded
// retries.
func (e *Engine) mutateConfig(ctx context.Context, fn func(protocol.Config) (protocol.Config, error)) error {
	var lastErr error
	for attempt := 0; attempt < casAttempts; attempt++ {
		cfg, version, err := e.Config(ctx)
		if err != nil {
			return err
		}
		updated, err := fn(cfg)
		if err != nil {
			return err
		}
		if _, err := store.PutJSON(ctx, e.store, protocol.ConfigKey, &updated, version); err != nil {
			if errors.IsKind(err, errors.KindConcurrencyConflict) {
				lastErr = err
				continue
			}
			return err
		}
		return nil
	}
	return lastErr
}

// fail records the error kind metric and passes the error through.
func (e *Engine) fail(err error) error {
	if kind := errors.KindOf(err); kind != "" {
		monitoring.RecordError(string(kind))
	}
	return err
}
