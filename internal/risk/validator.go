package risk

import (
	"github.com/tuborlabs/tyield/internal/errors"
	"github.com/tuborlabs/tyield/internal/mathx"
	"github.com/tuborlabs/tyield/internal/protocol"
)

const validatorComponent = "risk"

// TradeParams are the caller-supplied parameters of a trade-open request.
type TradeParams struct {
	Pair       string
	FeedID     string
	Side       protocol.Side
	EntryPrice uint64
	StopLoss   uint64
	TakeProfit uint64
	Size       uint64
}

// Validator checks trade parameters against the protocol-configured bounds.
// Validation is pure and total: it never mutates state and always
// terminates with a definitive accept or a rejection naming the first
// violated field. Out-of-bound parameters are rejected, never clamped.
type Validator struct{}

// NewValidator creates a risk validator.
func NewValidator() *Validator {
	return &Validator{}
}

// Validate runs the checks in order: parameter sign/ordering invariants,
// size bounds, level distances, and risk/reward ratio bounds.
func (v *Validator) Validate(p TradeParams, bounds protocol.RiskBounds) error {
	if err := v.validateOrdering(p); err != nil {
		return err
	}
	if p.Size < bounds.MinSize {
		return errors.Validationf(validatorComponent, "validate", "size",
			"size %d below minimum %d", p.Size, bounds.MinSize)
	}
	if p.Size > bounds.MaxSize {
		return errors.Validationf(validatorComponent, "validate", "size",
			"size %d above maximum %d", p.Size, bounds.MaxSize)
	}
	if err := v.validateLevelDistances(p, bounds); err != nil {
		return err
	}
	return v.validateRiskReward(p, bounds)
}

// validateOrdering enforces stop_loss < entry < take_profit for longs and
// the reversed inequality for shorts.
func (v *Validator) validateOrdering(p TradeParams) error {
	if p.Size == 0 {
		return errors.Validation(validatorComponent, "validate", "size", "size must be positive")
	}
	if p.EntryPrice == 0 {
		return errors.Validation(validatorComponent, "validate", "entry_price", "entry price must be positive")
	}

	switch p.Side {
	case protocol.SideLong:
		if p.TakeProfit <= p.EntryPrice {
			return errors.Validationf(validatorComponent, "validate", "take_profit",
				"long take profit %d must exceed entry %d", p.TakeProfit, p.EntryPrice)
		}
		if p.StopLoss >= p.EntryPrice {
			return errors.Validationf(validatorComponent, "validate", "stop_loss",
				"long stop loss %d must be below entry %d", p.StopLoss, p.EntryPrice)
		}
	case protocol.SideShort:
		if p.TakeProfit >= p.EntryPrice {
			return errors.Validationf(validatorComponent, "validate", "take_profit",
				"short take profit %d must be below entry %d", p.TakeProfit, p.EntryPrice)
		}
		if p.StopLoss <= p.EntryPrice {
			return errors.Validationf(validatorComponent, "validate", "stop_loss",
				"short stop loss %d must exceed entry %d", p.StopLoss, p.EntryPrice)
		}
	default:
		return errors.Validationf(validatorComponent, "validate", "side", "unknown side %q", p.Side)
	}
	return nil
}

// validateLevelDistances requires stop-loss and take-profit to sit at least
// MinLevelDistanceBps away from the entry so a single tick cannot close a
// freshly opened trade.
func (v *Validator) validateLevelDistances(p TradeParams, bounds protocol.RiskBounds) error {
	if bounds.MinLevelDistanceBps == 0 {
		return nil
	}

	tpDist, err := mathx.DeviationBps(p.TakeProfit, p.EntryPrice)
	if err != nil {
		return err
	}
	if tpDist < bounds.MinLevelDistanceBps {
		return errors.Validationf(validatorComponent, "validate", "take_profit",
			"take profit %d bps from entry, minimum %d", tpDist, bounds.MinLevelDistanceBps)
	}

	slDist, err := mathx.DeviationBps(p.StopLoss, p.EntryPrice)
	if err != nil {
		return err
	}
	if slDist < bounds.MinLevelDistanceBps {
		return errors.Validationf(validatorComponent, "validate", "stop_loss",
			"stop loss %d bps from entry, minimum %d", slDist, bounds.MinLevelDistanceBps)
	}
	return nil
}

// validateRiskReward bounds reward distance over risk distance, in basis
// points (10000 = 1:1).
func (v *Validator) validateRiskReward(p TradeParams, bounds protocol.RiskBounds) error {
	if bounds.MinRiskRewardBps == 0 && bounds.MaxRiskRewardBps == 0 {
		return nil
	}

	reward := mathx.AbsDiff(p.TakeProfit, p.EntryPrice)
	riskDist := mathx.AbsDiff(p.EntryPrice, p.StopLoss)
	if riskDist == 0 {
		return errors.Validation(validatorComponent, "validate", "stop_loss", "risk distance must be positive")
	}

	ratio, err := mathx.MulDiv(reward, mathx.BpsDenominator, riskDist)
	if err != nil {
		return err
	}
	if bounds.MinRiskRewardBps > 0 && ratio < bounds.MinRiskRewardBps {
		return errors.Validationf(validatorComponent, "validate", "risk_reward",
			"risk/reward %d bps below minimum %d", ratio, bounds.MinRiskRewardBps)
	}
	if bounds.MaxRiskRewardBps > 0 && ratio > bounds.MaxRiskRewardBps {
		return errors.Validationf(validatorComponent, "validate", "risk_reward",
			"risk/reward %d bps above maximum %d", ratio, bounds.MaxRiskRewardBps)
	}
	return nil
}

// ValidateEntrySlippage rejects entries too far from the consensus price.
func (v *Validator) ValidateEntrySlippage(entry, consensus uint64, bounds protocol.RiskBounds) error {
	if bounds.MaxEntrySlippageBps == 0 {
		return nil
	}
	dev, err := mathx.DeviationBps(entry, consensus)
	if err != nil {
		return err
	}
	if dev > bounds.MaxEntrySlippageBps {
		return errors.Validationf(validatorComponent, "validate", "entry_price",
			"entry deviates %d bps from consensus price, max %d", dev, bounds.MaxEntrySlippageBps)
	}
	return nil
}
