package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tuborlabs/tyield/internal/errors"
	"github.com/tuborlabs/tyield/internal/protocol"
)

func testBounds() protocol.RiskBounds {
	return protocol.RiskBounds{
		MinSize:             1_000,
		MaxSize:             1_000_000,
		MinRiskRewardBps:    5_000,   // 0.5:1
		MaxRiskRewardBps:    100_000, // 10:1
		MinLevelDistanceBps: 10,
		MaxEntrySlippageBps: 100,
	}
}

func longParams() TradeParams {
	return TradeParams{
		Pair:       "BTC/USDT",
		FeedID:     "BTCUSDT",
		Side:       protocol.SideLong,
		EntryPrice: 100_00000000,
		StopLoss:   90_00000000,
		TakeProfit: 120_00000000,
		Size:       10_000,
	}
}

func firstViolatedField(t *testing.T, err error) string {
	t.Helper()
	var pe *errors.ProtocolError
	require.ErrorAs(t, err, &pe)
	return pe.Field
}

// TestValidator_AcceptsWellFormedLong tests the happy path for a long
func TestValidator_AcceptsWellFormedLong(t *testing.T) {
	v := NewValidator()
	require.NoError(t, v.Validate(longParams(), testBounds()))
}

// TestValidator_AcceptsWellFormedShort tests the happy path for a short
func TestValidator_AcceptsWellFormedShort(t *testing.T) {
	v := NewValidator()
	p := TradeParams{
		Pair:       "BTC/USDT",
		FeedID:     "BTCUSDT",
		Side:       protocol.SideShort,
		EntryPrice: 100_00000000,
		StopLoss:   110_00000000,
		TakeProfit: 80_00000000,
		Size:       10_000,
	}
	require.NoError(t, v.Validate(p, testBounds()))
}

// TestValidator_LongOrdering tests the stop/entry/target ordering for longs
func TestValidator_LongOrdering(t *testing.T) {
	v := NewValidator()

	p := longParams()
	p.TakeProfit = p.EntryPrice // not above entry
	err := v.Validate(p, testBounds())
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindValidation))
	assert.Equal(t, "take_profit", firstViolatedField(t, err))

	p = longParams()
	p.StopLoss = p.EntryPrice + 1 // above entry
	err = v.Validate(p, testBounds())
	require.Error(t, err)
	assert.Equal(t, "stop_loss", firstViolatedField(t, err))
}

// TestValidator_ShortOrdering tests the reversed ordering for shorts
func TestValidator_ShortOrdering(t *testing.T) {
	v := NewValidator()
	p := TradeParams{
		Side:       protocol.SideShort,
		EntryPrice: 100_00000000,
		StopLoss:   90_00000000,  // must be above entry for shorts
		TakeProfit: 80_00000000,
		Size:       10_000,
	}
	err := v.Validate(p, testBounds())
	require.Error(t, err)
	assert.Equal(t, "stop_loss", firstViolatedField(t, err))
}

// TestValidator_ZeroValues tests rejection of zero size and entry
func TestValidator_ZeroValues(t *testing.T) {
	v := NewValidator()

	p := longParams()
	p.Size = 0
	err := v.Validate(p, testBounds())
	assert.Equal(t, "size", firstViolatedField(t, err))

	p = longParams()
	p.EntryPrice = 0
	err = v.Validate(p, testBounds())
	assert.Equal(t, "entry_price", firstViolatedField(t, err))
}

// TestValidator_SizeBounds tests rejection, not clamping, outside size bounds
func TestValidator_SizeBounds(t *testing.T) {
	v := NewValidator()

	p := longParams()
	p.Size = 999
	err := v.Validate(p, testBounds())
	require.Error(t, err)
	assert.Equal(t, "size", firstViolatedField(t, err))

	p.Size = 1_000_001
	err = v.Validate(p, testBounds())
	require.Error(t, err)
	assert.Equal(t, "size", firstViolatedField(t, err))
}

// TestValidator_LevelDistance tests the minimum level distance from entry
func TestValidator_LevelDistance(t *testing.T) {
	v := NewValidator()

	// Take profit only 5 bps above entry, minimum is 10.
	p := longParams()
	p.TakeProfit = p.EntryPrice + p.EntryPrice/2000
	err := v.Validate(p, testBounds())
	require.Error(t, err)
	assert.Equal(t, "take_profit", firstViolatedField(t, err))
}

// TestValidator_RiskRewardBounds tests the reward/risk ratio window
func TestValidator_RiskRewardBounds(t *testing.T) {
	v := NewValidator()
	bounds := testBounds()

	// Reward 1, risk 40 -> 250 bps, below the 5000 bps minimum.
	p := longParams()
	p.TakeProfit = 101_00000000
	p.StopLoss = 60_00000000
	err := v.Validate(p, bounds)
	require.Error(t, err)
	assert.Equal(t, "risk_reward", firstViolatedField(t, err))

	// Reward 99, risk 1 -> 990000 bps, above the 100000 bps maximum.
	p = longParams()
	p.TakeProfit = 199_00000000
	p.StopLoss = 99_00000000
	err = v.Validate(p, bounds)
	require.Error(t, err)
	assert.Equal(t, "risk_reward", firstViolatedField(t, err))
}

// TestValidator_EntrySlippage tests the consensus deviation gate on entry
func TestValidator_EntrySlippage(t *testing.T) {
	v := NewValidator()
	bounds := testBounds()

	// 50 bps off consensus: fine.
	require.NoError(t, v.ValidateEntrySlippage(100_50000000, 100_00000000, bounds))

	// 200 bps off consensus: rejected.
	err := v.ValidateEntrySlippage(102_00000000, 100_00000000, bounds)
	require.Error(t, err)
	assert.Equal(t, "entry_price", firstViolatedField(t, err))
}
