package protocol

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tuborlabs/tyield/internal/errors"
)

func openLongTrade() *Trade {
	return &Trade{
		ID:         "t-1",
		Owner:      "alice",
		Pair:       "BTC/USDT",
		FeedID:     "BTCUSDT",
		Side:       SideLong,
		EntryPrice: 100,
		StopLoss:   90,
		TakeProfit: 120,
		Size:       1_000,
		State:      TradeOpen,
	}
}

// TestTrade_LevelChecks tests take-profit and stop-loss crossing per side
func TestTrade_LevelChecks(t *testing.T) {
	long := openLongTrade()
	assert.True(t, long.HitTakeProfit(120))
	assert.True(t, long.HitTakeProfit(121))
	assert.False(t, long.HitTakeProfit(119))
	assert.True(t, long.HitStopLoss(90))
	assert.False(t, long.HitStopLoss(91))

	short := openLongTrade()
	short.Side = SideShort
	short.TakeProfit = 80
	short.StopLoss = 110
	assert.True(t, short.HitTakeProfit(80))
	assert.False(t, short.HitTakeProfit(81))
	assert.True(t, short.HitStopLoss(110))
	assert.False(t, short.HitStopLoss(109))
}

// TestTrade_TransitionToTakeProfit tests a close at the observed price
func TestTrade_TransitionToTakeProfit(t *testing.T) {
	trade := openLongTrade()
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, trade.Transition(TradeClosedTakeProfit, 121, CloseTakeProfit, at))

	assert.Equal(t, TradeClosedTakeProfit, trade.State)
	assert.Equal(t, uint64(121), trade.ClosePrice)
	assert.Equal(t, CloseTakeProfit, trade.CloseReason)
	// (121-100) * 1000 / 100 = 210
	assert.Equal(t, int64(210), trade.RealizedPnL)
	require.NotNil(t, trade.ClosedAt)
	assert.Equal(t, at, *trade.ClosedAt)
	assert.True(t, trade.Terminal())
}

// TestTrade_TerminalStatesAreAbsorbing tests that closed trades reject transitions
func TestTrade_TerminalStatesAreAbsorbing(t *testing.T) {
	at := time.Now()
	for _, terminal := range []TradeState{TradeClosedTakeProfit, TradeClosedStopLoss, TradeCancelled} {
		trade := openLongTrade()
		require.NoError(t, trade.Transition(terminal, 100, CloseCancelled, at))

		err := trade.Transition(TradeCancelled, 100, CloseCancelled, at)
		require.Error(t, err)
		assert.True(t, errors.IsKind(err, errors.KindValidation))
	}
}

// TestTrade_PnL tests PnL math for both sides and both directions
func TestTrade_PnL(t *testing.T) {
	long := openLongTrade()

	pnl, err := long.PnL(110)
	require.NoError(t, err)
	assert.Equal(t, int64(100), pnl)

	pnl, err = long.PnL(90)
	require.NoError(t, err)
	assert.Equal(t, int64(-100), pnl)

	short := openLongTrade()
	short.Side = SideShort

	pnl, err = short.PnL(90)
	require.NoError(t, err)
	assert.Equal(t, int64(100), pnl)

	pnl, err = short.PnL(110)
	require.NoError(t, err)
	assert.Equal(t, int64(-100), pnl)

	// Closing exactly at entry realizes nothing.
	pnl, err = long.PnL(100)
	require.NoError(t, err)
	assert.Equal(t, int64(0), pnl)
}

// TestTrade_PnLRejectsZeroPrice tests the zero-price guard
func TestTrade_PnLRejectsZeroPrice(t *testing.T) {
	trade := openLongTrade()
	_, err := trade.PnL(0)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindValidation))
}
