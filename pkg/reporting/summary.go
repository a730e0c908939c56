package reporting

import "github.com/tuborlabs/tyield/internal/protocol"

// Summary aggregates trade outcomes for reporting.
type Summary struct {
	Total            int   `json:"total"`
	Open             int   `json:"open"`
	ClosedTakeProfit int   `json:"closed_take_profit"`
	ClosedStopLoss   int   `json:"closed_stop_loss"`
	Cancelled        int   `json:"cancelled"`
	RealizedPnL      int64 `json:"realized_pnl"`
}

// Summarize computes aggregate statistics over a trade list.
func Summarize(trades []protocol.Trade) Summary {
	var s Summary
	s.Total = len(trades)
	for _, tr := range trades {
		switch tr.State {
		case protocol.TradeOpen:
			s.Open++
		case protocol.TradeClosedTakeProfit:
			s.ClosedTakeProfit++
			s.RealizedPnL += tr.RealizedPnL
		case protocol.TradeClosedStopLoss:
			s.ClosedStopLoss++
			s.RealizedPnL += tr.RealizedPnL
		case protocol.TradeCancelled:
			s.Cancelled++
		}
	}
	return s
}
