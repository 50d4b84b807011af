package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradingStats is the stats snapshot returned by /api/stats and pushed as stats_update.
type TradingStats struct {
	TotalTrades      int              `json:"totalTrades"`
	ProfitableTrades int              `json:"profitableTrades"`
	LossTrades       int              `json:"lossTrades"`
	TotalProfit      decimal.Decimal  `json:"totalProfit"`
	TotalLoss        decimal.Decimal  `json:"totalLoss"`
	NetProfit        decimal.Decimal  `json:"netProfit"`
	TotalVolume      *decimal.Decimal `json:"totalVolume,omitempty"`
	WinRate          float64          `json:"winRate"`
	AverageProfit    decimal.Decimal  `json:"averageProfit"`
	AverageLoss      decimal.Decimal  `json:"averageLoss"`
	BestTrade        decimal.Decimal  `json:"bestTrade"`
	WorstTrade       decimal.Decimal  `json:"worstTrade"`
	Trades           []Trade          `json:"trades"`
}

// Trade is one closed position.
type Trade struct {
	Timestamp  time.Time       `json:"timestamp"`
	Side       TradeSide       `json:"side"`
	EntryPrice decimal.Decimal `json:"entryPrice"`
	ExitPrice  decimal.Decimal `json:"exitPrice"`
	Quantity   decimal.Decimal `json:"quantity"`
	Profit     decimal.Decimal `json:"profit"`
	Fees       decimal.Decimal `json:"fees"`
	IsProfit   bool            `json:"isProfit"`
}

// Key identifies a trade across repeated stats snapshots.
func (t Trade) Key() string {
	return t.Timestamp.UTC().Format(time.RFC3339Nano) + "|" + string(t.Side) + "|" +
		t.EntryPrice.String() + "|" + t.Quantity.String()
}

// NetProfit returns the profit after fees.
func (t Trade) NetProfit() decimal.Decimal {
	return t.Profit.Sub(t.Fees)
}

// Volume returns the notional traded on entry.
func (t Trade) Volume() decimal.Decimal {
	return t.EntryPrice.Mul(t.Quantity)
}

// Summarize recomputes aggregate figures from a trade list. It is used for
// recorded history where the bot's own aggregates are not available.
func Summarize(trades []Trade) TradingStats {
	stats := TradingStats{Trades: trades}
	if len(trades) == 0 {
		return stats
	}

	volume := decimal.Zero
	first := true
	for _, t := range trades {
		stats.TotalTrades++
		volume = volume.Add(t.Volume())

		if t.IsProfit {
			stats.ProfitableTrades++
			stats.TotalProfit = stats.TotalProfit.Add(t.Profit)
		} else {
			stats.LossTrades++
			stats.TotalLoss = stats.TotalLoss.Add(t.Profit.Abs())
		}

		if first || t.Profit.GreaterThan(stats.BestTrade) {
			stats.BestTrade = t.Profit
		}
		if first || t.Profit.LessThan(stats.WorstTrade) {
			stats.WorstTrade = t.Profit
		}
		first = false
	}

	stats.NetProfit = stats.TotalProfit.Sub(stats.TotalLoss)
	stats.TotalVolume = &volume
	stats.WinRate = float64(stats.ProfitableTrades) / float64(stats.TotalTrades) * 100

	if stats.ProfitableTrades > 0 {
		stats.AverageProfit = stats.TotalProfit.Div(decimal.NewFromInt(int64(stats.ProfitableTrades)))
	}
	if stats.LossTrades > 0 {
		stats.AverageLoss = stats.TotalLoss.Div(decimal.NewFromInt(int64(stats.LossTrades)))
	}

	return stats
}
