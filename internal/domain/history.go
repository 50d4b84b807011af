package domain

import (
	"time"

	"github.com/google/uuid"
)

// StatsSnapshot is a TradingStats value persisted by the snapshot job.
type StatsSnapshot struct {
	ID      uuid.UUID    `json:"id"`
	TakenAt time.Time    `json:"taken_at"`
	Source  string       `json:"source"`
	Stats   TradingStats `json:"stats"`
}

// NewStatsSnapshot stamps stats with a fresh ID and the current time.
// The trade list is dropped; trades are recorded individually.
func NewStatsSnapshot(stats TradingStats, source string) *StatsSnapshot {
	stats.Trades = nil
	return &StatsSnapshot{
		ID:      uuid.New(),
		TakenAt: time.Now().UTC(),
		Source:  source,
		Stats:   stats,
	}
}

// TradeQuery filters recorded trades.
type TradeQuery struct {
	Since    *time.Time
	Until    *time.Time
	Side     *TradeSide
	Page     int
	PageSize int
}

// Normalize applies paging defaults and bounds.
func (q *TradeQuery) Normalize() {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PageSize < 1 {
		q.PageSize = 50
	}
	if q.PageSize > 500 {
		q.PageSize = 500
	}
}

// Offset returns the row offset for the current page.
func (q TradeQuery) Offset() int {
	return (q.Page - 1) * q.PageSize
}
