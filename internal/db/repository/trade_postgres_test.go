package repository

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saltfish/tradebot-dash/go-backend/internal/domain"
)

func sampleTrade(ts time.Time, side domain.TradeSide, profit string) domain.Trade {
	p := decimal.RequireFromString(profit)
	return domain.Trade{
		Timestamp:  ts,
		Side:       side,
		EntryPrice: decimal.RequireFromString("42000.5"),
		ExitPrice:  decimal.RequireFromString("42100"),
		Quantity:   decimal.RequireFromString("0.01"),
		Profit:     p,
		Fees:       decimal.RequireFromString("0.4"),
		IsProfit:   p.IsPositive(),
	}
}

func TestTradeRepository(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	pool := setupTestDB(t)
	truncateTables(t, pool, "trades")

	repo := NewTradeRepository(pool)
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("UpsertIsIdempotent", func(t *testing.T) {
		trades := []domain.Trade{
			sampleTrade(base, domain.TradeSideLong, "10"),
			sampleTrade(base.Add(time.Minute), domain.TradeSideShort, "-3.5"),
		}

		n, err := repo.Upsert(ctx, trades)
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		// Same stats payload delivered again plus one new trade.
		trades = append(trades, sampleTrade(base.Add(2*time.Minute), domain.TradeSideLong, "1"))
		n, err = repo.Upsert(ctx, trades)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		count, err := repo.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 3, count)
	})

	t.Run("ListNewestFirst", func(t *testing.T) {
		trades, total, err := repo.List(ctx, domain.TradeQuery{})
		require.NoError(t, err)
		assert.Equal(t, 3, total)
		require.Len(t, trades, 3)
		assert.Equal(t, base.Add(2*time.Minute), trades[0].Timestamp)
		assert.True(t, trades[1].Profit.Equal(decimal.RequireFromString("-3.5")))
		assert.True(t, trades[2].EntryPrice.Equal(decimal.RequireFromString("42000.5")))
	})

	t.Run("ListFilters", func(t *testing.T) {
		side := domain.TradeSideShort
		trades, total, err := repo.List(ctx, domain.TradeQuery{Side: &side})
		require.NoError(t, err)
		assert.Equal(t, 1, total)
		require.Len(t, trades, 1)
		assert.Equal(t, domain.TradeSideShort, trades[0].Side)

		since := base.Add(time.Minute)
		trades, total, err = repo.List(ctx, domain.TradeQuery{Since: &since, PageSize: 1})
		require.NoError(t, err)
		assert.Equal(t, 2, total)
		assert.Len(t, trades, 1)
	})

	t.Run("UpsertEmpty", func(t *testing.T) {
		n, err := repo.Upsert(ctx, nil)
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}
