package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/saltfish/tradebot-dash/go-backend/internal/db"
	"github.com/saltfish/tradebot-dash/go-backend/internal/domain"
)

// tradeRepo implements TradeRepository using PostgreSQL.
type tradeRepo struct {
	pool *db.Pool
}

// NewTradeRepository creates a new PostgreSQL trade repository.
func NewTradeRepository(pool *db.Pool) TradeRepository {
	return &tradeRepo{pool: pool}
}

// Upsert inserts trades in one transaction. Conflicts on the natural key
// (executed_at, side, entry_price, quantity) are ignored.
func (r *tradeRepo) Upsert(ctx context.Context, trades []domain.Trade) (int, error) {
	if len(trades) == 0 {
		return 0, nil
	}

	query := `
		INSERT INTO trades (
			id, executed_at, side, entry_price, exit_price,
			quantity, profit, fees, is_profit
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9
		)
		ON CONFLICT ON CONSTRAINT trades_natural_key DO NOTHING
	`

	inserted := 0
	err := r.pool.WithTx(ctx, func(tx *db.Tx) error {
		batch := &pgx.Batch{}
		for _, t := range trades {
			batch.Queue(query,
				uuid.New(),
				t.Timestamp.UTC(),
				string(t.Side),
				t.EntryPrice,
				t.ExitPrice,
				t.Quantity,
				t.Profit,
				t.Fees,
				t.IsProfit,
			)
		}

		results := tx.SendBatch(ctx, batch)
		for range trades {
			tag, err := results.Exec()
			if err != nil {
				_ = results.Close()
				return fmt.Errorf("failed to insert trade: %w", err)
			}
			inserted += int(tag.RowsAffected())
		}
		return results.Close()
	})
	if err != nil {
		return 0, err
	}

	return inserted, nil
}

// List retrieves trades newest first.
func (r *tradeRepo) List(ctx context.Context, q domain.TradeQuery) ([]domain.Trade, int, error) {
	q.Normalize()

	var conditions []string
	var args []any
	argNum := 1

	if q.Since != nil {
		conditions = append(conditions, fmt.Sprintf("executed_at >= $%d", argNum))
		args = append(args, *q.Since)
		argNum++
	}
	if q.Until != nil {
		conditions = append(conditions, fmt.Sprintf("executed_at < $%d", argNum))
		args = append(args, *q.Until)
		argNum++
	}
	if q.Side != nil {
		conditions = append(conditions, fmt.Sprintf("side = $%d", argNum))
		args = append(args, string(*q.Side))
		argNum++
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM trades " + whereClause
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count trades: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT executed_at, side, entry_price, exit_price,
			quantity, profit, fees, is_profit
		FROM trades
		%s
		ORDER BY executed_at DESC
		LIMIT $%d OFFSET $%d
	`, whereClause, argNum, argNum+1)
	args = append(args, q.PageSize, q.Offset())

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list trades: %w", err)
	}
	defer rows.Close()

	trades := make([]domain.Trade, 0, q.PageSize)
	for rows.Next() {
		var t domain.Trade
		var side string
		if err := rows.Scan(
			&t.Timestamp,
			&side,
			&t.EntryPrice,
			&t.ExitPrice,
			&t.Quantity,
			&t.Profit,
			&t.Fees,
			&t.IsProfit,
		); err != nil {
			return nil, 0, fmt.Errorf("failed to scan trade: %w", err)
		}
		t.Side = domain.TradeSide(side)
		t.Timestamp = t.Timestamp.UTC()
		trades = append(trades, t)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate trades: %w", err)
	}

	return trades, total, nil
}

// Count returns the number of recorded trades.
func (r *tradeRepo) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM trades").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count trades: %w", err)
	}
	return n, nil
}

// Ensure interface implementations at compile time.
var _ TradeRepository = (*tradeRepo)(nil)
