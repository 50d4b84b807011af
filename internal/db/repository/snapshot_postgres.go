package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/saltfish/tradebot-dash/go-backend/internal/db"
	"github.com/saltfish/tradebot-dash/go-backend/internal/domain"
)

// snapshotRepo implements SnapshotRepository using PostgreSQL.
type snapshotRepo struct {
	pool *db.Pool
}

// NewSnapshotRepository creates a new PostgreSQL snapshot repository.
func NewSnapshotRepository(pool *db.Pool) SnapshotRepository {
	return &snapshotRepo{pool: pool}
}

// Create stores a snapshot. The full stats object is kept as JSONB beside a
// few queryable columns.
func (r *snapshotRepo) Create(ctx context.Context, s *domain.StatsSnapshot) error {
	statsJSON, err := json.Marshal(s.Stats)
	if err != nil {
		return fmt.Errorf("failed to marshal stats: %w", err)
	}

	query := `
		INSERT INTO stats_snapshots (
			id, taken_at, source, total_trades, net_profit, win_rate, stats
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7
		)
	`

	_, err = r.pool.Exec(ctx, query,
		s.ID,
		s.TakenAt,
		s.Source,
		s.Stats.TotalTrades,
		s.Stats.NetProfit,
		s.Stats.WinRate,
		statsJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to create stats snapshot: %w", err)
	}

	return nil
}

// Latest retrieves the most recent snapshot.
func (r *snapshotRepo) Latest(ctx context.Context) (*domain.StatsSnapshot, error) {
	query := `
		SELECT id, taken_at, source, stats
		FROM stats_snapshots
		ORDER BY taken_at DESC
		LIMIT 1
	`

	s, err := scanSnapshot(r.pool.QueryRow(ctx, query))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("stats_snapshot", "latest")
		}
		return nil, err
	}
	return s, nil
}

// List retrieves the most recent snapshots, newest first.
func (r *snapshotRepo) List(ctx context.Context, limit int) ([]*domain.StatsSnapshot, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT id, taken_at, source, stats
		FROM stats_snapshots
		ORDER BY taken_at DESC
		LIMIT $1
	`

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list stats snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []*domain.StatsSnapshot
	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate stats snapshots: %w", err)
	}

	return snapshots, nil
}

func scanSnapshot(row pgx.Row) (*domain.StatsSnapshot, error) {
	var s domain.StatsSnapshot
	var statsJSON []byte
	if err := row.Scan(&s.ID, &s.TakenAt, &s.Source, &statsJSON); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan stats snapshot: %w", err)
	}
	if err := json.Unmarshal(statsJSON, &s.Stats); err != nil {
		return nil, fmt.Errorf("failed to unmarshal stats: %w", err)
	}
	s.TakenAt = s.TakenAt.UTC()
	return &s, nil
}

// Ensure interface implementations at compile time.
var _ SnapshotRepository = (*snapshotRepo)(nil)
