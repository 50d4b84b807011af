// Package repository provides data access layer implementations.
package repository

import (
	"context"

	"github.com/saltfish/tradebot-dash/go-backend/internal/db"
	"github.com/saltfish/tradebot-dash/go-backend/internal/domain"
)

// TradeRepository defines the interface for recorded trade history.
type TradeRepository interface {
	// Upsert stores trades, skipping any whose natural key is already recorded.
	// It returns the number of newly inserted rows.
	Upsert(ctx context.Context, trades []domain.Trade) (int, error)

	// List retrieves trades newest first with filters and pagination.
	List(ctx context.Context, query domain.TradeQuery) ([]domain.Trade, int, error)

	// Count returns the number of recorded trades.
	Count(ctx context.Context) (int, error)
}

// SnapshotRepository defines the interface for periodic stats snapshots.
type SnapshotRepository interface {
	// Create stores a snapshot.
	Create(ctx context.Context, snapshot *domain.StatsSnapshot) error

	// Latest retrieves the most recent snapshot.
	Latest(ctx context.Context) (*domain.StatsSnapshot, error)

	// List retrieves the most recent snapshots, newest first.
	List(ctx context.Context, limit int) ([]*domain.StatsSnapshot, error)
}

// Repositories aggregates all repository interfaces.
type Repositories struct {
	Trade    TradeRepository
	Snapshot SnapshotRepository
}

// NewRepositories creates a new Repositories instance with all PostgreSQL implementations.
func NewRepositories(pool *db.Pool) *Repositories {
	return &Repositories{
		Trade:    NewTradeRepository(pool),
		Snapshot: NewSnapshotRepository(pool),
	}
}
