// Package db owns the PostgreSQL pool and the schema for recorded trades and
// stats snapshots.
package db

import (
	"context"
	_ "embed"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/saltfish/tradebot-dash/go-backend/internal/config"
)

//go:embed schema.sql
var schema string

// Tables lists the relations created by EnsureSchema.
var Tables = []string{"trades", "stats_snapshots"}

const (
	applicationName   = "tradebot-dash"
	connectTimeout    = 10 * time.Second
	healthCheckPeriod = 30 * time.Second
	healthTimeout     = 5 * time.Second
)

// Pool is the dashboard's connection pool.
type Pool struct {
	*pgxpool.Pool
	logger *zap.Logger
}

// ParseConfig builds the pgxpool configuration for cfg. Connections identify
// themselves as tradebot-dash in pg_stat_activity.
func ParseConfig(cfg *config.DatabaseConfig) (*pgxpool.Config, error) {
	pc, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	if cfg.MaxConnections > 0 {
		pc.MaxConns = int32(cfg.MaxConnections)
	}
	pc.MinConns = int32(cfg.MaxIdleConnections)
	pc.MaxConnLifetime = config.Duration(cfg.ConnMaxLifetime, time.Hour)
	pc.HealthCheckPeriod = healthCheckPeriod
	pc.ConnConfig.ConnectTimeout = connectTimeout
	pc.ConnConfig.RuntimeParams["application_name"] = applicationName

	return pc, nil
}

// NewPool connects to PostgreSQL. The database is optional for the
// dashboard, so callers only reach this when database.enabled is set.
func NewPool(ctx context.Context, cfg *config.DatabaseConfig, logger *zap.Logger) (*Pool, error) {
	pc, err := ParseConfig(cfg)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger = logger.Named("db")
	logger.Info("Trade history database connected",
		zap.String("host", cfg.Host),
		zap.Int("port", cfg.Port),
		zap.String("database", cfg.Name),
		zap.Int32("max_connections", pc.MaxConns),
	)

	return &Pool{Pool: pool, logger: logger}, nil
}

// Close closes all connections in the pool.
func (p *Pool) Close() {
	p.Pool.Close()
	p.logger.Info("Trade history database closed")
}

// EnsureSchema creates the trade and snapshot tables if they do not exist.
func (p *Pool) EnsureSchema(ctx context.Context) error {
	if _, err := p.Pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	p.logger.Debug("Database schema ensured", zap.Strings("tables", Tables))
	return nil
}

// HealthCheck verifies the database answers and every dashboard table is
// present. It backs the readiness probe.
func (p *Pool) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	rows, err := p.Pool.Query(ctx,
		`SELECT t FROM unnest($1::text[]) AS t WHERE to_regclass(t) IS NULL`, Tables)
	if err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	missing, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	if len(missing) > 0 {
		return fmt.Errorf("database health check failed: missing tables %s", strings.Join(missing, ", "))
	}
	return nil
}

// Stats returns pool statistics.
func (p *Pool) Stats() *pgxpool.Stat {
	return p.Pool.Stat()
}

// Tx is a transaction handed to WithTx callbacks.
type Tx struct {
	pgx.Tx
}

// WithTx runs fn in a transaction, committing when it returns nil and
// rolling back otherwise, including on panic.
func (p *Pool) WithTx(ctx context.Context, fn func(tx *Tx) error) error {
	return pgx.BeginFunc(ctx, p.Pool, func(tx pgx.Tx) error {
		return fn(&Tx{Tx: tx})
	})
}
