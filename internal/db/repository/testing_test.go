package repository

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/saltfish/tradebot-dash/go-backend/internal/config"
	"github.com/saltfish/tradebot-dash/go-backend/internal/db"
)

// setupTestDB creates a test database connection pool for integration tests.
// If TEST_DATABASE_URL is not set, the test is skipped.
func setupTestDB(t *testing.T) *db.Pool {
	t.Helper()

	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping integration test")
	}

	parsed, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		t.Fatalf("invalid TEST_DATABASE_URL: %v", err)
	}

	sslMode := os.Getenv("TEST_DATABASE_SSLMODE")
	if sslMode == "" {
		sslMode = "disable"
	}

	cfg := &config.DatabaseConfig{
		Host:               parsed.ConnConfig.Host,
		Port:               int(parsed.ConnConfig.Port),
		User:               parsed.ConnConfig.User,
		Password:           parsed.ConnConfig.Password,
		Name:               parsed.ConnConfig.Database,
		SSLMode:            sslMode,
		MaxConnections:     5,
		MaxIdleConnections: 1,
		ConnMaxLifetime:    "1h",
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to create test database pool: %v", err)
	}
	if err := pool.EnsureSchema(ctx); err != nil {
		pool.Close()
		t.Fatalf("failed to apply schema: %v", err)
	}

	t.Cleanup(func() {
		pool.Close()
	})

	return pool
}

// truncateTables truncates all test tables to ensure a clean state.
func truncateTables(t *testing.T, pool *db.Pool, tables ...string) {
	t.Helper()

	ctx := context.Background()
	for _, table := range tables {
		query := fmt.Sprintf("TRUNCATE TABLE %s CASCADE", table)
		if _, err := pool.Exec(ctx, query); err != nil {
			t.Logf("warning: failed to truncate table %s: %v", table, err)
		}
	}
}
