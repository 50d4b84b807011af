package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPool_HealthCheck(t *testing.T) {
	pool := setupTestDB(t)

	require.NoError(t, pool.HealthCheck(context.Background()))
}
