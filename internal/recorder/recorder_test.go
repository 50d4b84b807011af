package recorder

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/saltfish/tradebot-dash/go-backend/internal/domain"
	"github.com/saltfish/tradebot-dash/go-backend/internal/realtime"
)

// memStore mimics the natural-key upsert of the Postgres repository.
type memStore struct {
	mu    sync.Mutex
	rows  map[string]domain.Trade
	calls int
	err   error
}

func newMemStore() *memStore {
	return &memStore{rows: make(map[string]domain.Trade)}
}

func (m *memStore) Upsert(_ context.Context, trades []domain.Trade) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return 0, m.err
	}
	n := 0
	for _, t := range trades {
		if _, ok := m.rows[t.Key()]; ok {
			continue
		}
		m.rows[t.Key()] = t
		n++
	}
	return n, nil
}

func (m *memStore) snapshot() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows), m.calls
}

func trade(minute int) domain.Trade {
	return domain.Trade{
		Timestamp:  time.Date(2024, 1, 1, 0, minute, 0, 0, time.UTC),
		Side:       domain.TradeSideLong,
		EntryPrice: decimal.NewFromInt(100),
		Quantity:   decimal.NewFromInt(1),
		Profit:     decimal.NewFromInt(1),
		IsProfit:   true,
	}
}

func TestRecorder_DedupesRepeatedStats(t *testing.T) {
	store := newMemStore()
	r := New(DefaultConfig(), store, zaptest.NewLogger(t))
	require.NoError(t, r.Start(context.Background()))

	require.True(t, r.Enqueue([]domain.Trade{trade(1), trade(2)}))
	require.True(t, r.Enqueue([]domain.Trade{trade(1), trade(2), trade(3)}))
	require.True(t, r.Enqueue([]domain.Trade{trade(1), trade(2), trade(3)}))

	require.NoError(t, r.Stop(context.Background()))

	rows, calls := store.snapshot()
	assert.Equal(t, 3, rows)
	// The third batch is entirely cached and never reaches the store.
	assert.Equal(t, 2, calls)
	assert.EqualValues(t, 3, r.Stats().Recorded)
}

func TestRecorder_WriteErrorRetriesLater(t *testing.T) {
	store := newMemStore()
	store.err = errors.New("db down")
	r := New(DefaultConfig(), store, zaptest.NewLogger(t))
	require.NoError(t, r.Start(context.Background()))

	r.Enqueue([]domain.Trade{trade(1)})
	require.Eventually(t, func() bool { return r.Stats().WriteErrors == 1 }, time.Second, 5*time.Millisecond)

	store.mu.Lock()
	store.err = nil
	store.mu.Unlock()

	// A failed batch is not cached, so the same trade is written next time.
	r.Enqueue([]domain.Trade{trade(1)})
	require.NoError(t, r.Stop(context.Background()))

	rows, _ := store.snapshot()
	assert.Equal(t, 1, rows)
}

func TestRecorder_QueueFullDrops(t *testing.T) {
	r := New(Config{QueueSize: 1}, newMemStore(), zaptest.NewLogger(t))

	// Not started: nothing drains the queue.
	assert.True(t, r.Enqueue([]domain.Trade{trade(1)}))
	assert.False(t, r.Enqueue([]domain.Trade{trade(2)}))
	assert.True(t, r.Enqueue(nil))
	assert.EqualValues(t, 1, r.Stats().DroppedBatches)
}

func TestRecorder_MaxSeenResetsCache(t *testing.T) {
	store := newMemStore()
	r := New(Config{MaxSeen: 2}, store, zaptest.NewLogger(t))
	require.NoError(t, r.Start(context.Background()))

	r.Enqueue([]domain.Trade{trade(1), trade(2)})
	r.Enqueue([]domain.Trade{trade(3)})
	r.Enqueue([]domain.Trade{trade(1)})
	require.NoError(t, r.Stop(context.Background()))

	rows, calls := store.snapshot()
	assert.Equal(t, 3, rows)
	assert.Equal(t, 3, calls)
	assert.EqualValues(t, 1, r.Stats().Skipped)
}

func TestRecorder_AttachHandlers(t *testing.T) {
	store := newMemStore()
	r := New(DefaultConfig(), store, zaptest.NewLogger(t))
	require.NoError(t, r.Start(context.Background()))

	ch := realtime.New(realtime.DefaultConfig(), zaptest.NewLogger(t))
	subs := r.Attach(ch)
	require.Len(t, subs, 2)

	stats, err := json.Marshal(domain.TradingStats{TotalTrades: 2, Trades: []domain.Trade{trade(1), trade(2)}})
	require.NoError(t, err)
	one, err := json.Marshal(trade(3))
	require.NoError(t, err)

	require.NoError(t, ch.Lookup(domain.EventStatsUpdate)[0].Handle(stats))
	require.NoError(t, ch.Lookup(domain.EventTrade)[0].Handle(one))
	assert.Error(t, ch.Lookup(domain.EventTrade)[0].Handle(json.RawMessage(`[1,2]`)))

	require.NoError(t, r.Stop(context.Background()))

	rows, _ := store.snapshot()
	assert.Equal(t, 3, rows)
}
