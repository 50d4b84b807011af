package poller

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/saltfish/tradebot-dash/go-backend/internal/domain"
	"github.com/saltfish/tradebot-dash/go-backend/internal/state"
)

type fakeAPI struct {
	statusCalls atomic.Int32
	statsCalls  atomic.Int32
	statusErr   error
	statsErr    error
}

func (f *fakeAPI) GetBotStatus(ctx context.Context) (*domain.BotStatus, error) {
	f.statusCalls.Add(1)
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	return &domain.BotStatus{State: domain.BotStateRunning, IsRunning: true}, nil
}

func (f *fakeAPI) GetStats(ctx context.Context) (*domain.TradingStats, error) {
	f.statsCalls.Add(1)
	if f.statsErr != nil {
		return nil, f.statsErr
	}
	return &domain.TradingStats{TotalTrades: 3}, nil
}

type recordingSink struct {
	mu       sync.Mutex
	statuses []state.Source
	stats    []state.Source
}

func (s *recordingSink) SetStatus(_ domain.BotStatus, source state.Source) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = append(s.statuses, source)
}

func (s *recordingSink) SetStats(_ domain.TradingStats, source state.Source) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats = append(s.stats, source)
}

func (s *recordingSink) counts() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.statuses), len(s.stats)
}

func TestPoller_PollOnce(t *testing.T) {
	api := &fakeAPI{}
	sink := &recordingSink{}
	p := New(DefaultConfig(), api, sink, zaptest.NewLogger(t))

	require.NoError(t, p.PollOnce(context.Background()))

	assert.Equal(t, []state.Source{state.SourceREST}, sink.statuses)
	assert.Equal(t, []state.Source{state.SourceREST}, sink.stats)
	assert.Equal(t, Stats{StatusPolls: 1, StatsPolls: 1}, p.Stats())
}

func TestPoller_PollOnceJoinsErrors(t *testing.T) {
	boom := errors.New("connection refused")
	api := &fakeAPI{statsErr: boom}
	sink := &recordingSink{}
	p := New(DefaultConfig(), api, sink, zaptest.NewLogger(t))

	err := p.PollOnce(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)

	statuses, stats := sink.counts()
	assert.Equal(t, 1, statuses)
	assert.Zero(t, stats)
	assert.EqualValues(t, 1, p.Stats().StatsFailures)
}

func TestPoller_PollsImmediatelyAndOnInterval(t *testing.T) {
	api := &fakeAPI{}
	sink := &recordingSink{}
	p := New(Config{StatusInterval: 20 * time.Millisecond, StatsInterval: time.Hour}, api, sink, zaptest.NewLogger(t))

	require.NoError(t, p.Start(context.Background()))

	require.Eventually(t, func() bool {
		statuses, stats := sink.counts()
		return statuses >= 3 && stats == 1
	}, 2*time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, p.Stop(ctx))

	// Stats ran only the immediate poll; its interval never elapsed.
	assert.EqualValues(t, 1, api.statsCalls.Load())
}

func TestPoller_FailuresAreNotFatal(t *testing.T) {
	api := &fakeAPI{statusErr: domain.ErrBotUnavailable, statsErr: domain.ErrBotUnavailable}
	sink := &recordingSink{}
	p := New(Config{StatusInterval: 10 * time.Millisecond, StatsInterval: 10 * time.Millisecond}, api, sink, zaptest.NewLogger(t))

	require.NoError(t, p.Start(context.Background()))
	require.Eventually(t, func() bool {
		return api.statusCalls.Load() >= 3 && api.statsCalls.Load() >= 3
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, p.Stop(context.Background()))

	statuses, stats := sink.counts()
	assert.Zero(t, statuses)
	assert.Zero(t, stats)
	assert.GreaterOrEqual(t, p.Stats().StatusFailures, int64(3))
}

func TestPoller_StopWithoutStart(t *testing.T) {
	p := New(DefaultConfig(), &fakeAPI{}, &recordingSink{}, zaptest.NewLogger(t))
	assert.NoError(t, p.Stop(context.Background()))
}
