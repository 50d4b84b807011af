package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/saltfish/tradebot-dash/go-backend/internal/config"
	"github.com/saltfish/tradebot-dash/go-backend/internal/domain"
	"github.com/saltfish/tradebot-dash/go-backend/internal/realtime"
)

func TestRoutingKeyForEvent(t *testing.T) {
	tests := []struct {
		event string
		want  string
	}{
		{"stats_update", "bot.stats_update"},
		{"", "bot.message"},
		{"log", "bot.log"},
		{"weird#event*name", "bot.weird_event_name"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, RoutingKeyForEvent(tt.event), tt.event)
	}
}

func TestNewRelayEvent(t *testing.T) {
	env := realtime.Envelope{Event: "stats_update", Data: json.RawMessage(`{"totalTrades":1}`), Timestamp: "2024-01-01T00:00:00Z"}
	ev := NewRelayEvent(env)

	assert.NotEmpty(t, ev.EventID)
	assert.Equal(t, EventTypeBotEvent, ev.EventType)

	body, err := json.Marshal(ev)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(body, &decoded))
	assert.Equal(t, "stats_update", decoded["event"])
	assert.Equal(t, "2024-01-01T00:00:00Z", decoded["bot_timestamp"])
	assert.Equal(t, map[string]any{"totalTrades": float64(1)}, decoded["data"])
}

func TestReconnectBackOff(t *testing.T) {
	b := reconnectBackOff(&config.RabbitMQConfig{ReconnectDelay: "100ms", MaxReconnectWait: "400ms"})

	var last time.Duration
	for i := 0; i < 10; i++ {
		last = b.NextBackOff()
		assert.Greater(t, last, time.Duration(0))
		assert.LessOrEqual(t, last, 440*time.Millisecond)
	}
	assert.GreaterOrEqual(t, last, 360*time.Millisecond)
}

type fakePublisher struct {
	mu   sync.Mutex
	keys []string
	err  error
	gate chan struct{}
}

func (f *fakePublisher) Publish(ctx context.Context, routingKey string, event interface{}) error {
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.keys = append(f.keys, routingKey)
	return nil
}

func (f *fakePublisher) PublishEnvelope(ctx context.Context, env realtime.Envelope) error {
	return f.Publish(ctx, RoutingKeyForEvent(env.Event), NewRelayEvent(env))
}

func (f *fakePublisher) Close() error { return nil }

func (f *fakePublisher) published() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.keys...)
}

func TestRelay_PublishesInOrder(t *testing.T) {
	pub := &fakePublisher{}
	r := NewRelay(pub, 16, zaptest.NewLogger(t))
	require.NoError(t, r.Start(context.Background()))

	r.Observe(realtime.Envelope{Event: "status_update"})
	r.Observe(realtime.Envelope{Event: "stats_update"})
	r.Observe(realtime.Envelope{Event: "message"})

	require.NoError(t, r.Stop(context.Background()))

	assert.Equal(t, []string{"bot.status_update", "bot.stats_update", "bot.message"}, pub.published())
	assert.Equal(t, RelayStats{Published: 3}, r.Stats())
}

func TestRelay_DropsWhenFull(t *testing.T) {
	pub := &fakePublisher{gate: make(chan struct{})}
	r := NewRelay(pub, 1, zaptest.NewLogger(t))

	// Not started yet: the first envelope fills the buffer.
	r.Observe(realtime.Envelope{Event: "a"})
	r.Observe(realtime.Envelope{Event: "b"})
	assert.EqualValues(t, 1, r.Stats().Dropped)

	close(pub.gate)
	require.NoError(t, r.Start(context.Background()))
	require.NoError(t, r.Stop(context.Background()))
	assert.Equal(t, []string{"bot.a"}, pub.published())
}

func TestRelay_CountsFailures(t *testing.T) {
	pub := &fakePublisher{err: errors.New("channel not available")}
	r := NewRelay(pub, 4, zaptest.NewLogger(t))
	require.NoError(t, r.Start(context.Background()))

	r.Observe(realtime.Envelope{Event: "log"})
	require.NoError(t, r.Stop(context.Background()))

	assert.Equal(t, RelayStats{Failed: 1}, r.Stats())
}

func TestNoOpPublisher(t *testing.T) {
	p := NewNoOpPublisher()
	assert.NoError(t, p.Publish(context.Background(), "bot.x", struct{}{}))
	assert.NoError(t, p.PublishEnvelope(context.Background(), realtime.Envelope{}))
	assert.NoError(t, p.Close())
}

type fakeCommander struct {
	calls []string
	ok    bool
	err   error
}

func (f *fakeCommander) result(name string) (*domain.CommandResult, error) {
	f.calls = append(f.calls, name)
	if f.err != nil {
		return nil, f.err
	}
	return &domain.CommandResult{Success: f.ok, Message: name}, nil
}

func (f *fakeCommander) StartBot(context.Context) (*domain.CommandResult, error) {
	return f.result("start")
}

func (f *fakeCommander) StopBot(context.Context) (*domain.CommandResult, error) {
	return f.result("stop")
}

func (f *fakeCommander) ResetStats(context.Context) (*domain.CommandResult, error) {
	return f.result("reset")
}

func TestCommandHandler(t *testing.T) {
	bot := &fakeCommander{ok: true}
	h := NewCommandHandler(bot, zaptest.NewLogger(t))

	require.NoError(t, h.Handle(RoutingKeyCommandBotStart, nil))
	require.NoError(t, h.Handle(RoutingKeyCommandBotStop, nil))
	require.NoError(t, h.Handle(RoutingKeyCommandStatsReset, nil))
	assert.Equal(t, []string{"start", "stop", "reset"}, bot.calls)

	err := h.Handle("command.bot.explode", nil)
	assert.ErrorIs(t, err, ErrUnknownCommand)
}

func TestCommandHandler_Failures(t *testing.T) {
	h := NewCommandHandler(&fakeCommander{ok: false}, zaptest.NewLogger(t))
	assert.ErrorIs(t, h.Handle(RoutingKeyCommandBotStart, nil), domain.ErrBotRejected)

	h = NewCommandHandler(&fakeCommander{err: domain.ErrBotUnavailable}, zaptest.NewLogger(t))
	assert.ErrorIs(t, h.Handle(RoutingKeyCommandBotStop, nil), domain.ErrBotUnavailable)
}
