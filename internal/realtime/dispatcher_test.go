package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestDispatcher(t *testing.T) (*dispatcher, *registry, *counters) {
	t.Helper()
	r := newRegistry()
	stats := &counters{}
	return &dispatcher{
		registry: r,
		stats:    stats,
		logger:   zaptest.NewLogger(t),
	}, r, stats
}

func TestDecodeEnvelope(t *testing.T) {
	tests := []struct {
		name      string
		frame     string
		wantEvent string
		wantData  string
		wantErr   bool
	}{
		{
			name:      "full envelope",
			frame:     `{"event":"stats_update","data":{"netProfit":12.5},"timestamp":"2024-01-01T00:00:00Z"}`,
			wantEvent: "stats_update",
			wantData:  `{"netProfit":12.5}`,
		},
		{
			name:      "missing event uses default bucket",
			frame:     `{"data":[1,2,3]}`,
			wantEvent: DefaultEvent,
			wantData:  `[1,2,3]`,
		},
		{
			name:      "empty event uses default bucket",
			frame:     `{"event":"","data":"x"}`,
			wantEvent: DefaultEvent,
			wantData:  `"x"`,
		},
		{
			name:      "missing data becomes null",
			frame:     `  {"event":"log"}  `,
			wantEvent: "log",
			wantData:  `null`,
		},
		{name: "not json", frame: `hello`, wantErr: true},
		{name: "json scalar", frame: `42`, wantErr: true},
		{name: "json null", frame: `null`, wantErr: true},
		{name: "json array", frame: `[{"event":"log"}]`, wantErr: true},
		{name: "truncated object", frame: `{"event":"log"`, wantErr: true},
		{name: "wrong event type", frame: `{"event":7}`, wantErr: true},
		{name: "empty frame", frame: ``, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := decodeEnvelope([]byte(tt.frame))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantEvent, env.Event)
			assert.JSONEq(t, tt.wantData, string(env.Data))
		})
	}
}

func TestDispatcher_StatsUpdateDeliveredOnce(t *testing.T) {
	d, r, _ := newTestDispatcher(t)
	a := &recordingHandler{}
	r.subscribe("stats_update", a)

	d.dispatch(context.Background(), []byte(`{"event":"stats_update","data":{"netProfit":12.5},"timestamp":"2024-01-01T00:00:00Z"}`))

	got := a.received()
	require.Len(t, got, 1)
	assert.JSONEq(t, `{"netProfit":12.5}`, got[0])
}

func TestDispatcher_DefaultBucket(t *testing.T) {
	d, r, _ := newTestDispatcher(t)
	fallback := &recordingHandler{}
	r.subscribe(DefaultEvent, fallback)

	d.dispatch(context.Background(), []byte(`{"data":{"hello":"world"}}`))

	require.Len(t, fallback.received(), 1)
}

func TestDispatcher_CallbackIsolation(t *testing.T) {
	d, r, stats := newTestDispatcher(t)

	r.subscribe("trade", HandlerFunc(func(json.RawMessage) error {
		panic("boom")
	}))
	r.subscribe("trade", HandlerFunc(func(json.RawMessage) error {
		return errors.New("handler failed")
	}))
	last := &recordingHandler{}
	r.subscribe("trade", last)

	d.dispatch(context.Background(), []byte(`{"event":"trade","data":1}`))
	d.dispatch(context.Background(), []byte(`{"event":"trade","data":2}`))

	assert.Equal(t, []string{"1", "2"}, last.received())
	assert.Equal(t, int64(4), stats.handlerErrors.Load())
	assert.Equal(t, int64(2), stats.frames.Load())
}

func TestDispatcher_Ordering(t *testing.T) {
	d, r, _ := newTestDispatcher(t)
	a := &recordingHandler{}
	b := &recordingHandler{}
	r.subscribe("log", a)
	r.subscribe("log", b)

	const n = 50
	want := make([]string, 0, n)
	for i := 0; i < n; i++ {
		d.dispatch(context.Background(), []byte(fmt.Sprintf(`{"event":"log","data":%d}`, i)))
		want = append(want, fmt.Sprint(i))
	}

	assert.Equal(t, want, a.received())
	assert.Equal(t, want, b.received())
}

func TestDispatcher_HandlerOrderWithinEvent(t *testing.T) {
	d, r, _ := newTestDispatcher(t)
	var calls []string
	r.subscribe("log", &recordingHandler{name: "first", log: &calls})
	r.subscribe("log", &recordingHandler{name: "second", log: &calls})
	r.subscribe("log", &recordingHandler{name: "third", log: &calls})

	d.dispatch(context.Background(), []byte(`{"event":"log","data":{}}`))

	assert.Equal(t, []string{"first", "second", "third"}, calls)
}

func TestDispatcher_UnknownTypeIsSafe(t *testing.T) {
	d, r, stats := newTestDispatcher(t)
	r.subscribe("log", &recordingHandler{})

	assert.NotPanics(t, func() {
		d.dispatch(context.Background(), []byte(`{"event":"never_subscribed","data":{}}`))
	})
	assert.Empty(t, r.lookup("never_subscribed"))
	assert.Zero(t, stats.handlerErrors.Load())
	assert.Zero(t, stats.decodeErrors.Load())
}

func TestDispatcher_MalformedFrameTolerance(t *testing.T) {
	d, r, stats := newTestDispatcher(t)
	a := &recordingHandler{}
	r.subscribe("stats_update", a)

	d.dispatch(context.Background(), []byte(`not json at all`))
	d.dispatch(context.Background(), []byte(`17`))
	d.dispatch(context.Background(), []byte(`{"event":"stats_update","data":{"netProfit":1}}`))

	assert.Equal(t, int64(2), stats.decodeErrors.Load())
	require.Len(t, a.received(), 1)
}

func TestDispatcher_SelfUnsubscribeDuringDispatch(t *testing.T) {
	d, r, _ := newTestDispatcher(t)

	var sub *Subscription
	calls := 0
	sub = r.subscribe("log", HandlerFunc(func(json.RawMessage) error {
		calls++
		sub.Unsubscribe()
		return nil
	}))
	after := &recordingHandler{}
	r.subscribe("log", after)

	d.dispatch(context.Background(), []byte(`{"event":"log","data":1}`))
	d.dispatch(context.Background(), []byte(`{"event":"log","data":2}`))

	assert.Equal(t, 1, calls)
	assert.Equal(t, []string{"1", "2"}, after.received())
}

func TestDispatcher_StopsWhenCancelled(t *testing.T) {
	d, r, _ := newTestDispatcher(t)
	ctx, cancel := context.WithCancel(context.Background())

	r.subscribe("log", HandlerFunc(func(json.RawMessage) error {
		cancel()
		return nil
	}))
	after := &recordingHandler{}
	r.subscribe("log", after)

	d.dispatch(ctx, []byte(`{"event":"log","data":1}`))

	assert.Empty(t, after.received())
}

func TestDispatcher_ObserversSeeEveryEnvelope(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	var seen []string
	d.observers = append(d.observers,
		func(env Envelope) { panic("observer bug") },
		func(env Envelope) { seen = append(seen, env.Event) },
	)

	d.dispatch(context.Background(), []byte(`{"event":"log","data":1}`))
	d.dispatch(context.Background(), []byte(`{"data":1}`))
	d.dispatch(context.Background(), []byte(`garbage`))

	assert.Equal(t, []string{"log", DefaultEvent}, seen)
}

func TestDispatcher_LiveGateCheckedBeforeEachHandler(t *testing.T) {
	d, r, _ := newTestDispatcher(t)

	var open atomic.Bool
	open.Store(true)
	checks := 0
	d.live = func(ctx context.Context) bool {
		checks++
		return open.Load()
	}

	r.subscribe("log", HandlerFunc(func(json.RawMessage) error {
		open.Store(false)
		return nil
	}))
	after := &recordingHandler{}
	r.subscribe("log", after)

	d.dispatch(context.Background(), []byte(`{"event":"log","data":1}`))

	assert.Empty(t, after.received())
	assert.Equal(t, 2, checks)
}
