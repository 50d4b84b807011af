package botclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/saltfish/tradebot-dash/go-backend/internal/domain"
)

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(Config{BaseURL: srv.URL, Timeout: 2 * time.Second}, zaptest.NewLogger(t))
}

func TestClient_GetBotStatus(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, PathStatus, r.URL.Path)
		_, _ = io.WriteString(w, `{"state":"running","isRunning":true,"uptime":12000,"consecutiveLosses":2}`)
	}))

	status, err := c.GetBotStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.BotStateRunning, status.State)
	assert.True(t, status.IsRunning)
	assert.Equal(t, 12*time.Second, status.UptimeDuration())
	assert.Equal(t, 2, status.ConsecutiveLosses)
}

func TestClient_Commands(t *testing.T) {
	var paths []string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		paths = append(paths, r.URL.Path)
		_, _ = io.WriteString(w, `{"success":true,"message":"ok"}`)
	}))

	ctx := context.Background()
	for _, call := range []func(context.Context) (*domain.CommandResult, error){c.StartBot, c.StopBot, c.ResetStats} {
		res, err := call(ctx)
		require.NoError(t, err)
		assert.True(t, res.Success)
		assert.Equal(t, "ok", res.Message)
	}
	assert.Equal(t, []string{PathStart, PathStop, PathStatsReset}, paths)
}

func TestClient_GetStats(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"totalTrades":5,"netProfit":3.25,"winRate":60,"trades":[]}`)
	}))

	stats, err := c.GetStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, stats.TotalTrades)
	assert.True(t, stats.NetProfit.Equal(decimal.RequireFromString("3.25")))
	assert.InDelta(t, 60.0, stats.WinRate, 0.001)
}

func TestClient_UpdateConfig(t *testing.T) {
	var got domain.BotConfig
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, PathConfig, r.URL.Path)
		assert.Contains(t, r.Header.Get("Content-Type"), "application/json")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = io.WriteString(w, `{"success":true,"message":"Configuration updated"}`)
	}))

	cfg := &domain.BotConfig{
		Trading: domain.TradingConfig{Symbol: "ETHUSDT", OrderQuantity: decimal.NewFromFloat(0.5), Leverage: 3},
	}
	res, err := c.UpdateConfig(context.Background(), cfg)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "ETHUSDT", got.Trading.Symbol)
	assert.True(t, got.Trading.OrderQuantity.Equal(decimal.NewFromFloat(0.5)))
}

func TestClient_UpdateConfigRejectsInvalidLocally(t *testing.T) {
	var hits atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))

	_, err := c.UpdateConfig(context.Background(), &domain.BotConfig{})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = c.UpdateConfig(context.Background(), nil)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.Zero(t, hits.Load())
}

func TestClient_APIError(t *testing.T) {
	tests := []struct {
		name    string
		code    int
		message string
		target  error
	}{
		{"server error", http.StatusInternalServerError, "API Error: 500 Internal Server Error", domain.ErrBotUnavailable},
		{"bad gateway", http.StatusBadGateway, "API Error: 502 Bad Gateway", domain.ErrBotUnavailable},
		{"bad request", http.StatusBadRequest, "API Error: 400 Bad Request", domain.ErrBotRejected},
		{"not found", http.StatusNotFound, "API Error: 404 Not Found", domain.ErrBotRejected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.code)
				_, _ = io.WriteString(w, `{"error":"nope"}`)
			}))

			_, err := c.GetBotStatus(context.Background())
			require.Error(t, err)

			var apiErr *APIError
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, tt.code, apiErr.StatusCode)
			assert.Equal(t, tt.message, apiErr.Error())
			assert.JSONEq(t, `{"error":"nope"}`, string(apiErr.Body))
			assert.ErrorIs(t, err, tt.target)
		})
	}
}

func TestClient_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := New(Config{BaseURL: url, Timeout: time.Second}, zaptest.NewLogger(t))
	_, err := c.GetStats(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrBotUnavailable)
}

func TestClient_MalformedBody(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"state":`)
	}))

	_, err := c.GetBotStatus(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unmarshal")
}

func TestClient_RateLimitHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"success":true}`)
	}))
	t.Cleanup(srv.Close)

	c := New(Config{BaseURL: srv.URL, MaxRequestsPerSecond: 0.1}, zaptest.NewLogger(t))

	_, err := c.StartBot(context.Background())
	require.NoError(t, err)

	// The single token is spent; the next call would wait ~10s.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = c.StopBot(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limit")
}
