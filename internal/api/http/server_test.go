package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"testing/fstest"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/saltfish/tradebot-dash/go-backend/internal/poller"
	"github.com/saltfish/tradebot-dash/go-backend/internal/realtime"
)

type fakeChannel struct {
	state realtime.State
}

func (f *fakeChannel) State() realtime.State { return f.state }

func (f *fakeChannel) Stats() realtime.Stats {
	return realtime.Stats{State: f.state.String(), Connects: 2, Frames: 10}
}

func newTestServer(deps Dependencies) http.Handler {
	return NewServer(":0", deps, zap.NewNop()).Handler()
}

func get(t *testing.T, handler http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestServer_Health(t *testing.T) {
	channel := &fakeChannel{state: realtime.StateOpen}
	handler := newTestServer(Dependencies{Channel: channel})

	rec := get(t, handler, "/health")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "open", resp.Services["realtime"])
	assert.Equal(t, "not configured", resp.Services["postgres"])

	channel.state = realtime.StateReconnectPending
	rec = get(t, handler, "/health")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "degraded", resp.Status)
	assert.Equal(t, "reconnect_pending", resp.Services["realtime"])
}

func TestServer_LivenessAndReadiness(t *testing.T) {
	handler := newTestServer(Dependencies{})

	rec := get(t, handler, "/health/live")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"alive"}`, rec.Body.String())

	rec = get(t, handler, "/health/ready")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ready"}`, rec.Body.String())
}

func TestServer_Metrics(t *testing.T) {
	hub := NewHub(zap.NewNop())
	p := poller.New(poller.DefaultConfig(), nil, nil, zap.NewNop())

	handler := newTestServer(Dependencies{
		Hub:     hub,
		Channel: &fakeChannel{state: realtime.StateOpen},
		Poller:  p,
	})

	rec := get(t, handler, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp MetricsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Realtime)
	assert.Equal(t, "open", resp.Realtime.State)
	assert.Equal(t, int64(2), resp.Realtime.Connects)
	assert.Equal(t, 0, resp.Hub.Clients)
	require.NotNil(t, resp.Poller)
	assert.Nil(t, resp.Recorder)
	assert.Nil(t, resp.Database)
}

func TestServer_RoutesAndStatic(t *testing.T) {
	h, _ := newTestHandler(&fakeBot{}, nil)
	static := fstest.MapFS{
		"index.html": &fstest.MapFile{Data: []byte("<html>dashboard</html>")},
	}

	handler := newTestServer(Dependencies{Handler: h, Static: static})

	rec := get(t, handler, "/")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "dashboard")

	rec = get(t, handler, "/api/state")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = get(t, handler, "/api/trades")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

type fakeDatabase struct {
	err error
}

func (f *fakeDatabase) HealthCheck(ctx context.Context) error { return f.err }

func (f *fakeDatabase) Stats() *pgxpool.Stat { return nil }

func TestServer_DatabaseHealth(t *testing.T) {
	database := &fakeDatabase{}
	handler := newTestServer(Dependencies{Pool: database})

	rec := get(t, handler, "/health/ready")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = get(t, handler, "/health")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"postgres":"healthy"`)

	database.err = errors.New("database health check failed: missing tables stats_snapshots")

	rec = get(t, handler, "/health/ready")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "missing tables stats_snapshots")

	rec = get(t, handler, "/health")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "unhealthy", resp.Status)
}
