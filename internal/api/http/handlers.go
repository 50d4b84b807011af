package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/saltfish/tradebot-dash/go-backend/internal/botclient"
	"github.com/saltfish/tradebot-dash/go-backend/internal/db/repository"
	"github.com/saltfish/tradebot-dash/go-backend/internal/domain"
	"github.com/saltfish/tradebot-dash/go-backend/internal/state"
)

// BotAPI is the subset of the bot REST client the proxy needs.
type BotAPI interface {
	GetBotStatus(ctx context.Context) (*domain.BotStatus, error)
	StartBot(ctx context.Context) (*domain.CommandResult, error)
	StopBot(ctx context.Context) (*domain.CommandResult, error)
	GetStats(ctx context.Context) (*domain.TradingStats, error)
	ResetStats(ctx context.Context) (*domain.CommandResult, error)
	GetConfig(ctx context.Context) (*domain.BotConfig, error)
	UpdateConfig(ctx context.Context, cfg *domain.BotConfig) (*domain.CommandResult, error)
}

// StateReader is the read side of the baseline state store.
type StateReader interface {
	Status() *domain.BotStatus
	Stats() *domain.TradingStats
	Snapshot() state.Snapshot
}

// HeaderDataSource tells the caller whether a bot read came from the bot
// itself or from the local store.
const HeaderDataSource = "X-Data-Source"

// Handler provides REST API handlers.
type Handler struct {
	bot    BotAPI
	state  StateReader
	repos  *repository.Repositories
	logger *zap.Logger
}

// NewHandler creates a new Handler instance. repos may be nil when the
// database is disabled; the history endpoints then answer 503.
func NewHandler(bot BotAPI, store StateReader, repos *repository.Repositories, logger *zap.Logger) *Handler {
	return &Handler{
		bot:    bot,
		state:  store,
		repos:  repos,
		logger: logger.Named("api"),
	}
}

// Error response structure
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

var (
	errMethodNotAllowed   = errors.New("method not allowed")
	errHistoryUnavailable = errors.New("history unavailable")
)

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, err error, message string) {
	writeJSON(w, status, ErrorResponse{
		Error:   err.Error(),
		Message: message,
	})
}

// writeBotError maps a bot client error to a response. Bot 4xx answers are
// passed through, bot 5xx become 502 and transport failures 503.
func (h *Handler) writeBotError(w http.ResponseWriter, err error, message string) {
	var apiErr *botclient.APIError
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err, message)
	case errors.As(err, &apiErr) && apiErr.StatusCode < 500:
		writeError(w, apiErr.StatusCode, err, message)
	case errors.As(err, &apiErr):
		writeError(w, http.StatusBadGateway, err, message)
	case errors.Is(err, domain.ErrBotUnavailable):
		h.logger.Warn("Bot unavailable", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, err, message)
	default:
		h.logger.Error("Bot request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err, message)
	}
}

// ========================================
// Bot proxy handlers
// ========================================

// HandleBotStatus returns the bot status. When the bot is unreachable the
// last known status is served with X-Data-Source: cache.
func (h *Handler) HandleBotStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, errMethodNotAllowed, "")
		return
	}

	status, err := h.bot.GetBotStatus(r.Context())
	if err != nil {
		if cached := h.state.Status(); cached != nil && errors.Is(err, domain.ErrBotUnavailable) {
			w.Header().Set(HeaderDataSource, "cache")
			writeJSON(w, http.StatusOK, cached)
			return
		}
		h.writeBotError(w, err, "failed to get bot status")
		return
	}

	w.Header().Set(HeaderDataSource, "bot")
	writeJSON(w, http.StatusOK, status)
}

// HandleStartBot asks the bot to start trading.
func (h *Handler) HandleStartBot(w http.ResponseWriter, r *http.Request) {
	h.handleCommand(w, r, h.bot.StartBot, "failed to start bot")
}

// HandleStopBot asks the bot to stop trading.
func (h *Handler) HandleStopBot(w http.ResponseWriter, r *http.Request) {
	h.handleCommand(w, r, h.bot.StopBot, "failed to stop bot")
}

// HandleResetStats asks the bot to reset its statistics.
func (h *Handler) HandleResetStats(w http.ResponseWriter, r *http.Request) {
	h.handleCommand(w, r, h.bot.ResetStats, "failed to reset stats")
}

func (h *Handler) handleCommand(
	w http.ResponseWriter,
	r *http.Request,
	call func(context.Context) (*domain.CommandResult, error),
	message string,
) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, errMethodNotAllowed, "")
		return
	}

	result, err := call(r.Context())
	if err != nil {
		h.writeBotError(w, err, message)
		return
	}

	h.logger.Info("Bot command forwarded",
		zap.String("path", r.URL.Path),
		zap.Bool("success", result.Success),
	)
	writeJSON(w, http.StatusOK, result)
}

// HandleStats returns the bot's trading statistics, falling back to the last
// known value when the bot is unreachable.
func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, errMethodNotAllowed, "")
		return
	}

	stats, err := h.bot.GetStats(r.Context())
	if err != nil {
		if cached := h.state.Stats(); cached != nil && errors.Is(err, domain.ErrBotUnavailable) {
			w.Header().Set(HeaderDataSource, "cache")
			writeJSON(w, http.StatusOK, cached)
			return
		}
		h.writeBotError(w, err, "failed to get stats")
		return
	}

	w.Header().Set(HeaderDataSource, "bot")
	writeJSON(w, http.StatusOK, stats)
}

// HandleConfig reads (GET) or replaces (PUT) the bot configuration.
func (h *Handler) HandleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		cfg, err := h.bot.GetConfig(r.Context())
		if err != nil {
			h.writeBotError(w, err, "failed to get config")
			return
		}
		writeJSON(w, http.StatusOK, cfg)

	case http.MethodPut:
		var cfg domain.BotConfig
		if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
			writeError(w, http.StatusBadRequest, err, "invalid request body")
			return
		}

		result, err := h.bot.UpdateConfig(r.Context(), &cfg)
		if err != nil {
			h.writeBotError(w, err, "failed to update config")
			return
		}

		h.logger.Info("Bot config updated", zap.String("symbol", cfg.Trading.Symbol))
		writeJSON(w, http.StatusOK, result)

	default:
		writeError(w, http.StatusMethodNotAllowed, errMethodNotAllowed, "")
	}
}

// ========================================
// Local state handlers
// ========================================

// HandleState returns the baseline store snapshot.
func (h *Handler) HandleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, errMethodNotAllowed, "")
		return
	}

	writeJSON(w, http.StatusOK, h.state.Snapshot())
}

// ListTradesResponse represents a page of recorded trades. Summary is computed
// over Trades only; Total counts every trade matching the filters.
type ListTradesResponse struct {
	Trades   []domain.Trade      `json:"trades"`
	Total    int                 `json:"total"`
	Page     int                 `json:"page"`
	PageSize int                 `json:"page_size"`
	Summary  domain.TradingStats `json:"summary"`
}

// HandleTrades lists recorded trades.
// Query parameters: page, page_size, side (LONG|SHORT), since, until (RFC3339).
func (h *Handler) HandleTrades(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, errMethodNotAllowed, "")
		return
	}
	if h.repos == nil || h.repos.Trade == nil {
		writeError(w, http.StatusServiceUnavailable, errHistoryUnavailable, "database is disabled")
		return
	}

	query, err := parseTradeQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err, "invalid query parameters")
		return
	}

	trades, total, err := h.repos.Trade.List(r.Context(), query)
	if err != nil {
		h.logger.Error("Failed to list trades", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err, "failed to list trades")
		return
	}
	if trades == nil {
		trades = []domain.Trade{}
	}

	// Page-scoped; the stats snapshot endpoints carry lifetime figures.
	summary := domain.Summarize(trades)
	summary.Trades = nil

	writeJSON(w, http.StatusOK, ListTradesResponse{
		Trades:   trades,
		Total:    total,
		Page:     query.Page,
		PageSize: query.PageSize,
		Summary:  summary,
	})
}

func parseTradeQuery(r *http.Request) (domain.TradeQuery, error) {
	q := r.URL.Query()
	var query domain.TradeQuery

	if v := q.Get("page"); v != "" {
		page, err := strconv.Atoi(v)
		if err != nil {
			return query, fmt.Errorf("page: %w", err)
		}
		query.Page = page
	}
	if v := q.Get("page_size"); v != "" {
		size, err := strconv.Atoi(v)
		if err != nil {
			return query, fmt.Errorf("page_size: %w", err)
		}
		query.PageSize = size
	}
	if v := q.Get("side"); v != "" {
		side := domain.TradeSide(v)
		if !side.IsValid() {
			return query, domain.ValidationError{Field: "side", Message: "must be LONG or SHORT"}
		}
		query.Side = &side
	}
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return query, fmt.Errorf("since: %w", err)
		}
		query.Since = &t
	}
	if v := q.Get("until"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return query, fmt.Errorf("until: %w", err)
		}
		query.Until = &t
	}

	query.Normalize()
	return query, nil
}

// HandleSnapshots lists recent stats snapshots. Query parameter: limit (default 20).
func (h *Handler) HandleSnapshots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, errMethodNotAllowed, "")
		return
	}
	if h.repos == nil || h.repos.Snapshot == nil {
		writeError(w, http.StatusServiceUnavailable, errHistoryUnavailable, "database is disabled")
		return
	}

	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 500 {
			writeError(w, http.StatusBadRequest, errors.New("invalid limit"), "limit must be between 1 and 500")
			return
		}
		limit = n
	}

	snapshots, err := h.repos.Snapshot.List(r.Context(), limit)
	if err != nil {
		h.logger.Error("Failed to list snapshots", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err, "failed to list snapshots")
		return
	}
	if snapshots == nil {
		snapshots = []*domain.StatsSnapshot{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"snapshots": snapshots})
}
