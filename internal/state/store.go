// Package state keeps the latest known bot state for the local API, merging
// REST poll results with realtime pushes.
package state

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/saltfish/tradebot-dash/go-backend/internal/domain"
	"github.com/saltfish/tradebot-dash/go-backend/internal/realtime"
)

// Source records where a value came from.
type Source string

const (
	SourceREST     Source = "rest"
	SourceRealtime Source = "realtime"
)

// Config holds store configuration.
type Config struct {
	StaleAfter    time.Duration // Age after which the snapshot is reported stale (default: 30s)
	LogBufferSize int           // Number of log entries retained (default: 100)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		StaleAfter:    30 * time.Second,
		LogBufferSize: 100,
	}
}

// Snapshot is a point-in-time copy of the store.
type Snapshot struct {
	Status          *domain.BotStatus    `json:"status"`
	StatusSource    Source               `json:"status_source,omitempty"`
	StatusUpdatedAt *time.Time           `json:"status_updated_at,omitempty"`
	Stats           *domain.TradingStats `json:"stats"`
	StatsSource     Source               `json:"stats_source,omitempty"`
	StatsUpdatedAt  *time.Time           `json:"stats_updated_at,omitempty"`
	Logs            []domain.LogEntry    `json:"logs"`
	Connection      string               `json:"connection"`
	Stale           bool                 `json:"stale"`
}

// Store manages the in-memory bot state. Every update replaces the previous
// value regardless of source, so the most recent write wins.
type Store struct {
	mu sync.RWMutex

	status       *domain.BotStatus
	statusSource Source
	statusAt     time.Time

	stats       *domain.TradingStats
	statsSource Source
	statsAt     time.Time

	logs    []domain.LogEntry
	logHead int
	logLen  int

	connection realtime.State

	cfg    Config
	now    func() time.Time
	logger *zap.Logger
}

// New creates a new Store.
func New(cfg Config, logger *zap.Logger) *Store {
	def := DefaultConfig()
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = def.StaleAfter
	}
	if cfg.LogBufferSize <= 0 {
		cfg.LogBufferSize = def.LogBufferSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		logs:       make([]domain.LogEntry, cfg.LogBufferSize),
		connection: realtime.StateDisconnected,
		cfg:        cfg,
		now:        time.Now,
		logger:     logger.Named("state"),
	}
}

// SetStatus records the latest bot status.
func (s *Store) SetStatus(status domain.BotStatus, source Source) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.status = &status
	s.statusSource = source
	s.statusAt = s.now()
}

// SetStats records the latest trading statistics.
func (s *Store) SetStats(stats domain.TradingStats, source Source) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stats = &stats
	s.statsSource = source
	s.statsAt = s.now()
}

// AppendLog adds an entry, evicting the oldest once the buffer is full.
func (s *Store) AppendLog(entry domain.LogEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	size := len(s.logs)
	s.logs[(s.logHead+s.logLen)%size] = entry
	if s.logLen < size {
		s.logLen++
	} else {
		s.logHead = (s.logHead + 1) % size
	}
}

// SetConnection records the realtime channel state. It matches the
// realtime.WithStateObserver signature.
func (s *Store) SetConnection(state realtime.State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connection = state
}

// Status returns the latest status, or nil if none has been recorded.
func (s *Store) Status() *domain.BotStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.status == nil {
		return nil
	}
	status := *s.status
	return &status
}

// Stats returns the latest statistics, or nil if none have been recorded.
func (s *Store) Stats() *domain.TradingStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stats == nil {
		return nil
	}
	stats := *s.stats
	return &stats
}

// Logs returns the buffered entries, oldest first.
func (s *Store) Logs() []domain.LogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.logsLocked()
}

func (s *Store) logsLocked() []domain.LogEntry {
	out := make([]domain.LogEntry, 0, s.logLen)
	for i := 0; i < s.logLen; i++ {
		out = append(out, s.logs[(s.logHead+i)%len(s.logs)])
	}
	return out
}

// Snapshot returns a copy of everything the store holds. The snapshot is
// stale when neither status nor stats were updated within StaleAfter.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		Logs:       s.logsLocked(),
		Connection: s.connection.String(),
	}

	var newest time.Time
	if s.status != nil {
		status := *s.status
		at := s.statusAt
		snap.Status = &status
		snap.StatusSource = s.statusSource
		snap.StatusUpdatedAt = &at
		newest = at
	}
	if s.stats != nil {
		stats := *s.stats
		at := s.statsAt
		snap.Stats = &stats
		snap.StatsSource = s.statsSource
		snap.StatsUpdatedAt = &at
		if at.After(newest) {
			newest = at
		}
	}
	snap.Stale = newest.IsZero() || s.now().Sub(newest) > s.cfg.StaleAfter

	return snap
}

// Attach subscribes the store to the status, stats and log events of ch.
// Attaching the same store twice does not duplicate deliveries.
func (s *Store) Attach(ch *realtime.Channel) []*realtime.Subscription {
	return []*realtime.Subscription{
		ch.Subscribe(domain.EventStatusUpdate, (*statusHandler)(s)),
		ch.Subscribe(domain.EventStatsUpdate, (*statsHandler)(s)),
		ch.Subscribe(domain.EventLog, (*logHandler)(s)),
	}
}

type statusHandler Store

func (h *statusHandler) Handle(data json.RawMessage) error {
	var status domain.BotStatus
	if err := json.Unmarshal(data, &status); err != nil {
		return fmt.Errorf("decode %s: %w", domain.EventStatusUpdate, err)
	}
	(*Store)(h).SetStatus(status, SourceRealtime)
	return nil
}

type statsHandler Store

func (h *statsHandler) Handle(data json.RawMessage) error {
	var stats domain.TradingStats
	if err := json.Unmarshal(data, &stats); err != nil {
		return fmt.Errorf("decode %s: %w", domain.EventStatsUpdate, err)
	}
	(*Store)(h).SetStats(stats, SourceRealtime)
	return nil
}

type logHandler Store

func (h *logHandler) Handle(data json.RawMessage) error {
	var entry domain.LogEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return fmt.Errorf("decode %s: %w", domain.EventLog, err)
	}
	(*Store)(h).AppendLog(entry)
	return nil
}
