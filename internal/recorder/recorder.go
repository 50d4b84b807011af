// Package recorder persists closed trades seen on the realtime channel.
package recorder

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/saltfish/tradebot-dash/go-backend/internal/domain"
	"github.com/saltfish/tradebot-dash/go-backend/internal/realtime"
)

// TradeStore persists trades idempotently.
type TradeStore interface {
	Upsert(ctx context.Context, trades []domain.Trade) (int, error)
}

// Config holds recorder configuration.
type Config struct {
	QueueSize    int           // Pending batches before new ones are dropped (default: 64)
	WriteTimeout time.Duration // Per-batch write timeout (default: 10s)
	MaxSeen      int           // Keys remembered before the dedupe cache is reset (default: 10000)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		QueueSize:    64,
		WriteTimeout: 10 * time.Second,
		MaxSeen:      10000,
	}
}

// Stats are cumulative recorder counters.
type Stats struct {
	Recorded       int64 `json:"recorded"`
	Skipped        int64 `json:"skipped"`
	DroppedBatches int64 `json:"dropped_batches"`
	WriteErrors    int64 `json:"write_errors"`
}

// Recorder queues trade batches from event handlers and writes them on a
// single worker goroutine, so handlers never block on the database.
type Recorder struct {
	cfg    Config
	store  TradeStore
	logger *zap.Logger

	queue chan []domain.Trade
	seen  map[string]struct{} // owned by the worker

	recorded    atomic.Int64
	skipped     atomic.Int64
	dropped     atomic.Int64
	writeErrors atomic.Int64

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Recorder.
func New(cfg Config, store TradeStore, logger *zap.Logger) *Recorder {
	def := DefaultConfig()
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.MaxSeen <= 0 {
		cfg.MaxSeen = def.MaxSeen
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{
		cfg:    cfg,
		store:  store,
		logger: logger.Named("recorder"),
		queue:  make(chan []domain.Trade, cfg.QueueSize),
		seen:   make(map[string]struct{}),
	}
}

// Start launches the writer goroutine.
func (r *Recorder) Start(ctx context.Context) error {
	ctx, r.cancel = context.WithCancel(ctx)

	r.wg.Add(1)
	go r.run(ctx)

	r.logger.Info("Trade recorder started", zap.Int("queue_size", r.cfg.QueueSize))
	return nil
}

// Stop stops the writer after flushing queued batches, or when ctx expires.
func (r *Recorder) Stop(ctx context.Context) error {
	if r.cancel != nil {
		r.cancel()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("Trade recorder stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Enqueue submits trades for recording without blocking. It returns false
// when the queue is full and the batch was dropped.
func (r *Recorder) Enqueue(trades []domain.Trade) bool {
	if len(trades) == 0 {
		return true
	}
	select {
	case r.queue <- trades:
		return true
	default:
		r.dropped.Add(1)
		r.logger.Warn("Trade queue full, dropping batch", zap.Int("trades", len(trades)))
		return false
	}
}

// Stats returns a copy of the recorder counters.
func (r *Recorder) Stats() Stats {
	return Stats{
		Recorded:       r.recorded.Load(),
		Skipped:        r.skipped.Load(),
		DroppedBatches: r.dropped.Load(),
		WriteErrors:    r.writeErrors.Load(),
	}
}

// Attach subscribes the recorder to stats_update and trade events on ch.
func (r *Recorder) Attach(ch *realtime.Channel) []*realtime.Subscription {
	return []*realtime.Subscription{
		ch.Subscribe(domain.EventStatsUpdate, (*statsHandler)(r)),
		ch.Subscribe(domain.EventTrade, (*tradeHandler)(r)),
	}
}

func (r *Recorder) run(ctx context.Context) {
	defer r.wg.Done()

	for {
		select {
		case trades := <-r.queue:
			r.write(trades)
		case <-ctx.Done():
			r.drain()
			return
		}
	}
}

func (r *Recorder) drain() {
	for {
		select {
		case trades := <-r.queue:
			r.write(trades)
		default:
			return
		}
	}
}

func (r *Recorder) write(trades []domain.Trade) {
	fresh := make([]domain.Trade, 0, len(trades))
	keys := make([]string, 0, len(trades))
	for _, t := range trades {
		key := t.Key()
		if _, ok := r.seen[key]; ok {
			continue
		}
		fresh = append(fresh, t)
		keys = append(keys, key)
	}
	if len(fresh) == 0 {
		return
	}

	// Writes use their own context so queued batches still flush during shutdown.
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.WriteTimeout)
	defer cancel()

	n, err := r.store.Upsert(ctx, fresh)
	if err != nil {
		r.writeErrors.Add(1)
		r.logger.Error("Failed to record trades",
			zap.Int("trades", len(fresh)),
			zap.Error(err),
		)
		return
	}

	if len(r.seen)+len(keys) > r.cfg.MaxSeen {
		r.seen = make(map[string]struct{})
	}
	for _, k := range keys {
		r.seen[k] = struct{}{}
	}

	r.recorded.Add(int64(n))
	r.skipped.Add(int64(len(fresh) - n))
	if n > 0 {
		r.logger.Debug("Recorded trades", zap.Int("inserted", n))
	}
}

type statsHandler Recorder

func (h *statsHandler) Handle(data json.RawMessage) error {
	var stats domain.TradingStats
	if err := json.Unmarshal(data, &stats); err != nil {
		return fmt.Errorf("decode %s: %w", domain.EventStatsUpdate, err)
	}
	(*Recorder)(h).Enqueue(stats.Trades)
	return nil
}

type tradeHandler Recorder

func (h *tradeHandler) Handle(data json.RawMessage) error {
	var trade domain.Trade
	if err := json.Unmarshal(data, &trade); err != nil {
		return fmt.Errorf("decode %s: %w", domain.EventTrade, err)
	}
	(*Recorder)(h).Enqueue([]domain.Trade{trade})
	return nil
}
