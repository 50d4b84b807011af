// Package poller periodically fetches bot status and statistics over REST,
// the baseline path that keeps state fresh when the realtime channel is down.
package poller

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/saltfish/tradebot-dash/go-backend/internal/domain"
	"github.com/saltfish/tradebot-dash/go-backend/internal/state"
)

// BotAPI is the subset of the bot client the poller needs.
type BotAPI interface {
	GetBotStatus(ctx context.Context) (*domain.BotStatus, error)
	GetStats(ctx context.Context) (*domain.TradingStats, error)
}

// Sink receives fetched values.
type Sink interface {
	SetStatus(status domain.BotStatus, source state.Source)
	SetStats(stats domain.TradingStats, source state.Source)
}

// Config holds poller configuration.
type Config struct {
	StatusInterval time.Duration // Status poll interval (default: 2s)
	StatsInterval  time.Duration // Stats poll interval (default: 5s)
	Timeout        time.Duration // Per-request timeout (default: 10s)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		StatusInterval: 2 * time.Second,
		StatsInterval:  5 * time.Second,
		Timeout:        10 * time.Second,
	}
}

// Stats are cumulative poll counters.
type Stats struct {
	StatusPolls    int64 `json:"status_polls"`
	StatusFailures int64 `json:"status_failures"`
	StatsPolls     int64 `json:"stats_polls"`
	StatsFailures  int64 `json:"stats_failures"`
}

// Poller runs the status and stats loops on independent tickers.
type Poller struct {
	cfg    Config
	api    BotAPI
	sink   Sink
	logger *zap.Logger

	statusPolls    atomic.Int64
	statusFailures atomic.Int64
	statsPolls     atomic.Int64
	statsFailures  atomic.Int64

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Poller.
func New(cfg Config, api BotAPI, sink Sink, logger *zap.Logger) *Poller {
	def := DefaultConfig()
	if cfg.StatusInterval <= 0 {
		cfg.StatusInterval = def.StatusInterval
	}
	if cfg.StatsInterval <= 0 {
		cfg.StatsInterval = def.StatsInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{
		cfg:    cfg,
		api:    api,
		sink:   sink,
		logger: logger.Named("poller"),
	}
}

// Start begins both polling loops. Each polls once immediately.
func (p *Poller) Start(ctx context.Context) error {
	ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(2)
	go p.loop(ctx, p.cfg.StatusInterval, p.pollStatus)
	go p.loop(ctx, p.cfg.StatsInterval, p.pollStats)

	p.logger.Info("Poller started",
		zap.Duration("status_interval", p.cfg.StatusInterval),
		zap.Duration("stats_interval", p.cfg.StatsInterval),
	)
	return nil
}

// Stop gracefully shuts down the poller.
func (p *Poller) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("Poller stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PollOnce fetches status and stats concurrently and returns the joined
// failures, if any.
func (p *Poller) PollOnce(ctx context.Context) error {
	var g errgroup.Group
	var statusErr, statsErr error
	g.Go(func() error {
		statusErr = p.pollStatus(ctx)
		return nil
	})
	g.Go(func() error {
		statsErr = p.pollStats(ctx)
		return nil
	})
	_ = g.Wait()
	return errors.Join(statusErr, statsErr)
}

// Stats returns a copy of the poll counters.
func (p *Poller) Stats() Stats {
	return Stats{
		StatusPolls:    p.statusPolls.Load(),
		StatusFailures: p.statusFailures.Load(),
		StatsPolls:     p.statsPolls.Load(),
		StatsFailures:  p.statsFailures.Load(),
	}
}

func (p *Poller) loop(ctx context.Context, interval time.Duration, poll func(context.Context) error) {
	defer p.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	_ = poll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = poll(ctx)
		}
	}
}

func (p *Poller) pollStatus(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	p.statusPolls.Add(1)
	status, err := p.api.GetBotStatus(ctx)
	if err != nil {
		p.statusFailures.Add(1)
		if ctx.Err() == nil {
			p.logger.Warn("Failed to fetch bot status", zap.Error(err))
		}
		return err
	}
	p.sink.SetStatus(*status, state.SourceREST)
	return nil
}

func (p *Poller) pollStats(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	p.statsPolls.Add(1)
	stats, err := p.api.GetStats(ctx)
	if err != nil {
		p.statsFailures.Add(1)
		if ctx.Err() == nil {
			p.logger.Warn("Failed to fetch stats", zap.Error(err))
		}
		return err
	}
	p.sink.SetStats(*stats, state.SourceREST)
	return nil
}
