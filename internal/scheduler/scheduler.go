// Package scheduler runs the cron-driven stats snapshot and reset jobs.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/saltfish/tradebot-dash/go-backend/internal/config"
	"github.com/saltfish/tradebot-dash/go-backend/internal/domain"
)

// Job names.
const (
	JobSnapshot = "stats_snapshot"
	JobReset    = "stats_reset"
)

// BotAPI is the subset of the bot client the jobs need.
type BotAPI interface {
	GetStats(ctx context.Context) (*domain.TradingStats, error)
	ResetStats(ctx context.Context) (*domain.CommandResult, error)
}

// SnapshotStore persists stats snapshots.
type SnapshotStore interface {
	Create(ctx context.Context, snapshot *domain.StatsSnapshot) error
}

// Config holds scheduler configuration. Empty cron specs disable the job.
type Config struct {
	SnapshotCron string
	ResetCron    string
	PollInterval time.Duration // How often due jobs are checked (default: 30s)
	JobTimeout   time.Duration // Per-run timeout (default: 1m)
}

// JobInfo describes a scheduled job.
type JobInfo struct {
	Name    string     `json:"name"`
	Spec    string     `json:"spec"`
	NextRun time.Time  `json:"next_run"`
	LastRun *time.Time `json:"last_run,omitempty"`
	LastErr string     `json:"last_error,omitempty"`
}

type job struct {
	name     string
	spec     string
	schedule cron.Schedule
	run      func(ctx context.Context) error

	nextRun time.Time
	lastRun *time.Time
	lastErr error
}

// Scheduler checks cron schedules on a ticker and runs due jobs.
type Scheduler struct {
	cfg       Config
	bot       BotAPI
	snapshots SnapshotStore
	logger    *zap.Logger

	mu   sync.Mutex
	jobs []*job
	now  func() time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Scheduler. The snapshot job is only registered when
// snapshots is non-nil.
func New(cfg Config, bot BotAPI, snapshots SnapshotStore, logger *zap.Logger) (*Scheduler, error) {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Scheduler{
		cfg:       cfg,
		bot:       bot,
		snapshots: snapshots,
		logger:    logger.Named("scheduler"),
		now:       time.Now,
	}

	if cfg.SnapshotCron != "" && snapshots != nil {
		if err := s.add(JobSnapshot, cfg.SnapshotCron, s.RunSnapshot); err != nil {
			return nil, err
		}
	}
	if cfg.ResetCron != "" {
		if err := s.add(JobReset, cfg.ResetCron, s.RunReset); err != nil {
			return nil, err
		}
	}

	return s, nil
}

func (s *Scheduler) add(name, spec string, run func(context.Context) error) error {
	schedule, err := config.CronParser.Parse(spec)
	if err != nil {
		return fmt.Errorf("invalid cron expression for %s: %w", name, err)
	}
	s.jobs = append(s.jobs, &job{
		name:     name,
		spec:     spec,
		schedule: schedule,
		run:      run,
		nextRun:  schedule.Next(s.now()),
	})
	return nil
}

// Start starts the scheduler loop.
func (s *Scheduler) Start(ctx context.Context) error {
	if len(s.jobs) == 0 {
		s.logger.Info("No scheduled jobs configured")
		return nil
	}

	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go s.loop(ctx)

	for _, j := range s.Jobs() {
		s.logger.Info("Scheduled job",
			zap.String("job", j.Name),
			zap.String("cron_expression", j.Spec),
			zap.Time("next_run", j.NextRun),
		)
	}
	return nil
}

// Stop gracefully stops the scheduler, waiting for a running job to finish.
func (s *Scheduler) Stop() error {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("Scheduler stopped")
	return nil
}

// Jobs returns the registered jobs.
func (s *Scheduler) Jobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]JobInfo, 0, len(s.jobs))
	for _, j := range s.jobs {
		info := JobInfo{Name: j.name, Spec: j.spec, NextRun: j.nextRun, LastRun: j.lastRun}
		if j.lastErr != nil {
			info.LastErr = j.lastErr.Error()
		}
		out = append(out, info)
	}
	return out
}

// RunSnapshot fetches the current stats and stores a snapshot.
func (s *Scheduler) RunSnapshot(ctx context.Context) error {
	if s.snapshots == nil {
		return errors.New("snapshot store not configured")
	}

	stats, err := s.bot.GetStats(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch stats: %w", err)
	}

	snapshot := domain.NewStatsSnapshot(*stats, "rest")
	if err := s.snapshots.Create(ctx, snapshot); err != nil {
		return err
	}

	s.logger.Info("Stored stats snapshot",
		zap.String("snapshot_id", snapshot.ID.String()),
		zap.Int("total_trades", snapshot.Stats.TotalTrades),
		zap.String("net_profit", snapshot.Stats.NetProfit.String()),
	)
	return nil
}

// RunReset asks the bot to clear its statistics.
func (s *Scheduler) RunReset(ctx context.Context) error {
	res, err := s.bot.ResetStats(ctx)
	if err != nil {
		return fmt.Errorf("failed to reset stats: %w", err)
	}
	if !res.Success {
		return fmt.Errorf("%w: %s", domain.ErrBotRejected, res.Message)
	}
	s.logger.Info("Reset bot stats", zap.String("message", res.Message))
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick runs every job whose next run is due, then reschedules it.
func (s *Scheduler) tick(ctx context.Context) {
	now := s.now()

	s.mu.Lock()
	var due []*job
	for _, j := range s.jobs {
		if !j.nextRun.After(now) {
			due = append(due, j)
			j.nextRun = j.schedule.Next(now)
		}
	}
	s.mu.Unlock()

	for _, j := range due {
		if ctx.Err() != nil {
			return
		}
		s.execute(ctx, j, now)
	}
}

func (s *Scheduler) execute(ctx context.Context, j *job, now time.Time) {
	runCtx, cancel := context.WithTimeout(ctx, s.cfg.JobTimeout)
	defer cancel()

	s.logger.Debug("Running scheduled job", zap.String("job", j.name))
	err := j.run(runCtx)
	if err != nil {
		s.logger.Error("Scheduled job failed",
			zap.String("job", j.name),
			zap.Error(err),
		)
	}

	s.mu.Lock()
	j.lastRun = &now
	j.lastErr = err
	s.mu.Unlock()
}
