// tradebot-dash backend
// Entry point for the dashboard service

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"

	httpapi "github.com/saltfish/tradebot-dash/go-backend/internal/api/http"
	"github.com/saltfish/tradebot-dash/go-backend/internal/botclient"
	"github.com/saltfish/tradebot-dash/go-backend/internal/config"
	"github.com/saltfish/tradebot-dash/go-backend/internal/db"
	"github.com/saltfish/tradebot-dash/go-backend/internal/db/repository"
	"github.com/saltfish/tradebot-dash/go-backend/internal/events"
	"github.com/saltfish/tradebot-dash/go-backend/internal/poller"
	"github.com/saltfish/tradebot-dash/go-backend/internal/realtime"
	"github.com/saltfish/tradebot-dash/go-backend/internal/recorder"
	"github.com/saltfish/tradebot-dash/go-backend/internal/scheduler"
	"github.com/saltfish/tradebot-dash/go-backend/internal/state"
	"github.com/saltfish/tradebot-dash/go-backend/web"
)

// Build-time variables (set via ldflags)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

const tracerName = "github.com/saltfish/tradebot-dash/go-backend"

func main() {
	configPath := flag.String("config", "", "Path to configuration file (YAML)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := initLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting tradebot-dash",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("environment", cfg.Env),
		zap.String("bot_base_url", cfg.Bot.BaseURL),
		zap.String("log_level", cfg.Logging.Level),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("Application error", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("tradebot-dash stopped")
}

// run initializes and runs all application components.
func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	tracer := otel.Tracer(tracerName)
	httpapi.Version = Version

	// 1. Bot REST client
	bot := botclient.New(botclient.Config{
		BaseURL:              cfg.Bot.BaseURL,
		Timeout:              config.Duration(cfg.Bot.RequestTimeout, 10*time.Second),
		MaxRequestsPerSecond: cfg.Bot.MaxRequestsPerSecond,
	}, logger, botclient.WithTracer(tracer))

	// 2. Optional PostgreSQL
	var (
		pool  *db.Pool
		repos *repository.Repositories
	)
	if cfg.Database.Enabled {
		logger.Info("Connecting to PostgreSQL...")
		p, err := db.NewPool(ctx, &cfg.Database, logger)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer p.Close()

		if err := p.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
		pool = p
		repos = repository.NewRepositories(pool)
		logger.Info("Connected to PostgreSQL")
	} else {
		logger.Info("Database disabled, trade history will not be recorded")
	}

	// 3. Baseline state and the browser hub
	store := state.New(state.Config{
		StaleAfter:    config.Duration(cfg.State.StaleAfter, 30*time.Second),
		LogBufferSize: cfg.State.LogBufferSize,
	}, logger)

	hub := httpapi.NewHub(logger)
	go hub.Run()
	defer hub.Shutdown()

	// 4. Optional RabbitMQ relay
	var (
		publisher events.Publisher = events.NewNoOpPublisher()
		relay     *events.Relay
	)
	if cfg.RabbitMQ.URL != "" {
		logger.Info("Connecting to RabbitMQ...")
		p, err := events.NewRabbitMQPublisher(&cfg.RabbitMQ, logger)
		if err != nil {
			logger.Warn("Failed to connect to RabbitMQ, events will not be relayed", zap.Error(err))
		} else {
			publisher = p
			relay = events.NewRelay(publisher, 256, logger)
			logger.Info("Connected to RabbitMQ")
		}
	}
	defer publisher.Close()

	// 5. Realtime channel
	wsURL, err := realtime.WebSocketURL(cfg.Bot.BaseURL, cfg.Bot.WSPath)
	if err != nil {
		return fmt.Errorf("failed to derive websocket url: %w", err)
	}

	opts := []realtime.Option{
		realtime.WithStateObserver(store.SetConnection),
		realtime.WithStateObserver(hub.ObserveState),
		realtime.WithEnvelopeObserver(hub.Observe),
		realtime.WithTracer(tracer),
	}
	if relay != nil {
		opts = append(opts, realtime.WithEnvelopeObserver(relay.Observe))
	}

	channel := realtime.New(realtime.Config{
		URL:              wsURL,
		HandshakeTimeout: config.Duration(cfg.Realtime.HandshakeTimeout, 10*time.Second),
		WriteTimeout:     config.Duration(cfg.Realtime.WriteTimeout, 5*time.Second),
		PongWait:         config.Duration(cfg.Realtime.PongWait, 60*time.Second),
		ReconnectPolicy:  cfg.Realtime.ReconnectPolicy,
		ReconnectDelay:   config.Duration(cfg.Realtime.ReconnectDelay, 5*time.Second),
		MaxReconnectWait: config.Duration(cfg.Realtime.MaxReconnectWait, 60*time.Second),
	}, logger, opts...)

	store.Attach(channel)

	// 6. Trade recorder
	var rec *recorder.Recorder
	if repos != nil {
		rec = recorder.New(recorder.DefaultConfig(), repos.Trade, logger)
		if err := rec.Start(ctx); err != nil {
			return fmt.Errorf("failed to start recorder: %w", err)
		}
		rec.Attach(channel)
	}

	if relay != nil {
		if err := relay.Start(ctx); err != nil {
			return fmt.Errorf("failed to start relay: %w", err)
		}
	}

	// 7. Poller
	var poll *poller.Poller
	if cfg.Poller.Enabled {
		poll = poller.New(poller.Config{
			StatusInterval: config.Duration(cfg.Poller.StatusInterval, 2*time.Second),
			StatsInterval:  config.Duration(cfg.Poller.StatsInterval, 5*time.Second),
			Timeout:        config.Duration(cfg.Bot.RequestTimeout, 10*time.Second),
		}, bot, store, logger)
		if err := poll.Start(ctx); err != nil {
			return fmt.Errorf("failed to start poller: %w", err)
		}
	}

	// 8. Scheduler
	var snapshots scheduler.SnapshotStore
	if repos != nil {
		snapshots = repos.Snapshot
	}
	sched, err := scheduler.New(scheduler.Config{
		SnapshotCron: cfg.Scheduler.SnapshotCron,
		ResetCron:    cfg.Scheduler.ResetCron,
	}, bot, snapshots, logger)
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	// 9. Command subscriber
	var subscriber events.Subscriber = events.NewNoOpSubscriber()
	if cfg.RabbitMQ.URL != "" {
		s, err := events.NewRabbitMQSubscriber(&cfg.RabbitMQ, cfg.RabbitMQ.CommandQueue, logger)
		if err != nil {
			logger.Warn("Failed to create RabbitMQ subscriber, bus commands will not be processed", zap.Error(err))
		} else {
			subscriber = s
		}
	}
	defer subscriber.Close()

	commands := events.NewCommandHandler(bot, logger)
	if err := subscriber.Subscribe(ctx, events.CommandRoutingKeys, commands.Handle); err != nil {
		logger.Warn("Failed to subscribe to bus commands", zap.Error(err))
	}

	// 10. HTTP server
	static, err := web.GetFileSystem()
	if err != nil {
		return fmt.Errorf("failed to load static files: %w", err)
	}

	deps := httpapi.Dependencies{
		Handler:   httpapi.NewHandler(bot, store, repos, logger),
		Hub:       hub,
		Channel:   channel,
		Poller:    poll,
		Recorder:  rec,
		Relay:     relay,
		Scheduler: sched,
		Static:    static,
	}
	if pool != nil {
		deps.Pool = pool
	}

	httpAddr := fmt.Sprintf(":%d", cfg.Server.HTTPPort)
	httpServer := httpapi.NewServer(httpAddr, deps, logger)

	// Open the push channel last so early events find every consumer attached.
	channel.Connect()

	logger.Info("tradebot-dash initialized and running",
		zap.String("http_address", httpAddr),
		zap.String("ws_url", wsURL),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := httpServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down tradebot-dash...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(),
			config.Duration(cfg.Server.ShutdownTimeout, 30*time.Second))
		defer cancel()

		return shutdown(shutdownCtx, logger, httpServer, channel, poll, rec, relay, sched)
	})

	return g.Wait()
}

// shutdown stops components in reverse dependency order: inputs first, then
// the consumers that drain them.
func shutdown(
	ctx context.Context,
	logger *zap.Logger,
	httpServer *httpapi.Server,
	channel *realtime.Channel,
	poll *poller.Poller,
	rec *recorder.Recorder,
	relay *events.Relay,
	sched *scheduler.Scheduler,
) error {
	var errs []error

	if err := httpServer.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http server: %w", err))
	}
	logger.Info("HTTP server stopped")

	if err := channel.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("realtime channel: %w", err))
	}
	logger.Info("Realtime channel closed")

	if poll != nil {
		if err := poll.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("poller: %w", err))
		}
	}

	if err := sched.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("scheduler: %w", err))
	}

	if rec != nil {
		if err := rec.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("recorder: %w", err))
		}
	}

	if relay != nil {
		if err := relay.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("relay: %w", err))
		}
	}

	return errors.Join(errs...)
}

// initLogger initializes the zap logger based on configuration. File output
// is rotated with lumberjack.
func initLogger(cfg *config.Config) (*zap.Logger, error) {
	var zapCfg zap.Config

	if cfg.Logging.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
	}

	// Set log level
	switch cfg.Logging.Level {
	case "debug":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		zapCfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	switch cfg.Logging.OutputPath {
	case "", "stdout", "stderr":
		if cfg.Logging.OutputPath != "" {
			zapCfg.OutputPaths = []string{cfg.Logging.OutputPath}
		}
		return zapCfg.Build()
	}

	var encoder zapcore.Encoder
	if cfg.Logging.Format == "json" {
		encoder = zapcore.NewJSONEncoder(zapCfg.EncoderConfig)
	} else {
		encoder = zapcore.NewConsoleEncoder(zapCfg.EncoderConfig)
	}

	writer := zapcore.AddSync(&lumberjack.Logger{
		Filename:   cfg.Logging.OutputPath,
		MaxSize:    cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAge:     cfg.Logging.MaxAgeDays,
		Compress:   true,
	})

	core := zapcore.NewCore(encoder, writer, zapCfg.Level)
	return zap.New(core, zap.AddCaller()), nil
}
