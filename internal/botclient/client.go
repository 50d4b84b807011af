// Package botclient is the REST client for the trading bot's HTTP API.
package botclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/saltfish/tradebot-dash/go-backend/internal/domain"
)

// Bot API paths.
const (
	PathStatus     = "/api/bot/status"
	PathStart      = "/api/bot/start"
	PathStop       = "/api/bot/stop"
	PathStats      = "/api/stats"
	PathStatsReset = "/api/stats/reset"
	PathConfig     = "/api/config"
)

// APIError is returned for any non-2xx response from the bot.
type APIError struct {
	StatusCode int
	Status     string
	Body       []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API Error: %d %s", e.StatusCode, e.Status)
}

// Unwrap maps server failures to ErrBotUnavailable and client failures to
// ErrBotRejected.
func (e *APIError) Unwrap() error {
	if e.StatusCode >= 500 {
		return domain.ErrBotUnavailable
	}
	return domain.ErrBotRejected
}

// Config holds client configuration.
type Config struct {
	BaseURL              string
	Timeout              time.Duration // Per-request timeout (default: 10s)
	MaxRequestsPerSecond float64       // 0 disables client-side rate limiting
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = resty.NewWithClient(hc)
	}
}

// WithTracer sets the tracer used for request spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(c *Client) {
		c.tracer = tracer
	}
}

// Client talks to one bot instance.
type Client struct {
	http    *resty.Client
	limiter *rate.Limiter
	tracer  trace.Tracer
	logger  *zap.Logger
}

// New creates a new Client.
func New(cfg Config, logger *zap.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	c := &Client{
		http:   resty.New(),
		tracer: otel.Tracer("botclient"),
		logger: logger.Named("botclient"),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.http.
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	if cfg.MaxRequestsPerSecond > 0 {
		burst := int(cfg.MaxRequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.MaxRequestsPerSecond), burst)
	}

	return c
}

// GetBotStatus fetches the current bot state.
func (c *Client) GetBotStatus(ctx context.Context) (*domain.BotStatus, error) {
	var status domain.BotStatus
	if err := c.do(ctx, http.MethodGet, PathStatus, nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// StartBot asks the bot to start trading.
func (c *Client) StartBot(ctx context.Context) (*domain.CommandResult, error) {
	return c.command(ctx, PathStart, nil)
}

// StopBot asks the bot to stop trading.
func (c *Client) StopBot(ctx context.Context) (*domain.CommandResult, error) {
	return c.command(ctx, PathStop, nil)
}

// GetStats fetches trading statistics.
func (c *Client) GetStats(ctx context.Context) (*domain.TradingStats, error) {
	var stats domain.TradingStats
	if err := c.do(ctx, http.MethodGet, PathStats, nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// ResetStats clears the bot's trading statistics.
func (c *Client) ResetStats(ctx context.Context) (*domain.CommandResult, error) {
	return c.command(ctx, PathStatsReset, nil)
}

// GetConfig fetches the bot's runtime configuration.
func (c *Client) GetConfig(ctx context.Context) (*domain.BotConfig, error) {
	var cfg domain.BotConfig
	if err := c.do(ctx, http.MethodGet, PathConfig, nil, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// UpdateConfig validates cfg and replaces the bot's runtime configuration.
func (c *Client) UpdateConfig(ctx context.Context, cfg *domain.BotConfig) (*domain.CommandResult, error) {
	if cfg == nil {
		return nil, domain.ValidationError{Field: "config", Message: "is required"}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var result domain.CommandResult
	if err := c.do(ctx, http.MethodPut, PathConfig, cfg, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) command(ctx context.Context, path string, body any) (*domain.CommandResult, error) {
	var result domain.CommandResult
	if err := c.do(ctx, http.MethodPost, path, body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// do performs one request and decodes a 2xx JSON body into out.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	ctx, span := c.tracer.Start(ctx, "botclient "+method+" "+path,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", method),
			attribute.String("http.route", path),
		),
	)
	defer span.End()

	err := c.doRequest(ctx, method, path, body, out)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		var apiErr *APIError
		if errors.As(err, &apiErr) {
			span.SetAttributes(attribute.Int("http.status_code", apiErr.StatusCode))
		}
		c.logger.Debug("bot request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Error(err),
		)
	}
	return err
}

func (c *Client) doRequest(ctx context.Context, method, path string, body, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}
	}

	req := c.http.R().SetContext(ctx)
	if body != nil {
		req.SetBody(body)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, errors.Join(domain.ErrBotUnavailable, err))
	}

	if resp.StatusCode() < 200 || resp.StatusCode() > 299 {
		return &APIError{
			StatusCode: resp.StatusCode(),
			Status:     http.StatusText(resp.StatusCode()),
			Body:       resp.Body(),
		}
	}

	if out == nil || len(resp.Body()) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("unmarshal %s response: %w", path, err)
	}
	return nil
}
