package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var errDisconnected = errors.New("channel disconnected")

// Option customizes a Channel.
type Option func(*Channel)

// WithStateObserver registers fn to be called on every state transition.
func WithStateObserver(fn func(State)) Option {
	return func(c *Channel) {
		c.stateObservers = append(c.stateObservers, fn)
	}
}

// WithEnvelopeObserver registers fn to see every decoded envelope before
// handlers run, regardless of event type.
func WithEnvelopeObserver(fn func(Envelope)) Option {
	return func(c *Channel) {
		c.dispatcher.observers = append(c.dispatcher.observers, fn)
	}
}

// WithBackOff replaces the reconnect policy built from Config.
func WithBackOff(factory func() backoff.BackOff) Option {
	return func(c *Channel) {
		c.newBackOff = factory
	}
}

// WithTracer sets the tracer used for dial spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(c *Channel) {
		c.tracer = tracer
	}
}

// Channel is the realtime synchronization client for one bot endpoint.
// Construct one per connection target and hand it to every consumer.
type Channel struct {
	cfg        Config
	logger     *zap.Logger
	dialer     *websocket.Dialer
	tracer     trace.Tracer
	newBackOff func() backoff.BackOff

	registry       *registry
	dispatcher     *dispatcher
	stateObservers []func(State)
	stats          counters

	// The live transport is owned by the supervisor goroutine; Disconnect
	// only detaches and closes it.
	mu     sync.Mutex
	state  State
	conn   *websocket.Conn
	cancel context.CancelFunc
	done   chan struct{}

	writeMu sync.Mutex
}

// New creates a disconnected Channel.
func New(cfg Config, logger *zap.Logger, opts ...Option) *Channel {
	if logger == nil {
		logger = zap.NewNop()
	}

	defaults := DefaultConfig()
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaults.HandshakeTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaults.WriteTimeout
	}
	if cfg.ReconnectPolicy == "" {
		cfg.ReconnectPolicy = defaults.ReconnectPolicy
	}

	c := &Channel{
		cfg:      cfg,
		logger:   logger.With(zap.String("component", "realtime"), zap.String("url", cfg.URL)),
		dialer:   &websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout},
		tracer:   otel.Tracer("github.com/saltfish/tradebot-dash/go-backend/internal/realtime"),
		registry: newRegistry(),
		state:    StateDisconnected,
	}
	c.dispatcher = &dispatcher{
		registry: c.registry,
		stats:    &c.stats,
		logger:   c.logger,
		live:     c.running,
	}
	c.newBackOff = func() backoff.BackOff { return newBackOff(c.cfg) }

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Connect starts the channel. It returns immediately; connection failures are
// retried in the background until Disconnect. Calling Connect on a running
// channel is a no-op.
func (c *Channel) Connect() {
	c.mu.Lock()
	if c.cancel != nil {
		c.mu.Unlock()
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.cancel = cancel
	c.done = done
	c.mu.Unlock()

	c.logger.Info("Starting realtime channel",
		zap.String("reconnect_policy", c.cfg.ReconnectPolicy),
		zap.Duration("reconnect_delay", c.cfg.ReconnectDelay),
	)

	go c.run(ctx, done)
}

// Disconnect stops retrying and closes the live transport. No handler
// invocation begins after it returns; one already running when it is called
// is allowed to finish. It is safe to call from any state, more than once,
// and from inside a handler.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	cancel := c.cancel
	conn := c.conn
	prev := c.state
	c.cancel = nil
	c.conn = nil
	c.state = StateDisconnected
	// Cancelled under mu so running sees either the live run or the
	// cancellation, never a stale answer.
	if cancel != nil {
		cancel()
	}
	c.mu.Unlock()

	if cancel == nil {
		return
	}

	if conn != nil {
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		_ = conn.Close()
	}

	if prev != StateDisconnected {
		c.notifyState(StateDisconnected)
	}
	c.logger.Info("Realtime channel disconnected", zap.String("previous_state", prev.String()))
}

// Close disconnects and waits for the background goroutine to exit.
// Do not call it from inside a handler; use Disconnect there.
func (c *Channel) Close(ctx context.Context) error {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()

	c.Disconnect()

	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// running reports whether the run owning ctx has not been disconnected.
// The dispatcher calls it before every callback.
func (c *Channel) running(ctx context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ctx.Err() == nil
}

// State returns the current lifecycle state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Subscribe registers h for eventType. Subscribing the same comparable
// handler twice returns the existing subscription.
func (c *Channel) Subscribe(eventType string, h Handler) *Subscription {
	return c.registry.subscribe(eventType, h)
}

// Unsubscribe removes sub from eventType. Unknown subscriptions are ignored.
func (c *Channel) Unsubscribe(eventType string, sub *Subscription) {
	c.registry.unsubscribe(eventType, sub)
}

// UnsubscribeHandler removes a comparable handler from eventType.
func (c *Channel) UnsubscribeHandler(eventType string, h Handler) {
	c.registry.unsubscribeHandler(eventType, h)
}

// Lookup returns the handlers for eventType in subscription order.
// It returns an empty slice when there are none.
func (c *Channel) Lookup(eventType string) []Handler {
	return c.registry.lookup(eventType)
}

// SubscriptionCount returns the total number of registered subscriptions.
func (c *Channel) SubscriptionCount() int {
	return c.registry.count()
}

// EventTypes returns the event names that currently have subscribers.
func (c *Channel) EventTypes() []string {
	return c.registry.eventTypes()
}

// Send writes payload as a JSON text frame when the channel is open.
// Otherwise the payload is dropped and Send returns false.
func (c *Channel) Send(payload any) bool {
	c.mu.Lock()
	conn := c.conn
	open := c.state == StateOpen
	c.mu.Unlock()

	if !open || conn == nil {
		c.stats.droppedSends.Add(1)
		c.logger.Debug("Dropping outbound message, channel not open")
		return false
	}

	data, err := json.Marshal(payload)
	if err != nil {
		c.stats.droppedSends.Add(1)
		c.logger.Error("Failed to marshal outbound message", zap.Error(err))
		return false
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		c.stats.droppedSends.Add(1)
		c.logger.Warn("Failed to send message", zap.Error(err))
		return false
	}

	c.stats.sent.Add(1)
	return true
}

// Stats returns a snapshot of the channel counters.
func (c *Channel) Stats() Stats {
	return Stats{
		State:         c.State().String(),
		Connects:      c.stats.connects.Load(),
		Reconnects:    c.stats.reconnects.Load(),
		DialFailures:  c.stats.dialFailures.Load(),
		Frames:        c.stats.frames.Load(),
		DecodeErrors:  c.stats.decodeErrors.Load(),
		HandlerErrors: c.stats.handlerErrors.Load(),
		SentMessages:  c.stats.sent.Load(),
		DroppedSends:  c.stats.droppedSends.Load(),
	}
}

// run is the supervisor loop: dial, read until the link fails, wait, repeat.
func (c *Channel) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	b := c.newBackOff()
	b.Reset()

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			c.stats.reconnects.Add(1)
			c.logger.Info("Reconnecting realtime channel", zap.Int("attempt", attempt))
		}

		if !c.transition(ctx, StateConnecting) {
			return
		}

		conn, err := c.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.stats.dialFailures.Add(1)
			c.logger.Warn("Realtime connection failed", zap.Error(err))
		} else {
			b.Reset()
			c.serve(ctx, conn)
			if ctx.Err() != nil {
				return
			}
		}

		delay := nextDelay(b, c.cfg)
		if !c.transition(ctx, StateReconnectPending) {
			return
		}
		c.logger.Info("Scheduling reconnect", zap.Duration("delay", delay))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// transition moves to next unless the channel was disconnected.
func (c *Channel) transition(ctx context.Context, next State) bool {
	c.mu.Lock()
	if ctx.Err() != nil {
		c.mu.Unlock()
		return false
	}
	changed := c.state != next
	c.state = next
	c.mu.Unlock()

	if changed {
		c.notifyState(next)
	}
	return true
}

func (c *Channel) notifyState(s State) {
	for _, fn := range c.stateObservers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					c.logger.Error("State observer panicked", zap.Any("panic", r))
				}
			}()
			fn(s)
		}()
	}
}

// dial performs the handshake and, if the channel is still running,
// installs the new transport and moves to Open.
func (c *Channel) dial(ctx context.Context) (*websocket.Conn, error) {
	ctx, span := c.tracer.Start(ctx, "realtime.dial",
		trace.WithAttributes(attribute.String("ws.url", c.cfg.URL)),
	)
	defer span.End()

	header := http.Header{}
	for k, v := range c.cfg.Header {
		header[k] = v
	}
	header.Set("Accept", "application/json")

	conn, _, err := c.dialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "dial failed")
		return nil, err
	}

	c.mu.Lock()
	if ctx.Err() != nil {
		c.mu.Unlock()
		_ = conn.Close()
		return nil, errDisconnected
	}
	c.conn = conn
	c.state = StateOpen
	c.mu.Unlock()

	c.stats.connects.Add(1)
	c.notifyState(StateOpen)
	c.logger.Info("Realtime channel connected",
		zap.Int("subscriptions", c.registry.count()),
	)

	return conn, nil
}

// serve reads frames until the transport fails or the channel is disconnected.
func (c *Channel) serve(ctx context.Context, conn *websocket.Conn) {
	stop := make(chan struct{})
	var wg sync.WaitGroup

	defer func() {
		close(stop)
		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.mu.Unlock()
		_ = conn.Close()
		wg.Wait()
	}()

	if c.cfg.PongWait > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
		})

		wg.Add(1)
		go func() {
			defer wg.Done()
			c.keepalive(conn, stop)
		}()
	}

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				var closeErr *websocket.CloseError
				if errors.As(err, &closeErr) && (closeErr.Code == websocket.CloseNormalClosure || closeErr.Code == websocket.CloseGoingAway) {
					c.logger.Info("Realtime connection closed", zap.Error(err))
				} else {
					// Pong timeouts and resets land here.
					c.logger.Warn("Realtime connection lost", zap.Error(err))
				}
			}
			return
		}

		if c.cfg.PongWait > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
		}
		c.dispatcher.dispatch(ctx, frame)
	}
}

// keepalive sends ping frames until stop is closed.
func (c *Channel) keepalive(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(c.cfg.pingPeriod())
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			deadline := time.Now().Add(c.cfg.WriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.logger.Debug("Failed to send ping", zap.Error(err))
				return
			}
		}
	}
}
