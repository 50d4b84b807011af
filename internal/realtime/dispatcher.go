package realtime

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"
)

var errNotObject = errors.New("frame is not a JSON object")

// counters are shared between the dispatcher and the connection manager.
type counters struct {
	connects      atomic.Int64
	reconnects    atomic.Int64
	dialFailures  atomic.Int64
	frames        atomic.Int64
	decodeErrors  atomic.Int64
	handlerErrors atomic.Int64
	sent          atomic.Int64
	droppedSends  atomic.Int64
}

// dispatcher decodes frames and routes envelopes to registered handlers.
type dispatcher struct {
	registry  *registry
	observers []func(Envelope)
	stats     *counters
	logger    *zap.Logger

	// live, when set, replaces the plain ctx check before each callback. The
	// channel uses it to order invocations against Disconnect.
	live func(ctx context.Context) bool
}

// decodeEnvelope parses one frame. Frames that are not JSON objects are rejected.
func decodeEnvelope(frame []byte) (Envelope, error) {
	var env Envelope

	trimmed := bytes.TrimSpace(frame)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return env, errNotObject
	}
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return env, fmt.Errorf("invalid envelope: %w", err)
	}

	if env.Event == "" {
		env.Event = DefaultEvent
	}
	if len(env.Data) == 0 {
		env.Data = json.RawMessage("null")
	}
	return env, nil
}

func (d *dispatcher) alive(ctx context.Context) bool {
	if d.live != nil {
		return d.live(ctx)
	}
	return ctx.Err() == nil
}

// dispatch handles one inbound frame. It stops before invoking the next
// handler once ctx is cancelled.
func (d *dispatcher) dispatch(ctx context.Context, frame []byte) {
	d.stats.frames.Add(1)

	env, err := decodeEnvelope(frame)
	if err != nil {
		d.stats.decodeErrors.Add(1)
		d.logger.Warn("Dropping malformed frame",
			zap.Error(err),
			zap.Int("size", len(frame)),
		)
		return
	}

	for _, observe := range d.observers {
		if !d.alive(ctx) {
			return
		}
		d.observe(observe, env)
	}

	handlers := d.registry.lookup(env.Event)
	if len(handlers) == 0 {
		d.logger.Debug("No subscribers for event", zap.String("event", env.Event))
		return
	}

	for _, h := range handlers {
		if !d.alive(ctx) {
			return
		}
		d.invoke(env, h)
	}
}

func (d *dispatcher) invoke(env Envelope, h Handler) {
	defer func() {
		if r := recover(); r != nil {
			d.stats.handlerErrors.Add(1)
			d.logger.Error("Event handler panicked",
				zap.String("event", env.Event),
				zap.Any("panic", r),
			)
		}
	}()

	if err := h.Handle(env.Data); err != nil {
		d.stats.handlerErrors.Add(1)
		d.logger.Warn("Event handler failed",
			zap.String("event", env.Event),
			zap.Error(err),
		)
	}
}

func (d *dispatcher) observe(fn func(Envelope), env Envelope) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Envelope observer panicked",
				zap.String("event", env.Event),
				zap.Any("panic", r),
			)
		}
	}()
	fn(env)
}
