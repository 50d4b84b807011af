package events

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/saltfish/tradebot-dash/go-backend/internal/realtime"
)

// RelayStats are cumulative relay counters.
type RelayStats struct {
	Published int64 `json:"published"`
	Failed    int64 `json:"failed"`
	Dropped   int64 `json:"dropped"`
}

// Relay forwards envelopes from the realtime channel to a Publisher on its
// own goroutine. Observe never blocks the dispatcher; envelopes arriving
// while the buffer is full are dropped.
type Relay struct {
	publisher Publisher
	queue     chan realtime.Envelope
	timeout   time.Duration
	logger    *zap.Logger

	published atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRelay creates a Relay with the given buffer size.
func NewRelay(publisher Publisher, bufferSize int, logger *zap.Logger) *Relay {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Relay{
		publisher: publisher,
		queue:     make(chan realtime.Envelope, bufferSize),
		timeout:   5 * time.Second,
		logger:    logger.Named("relay"),
	}
}

// Observe queues env for publishing. It matches the
// realtime.WithEnvelopeObserver signature.
func (r *Relay) Observe(env realtime.Envelope) {
	select {
	case r.queue <- env:
	default:
		r.dropped.Add(1)
		r.logger.Warn("Relay buffer full, dropping event", zap.String("event", env.Event))
	}
}

// Start launches the publishing goroutine.
func (r *Relay) Start(ctx context.Context) error {
	ctx, r.cancel = context.WithCancel(ctx)

	r.wg.Add(1)
	go r.run(ctx)
	return nil
}

// Stop stops publishing after the buffered envelopes are flushed, or when
// ctx expires.
func (r *Relay) Stop(ctx context.Context) error {
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
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns a copy of the relay counters.
func (r *Relay) Stats() RelayStats {
	return RelayStats{
		Published: r.published.Load(),
		Failed:    r.failed.Load(),
		Dropped:   r.dropped.Load(),
	}
}

func (r *Relay) run(ctx context.Context) {
	defer r.wg.Done()

	for {
		select {
		case env := <-r.queue:
			r.publish(env)
		case <-ctx.Done():
			for {
				select {
				case env := <-r.queue:
					r.publish(env)
				default:
					return
				}
			}
		}
	}
}

func (r *Relay) publish(env realtime.Envelope) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	if err := r.publisher.PublishEnvelope(ctx, env); err != nil {
		r.failed.Add(1)
		r.logger.Warn("Failed to relay event",
			zap.String("event", env.Event),
			zap.Error(err),
		)
		return
	}
	r.published.Add(1)
}
