package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/quickpoll/internal/adapter/metrics"
	"github.com/pscheid92/quickpoll/internal/domain"
)

// DefaultSendTimeout bounds a single send when the caller configures none.
const DefaultSendTimeout = 5 * time.Second

// ErrSerialization is returned by Broadcast when an event cannot be encoded.
var ErrSerialization = errors.New("event serialization failed")

type Broadcaster struct {
	registry    *Registry
	metrics     *metrics.WebSocketMetrics
	clock       clockwork.Clock
	sendTimeout time.Duration
}

func NewBroadcaster(registry *Registry, m *metrics.WebSocketMetrics, clock clockwork.Clock, sendTimeout time.Duration) *Broadcaster {
	if sendTimeout <= 0 {
		sendTimeout = DefaultSendTimeout
	}
	return &Broadcaster{
		registry:    registry,
		metrics:     m,
		clock:       clock,
		sendTimeout: sendTimeout,
	}
}

// OnConnect registers a freshly upgraded client.
func (b *Broadcaster) OnConnect(ch Channel) {
	if b.registry.Add(ch) {
		b.metrics.ActiveConnections.Inc()
	}
}

// OnDisconnect unregisters a client. Calling it for an already evicted
// client is a no-op.
func (b *Broadcaster) OnDisconnect(ch Channel) {
	if b.registry.Remove(ch) {
		b.metrics.ActiveConnections.Dec()
	}
}

func (b *Broadcaster) ClientCount() int {
	return b.registry.Len()
}

// Broadcast encodes event once and delivers it to every client registered at
// the time of the call. Per-client failures evict that client and are never
// returned; the only error is ErrSerialization. Sends are detached from ctx
// cancellation and bounded by the send timeout instead.
func (b *Broadcaster) Broadcast(ctx context.Context, event domain.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		b.metrics.SerializationFailures.Inc()
		return fmt.Errorf("%w: %s: %w", ErrSerialization, event.EventType(), err)
	}

	start := b.clock.Now()
	channels := b.registry.Snapshot()
	sendCtx := context.WithoutCancel(ctx)

	var wg sync.WaitGroup
	for _, ch := range channels {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.deliver(sendCtx, ch, event.EventType(), payload)
		}()
	}
	wg.Wait()

	b.metrics.EventsBroadcast.WithLabelValues(string(event.EventType())).Inc()
	b.metrics.BroadcastDuration.Observe(b.clock.Since(start).Seconds())

	slog.DebugContext(ctx, "Event broadcast",
		"event_type", event.EventType(),
		"poll_id", event.TargetPollID(),
		"recipients", len(channels),
	)
	return nil
}

func (b *Broadcaster) deliver(ctx context.Context, ch Channel, eventType domain.EventType, payload []byte) {
	ctx, cancel := context.WithTimeout(ctx, b.sendTimeout)
	defer cancel()

	err := safeSend(ctx, ch, payload)
	if err == nil {
		b.metrics.Deliveries.Inc()
		return
	}

	slog.WarnContext(ctx, "Dropping client after failed send", "event_type", eventType, "error", err)
	b.metrics.SendFailures.Inc()
	b.OnDisconnect(ch)
	if c, ok := ch.(io.Closer); ok {
		_ = c.Close()
	}
}

func safeSend(ctx context.Context, ch Channel, payload []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("send panicked: %v", r)
		}
	}()
	return ch.Send(ctx, payload)
}

// CloseAll evicts and closes every registered client. Used on shutdown.
func (b *Broadcaster) CloseAll() {
	for _, ch := range b.registry.Snapshot() {
		b.OnDisconnect(ch)
		if c, ok := ch.(io.Closer); ok {
			_ = c.Close()
		}
	}
}
