package redis

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/quickpoll/internal/adapter/metrics"
	goredis "github.com/redis/go-redis/v9"
)

const backendLabel = "redis"

// MetricsHook records duration and failures of every Redis command.
type MetricsHook struct {
	metrics *metrics.StoreMetrics
	clock   clockwork.Clock
}

var _ goredis.Hook = (*MetricsHook)(nil)

func NewMetricsHook(m *metrics.StoreMetrics, clock clockwork.Clock) *MetricsHook {
	return &MetricsHook{metrics: m, clock: clock}
}

func (h *MetricsHook) DialHook(next goredis.DialHook) goredis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		conn, err := next(ctx, network, addr)
		if err != nil {
			h.metrics.QueryErrors.WithLabelValues(backendLabel, "dial").Inc()
		}
		return conn, err
	}
}

func (h *MetricsHook) ProcessHook(next goredis.ProcessHook) goredis.ProcessHook {
	return func(ctx context.Context, cmd goredis.Cmder) error {
		start := h.clock.Now()
		err := next(ctx, cmd)
		h.observe(cmd.Name(), start, err)
		return err
	}
}

func (h *MetricsHook) ProcessPipelineHook(next goredis.ProcessPipelineHook) goredis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []goredis.Cmder) error {
		start := h.clock.Now()
		err := next(ctx, cmds)
		h.observe("pipeline", start, err)
		return err
	}
}

func (h *MetricsHook) observe(operation string, start time.Time, err error) {
	h.metrics.QueryDuration.WithLabelValues(backendLabel, operation).Observe(h.clock.Since(start).Seconds())
	if isFailure(err) {
		h.metrics.QueryErrors.WithLabelValues(backendLabel, operation).Inc()
	}
}

// isFailure reports whether err indicates an unhealthy server. A missing key,
// a lost WATCH race and an EVALSHA cache miss (Script.Run falls back to EVAL)
// are normal outcomes.
func isFailure(err error) bool {
	if err == nil || errors.Is(err, goredis.Nil) || errors.Is(err, goredis.TxFailedErr) {
		return false
	}
	return !goredis.HasErrorPrefix(err, "NOSCRIPT")
}
