package websocket

import (
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/quickpoll/internal/adapter/metrics"
	"github.com/pscheid92/quickpoll/internal/broadcast"
)

// Hub receives connection lifecycle notifications.
type Hub interface {
	OnConnect(ch broadcast.Channel)
	OnDisconnect(ch broadcast.Channel)
}

type Handler struct {
	hub         Hub
	limits      *ConnectionLimits
	checkOrigin func(*http.Request) bool
	upgrader    websocket.Upgrader
	metrics     *metrics.WebSocketMetrics
	clock       clockwork.Clock
	draining    atomic.Bool
}

func NewHandler(hub Hub, limits *ConnectionLimits, checkOrigin func(*http.Request) bool, m *metrics.WebSocketMetrics, clock clockwork.Clock) *Handler {
	return &Handler{
		hub:         hub,
		limits:      limits,
		checkOrigin: checkOrigin,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Origin is checked before the upgrade so rejections are counted.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		metrics: m,
		clock:   clock,
	}
}

// Drain makes the handler refuse new upgrades with 503. A connection that is
// registered while Drain runs closes itself, so a Broadcaster.CloseAll issued
// after Drain leaves no client behind.
func (h *Handler) Drain() {
	h.draining.Store(true)
}

// ServeHTTP upgrades the request and blocks until the client disconnects.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		ip = r.RemoteAddr
	}
	h.Serve(w, r, ip)
}

// Serve is ServeHTTP with the client IP resolved by the caller (e.g. from
// proxy headers).
func (h *Handler) Serve(w http.ResponseWriter, r *http.Request, clientIP string) {
	if h.draining.Load() {
		h.reject(w, LimitReasonShutdown, http.StatusServiceUnavailable)
		return
	}

	if !h.checkOrigin(r) {
		h.reject(w, LimitReasonOrigin, http.StatusForbidden)
		return
	}

	if ok, reason := h.limits.Acquire(clientIP); !ok {
		status := http.StatusTooManyRequests
		if reason == LimitReasonGlobal {
			status = http.StatusServiceUnavailable
		}
		slog.WarnContext(r.Context(), "WebSocket connection rejected", "reason", reason, "ip", clientIP)
		h.reject(w, reason, status)
		return
	}
	defer h.limits.Release(clientIP)

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error response.
		slog.WarnContext(r.Context(), "WebSocket upgrade failed", "error", err)
		return
	}

	conn := newConn(ws, h.clock)
	log := slog.With("connection_id", conn.ID().String())

	h.hub.OnConnect(conn)
	if h.draining.Load() {
		h.hub.OnDisconnect(conn)
		_ = conn.Close()
		log.DebugContext(r.Context(), "Client closed during shutdown", "ip", clientIP)
		return
	}
	log.DebugContext(r.Context(), "Client connected", "ip", clientIP)

	go conn.pingLoop()
	err = conn.readLoop()

	h.hub.OnDisconnect(conn)
	_ = conn.Close()

	if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
		log.InfoContext(r.Context(), "Client disconnected unexpectedly", "error", err)
		return
	}
	log.DebugContext(r.Context(), "Client disconnected")
}

func (h *Handler) reject(w http.ResponseWriter, reason LimitReason, status int) {
	h.metrics.RejectedConnections.WithLabelValues(string(reason)).Inc()
	http.Error(w, http.StatusText(status), status)
}
