package httpserver

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/quickpoll/internal/adapter/metrics"
	"github.com/pscheid92/quickpoll/internal/domain"
	"github.com/pscheid92/quickpoll/internal/platform/config"
)

// --- Mock implementations ---

type mockAppService struct {
	listPollsFn  func(ctx context.Context) ([]domain.Poll, error)
	getPollFn    func(ctx context.Context, pollID int64) (*domain.Poll, error)
	createPollFn func(ctx context.Context, question string, options []string) (*domain.Poll, error)
	voteFn       func(ctx context.Context, optionID int64) error
	likeFn       func(ctx context.Context, pollID int64) error
	editPollFn   func(ctx context.Context, pollID int64, token, question string, options []domain.OptionInput) (*domain.Poll, error)
	deletePollFn func(ctx context.Context, pollID int64, token string) error
}

func (m *mockAppService) ListPolls(ctx context.Context) ([]domain.Poll, error) {
	if m.listPollsFn != nil {
		return m.listPollsFn(ctx)
	}
	return nil, nil
}

func (m *mockAppService) GetPoll(ctx context.Context, pollID int64) (*domain.Poll, error) {
	if m.getPollFn != nil {
		return m.getPollFn(ctx, pollID)
	}
	return nil, domain.ErrPollNotFound
}

func (m *mockAppService) CreatePoll(ctx context.Context, question string, options []string) (*domain.Poll, error) {
	if m.createPollFn != nil {
		return m.createPollFn(ctx, question, options)
	}
	return nil, errors.New("not implemented")
}

func (m *mockAppService) Vote(ctx context.Context, optionID int64) error {
	if m.voteFn != nil {
		return m.voteFn(ctx, optionID)
	}
	return nil
}

func (m *mockAppService) Like(ctx context.Context, pollID int64) error {
	if m.likeFn != nil {
		return m.likeFn(ctx, pollID)
	}
	return nil
}

func (m *mockAppService) EditPoll(ctx context.Context, pollID int64, token, question string, options []domain.OptionInput) (*domain.Poll, error) {
	if m.editPollFn != nil {
		return m.editPollFn(ctx, pollID, token, question, options)
	}
	return nil, errors.New("not implemented")
}

func (m *mockAppService) DeletePoll(ctx context.Context, pollID int64, token string) error {
	if m.deletePollFn != nil {
		return m.deletePollFn(ctx, pollID, token)
	}
	return nil
}

type mockWebSocketHandler struct {
	clientIP string
	called   bool
}

func (m *mockWebSocketHandler) Serve(w http.ResponseWriter, _ *http.Request, clientIP string) {
	m.called = true
	m.clientIP = clientIP
	w.WriteHeader(http.StatusSwitchingProtocols)
}

// --- Test helpers ---

type testServerOptions struct {
	cfg          *config.Config
	ws           websocketHandler
	httpMetrics  *metrics.HTTPMetrics
	healthChecks []HealthCheck
	clock        clockwork.Clock
}

func newTestServer(t *testing.T, app appService, opts ...func(*testServerOptions)) *Server {
	t.Helper()

	o := &testServerOptions{
		cfg: &config.Config{
			Port:           "0",
			RateLimitRPS:   1000,
			RateLimitBurst: 1000,
		},
		ws:    &mockWebSocketHandler{},
		clock: clockwork.NewFakeClockAt(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)),
	}
	for _, opt := range opts {
		opt(o)
	}

	reg := metrics.NewRegistry()
	return NewServer(o.cfg, app, o.ws, o.httpMetrics, metrics.Handler(reg), o.clock, o.healthChecks)
}

func withConfig(cfg *config.Config) func(*testServerOptions) {
	return func(o *testServerOptions) { o.cfg = cfg }
}

func withWebSocketHandler(ws websocketHandler) func(*testServerOptions) {
	return func(o *testServerOptions) { o.ws = ws }
}

func withHTTPMetrics(m *metrics.HTTPMetrics) func(*testServerOptions) {
	return func(o *testServerOptions) { o.httpMetrics = m }
}

func withHealthChecks(checks ...HealthCheck) func(*testServerOptions) {
	return func(o *testServerOptions) { o.healthChecks = checks }
}

func withClock(clock clockwork.Clock) func(*testServerOptions) {
	return func(o *testServerOptions) { o.clock = clock }
}

func doRequest(srv *Server, method, target, body string, headers ...string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func samplePoll() *domain.Poll {
	return &domain.Poll{
		ID:       7,
		Question: "Coffee or tea?",
		Likes:    3,
		Token:    "secret-token",
		Options: []domain.Option{
			{ID: 1, PollID: 7, Text: "Coffee", Votes: 2},
			{ID: 2, PollID: 7, Text: "Tea", Votes: 0},
		},
	}
}
