package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/pscheid92/quickpoll/internal/adapter/metrics"
	"github.com/pscheid92/quickpoll/internal/domain"
	"github.com/pscheid92/quickpoll/internal/platform/config"
	"github.com/pscheid92/quickpoll/internal/platform/correlation"
	apperrors "github.com/pscheid92/quickpoll/internal/platform/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runErrorMiddleware(t *testing.T, srv *Server, handlerErr error) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := srv.errorHandlingMiddleware()(func(echo.Context) error { return handlerErr })
	require.NoError(t, handler(c))
	return rec
}

func TestErrorMiddleware_StructuredError(t *testing.T) {
	srv := newTestServer(t, &mockAppService{})

	rec := runErrorMiddleware(t, srv, apperrors.ValidationError("invalid input"))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var resp apperrors.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "invalid input", resp.Error)
	assert.Equal(t, apperrors.TypeValidation, resp.Type)
}

func TestErrorMiddleware_StandardErrorHidesCause(t *testing.T) {
	srv := newTestServer(t, &mockAppService{})

	rec := runErrorMiddleware(t, srv, errors.New("pq: password authentication failed"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"internal server error","type":"internal"}`, rec.Body.String())
}

func TestErrorMiddleware_EchoHTTPError(t *testing.T) {
	srv := newTestServer(t, &mockAppService{})

	rec := runErrorMiddleware(t, srv, echo.NewHTTPError(http.StatusMethodNotAllowed))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `"type":"validation"`)
}

func TestToStructuredError_DomainErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		typ    apperrors.ErrorType
		status int
	}{
		{"poll not found", domain.ErrPollNotFound, apperrors.TypeNotFound, http.StatusNotFound},
		{"option not found", fmt.Errorf("vote: %w", domain.ErrOptionNotFound), apperrors.TypeNotFound, http.StatusNotFound},
		{"invalid token", domain.ErrInvalidToken, apperrors.TypeForbidden, http.StatusForbidden},
		{"validation", &domain.ValidationError{Field: "question", Message: "question is required"}, apperrors.TypeValidation, http.StatusBadRequest},
		{"bare invalid input", domain.ErrInvalidInput, apperrors.TypeValidation, http.StatusBadRequest},
		{"store failure", errors.New("boom"), apperrors.TypeInternal, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := toStructuredError(tt.err)
			assert.Equal(t, tt.typ, got.Type)
			assert.Equal(t, tt.status, got.HTTPStatus())
		})
	}
}

func TestErrorMiddleware_CountsErrorsByType(t *testing.T) {
	m := metrics.NewHTTPMetrics(metrics.NewRegistry())
	app := &mockAppService{
		likeFn: func(context.Context, int64) error { return domain.ErrPollNotFound },
	}
	srv := newTestServer(t, app, withHTTPMetrics(m))

	doRequest(srv, http.MethodPost, "/polls/1/like", "")
	doRequest(srv, http.MethodPost, "/polls/2/like", "")

	assert.InDelta(t, 2, testutil.ToFloat64(m.ErrorsTotal.WithLabelValues("not_found")), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.RequestsTotal.WithLabelValues(http.MethodPost, "/polls/:id/like", "404")), 0)
}

func TestCorrelationMiddleware_GeneratesID(t *testing.T) {
	var seen string
	app := &mockAppService{
		likeFn: func(ctx context.Context, _ int64) error {
			seen, _ = correlation.ID(ctx)
			return nil
		},
	}
	srv := newTestServer(t, app)

	rec := doRequest(srv, http.MethodPost, "/polls/1/like", "")

	assert.Len(t, seen, 8)
	assert.Equal(t, seen, rec.Header().Get(correlation.Header))
}

func TestCorrelationMiddleware_AdoptsInboundID(t *testing.T) {
	var seen string
	app := &mockAppService{
		likeFn: func(ctx context.Context, _ int64) error {
			seen, _ = correlation.ID(ctx)
			return nil
		},
	}
	srv := newTestServer(t, app)

	rec := doRequest(srv, http.MethodPost, "/polls/1/like", "", correlation.Header, "req-abc_123")

	assert.Equal(t, "req-abc_123", seen)
	assert.Equal(t, "req-abc_123", rec.Header().Get(correlation.Header))
}

func TestCORS_AllowedOrigin(t *testing.T) {
	cfg := &config.Config{RateLimitRPS: 100, RateLimitBurst: 100, AllowedOrigins: "https://polls.example.com"}
	srv := newTestServer(t, &mockAppService{}, withConfig(cfg))

	rec := doRequest(srv, http.MethodGet, "/polls", "", "Origin", "https://polls.example.com")
	assert.Equal(t, "https://polls.example.com", rec.Header().Get(echo.HeaderAccessControlAllowOrigin))

	rec = doRequest(srv, http.MethodGet, "/polls", "", "Origin", "https://evil.example.com")
	assert.Empty(t, rec.Header().Get(echo.HeaderAccessControlAllowOrigin))
}

func TestCORS_AnyOriginWhenUnconfigured(t *testing.T) {
	srv := newTestServer(t, &mockAppService{})

	rec := doRequest(srv, http.MethodGet, "/polls", "", "Origin", "http://localhost:3000")

	assert.Equal(t, "*", rec.Header().Get(echo.HeaderAccessControlAllowOrigin))
}

func TestRecover_PanicBecomesInternalError(t *testing.T) {
	app := &mockAppService{
		likeFn: func(context.Context, int64) error { panic("nil map write") },
	}
	srv := newTestServer(t, app)

	rec := doRequest(srv, http.MethodPost, "/polls/1/like", "")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
