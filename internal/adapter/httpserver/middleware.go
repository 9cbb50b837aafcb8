package httpserver

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/labstack/echo/v4"
	"github.com/pscheid92/quickpoll/internal/domain"
	"github.com/pscheid92/quickpoll/internal/platform/correlation"
	apperrors "github.com/pscheid92/quickpoll/internal/platform/errors"
)

// correlationMiddleware adopts a sane inbound X-Correlation-ID or mints one,
// stores it on the request context and echoes it back.
func correlationMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := correlation.FromHeader(c.Request().Header.Get(correlation.Header))
		ctx := correlation.WithID(c.Request().Context(), id)
		c.SetRequest(c.Request().WithContext(ctx))
		c.Response().Header().Set(correlation.Header, id)
		return next(c)
	}
}

func (s *Server) errorHandlingMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			err := next(c)
			if err == nil {
				return nil
			}
			return s.handleError(c, err)
		}
	}
}

func (s *Server) handleError(c echo.Context, err error) error {
	structuredErr := toStructuredError(err)
	logError(c, structuredErr)

	if s.httpMetrics != nil {
		s.httpMetrics.ErrorsTotal.WithLabelValues(string(structuredErr.Type)).Inc()
	}

	if c.Response().Committed {
		return nil
	}
	if err := c.JSON(structuredErr.HTTPStatus(), structuredErr.ToResponse()); err != nil {
		return fmt.Errorf("failed to write error response: %w", err)
	}
	return nil
}

// toStructuredError maps domain errors onto their HTTP error kinds.
func toStructuredError(err error) *apperrors.Error {
	var validationErr *domain.ValidationError
	switch {
	case errors.As(err, &validationErr):
		return apperrors.ValidationError(validationErr.Message).WithField("field", validationErr.Field)
	case errors.Is(err, domain.ErrInvalidInput):
		return apperrors.ValidationError("invalid input")
	case errors.Is(err, domain.ErrPollNotFound):
		return apperrors.NotFoundError("poll not found")
	case errors.Is(err, domain.ErrOptionNotFound):
		return apperrors.NotFoundError("option not found")
	case errors.Is(err, domain.ErrInvalidToken):
		return apperrors.ForbiddenError("invalid poll token")
	default:
		return apperrors.AsStructuredError(err)
	}
}

func logError(c echo.Context, err *apperrors.Error) {
	ctx := c.Request().Context()
	attrs := []any{
		"error_type", err.Type,
		"message", err.Message,
		"path", c.Request().URL.Path,
		"method", c.Request().Method,
		"status", err.HTTPStatus(),
	}

	for k, v := range err.Context {
		attrs = append(attrs, k, v)
	}

	switch err.Type {
	case apperrors.TypeValidation:
		slog.InfoContext(ctx, "Validation error", attrs...)
	case apperrors.TypeNotFound:
		slog.InfoContext(ctx, "Not found", attrs...)
	case apperrors.TypeForbidden:
		slog.WarnContext(ctx, "Forbidden", attrs...)
	case apperrors.TypeConflict:
		slog.WarnContext(ctx, "Conflict", attrs...)
	case apperrors.TypeRateLimited:
		slog.WarnContext(ctx, "Rate limited", attrs...)
	case apperrors.TypeInternal:
		if err.Cause != nil {
			attrs = append(attrs, "cause", err.Cause)
		}
		slog.ErrorContext(ctx, "Internal error", attrs...)
	case apperrors.TypeExternal:
		if err.Cause != nil {
			attrs = append(attrs, "cause", err.Cause)
		}
		slog.ErrorContext(ctx, "External service error", attrs...)
	default:
		slog.ErrorContext(ctx, "Unknown error type", attrs...)
	}
}
