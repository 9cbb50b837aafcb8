package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConstructors_HTTPStatus(t *testing.T) {
	tests := []struct {
		name   string
		err    *Error
		typ    ErrorType
		status int
	}{
		{"validation", ValidationError("question is required"), TypeValidation, http.StatusBadRequest},
		{"forbidden", ForbiddenError("invalid token"), TypeForbidden, http.StatusForbidden},
		{"not found", NotFoundError("poll not found"), TypeNotFound, http.StatusNotFound},
		{"conflict", ConflictError("already exists"), TypeConflict, http.StatusConflict},
		{"rate limited", RateLimitedError("slow down"), TypeRateLimited, http.StatusTooManyRequests},
		{"internal", InternalError("failed to store poll", errors.New("conn reset")), TypeInternal, http.StatusInternalServerError},
		{"external", ExternalError("redis unavailable", nil), TypeExternal, http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.typ, tt.err.Type)
			assert.Equal(t, tt.status, tt.err.HTTPStatus())
			assert.NotNil(t, tt.err.Context)
			assert.Contains(t, tt.err.Error(), string(tt.typ))
		})
	}
}

func TestError_MessageIncludesCause(t *testing.T) {
	err := InternalError("failed to store poll", fmt.Errorf("database connection failed"))
	assert.Equal(t, "internal: failed to store poll: database connection failed", err.Error())

	noCause := InternalError("something went wrong", nil)
	assert.NotContains(t, noCause.Error(), "<nil>")
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("root")
	err := InternalError("wrapped", cause)
	assert.ErrorIs(t, err, cause)
}

func TestWithField_ToResponse(t *testing.T) {
	err := NotFoundError("poll not found").WithField("poll_id", int64(4))

	resp := err.ToResponse()
	assert.Equal(t, "poll not found", resp.Error)
	assert.Equal(t, TypeNotFound, resp.Type)
	assert.Equal(t, int64(4), resp.Context["poll_id"])
}

func TestWithField_NilContext(t *testing.T) {
	err := &Error{Type: TypeValidation, Message: "bad"}
	err.WithField("field", "question")
	assert.Equal(t, "question", err.Context["field"])
}

func TestAsStructuredError(t *testing.T) {
	assert.Nil(t, AsStructuredError(nil))

	original := ForbiddenError("invalid token")
	assert.Same(t, original, AsStructuredError(fmt.Errorf("edit: %w", original)))

	plain := AsStructuredError(errors.New("boom"))
	assert.Equal(t, TypeInternal, plain.Type)
	assert.Equal(t, "internal server error", plain.Message)

	routed := AsStructuredError(echo.ErrNotFound)
	assert.Equal(t, TypeNotFound, routed.Type)
}

func TestFromHTTPError(t *testing.T) {
	tests := []struct {
		code int
		want ErrorType
	}{
		{http.StatusBadRequest, TypeValidation},
		{http.StatusMethodNotAllowed, TypeValidation},
		{http.StatusForbidden, TypeForbidden},
		{http.StatusNotFound, TypeNotFound},
		{http.StatusConflict, TypeConflict},
		{http.StatusTooManyRequests, TypeRateLimited},
		{http.StatusServiceUnavailable, TypeExternal},
		{http.StatusTeapot, TypeInternal},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.code), func(t *testing.T) {
			got := FromHTTPError(echo.NewHTTPError(tt.code))
			require.NotNil(t, got)
			assert.Equal(t, tt.want, got.Type)
		})
	}
}

func TestFromHTTPError_KeepsStringMessage(t *testing.T) {
	got := FromHTTPError(echo.NewHTTPError(http.StatusBadRequest, "option_id must be an integer"))
	assert.Equal(t, "option_id must be an integer", got.Message)
}
