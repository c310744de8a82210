package httpx

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	apperrors "github.com/target/clinic-session/internal/errors"
)

func response(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		Request:    httptest.NewRequest(http.MethodPost, "http://api.test/api/v1/auth/authenticate", nil),
	}
}

func TestCheckResponse_Success(t *testing.T) {
	assert.NoError(t, CheckResponse(response(http.StatusOK, "")))
	assert.NoError(t, CheckResponse(response(http.StatusNoContent, "")))
}

func TestCheckResponse_MapsStatuses(t *testing.T) {
	tests := []struct {
		status int
		check  func(error) bool
	}{
		{http.StatusUnauthorized, apperrors.IsUnauthorized},
		{http.StatusNotFound, apperrors.IsNotFound},
		{http.StatusConflict, apperrors.IsConflict},
		{http.StatusBadRequest, apperrors.IsValidation},
		{http.StatusGatewayTimeout, apperrors.IsTimeout},
		{http.StatusBadGateway, apperrors.IsUnavailable},
		{http.StatusTeapot, apperrors.IsInternal},
	}
	for _, tt := range tests {
		err := CheckResponse(response(tt.status, ""))
		require.Error(t, err)
		assert.True(t, tt.check(err), "status %d -> %v", tt.status, err)
	}
}

func TestCheckResponse_MessageFromBody(t *testing.T) {
	err := CheckResponse(response(http.StatusConflict, `{"error":"conflict","message":"Email address is already taken."}`))

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "Email address is already taken.", se.Message)
	assert.Equal(t, http.MethodPost, se.Method)
	assert.Contains(t, err.Error(), "409")

	plain := CheckResponse(response(http.StatusBadGateway, "upstream down\n"))
	require.True(t, errors.As(plain, &se))
	assert.Equal(t, "upstream down", se.Message)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusUnauthorized, StatusFor(apperrors.Unauthorized("x")))
	assert.Equal(t, http.StatusConflict, StatusFor(apperrors.Conflict("x")))
	assert.Equal(t, http.StatusBadRequest, StatusFor(apperrors.ValidationField("email", "x")))
	assert.Equal(t, http.StatusInternalServerError, StatusFor(errors.New("plain")))
}

func TestWriteAppError_HidesInternalDetail(t *testing.T) {
	w := httptest.NewRecorder()
	WriteAppError(w, errors.New("pq: password authentication failed"))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "password authentication")

	w = httptest.NewRecorder()
	WriteAppError(w, apperrors.Conflict("email address is already taken"))
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), `"error":"conflict"`)
}
