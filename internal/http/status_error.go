package httpx

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	apperrors "github.com/target/clinic-session/internal/errors"
)

const maxErrorBody = 4 << 10

// StatusError is returned for non-2xx API responses.
type StatusError struct {
	StatusCode int
	Method     string
	URL        string
	Message    string
}

func (e *StatusError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.URL, e.StatusCode, msg)
}

// Unwrap maps the status onto the application error taxonomy so callers can use
// apperrors.IsUnauthorized and friends without inspecting status codes.
func (e *StatusError) Unwrap() error {
	msg := e.Message
	if msg == "" {
		msg = strings.ToLower(http.StatusText(e.StatusCode))
	}
	switch e.StatusCode {
	case http.StatusUnauthorized:
		return apperrors.Unauthorized(msg)
	case http.StatusNotFound:
		return apperrors.NotFound(msg)
	case http.StatusConflict:
		return apperrors.Conflict(msg)
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return apperrors.Validation(msg)
	case http.StatusGatewayTimeout:
		return &apperrors.AppError{Code: apperrors.ErrCodeTimeout, Message: msg}
	}
	if e.StatusCode >= 500 {
		return apperrors.Unavailable(msg)
	}
	return apperrors.Internal(msg)
}

// CheckResponse returns nil for 2xx responses and a *StatusError otherwise.
// The error message is taken from a JSON {"message": ...} body when present.
func CheckResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	se := &StatusError{StatusCode: resp.StatusCode}
	if resp.Request != nil {
		se.Method = resp.Request.Method
		if resp.Request.URL != nil {
			se.URL = resp.Request.URL.Redacted()
		}
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(body, &payload) == nil {
		se.Message = payload.Message
		if se.Message == "" {
			se.Message = payload.Error
		}
	}
	if se.Message == "" {
		se.Message = strings.TrimSpace(string(body))
	}
	return se
}

// StatusFor maps an application error to the HTTP status a server should answer with.
func StatusFor(err error) int {
	switch apperrors.GetCode(err) {
	case apperrors.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case apperrors.ErrCodeNotFound:
		return http.StatusNotFound
	case apperrors.ErrCodeConflict:
		return http.StatusConflict
	case apperrors.ErrCodeValidation:
		return http.StatusBadRequest
	case apperrors.ErrCodeUnavailable:
		return http.StatusServiceUnavailable
	case apperrors.ErrCodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
