package httpx

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	apperrors "github.com/target/clinic-session/internal/errors"
)

// maxBodyBytes bounds request bodies; credentials and registrations are small.
const maxBodyBytes = 64 << 10

// DecodeJSON decodes a single JSON object from the request body into dst. On
// failure it writes a 400 (or 413) response and returns false.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()

	err := dec.Decode(dst)
	if err == nil && dec.More() {
		err = errors.New("unexpected data after JSON object")
	}
	if err == nil {
		return true
	}

	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		WriteError(w, ErrorParams{Code: http.StatusRequestEntityTooLarge, ErrCode: "body_too_large", Err: err})
	case errors.Is(err, io.EOF):
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_json", Err: errors.New("request body is empty")})
	default:
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_json", Err: err})
	}
	return false
}

// WriteJSON encodes v and writes it with status code. Encoding happens before any
// header is sent so a marshal failure can still become a 500.
func WriteJSON(w http.ResponseWriter, code int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(append(body, '\n'))
}

// ErrorParams groups parameters for WriteError.
type ErrorParams struct {
	Code    int
	ErrCode string
	Err     error
}

// WriteError writes {"error": code, "message": text}.
func WriteError(w http.ResponseWriter, p ErrorParams) {
	WriteJSON(w, p.Code, map[string]string{"error": p.ErrCode, "message": p.Err.Error()})
}

// WriteAppError answers with the status and code of err's AppError. Internal
// failures are reported without their message.
func WriteAppError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	code := apperrors.GetCode(err)
	if code == "" || status == http.StatusInternalServerError {
		code = apperrors.ErrCodeInternal
		err = errors.New("internal error")
	}
	WriteError(w, ErrorParams{Code: status, ErrCode: string(code), Err: err})
}
