package common

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// ErrorBody represents a consistent error payload returned by the API.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// JSON writes the provided value to the response writer as JSON.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Data wraps v in the success envelope.
func Data(w http.ResponseWriter, status int, v any) {
	JSON(w, status, map[string]any{"data": v})
}

// JSONError renders an error response using the canonical error shape.
func JSONError(w http.ResponseWriter, status int, code, message string, details any) {
	JSON(w, status, map[string]any{
		"error": ErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	})
}

// DecodeJSON reads a single JSON document from the request body into dst.
// Failures are returned as BAD_REQUEST AppErrors, or PAYLOAD_TOO_LARGE when
// the body limit was hit.
func DecodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			return NewAppError("PAYLOAD_TOO_LARGE", "request body too large", http.StatusRequestEntityTooLarge, err)
		case errors.Is(err, io.EOF):
			return NewAppError("BAD_REQUEST", "request body is required", http.StatusBadRequest, err)
		default:
			return NewAppError("BAD_REQUEST", fmt.Sprintf("invalid JSON body: %v", err), http.StatusBadRequest, err)
		}
	}
	if dec.More() {
		return NewAppError("BAD_REQUEST", "request body must contain a single JSON document", http.StatusBadRequest, nil)
	}
	return nil
}
