package server

import (
	"context"
	"net/http"

	"github.com/bytedance/sonic"

	"github.com/penwyp/peakcat/errors"
	"github.com/penwyp/peakcat/logging"
)

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// RespondJSON writes a JSON response with the given status code and data.
func RespondJSON(w http.ResponseWriter, status int, data interface{}) {
	body, err := sonic.Marshal(data)
	if err != nil {
		logging.LogErrorf("Failed to encode JSON response: %v", err)
		status = http.StatusInternalServerError
		body = []byte(`{"error":"internal_error"}`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(append(body, '\n')); err != nil {
		logging.LogDebugf("Failed to write response: %v", err)
	}
}

// RespondError maps err to a status code and writes an ErrorResponse.
func RespondError(w http.ResponseWriter, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		logging.LogWarnf("Request failed: %v", err)
	}
	RespondJSON(w, status, ErrorResponse{Error: code, Message: err.Error()})
}

func classify(err error) (int, string) {
	switch errors.TypeOf(err) {
	case errors.ErrorTypeValidation:
		return http.StatusBadRequest, string(errors.ErrorTypeValidation)
	case errors.ErrorTypeSchemaViolation:
		return http.StatusUnprocessableEntity, string(errors.ErrorTypeSchemaViolation)
	case errors.ErrorTypeSourceUnavailable:
		return http.StatusBadGateway, string(errors.ErrorTypeSourceUnavailable)
	case errors.ErrorTypeTimeout:
		return http.StatusGatewayTimeout, string(errors.ErrorTypeTimeout)
	case errors.ErrorTypeConfig:
		return http.StatusInternalServerError, string(errors.ErrorTypeConfig)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return http.StatusServiceUnavailable, "cancelled"
	}
	return http.StatusInternalServerError, "internal_error"
}
