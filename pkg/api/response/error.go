package response

import (
	"context"
	"errors"
	"net/http"

	"github.com/goclaw/pumpcycle/pkg/cycle"
	"github.com/goclaw/pumpcycle/pkg/line"
	"github.com/goclaw/pumpcycle/pkg/storage"
)

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error information.
type ErrorDetail struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"request_id"`
}

// Error codes
const (
	ErrCodeBadRequest         = "BAD_REQUEST"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeConflict           = "CONFLICT"
	ErrCodeValidationFailed   = "VALIDATION_FAILED"
	ErrCodeTooManyRequests    = "TOO_MANY_REQUESTS"
	ErrCodeInternalServer     = "INTERNAL_SERVER_ERROR"
	ErrCodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	ErrCodeGatewayTimeout     = "GATEWAY_TIMEOUT"

	ErrCodeCycleActive   = "CYCLE_ACTIVE"
	ErrCodeNoActiveCycle = "NO_ACTIVE_CYCLE"
	ErrCodeUnknownSignal = "UNKNOWN_SIGNAL"
)

// HTTPStatusFromError maps controller and storage errors to HTTP status codes.
func HTTPStatusFromError(err error) int {
	var notFound *storage.NotFoundError
	var unknown *line.UnknownSignalError
	var cfgErr *cycle.ConfigError
	var unavailable *storage.StorageUnavailableError

	switch {
	case errors.As(err, &notFound), errors.As(err, &unknown):
		return http.StatusNotFound
	case errors.Is(err, line.ErrCycleActive), errors.Is(err, line.ErrNoActiveCycle):
		return http.StatusConflict
	case errors.As(err, &cfgErr):
		return http.StatusBadRequest
	case errors.Is(err, line.ErrClosed), errors.As(err, &unavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// ErrorCodeFromError returns the error code for err.
func ErrorCodeFromError(err error) string {
	var unknown *line.UnknownSignalError
	switch {
	case errors.Is(err, line.ErrCycleActive):
		return ErrCodeCycleActive
	case errors.Is(err, line.ErrNoActiveCycle):
		return ErrCodeNoActiveCycle
	case errors.As(err, &unknown):
		return ErrCodeUnknownSignal
	}
	return ErrorCodeFromStatus(HTTPStatusFromError(err))
}

// ErrorCodeFromStatus returns an error code for the given HTTP status.
func ErrorCodeFromStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return ErrCodeBadRequest
	case http.StatusNotFound:
		return ErrCodeNotFound
	case http.StatusConflict:
		return ErrCodeConflict
	case http.StatusTooManyRequests:
		return ErrCodeTooManyRequests
	case http.StatusServiceUnavailable:
		return ErrCodeServiceUnavailable
	case http.StatusGatewayTimeout:
		return ErrCodeGatewayTimeout
	default:
		return ErrCodeInternalServer
	}
}

// HandleError writes the response matching err.
func HandleError(w http.ResponseWriter, err error, requestID string) {
	Error(w, HTTPStatusFromError(err), ErrorCodeFromError(err), err.Error(), requestID)
}
