package response

import (
	"net/http"

	"portal/pkg/apperr"
)

// Response represents a standard API response format
type Response struct {
	Status     string      `json:"status"`      // "success" or "error"
	StatusCode int         `json:"status_code"` // HTTP status code
	Data       interface{} `json:"data,omitempty"`
	Error      string      `json:"error,omitempty"`
	ErrorKind  string      `json:"error_kind,omitempty"` // machine-readable failure class
}

// Success returns a standard success response wrapping the data
func Success(statusCode int, data interface{}) Response {
	return Response{
		Status:     "success",
		StatusCode: statusCode,
		Data:       data,
	}
}

// Error returns a standard error response wrapping the error message
func Error(statusCode int, err string) Response {
	return Response{
		Status:     "error",
		StatusCode: statusCode,
		Error:      err,
	}
}

// FromError maps a typed workflow error to its HTTP status and envelope.
// StaleState maps to 409 so clients know to reload the request and retry;
// it is an expected outcome of concurrent approvers, not a dead end.
func FromError(err error) (int, Response) {
	kind := apperr.KindOf(err)
	status := statusFor(kind)
	return status, Response{
		Status:     "error",
		StatusCode: status,
		Error:      err.Error(),
		ErrorKind:  string(kind),
	}
}

func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindNotAuthorized:
		return http.StatusForbidden
	case apperr.KindInvalidTransition:
		return http.StatusUnprocessableEntity
	case apperr.KindStaleState:
		return http.StatusConflict
	case apperr.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusServiceUnavailable
	}
}
