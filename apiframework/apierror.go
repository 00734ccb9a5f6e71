package apiframework

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/contenox/chatsync/libtracker"
)

// APIError is the error shape returned to clients:
// {"error": {"message", "type", "param", "code"}}.
type APIError struct {
	err       error
	message   string
	param     string
	errorType string
	errorCode string
	status    int
}

func (e *APIError) Error() string { return e.message }
func (e *APIError) Unwrap() error { return e.err }
func (e *APIError) Code() string  { return e.errorCode }

// StatusCode is set on errors decoded by HandleAPIError; 0 otherwise.
func (e *APIError) StatusCode() int { return e.status }

// NewAPIError wraps err with a client facing message. An empty message falls
// back to err's own text.
func NewAPIError(err error, message, param string) *APIError {
	errorType, errorCode := getErrorMapping(err)
	if message == "" {
		message = err.Error()
	}
	return &APIError{err: err, message: message, param: param, errorType: errorType, errorCode: errorCode}
}

func BadPathValue(param string, message ...string) *APIError {
	return NewAPIError(ErrBadPathValue, first(message, "Bad path value"), param)
}

func MissingParameter(param string, message ...string) *APIError {
	return NewAPIError(ErrMissingParameter, first(message, "Missing required parameter"), param)
}

func Unauthorized(message ...string) *APIError {
	return NewAPIError(ErrUnauthorized, first(message, "Unauthorized access"), "")
}

func Forbidden(message ...string) *APIError {
	return NewAPIError(ErrForbidden, first(message, "Forbidden access"), "")
}

func first(values []string, fallback string) string {
	if len(values) > 0 && values[0] != "" {
		return values[0]
	}
	return fallback
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Message string  `json:"message"`
	Type    string  `json:"type"`
	Param   *string `json:"param"`
	Code    string  `json:"code"`
}

// Error writes err as a JSON error body. The status is derived from err and,
// when nothing matches, from op. Server side failures are logged.
func Error(w http.ResponseWriter, r *http.Request, err error, op Operation) error {
	status := mapErrorToStatus(op, err)

	detail := errorDetail{Message: err.Error()}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		detail.Message = apiErr.message
		detail.Type, detail.Code = apiErr.errorType, apiErr.errorCode
		if apiErr.param != "" {
			detail.Param = &apiErr.param
		}
	} else {
		detail.Type, detail.Code = getErrorMapping(err)
	}
	if detail.Code == "" {
		detail.Type, detail.Code = getErrorTypeAndCode(status)
	}
	if status >= http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"request_id", libtracker.RequestID(r.Context()),
			"error", err,
		)
		// internals stay in the log
		detail.Message = http.StatusText(status)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(errorBody{Error: detail})
}
