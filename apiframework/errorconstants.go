package apiframework

import (
	"errors"
	"net/http"

	"github.com/contenox/chatsync/chatstore"
	"github.com/contenox/chatsync/libauth"
	libdb "github.com/contenox/chatsync/libdbexec"
)

var (
	ErrInvalidParameterValue = errors.New("apiframework: invalid parameter value type")
	ErrBadPathValue          = errors.New("apiframework: bad path value")
	ErrBadQueryValue         = errors.New("apiframework: bad query value")
	ErrMissingParameter      = errors.New("apiframework: missing parameter")
	ErrEmptyRequestBody      = errors.New("apiframework: empty request body")

	ErrBadRequest           = errors.New("apiframework: bad request")
	ErrUnprocessableEntity  = errors.New("apiframework: unprocessable entity")
	ErrNotFound             = errors.New("apiframework: not found")
	ErrConflict             = errors.New("apiframework: conflict")
	ErrForbidden            = errors.New("apiframework: forbidden")
	ErrInternalServerError  = errors.New("apiframework: internal server error")
	ErrUnsupportedMediaType = errors.New("apiframework: unsupported media type")
	ErrUnauthorized         = errors.New("apiframework: unauthorized")
	ErrServiceUnavailable   = errors.New("apiframework: service unavailable")
)

type errorMapping struct {
	errorType string
	errorCode string
}

// errorMappings is ordered; the first match wins, and HandleAPIError uses the
// code to restore the sentinel on the client side.
var errorMappings = []struct {
	err     error
	mapping errorMapping
}{
	{ErrInvalidParameterValue, errorMapping{"invalid_request_error", "invalid_parameter_value"}},
	{ErrBadPathValue, errorMapping{"invalid_request_error", "bad_path_value"}},
	{ErrBadQueryValue, errorMapping{"invalid_request_error", "bad_query_value"}},
	{ErrMissingParameter, errorMapping{"invalid_request_error", "missing_parameter"}},
	{ErrEmptyRequestBody, errorMapping{"invalid_request_error", "empty_request_body"}},
	{ErrBadRequest, errorMapping{"invalid_request_error", "bad_request"}},
	{ErrUnprocessableEntity, errorMapping{"invalid_request_error", "unprocessable_entity"}},
	{ErrNotFound, errorMapping{"invalid_request_error", "not_found"}},
	{ErrConflict, errorMapping{"invalid_request_error", "conflict"}},
	{ErrForbidden, errorMapping{"authorization_error", "forbidden"}},
	{ErrUnauthorized, errorMapping{"authentication_error", "unauthorized"}},
	{ErrUnsupportedMediaType, errorMapping{"invalid_request_error", "unsupported_media_type"}},
	{ErrServiceUnavailable, errorMapping{"api_error", "service_unavailable"}},
	{ErrInternalServerError, errorMapping{"api_error", "internal_server_error"}},
}

func getErrorMapping(err error) (string, string) {
	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			return m.mapping.errorType, m.mapping.errorCode
		}
	}
	return "", ""
}

func sentinelForCode(code string) error {
	for _, m := range errorMappings {
		if m.mapping.errorCode == code {
			return m.err
		}
	}
	return nil
}

// getErrorTypeAndCode is the fallback when err is not one of the sentinels.
func getErrorTypeAndCode(status int) (string, string) {
	switch status {
	case http.StatusBadRequest:
		return "invalid_request_error", "bad_request"
	case http.StatusUnauthorized:
		return "authentication_error", "unauthorized"
	case http.StatusForbidden:
		return "authorization_error", "forbidden"
	case http.StatusNotFound:
		return "invalid_request_error", "not_found"
	case http.StatusConflict:
		return "invalid_request_error", "conflict"
	case http.StatusRequestEntityTooLarge:
		return "invalid_request_error", "request_too_large"
	case http.StatusUnsupportedMediaType:
		return "invalid_request_error", "unsupported_media"
	case http.StatusUnprocessableEntity:
		return "invalid_request_error", "unprocessable_entity"
	case http.StatusTooManyRequests:
		return "rate_limit_error", "rate_limit_exceeded"
	case http.StatusServiceUnavailable:
		return "api_error", "service_unavailable"
	case http.StatusInternalServerError:
		return "api_error", "internal_error"
	}
	return "api_error", "unknown_error"
}

// sentinelForStatus is used by HandleAPIError when the body carries no code.
func sentinelForStatus(status int) error {
	switch status {
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrConflict
	case http.StatusUnprocessableEntity:
		return ErrUnprocessableEntity
	case http.StatusServiceUnavailable:
		return ErrServiceUnavailable
	}
	return ErrInternalServerError
}

// Operation picks the fallback status for errors nothing else matched.
type Operation uint16

const (
	CreateOperation Operation = iota
	GetOperation
	UpdateOperation
	DeleteOperation
	ListOperation
	AuthorizeOperation
	ServerOperation
	ExecuteOperation
)

func mapErrorToStatus(op Operation, err error) int {
	var maxBytesErr *http.MaxBytesError
	switch {
	case errors.As(err, &maxBytesErr):
		return http.StatusRequestEntityTooLarge

	case errors.Is(err, libauth.ErrNotAuthorized),
		errors.Is(err, libauth.ErrTokenExpired),
		errors.Is(err, libauth.ErrTokenMissing),
		errors.Is(err, libauth.ErrIssuedAtMissing),
		errors.Is(err, libauth.ErrIssuedAtInFuture),
		errors.Is(err, libauth.ErrIdentityMissing),
		errors.Is(err, libauth.ErrInvalidTokenClaims),
		errors.Is(err, libauth.ErrUnexpectedSigningMethod),
		errors.Is(err, libauth.ErrTokenParsingFailed),
		errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, libauth.ErrTokenSigningFailed):
		return http.StatusInternalServerError
	case op == AuthorizeOperation, errors.Is(err, ErrForbidden):
		return http.StatusForbidden

	case errors.Is(err, ErrEmptyRequestBody),
		errors.Is(err, ErrBadRequest),
		errors.Is(err, ErrInvalidParameterValue),
		errors.Is(err, ErrBadPathValue),
		errors.Is(err, ErrBadQueryValue),
		errors.Is(err, ErrMissingParameter),
		errors.Is(err, chatstore.ErrInvalidLimit):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound), errors.Is(err, chatstore.ErrNotFound), errors.Is(err, libdb.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict), errors.Is(err, chatstore.ErrVersionConflict):
		return http.StatusConflict
	case errors.Is(err, ErrUnsupportedMediaType):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, ErrUnprocessableEntity), errors.Is(err, chatstore.ErrInvalidRoom), errors.Is(err, chatstore.ErrInvalidMessage):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrServiceUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrInternalServerError):
		return http.StatusInternalServerError

	case errors.Is(err, libdb.ErrForeignKeyViolation):
		// a message for a room that does not exist
		return http.StatusNotFound
	case errors.Is(err, libdb.ErrUniqueViolation),
		errors.Is(err, libdb.ErrNotNullViolation),
		errors.Is(err, libdb.ErrCheckViolation),
		errors.Is(err, libdb.ErrConstraintViolation):
		return http.StatusConflict
	case errors.Is(err, libdb.ErrMaxRowsReached):
		return http.StatusTooManyRequests
	case errors.Is(err, libdb.ErrDataTruncation),
		errors.Is(err, libdb.ErrNumericOutOfRange),
		errors.Is(err, libdb.ErrInvalidInputSyntax):
		return http.StatusBadRequest
	case errors.Is(err, libdb.ErrDeadlockDetected),
		errors.Is(err, libdb.ErrSerializationFailure),
		errors.Is(err, libdb.ErrLockNotAvailable):
		return http.StatusConflict
	case errors.Is(err, libdb.ErrQueryCanceled):
		return http.StatusServiceUnavailable
	}

	if op == CreateOperation || op == UpdateOperation {
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}
