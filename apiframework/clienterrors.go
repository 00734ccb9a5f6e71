package apiframework

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// HandleAPIError turns a non-2xx response into an error. JSON error bodies
// become an *APIError that unwraps to the sentinel the server mapped, so
// callers can use errors.Is(err, ErrNotFound) across the wire.
func HandleAPIError(resp *http.Response) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("%w: status %s (reading body: %w)", sentinelForStatus(resp.StatusCode), resp.Status, err)
	}

	var decoded errorBody
	if jsonErr := json.Unmarshal(body, &decoded); jsonErr == nil && decoded.Error.Message != "" {
		sentinel := sentinelForCode(decoded.Error.Code)
		if sentinel == nil {
			sentinel = sentinelForStatus(resp.StatusCode)
		}
		param := ""
		if decoded.Error.Param != nil {
			param = *decoded.Error.Param
		}
		return &APIError{
			err:       fmt.Errorf("%w: %w", sentinel, errors.New(decoded.Error.Message)),
			message:   decoded.Error.Message,
			param:     param,
			errorType: decoded.Error.Type,
			errorCode: decoded.Error.Code,
			status:    resp.StatusCode,
		}
	}

	text := string(body)
	if len(text) > 100 {
		text = text[:100] + "..."
	}
	return fmt.Errorf("%w: API error %d: %s", sentinelForStatus(resp.StatusCode), resp.StatusCode, text)
}
