package apiframework

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
)

// maxBodyBytes caps request bodies; chat documents are small.
const maxBodyBytes = 1 << 20

func Encode[T any](w http.ResponseWriter, _ *http.Request, status int, v T) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	return nil
}

func Decode[T any](r *http.Request) (T, error) {
	var v T
	if r.Body == nil || r.Body == http.NoBody {
		return v, ErrEmptyRequestBody
	}
	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "application/json") {
		return v, fmt.Errorf("%w: %s", ErrUnsupportedMediaType, ct)
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(&v); err != nil {
		if errors.Is(err, io.EOF) {
			return v, ErrEmptyRequestBody
		}
		return v, fmt.Errorf("%w: decode json: %w", ErrBadRequest, err)
	}
	return v, nil
}

// GetPathParam returns the named path wildcard. description documents the
// parameter for readers of the route.
func GetPathParam(r *http.Request, name string, description string) string {
	return r.PathValue(name)
}

// GetQueryParam returns the query value for name, or defaultValue.
func GetQueryParam(r *http.Request, name, defaultValue, description string) string {
	if v := r.URL.Query().Get(name); v != "" {
		return v
	}
	return defaultValue
}

// GetIntQueryParam parses an integer query value within [minValue, maxValue].
func GetIntQueryParam(r *http.Request, name string, defaultValue, minValue, maxValue int, description string) (int, error) {
	raw := GetQueryParam(r, name, strconv.Itoa(defaultValue), description)
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, NewAPIError(ErrBadQueryValue, fmt.Sprintf("%s must be an integer", name), name)
	}
	if n < minValue || n > maxValue {
		return 0, NewAPIError(ErrBadQueryValue, fmt.Sprintf("%s must be between %d and %d", name, minValue, maxValue), name)
	}
	return n, nil
}
