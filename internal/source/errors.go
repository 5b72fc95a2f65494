package source

import (
	"errors"
	"fmt"
)

// Common errors returned by source adapters and the registry.
var (
	// ErrUnknownSource indicates a source name that is not registered.
	ErrUnknownSource = errors.New("unknown source")

	// ErrRateLimited indicates the remote API rejected a request for rate.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrAuthError indicates a missing or rejected API key.
	ErrAuthError = errors.New("authentication error")

	// ErrInvalidResponse indicates a response body that could not be parsed.
	ErrInvalidResponse = errors.New("invalid response")
)

// HTTPError is a non-success HTTP response from a source API.
type HTTPError struct {
	StatusCode int
	URL        string
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("HTTP %d from %s: %s", e.StatusCode, e.URL, e.Message)
	}
	return fmt.Sprintf("HTTP %d from %s", e.StatusCode, e.URL)
}

// IsRateLimited returns true if the error indicates rate limiting.
func IsRateLimited(err error) bool {
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == 429
	}
	return false
}

// IsAuthError returns true if the error indicates an authentication problem.
func IsAuthError(err error) bool {
	if errors.Is(err, ErrAuthError) {
		return true
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == 401 || httpErr.StatusCode == 403
	}
	return false
}
