package download

import (
	"errors"
	"fmt"
)

// HTTPError is returned for responses with an unexpected status code.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// Is matches any HTTPError with the same status code.
func (e *HTTPError) Is(target error) bool {
	var httpErr *HTTPError
	if errors.As(target, &httpErr) {
		return e.StatusCode == httpErr.StatusCode
	}
	return false
}

// StatusCode extracts the status code of an HTTPError, or 0.
func StatusCode(err error) int {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode
	}
	return 0
}
