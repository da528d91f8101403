package evolution

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"unicode/utf8"
)

// StatusError is a non-2xx answer from the gateway. StatusCode and Body are
// the upstream values and are passed through to API callers as-is.
type StatusError struct {
	Operation  string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("evolution %s: upstream status %d: %s", e.Operation, e.StatusCode, truncate(e.Body, 256))
}

// Retryable reports whether repeating the request may succeed.
func (e *StatusError) Retryable() bool {
	switch {
	case e.StatusCode == http.StatusRequestTimeout, e.StatusCode == http.StatusTooManyRequests:
		return true
	case e.StatusCode >= 500:
		return true
	default:
		return false
	}
}

// IsStatus reports whether err carries a gateway StatusError with code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == code
}

// ErrInvalidResponse is returned when a 2xx body is not JSON.
var ErrInvalidResponse = errors.New("evolution: invalid response body")

// ErrResponseTooLarge is returned when a body exceeds MaxResponseSize.
var ErrResponseTooLarge = errors.New("evolution: response body too large")

// retryable classifies an attempt error. Transport failures and retryable
// upstream statuses are retried unless the caller's context is done.
func retryable(ctx context.Context, err error) bool {
	if err == nil || ctx.Err() != nil {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Retryable()
	}
	if errors.Is(err, ErrInvalidResponse) || errors.Is(err, ErrResponseTooLarge) {
		return false
	}
	return true
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
