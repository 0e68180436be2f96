package hrefresolver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
)

// Errors that might be returned by a resolver.
var (
	ErrNotTarget        = errors.New("href not handled by this resolver")
	ErrBodyTooLarge     = errors.New("response body exceeds maximum size")
	ErrTooManyRedirects = errors.New("too many redirects")
)

// StatusError reports a non-2xx response from the origin.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: HTTP %d", e.URL, e.StatusCode)
}

// Temporary reports whether the status suggests a later attempt might
// succeed.
func (e *StatusError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// FetchError wraps any failure to resolve an href.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("error fetching %s: %s", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// IsTimeout reports whether err was caused by a deadline, either the
// caller's context or the resolver's own timeout.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || os.IsTimeout(err) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return IsTimeout(errors.Unwrap(err))
}
