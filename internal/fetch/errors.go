package fetch

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// HTTPError is a non-2xx response from the source.
type HTTPError struct {
	URL        string
	StatusCode int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http status %d from %s", e.StatusCode, e.URL)
}

// FatalError marks the source's index as unreachable. It fails the whole
// sync run instead of being contained as an item error.
type FatalError struct {
	URL string
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("source index unreachable at %s: %v", e.URL, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// transient reports whether an error is worth retrying: network-level
// failures, 5xx responses and rate-limit rejections. 4xx responses and parse
// failures are permanent, retrying them just hammers the source.
func transient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode >= 500 || httpErr.StatusCode == 429
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	// url.Error wrapping a transport failure without a typed net.Error
	// (connection refused during tests, DNS hiccups).
	return errors.Is(err, net.ErrClosed) || isConnError(err)
}

func isConnError(err error) bool {
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
