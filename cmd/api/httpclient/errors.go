package httpclient

import (
	"errors"
	"fmt"
)

var ErrClientClosed = errors.New("http client closed")

// UpstreamError is a non-2xx response that was not, or could no longer be, retried.
type UpstreamError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
	Attempts   int
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s %s: upstream responded %d after %d attempt(s)", e.Method, e.URL, e.StatusCode, e.Attempts)
}

// TimeoutError is returned when the last attempt exceeded the per-attempt timeout.
type TimeoutError struct {
	Method   string
	URL      string
	Attempts int
	Err      error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s %s: timed out after %d attempt(s): %v", e.Method, e.URL, e.Attempts, e.Err)
}

func (e *TimeoutError) Unwrap() error {
	return e.Err
}

// TransportError is returned when the last attempt failed before a response arrived.
type TransportError struct {
	Method   string
	URL      string
	Attempts int
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: transport failure after %d attempt(s): %v", e.Method, e.URL, e.Attempts, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
