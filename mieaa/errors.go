package mieaa

import (
	"context"
	"errors"
	"fmt"
)

// ErrUsage is wrapped by every error caused by calling the session in the
// wrong state or with invalid arguments. These are programmer errors and are
// never retried.
var ErrUsage = errors.New("mieaa: usage error")

var (
	ErrJobActive      = fmt.Errorf("%w: an analysis is already attached to this session, call Invalidate first", ErrUsage)
	ErrNoJob          = fmt.Errorf("%w: no enrichment analysis has been initiated", ErrUsage)
	ErrConcurrentUse  = fmt.Errorf("%w: session is already in use by another call", ErrUsage)
	ErrInvalidRequest = fmt.Errorf("%w: invalid request", ErrUsage)
)

// ErrRetriesExhausted is returned by Results when the connection kept
// dropping for every allowed attempt. The job itself may still be running.
var ErrRetriesExhausted = errors.New("mieaa: retries exhausted while waiting for results")

// HTTPError is a non-2xx answer from the service, annotated with the body.
type HTTPError struct {
	Method     string
	URL        string
	StatusCode int
	Status     string
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s for url: %s\nResponse: %s", e.Status, e.URL, e.Body)
}

// MalformedResponseError is a 2xx answer whose body could not be understood.
type MalformedResponseError struct {
	Endpoint string
	Body     string
	Err      error
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("malformed %s response: %v (body: %q)", e.Endpoint, e.Err, truncate(e.Body, 256))
}

func (e *MalformedResponseError) Unwrap() error { return e.Err }

// connectionError reports whether err is a dropped or failed connection, the
// only kind of failure Results retries. Cancellation of ctx never is.
func connectionError(ctx context.Context, err error) bool {
	if err == nil || ctx.Err() != nil {
		return false
	}
	if errors.Is(err, ErrUsage) {
		return false
	}
	var he *HTTPError
	if errors.As(err, &he) {
		return false
	}
	var me *MalformedResponseError
	return !errors.As(err, &me)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
