// Package errors classifies failures of remote services (yt-dlp hosts, chat
// APIs, speech and parser models) as transient, permanent or degraded, and
// provides the retry loop and circuit breaker that act on that split.
package errors

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"
	"time"
)

// TransientError is worth retrying. StatusCode 429 marks a rate limit whose
// RetryAfter (seconds) overrides the computed backoff.
type TransientError struct {
	Err        error
	RetryAfter int
	StatusCode int
	Message    string
}

func (e *TransientError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("transient error: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError stops retries immediately.
type PermanentError struct {
	Err        error
	StatusCode int
	Message    string
}

func (e *PermanentError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("permanent error: %v", e.Err)
}

func (e *PermanentError) Unwrap() error { return e.Err }

// DegradedError means the service was skipped, typically because its
// breaker is open. Callers continue without its output.
type DegradedError struct {
	Err             error
	FallbackContent string
	Message         string
}

func (e *DegradedError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("degraded: %v", e.Err)
}

func (e *DegradedError) Unwrap() error { return e.Err }

// IsTransient reports whether err should be retried. Unclassified network
// timeouts and connection resets count as transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var transient *TransientError
	if errors.As(err, &transient) {
		return true
	}
	var permanent *PermanentError
	if errors.As(err, &permanent) {
		return false
	}
	return isNetworkError(err) || isSyscallError(err)
}

func IsPermanent(err error) bool {
	var permanent *PermanentError
	return err != nil && errors.As(err, &permanent)
}

func IsDegraded(err error) bool {
	var degraded *DegradedError
	return err != nil && errors.As(err, &degraded)
}

// RateLimitDelay reports the wait requested by a rate-limit response.
// The second result is false when err is not a rate-limit error.
func RateLimitDelay(err error) (time.Duration, bool) {
	var transient *TransientError
	if !errors.As(err, &transient) || transient.StatusCode != http.StatusTooManyRequests {
		return 0, false
	}
	if transient.RetryAfter < 0 {
		return 0, true
	}
	return time.Duration(transient.RetryAfter) * time.Second, true
}

func isNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.IsTemporary || dnsErr.IsTimeout
	}
	return false
}

func isSyscallError(err error) bool {
	var errno syscall.Errno
	if !errors.As(err, &errno) {
		return false
	}
	switch errno {
	case syscall.ECONNREFUSED, syscall.ECONNRESET, syscall.EPIPE,
		syscall.ETIMEDOUT, syscall.ENETUNREACH, syscall.EHOSTUNREACH:
		return true
	}
	return false
}

// IsTransientHTTPStatus reports whether a status code is worth retrying.
func IsTransientHTTPStatus(status int) bool {
	switch status {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

func NewTransientError(err error, message string) *TransientError {
	return &TransientError{Err: err, Message: message}
}

// NewRateLimitError marks err as a 429 carrying the remote retry-after hint.
func NewRateLimitError(err error, retryAfterSeconds int) *TransientError {
	return &TransientError{Err: err, StatusCode: http.StatusTooManyRequests, RetryAfter: retryAfterSeconds}
}

func NewPermanentError(err error, message string) *PermanentError {
	return &PermanentError{Err: err, Message: message}
}

func NewDegradedError(err error, message, fallback string) *DegradedError {
	return &DegradedError{Err: err, Message: message, FallbackContent: fallback}
}
