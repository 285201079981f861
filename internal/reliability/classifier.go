package reliability

import (
	"context"
	"errors"
	"net"
)

// Kind names the failure classes a chat page can surface.
type Kind string

const (
	KindAuth         Kind = "auth"
	KindHistory      Kind = "history"
	KindSessionStart Kind = "session_start"
	KindSend         Kind = "send"
	KindLogout       Kind = "logout"
)

// StatusCoder is implemented by errors that carry an upstream HTTP status.
type StatusCoder interface {
	StatusCode() int
}

// IsRetryableHTTPStatus classifies retryable HTTP status codes.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case 408, 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// IsAuthStatus reports whether code means the credentials were rejected.
func IsAuthStatus(code int) bool {
	return code == 401 || code == 403
}

// IsAuthFailure reports whether err was caused by rejected credentials.
func IsAuthFailure(err error) bool {
	var sc StatusCoder
	if errors.As(err, &sc) {
		return IsAuthStatus(sc.StatusCode())
	}
	return false
}

// IsRetryable reports whether a user-driven retry of the failed call can
// reasonably succeed. Nothing retries automatically; this only drives the
// hint shown next to the composer.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var sc StatusCoder
	if errors.As(err, &sc) {
		return IsRetryableHTTPStatus(sc.StatusCode())
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return false
}

// Classify maps a failure of operation op onto the page's error taxonomy.
// Rejected credentials are an auth failure whatever the operation.
func Classify(op Kind, err error) Kind {
	if IsAuthFailure(err) {
		return KindAuth
	}
	return op
}
