package client

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrNotAcquired is returned by Acquire when the lock stayed held by another
// owner for the whole retry window.
var ErrNotAcquired = errors.New("lock not acquired")

// ErrLeaseLost is returned by Renew and by a session heartbeat when the
// service reports the lease as expired or owned by somebody else. The holder
// must stop relying on the lock and re-acquire.
var ErrLeaseLost = errors.New("lease lost")

// APIError carries a non-2xx response from the lock service with the status
// code and detail of the service's error model.
type APIError struct {
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("lock service returned %d: %s", e.StatusCode, e.Detail)
}

// Retryable reports whether the request may succeed if replayed: the lock is
// merely held, or the service is temporarily unavailable.
func (e *APIError) Retryable() bool {
	switch e.StatusCode {
	case http.StatusConflict, http.StatusServiceUnavailable, http.StatusTooManyRequests:
		return true
	}
	return false
}
