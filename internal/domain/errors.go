package domain

import (
	"errors"
	"fmt"
)

var (
	ErrFailedToJoinNode = errors.New("failed to join node")

	ErrLeaseNotFound    = errors.New("lease not found")
	ErrLockHeld         = errors.New("lock is held by another owner")
	ErrNotOwner         = errors.New("owner mismatch")
	ErrLeaseExpired     = errors.New("lease expired")
	ErrVersionConflict  = errors.New("version conflict")
	ErrStoreUnavailable = errors.New("store unavailable")

	ErrInvalidKey   = errors.New("invalid lock key")
	ErrInvalidOwner = errors.New("invalid owner")
	ErrInvalidTTL   = errors.New("invalid ttl")
)

// NotLeaderError is returned by a replicated lease store when an operation
// reached a follower. It carries the HTTP address of the current leader so
// the caller can replay the operation there.
type NotLeaderError struct {
	LeaderHTTPAddr string
}

func (e *NotLeaderError) Error() string {
	if e.LeaderHTTPAddr == "" {
		return "not a leader: leader unknown"
	}
	return fmt.Sprintf("not a leader: leader is at %s", e.LeaderHTTPAddr)
}
