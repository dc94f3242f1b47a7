package store

import (
	"github.com/leasegate/leasegate/internal/domain"
)

// NoVersion is the expected-version sentinel for a conditional write against
// an absent record. Stored versions start at 1, so 0 can never collide.
const NoVersion uint64 = 0

// LeaseStore is durable, linearizable storage for lease records. All
// mutations go through the conditional primitives; there is no unconditional
// write, which is what lets the lock manager stay stateless.
type LeaseStore interface {
	// Read returns the current lease record for the lock, or
	// domain.ErrLeaseNotFound when none exists. It has no side effects and
	// never evaluates expiry.
	Read(lockID string) (*domain.Lease, error)

	// ConditionalWrite stores lease iff the current record's version equals
	// expectedVersion (NoVersion when the record must be absent). The store
	// assigns the new version, expectedVersion+1, and returns the record as
	// stored. A lost race fails with domain.ErrVersionConflict and leaves the
	// store untouched; an ambiguous outcome surfaces as
	// domain.ErrStoreUnavailable and must never be treated as success.
	ConditionalWrite(lockID string, expectedVersion uint64, lease *domain.Lease) (*domain.Lease, error)

	// ConditionalDelete removes the record iff its version still equals
	// expectedVersion. Used by the expiry sweeper only; a conflict means the
	// lock was reacquired and the record must be left alone.
	ConditionalDelete(lockID string, expectedVersion uint64) error

	// Expired returns up to limit lease records whose deadline is at or
	// before olderThanMillis. Purely a housekeeping scan, it makes no
	// freshness guarantee.
	Expired(olderThanMillis int64, limit int) ([]*domain.Lease, error)

	Close() error
}
