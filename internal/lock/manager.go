// Package lock implements the lease protocol on top of a LeaseStore: a
// stateless state machine whose only serialization point is the store's
// conditional write. Any number of manager replicas can run concurrently
// against the same store.
package lock

import (
	"errors"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/rs/zerolog/log"

	"github.com/leasegate/leasegate/internal/clock"
	"github.com/leasegate/leasegate/internal/domain"
	"github.com/leasegate/leasegate/internal/store"
)

var (
	acquiresGranted = metrics.NewCounter(`leasegate_acquires_total{result="granted"}`)
	acquiresDenied  = metrics.NewCounter(`leasegate_acquires_total{result="denied"}`)
	renewsOK        = metrics.NewCounter(`leasegate_renews_total{result="renewed"}`)
	renewsFailed    = metrics.NewCounter(`leasegate_renews_total{result="failed"}`)
	releases        = metrics.NewCounter(`leasegate_releases_total`)
)

type Manager struct {
	store store.LeaseStore
	clock clock.Clock
}

func NewManager(s store.LeaseStore, c clock.Clock) *Manager {
	return &Manager{store: s, clock: c}
}

// Acquire grants the lock to ownerID for ttl if it is free. A lost CAS race
// is retried once after a re-read; a lock held by someone else is denied
// immediately. Blocking and backoff belong to the caller, not here.
func (m *Manager) Acquire(lockID, ownerID string, ttl time.Duration) (*domain.Lease, error) {
	if err := validate(lockID, ownerID, ttl); err != nil {
		return nil, err
	}

	for attempt := 0; attempt < 2; attempt++ {
		cur, err := m.read(lockID)
		if err != nil {
			return nil, err
		}

		now := m.clock.Now().UnixMilli()

		expectedVersion := store.NoVersion
		nextToken := uint64(1)
		if cur != nil {
			if cur.HeldAt(now) && cur.OwnerID != ownerID {
				acquiresDenied.Inc()
				return nil, domain.ErrLockHeld
			}
			// Free, expired, or a re-acquire by the current owner: the grant
			// continues the token sequence from the existing record.
			expectedVersion = cur.Version
			nextToken = cur.FencingToken + 1
		}

		granted, err := m.store.ConditionalWrite(lockID, expectedVersion, &domain.Lease{
			LockID:       lockID,
			OwnerID:      ownerID,
			FencingToken: nextToken,
			ExpiresAt:    now + ttl.Milliseconds(),
		})
		if err == nil {
			acquiresGranted.Inc()
			log.Debug().Msgf(
				"Acquired lock %s for %s token=%d expires_at=%d",
				lockID, ownerID, granted.FencingToken, granted.ExpiresAt,
			)
			return granted, nil
		}
		if !errors.Is(err, domain.ErrVersionConflict) {
			return nil, err
		}
		// Lost the race; re-read once and re-evaluate.
	}

	acquiresDenied.Inc()
	return nil, domain.ErrLockHeld
}

// Renew extends the caller's lease and bumps the fencing token. The token
// moves on every renew, not only on owner changes, so a downstream resource
// can reject a stale writer even when both writers are the same logical
// owner. An expired lease is never resurrected: the caller must re-acquire.
func (m *Manager) Renew(lockID, ownerID string, ttl time.Duration) (*domain.Lease, error) {
	if err := validate(lockID, ownerID, ttl); err != nil {
		return nil, err
	}

	cur, err := m.read(lockID)
	if err != nil {
		return nil, err
	}

	now := m.clock.Now().UnixMilli()

	if cur == nil || cur.FreeAt(now) {
		renewsFailed.Inc()
		return nil, domain.ErrLeaseExpired
	}
	if cur.OwnerID != ownerID {
		renewsFailed.Inc()
		return nil, domain.ErrNotOwner
	}

	renewed, err := m.store.ConditionalWrite(lockID, cur.Version, &domain.Lease{
		LockID:       lockID,
		OwnerID:      ownerID,
		FencingToken: cur.FencingToken + 1,
		ExpiresAt:    now + ttl.Milliseconds(),
	})
	if err == nil {
		renewsOK.Inc()
		return renewed, nil
	}
	if !errors.Is(err, domain.ErrVersionConflict) {
		return nil, err
	}

	renewsFailed.Inc()
	return nil, m.classifyLost(lockID, ownerID, err)
}

// Release marks the lock free while keeping the record, so the fencing token
// sequence survives the release. Releasing an already-free lock succeeds:
// the caller only learns NotOwner when somebody else holds the lease.
func (m *Manager) Release(lockID, ownerID string) error {
	if lockID == "" {
		return domain.ErrInvalidKey
	}
	if ownerID == "" {
		return domain.ErrInvalidOwner
	}

	cur, err := m.read(lockID)
	if err != nil {
		return err
	}

	now := m.clock.Now().UnixMilli()

	if cur == nil || cur.FreeAt(now) {
		return nil
	}
	if cur.OwnerID != ownerID {
		return domain.ErrNotOwner
	}

	// The deadline is set to now, not zero, so the freed record still gets
	// the sweeper's full grace window before its token history is reclaimed.
	_, err = m.store.ConditionalWrite(lockID, cur.Version, &domain.Lease{
		LockID:       lockID,
		OwnerID:      "",
		FencingToken: cur.FencingToken,
		ExpiresAt:    now,
	})
	if err == nil {
		releases.Inc()
		return nil
	}
	if !errors.Is(err, domain.ErrVersionConflict) {
		return err
	}

	lost := m.classifyLost(lockID, ownerID, err)
	if errors.Is(lost, domain.ErrLeaseExpired) {
		// The lease lapsed while we raced; released either way.
		return nil
	}
	return lost
}

// Status reports the current holder with expiry evaluated live. An expired
// or freed record reads as free even before the sweeper reclaims it.
func (m *Manager) Status(lockID string) (*domain.Lease, error) {
	if lockID == "" {
		return nil, domain.ErrInvalidKey
	}

	cur, err := m.read(lockID)
	if err != nil {
		return nil, err
	}
	if cur == nil || cur.FreeAt(m.clock.Now().UnixMilli()) {
		return nil, nil
	}
	return cur, nil
}

func (m *Manager) read(lockID string) (*domain.Lease, error) {
	cur, err := m.store.Read(lockID)
	if err != nil {
		if errors.Is(err, domain.ErrLeaseNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return cur, nil
}

// classifyLost re-reads after a lost CAS race and maps the outcome to the
// protocol error the caller should see.
func (m *Manager) classifyLost(lockID, ownerID string, raceErr error) error {
	cur, err := m.read(lockID)
	if err != nil {
		return err
	}

	now := m.clock.Now().UnixMilli()

	if cur == nil || cur.FreeAt(now) {
		return domain.ErrLeaseExpired
	}
	if cur.OwnerID != ownerID {
		return domain.ErrNotOwner
	}
	return raceErr
}

func validate(lockID, ownerID string, ttl time.Duration) error {
	if lockID == "" {
		return domain.ErrInvalidKey
	}
	if ownerID == "" {
		return domain.ErrInvalidOwner
	}
	if ttl <= 0 {
		return domain.ErrInvalidTTL
	}
	return nil
}
