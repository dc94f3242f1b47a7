package store

import (
	"github.com/leasegate/leasegate/internal/domain"
	"github.com/puzpuzpuz/xsync/v3"
)

// MemoryStore keeps lease records in a concurrent map. The conditional
// primitives run inside the map's per-key atomic compute, which gives the
// same linearizable CAS semantics as the durable backends. Used by tests and
// embedded single-process setups.
type MemoryStore struct {
	leases *xsync.MapOf[string, *domain.Lease]
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		leases: xsync.NewMapOf[string, *domain.Lease](),
	}
}

func (s *MemoryStore) Read(lockID string) (*domain.Lease, error) {
	lease, ok := s.leases.Load(lockID)
	if !ok {
		return nil, domain.ErrLeaseNotFound
	}
	return lease.Clone(), nil
}

func (s *MemoryStore) ConditionalWrite(
	lockID string, expectedVersion uint64, lease *domain.Lease,
) (*domain.Lease, error) {
	var stored *domain.Lease
	conflict := false

	s.leases.Compute(lockID, func(cur *domain.Lease, loaded bool) (*domain.Lease, bool) {
		currentVersion := NoVersion
		if loaded {
			currentVersion = cur.Version
		}
		if currentVersion != expectedVersion {
			conflict = true
			return cur, !loaded
		}

		stored = lease.Clone()
		stored.LockID = lockID
		stored.Version = expectedVersion + 1
		return stored, false
	})

	if conflict {
		return nil, domain.ErrVersionConflict
	}
	return stored.Clone(), nil
}

func (s *MemoryStore) ConditionalDelete(lockID string, expectedVersion uint64) error {
	conflict := false

	s.leases.Compute(lockID, func(cur *domain.Lease, loaded bool) (*domain.Lease, bool) {
		if !loaded || cur.Version != expectedVersion {
			conflict = true
			return cur, !loaded
		}
		return nil, true
	})

	if conflict {
		return domain.ErrVersionConflict
	}
	return nil
}

func (s *MemoryStore) Expired(olderThanMillis int64, limit int) ([]*domain.Lease, error) {
	expired := []*domain.Lease{}

	s.leases.Range(func(lockID string, lease *domain.Lease) bool {
		if lease.ExpiresAt <= olderThanMillis {
			expired = append(expired, lease.Clone())
		}
		return limit <= 0 || len(expired) < limit
	})

	return expired, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
