package domain

// Lease is the canonical record of a lock in the lease store. A lock exists
// only through its lease: the record carries the current owner, the fencing
// token handed out with every grant and the storage-level version used for
// conditional writes.
type Lease struct {
	LockID       string `json:"lock_id"`
	OwnerID      string `json:"owner_id"`
	FencingToken uint64 `json:"fencing_token"`
	ExpiresAt    int64  `json:"expires_at"`
	Version      uint64 `json:"version"`
}

// HeldAt reports whether the lease is owned and not expired at nowMillis.
func (l *Lease) HeldAt(nowMillis int64) bool {
	return l.OwnerID != "" && nowMillis < l.ExpiresAt
}

// FreeAt reports whether the lease is logically free at nowMillis. A record
// whose deadline has passed is free even before the sweeper reclaims it.
func (l *Lease) FreeAt(nowMillis int64) bool {
	return !l.HeldAt(nowMillis)
}

func (l *Lease) Clone() *Lease {
	c := *l
	return &c
}
