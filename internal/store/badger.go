package store

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog/log"

	"github.com/leasegate/leasegate/internal/domain"
)

var dbLease = []byte("lease")

// BadgerStore is the durable lease store. Conditional writes run inside a
// single badger read-write transaction: the version check and the mutation
// commit atomically, and a transaction-level conflict maps to
// domain.ErrVersionConflict just like a failed version check.
type BadgerStore struct {
	db *badger.DB
}

func NewBadgerStore(db *badger.DB) *BadgerStore {
	return &BadgerStore{db: db}
}

func (s *BadgerStore) Read(lockID string) (*domain.Lease, error) {
	txn := s.db.NewTransaction(false)
	defer txn.Discard()

	lease, err := s.readLease(txn, lockID)
	if err != nil {
		return nil, err
	}
	return lease, nil
}

func (s *BadgerStore) ConditionalWrite(
	lockID string, expectedVersion uint64, lease *domain.Lease,
) (*domain.Lease, error) {
	txn := s.db.NewTransaction(true)
	defer txn.Discard()

	cur, err := s.readLease(txn, lockID)
	if err != nil && !errors.Is(err, domain.ErrLeaseNotFound) {
		return nil, err
	}

	currentVersion := NoVersion
	if cur != nil {
		currentVersion = cur.Version
	}
	if currentVersion != expectedVersion {
		return nil, domain.ErrVersionConflict
	}

	stored := lease.Clone()
	stored.LockID = lockID
	stored.Version = expectedVersion + 1

	value, err := json.Marshal(stored)
	if err != nil {
		return nil, fmt.Errorf("failed to encode lease for key %s: %w", lockID, err)
	}

	if err := txn.Set(addPrefix(dbLease, []byte(lockID)), value); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	if err := txn.Commit(); err != nil {
		if errors.Is(err, badger.ErrConflict) {
			return nil, domain.ErrVersionConflict
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}

	return stored, nil
}

func (s *BadgerStore) ConditionalDelete(lockID string, expectedVersion uint64) error {
	txn := s.db.NewTransaction(true)
	defer txn.Discard()

	cur, err := s.readLease(txn, lockID)
	if err != nil {
		if errors.Is(err, domain.ErrLeaseNotFound) {
			return domain.ErrVersionConflict
		}
		return err
	}
	if cur.Version != expectedVersion {
		return domain.ErrVersionConflict
	}

	if err := txn.Delete(addPrefix(dbLease, []byte(lockID))); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	if err := txn.Commit(); err != nil {
		if errors.Is(err, badger.ErrConflict) {
			return domain.ErrVersionConflict
		}
		return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}

	return nil
}

func (s *BadgerStore) Expired(olderThanMillis int64, limit int) ([]*domain.Lease, error) {
	txn := s.db.NewTransaction(false)
	defer txn.Discard()

	opts := badger.DefaultIteratorOptions
	opts.PrefetchSize = 100
	opts.PrefetchValues = true

	it := txn.NewIterator(opts)
	defer it.Close()

	expired := []*domain.Lease{}

	for it.Seek(dbLease); it.ValidForPrefix(dbLease); it.Next() {
		item := it.Item()

		value, err := item.ValueCopy(nil)
		if err != nil {
			log.Debug().Msgf("Error reading key %s: %v", item.Key(), err)
			continue
		}

		var lease domain.Lease
		if err := json.Unmarshal(value, &lease); err != nil {
			log.Debug().Msgf("Error decoding key %s: %v", item.Key(), err)
			continue
		}

		if lease.ExpiresAt <= olderThanMillis {
			expired = append(expired, &lease)
			if limit > 0 && len(expired) >= limit {
				break
			}
		}
	}

	return expired, nil
}

// PersistSnapshot writes every lease record as a JSON line. Expired records
// are included: their fencing tokens are the lock's history and must survive
// a restore.
func (s *BadgerStore) PersistSnapshot(w io.Writer) error {
	txn := s.db.NewTransaction(false)
	defer txn.Discard()

	opts := badger.DefaultIteratorOptions
	opts.PrefetchSize = 100
	opts.PrefetchValues = true

	it := txn.NewIterator(opts)
	defer it.Close()

	cnt := 0
	for it.Seek(dbLease); it.ValidForPrefix(dbLease); it.Next() {
		item := it.Item()

		value, err := item.ValueCopy(nil)
		if err != nil || value == nil {
			log.Debug().Msgf("Error reading key %s: %v", item.Key(), err)
			continue
		}

		if _, err := w.Write(value); err != nil {
			return err
		}
		if _, err := w.Write([]byte("\n")); err != nil {
			return err
		}
		cnt++
	}

	log.Debug().Msgf("Total leases copied: %d", cnt)
	return nil
}

// RestoreSnapshot reads the JSON lines written by PersistSnapshot and stores
// them verbatim, versions included. Only the raft FSM uses it, against a
// store that is being rebuilt from scratch.
func (s *BadgerStore) RestoreSnapshot(r io.Reader) (int, error) {
	scanner := bufio.NewScanner(r)

	linesTotal := 0
	linesRestored := 0
	for scanner.Scan() {
		line := scanner.Bytes()
		linesTotal++

		var lease domain.Lease
		if err := json.Unmarshal(line, &lease); err != nil {
			log.Warn().Msgf("Failed to decode lease: %v %v", err, string(line))
			continue
		}

		if err := s.restoreLease(&lease); err != nil {
			log.Warn().Msgf("Failed to restore lease %s: %v", lease.LockID, err)
			continue
		}
		linesRestored++
	}
	if err := scanner.Err(); err != nil {
		return linesRestored, err
	}

	log.Info().Msgf("Restored %d out of %d leases", linesRestored, linesTotal)
	return linesRestored, nil
}

func (s *BadgerStore) restoreLease(lease *domain.Lease) error {
	txn := s.db.NewTransaction(true)
	defer txn.Discard()

	value, err := json.Marshal(lease)
	if err != nil {
		return err
	}
	if err := txn.Set(addPrefix(dbLease, []byte(lease.LockID)), value); err != nil {
		return err
	}
	return txn.Commit()
}

func (s *BadgerStore) readLease(txn *badger.Txn, lockID string) (*domain.Lease, error) {
	item, err := txn.Get(addPrefix(dbLease, []byte(lockID)))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, domain.ErrLeaseNotFound
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}

	value, err := item.ValueCopy(nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}

	var lease domain.Lease
	if err := json.Unmarshal(value, &lease); err != nil {
		return nil, fmt.Errorf("failed to decode lease for key %s: %w", lockID, err)
	}
	return &lease, nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}
