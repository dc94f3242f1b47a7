package lock

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/rs/zerolog/log"

	"github.com/leasegate/leasegate/internal/clock"
	"github.com/leasegate/leasegate/internal/domain"
	"github.com/leasegate/leasegate/internal/store"
)

var sweeperReclaimed = metrics.NewCounter(`leasegate_sweeper_reclaimed_total`)

// Sweeper reclaims lease records whose deadline passed longer than grace
// ago. It is housekeeping only: the manager evaluates expiry live, so a
// missed sweep delays cleanup but never correctness. Deletes go through the
// store's conditional path with the version observed during the scan, so a
// lease that was reacquired mid-sweep is left alone.
type Sweeper struct {
	store     store.LeaseStore
	clock     clock.Clock
	interval  time.Duration
	grace     time.Duration
	batchSize int

	active atomic.Bool
}

func NewSweeper(s store.LeaseStore, c clock.Clock, interval, grace time.Duration) *Sweeper {
	sw := &Sweeper{
		store:     s,
		clock:     c,
		interval:  interval,
		grace:     grace,
		batchSize: 1000,
	}
	sw.active.Store(true)
	return sw
}

// SetActive toggles sweeping. In a replicated deployment this is wired to
// the node's leader-change callback so only the leader sweeps.
func (s *Sweeper) SetActive(active bool) {
	s.active.Store(active)
}

// Run sweeps on the configured interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !s.active.Load() {
				continue
			}
			s.SweepOnce()
		}
	}
}

// SweepOnce scans for long-expired leases and reclaims them. Errors are
// logged and left for the next interval.
func (s *Sweeper) SweepOnce() int {
	cutoff := s.clock.Now().Add(-s.grace).UnixMilli()

	expired, err := s.store.Expired(cutoff, s.batchSize)
	if err != nil {
		log.Warn().Err(err).Msg("Sweeper failed to scan for expired leases")
		return 0
	}

	reclaimed := 0
	for _, lease := range expired {
		err := s.store.ConditionalDelete(lease.LockID, lease.Version)
		if err != nil {
			if errors.Is(err, domain.ErrVersionConflict) {
				// Reacquired between scan and delete.
				continue
			}
			log.Warn().Err(err).Msgf("Sweeper failed to reclaim lease %s", lease.LockID)
			continue
		}
		reclaimed++
	}

	if reclaimed > 0 {
		sweeperReclaimed.Add(reclaimed)
		log.Debug().Msgf("Sweeper reclaimed %d expired leases", reclaimed)
	}
	return reclaimed
}
