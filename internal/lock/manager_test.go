package lock

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leasegate/leasegate/internal/clock"
	"github.com/leasegate/leasegate/internal/domain"
	"github.com/leasegate/leasegate/internal/store"
)

func testManager() (*Manager, *clock.Manual) {
	clk := clock.NewManual(time.Unix(1700000000, 0))
	return NewManager(store.NewMemoryStore(), clk), clk
}

func TestManagerAcquireInvalidArguments(t *testing.T) {
	m, _ := testManager()

	_, err := m.Acquire("", "owner-a", time.Second)
	assert.ErrorIs(t, err, domain.ErrInvalidKey)

	_, err = m.Acquire("L1", "", time.Second)
	assert.ErrorIs(t, err, domain.ErrInvalidOwner)

	_, err = m.Acquire("L1", "owner-a", 0)
	assert.ErrorIs(t, err, domain.ErrInvalidTTL)

	_, err = m.Acquire("L1", "owner-a", -time.Second)
	assert.ErrorIs(t, err, domain.ErrInvalidTTL)
}

// Scenario: A acquires, B is denied, B succeeds after A's TTL lapses and the
// fencing token keeps growing across the owner change.
func TestManagerAcquireExpiryHandoff(t *testing.T) {
	m, clk := testManager()

	leaseA, err := m.Acquire("L1", "A", time.Second)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), leaseA.FencingToken)

	_, err = m.Acquire("L1", "B", time.Second)
	assert.ErrorIs(t, err, domain.ErrLockHeld)

	clk.Advance(1100 * time.Millisecond)

	leaseB, err := m.Acquire("L1", "B", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "B", leaseB.OwnerID)
	assert.Equal(t, uint64(2), leaseB.FencingToken)
}

// Scenario: acquire, renew, release by a stranger, release by the owner.
func TestManagerRenewRelease(t *testing.T) {
	m, _ := testManager()

	leaseA, err := m.Acquire("L1", "A", 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), leaseA.FencingToken)

	renewed, err := m.Renew("L1", "A", 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), renewed.FencingToken)

	err = m.Release("L1", "B")
	assert.ErrorIs(t, err, domain.ErrNotOwner)

	err = m.Release("L1", "A")
	require.NoError(t, err)

	status, err := m.Status("L1")
	require.NoError(t, err)
	assert.Nil(t, status)
}

func TestManagerStatusNeverAcquired(t *testing.T) {
	m, _ := testManager()

	status, err := m.Status("L2")
	require.NoError(t, err)
	assert.Nil(t, status)
}

func TestManagerStatusHeld(t *testing.T) {
	m, clk := testManager()

	lease, err := m.Acquire("L1", "A", time.Second)
	require.NoError(t, err)

	status, err := m.Status("L1")
	require.NoError(t, err)
	require.NotNil(t, status)
	assert.Equal(t, "A", status.OwnerID)
	assert.Equal(t, lease.FencingToken, status.FencingToken)
	assert.Equal(t, lease.ExpiresAt, status.ExpiresAt)

	// Expiry is evaluated live; the record is still in the store.
	clk.Advance(1100 * time.Millisecond)

	status, err = m.Status("L1")
	require.NoError(t, err)
	assert.Nil(t, status)
}

func TestManagerRenewOutcomesAreDistinct(t *testing.T) {
	m, clk := testManager()

	// Renewing a lock that never existed is Expired, not NotOwner.
	_, err := m.Renew("L1", "A", time.Second)
	assert.ErrorIs(t, err, domain.ErrLeaseExpired)

	_, err = m.Acquire("L1", "A", time.Second)
	require.NoError(t, err)

	// Renew by a non-owner while the lease is live.
	_, err = m.Renew("L1", "B", time.Second)
	assert.ErrorIs(t, err, domain.ErrNotOwner)

	// Renew after expiry must not resurrect the lease.
	clk.Advance(1100 * time.Millisecond)
	_, err = m.Renew("L1", "A", time.Second)
	assert.ErrorIs(t, err, domain.ErrLeaseExpired)
}

func TestManagerReleaseIdempotent(t *testing.T) {
	m, clk := testManager()

	// Releasing a never-acquired lock succeeds.
	require.NoError(t, m.Release("L1", "A"))

	_, err := m.Acquire("L1", "A", time.Second)
	require.NoError(t, err)

	require.NoError(t, m.Release("L1", "A"))
	// Releasing twice is fine.
	require.NoError(t, m.Release("L1", "A"))

	// An expired lease is already free for anyone.
	_, err = m.Acquire("L1", "A", time.Second)
	require.NoError(t, err)
	clk.Advance(2 * time.Second)
	require.NoError(t, m.Release("L1", "B"))
}

// Fencing tokens are strictly increasing across grants, renews, releases and
// owner changes.
func TestManagerFencingTokenMonotonicity(t *testing.T) {
	m, clk := testManager()

	var tokens []uint64

	lease, err := m.Acquire("L1", "A", time.Second)
	require.NoError(t, err)
	tokens = append(tokens, lease.FencingToken)

	lease, err = m.Renew("L1", "A", time.Second)
	require.NoError(t, err)
	tokens = append(tokens, lease.FencingToken)

	require.NoError(t, m.Release("L1", "A"))

	// Release keeps the record, so B's grant continues the sequence.
	lease, err = m.Acquire("L1", "B", time.Second)
	require.NoError(t, err)
	tokens = append(tokens, lease.FencingToken)

	// Expiry hand-off continues it too.
	clk.Advance(1100 * time.Millisecond)
	lease, err = m.Acquire("L1", "C", time.Second)
	require.NoError(t, err)
	tokens = append(tokens, lease.FencingToken)

	for i := 1; i < len(tokens); i++ {
		assert.Greater(t, tokens[i], tokens[i-1])
	}
}

// Same-owner re-acquire is a fresh grant with a fresh TTL and token.
func TestManagerReacquireBySameOwner(t *testing.T) {
	m, _ := testManager()

	first, err := m.Acquire("L1", "A", time.Second)
	require.NoError(t, err)

	second, err := m.Acquire("L1", "A", time.Second)
	require.NoError(t, err)
	assert.Greater(t, second.FencingToken, first.FencingToken)
}

// Mutual exclusion: across concurrent acquires exactly one wins while a
// non-expired lease is outstanding.
func TestManagerMutualExclusion(t *testing.T) {
	m, _ := testManager()

	var wg sync.WaitGroup
	granted := make(chan string, 64)

	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			owner := fmt.Sprintf("owner-%d", i)
			lease, err := m.Acquire("contended", owner, time.Minute)
			if err == nil {
				granted <- lease.OwnerID
			} else {
				assert.ErrorIs(t, err, domain.ErrLockHeld)
			}
		}(i)
	}
	wg.Wait()
	close(granted)

	winners := []string{}
	for owner := range granted {
		winners = append(winners, owner)
	}
	require.Equal(t, 1, len(winners))

	status, err := m.Status("contended")
	require.NoError(t, err)
	require.NotNil(t, status)
	assert.Equal(t, winners[0], status.OwnerID)
}

// Locks are independent: contention on one key never affects another.
func TestManagerIndependentLocks(t *testing.T) {
	m, _ := testManager()

	_, err := m.Acquire("L1", "A", time.Minute)
	require.NoError(t, err)

	lease, err := m.Acquire("L2", "B", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), lease.FencingToken)
}
