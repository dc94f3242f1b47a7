package client

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Session holds a lock and keeps it alive with background renewals at a
// third of the TTL. When a renewal reports the lease as lost, the session
// stops and closes Lost; the holder must abandon the protected work.
type Session struct {
	client *Client
	key    string
	owner  string
	ttl    time.Duration

	mu    sync.Mutex
	token uint64

	lost   chan struct{}
	cancel context.CancelFunc
	done   chan struct{}
}

// Hold acquires the lock (with retries) and starts the heartbeat. The
// returned session is valid until Release is called or Lost closes.
func (c *Client) Hold(ctx context.Context, key, owner string, ttl time.Duration) (*Session, error) {
	lease, err := c.Acquire(ctx, key, owner, ttl)
	if err != nil {
		return nil, err
	}

	hbCtx, cancel := context.WithCancel(context.Background())
	s := &Session{
		client: c,
		key:    key,
		owner:  owner,
		ttl:    ttl,
		token:  lease.FencingToken,
		lost:   make(chan struct{}),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go s.heartbeat(hbCtx)

	return s, nil
}

// Token returns the current fencing token. It changes on every successful
// renewal, so callers should read it right before each fenced downstream
// write.
func (s *Session) Token() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

// Lost closes when the session can no longer guarantee the lease.
func (s *Session) Lost() <-chan struct{} {
	return s.lost
}

// Release stops the heartbeat and gives the lock up.
func (s *Session) Release(ctx context.Context) error {
	s.cancel()
	<-s.done

	select {
	case <-s.lost:
		// Nothing to release; the lease is already gone.
		return nil
	default:
	}

	return s.client.Release(ctx, s.key, s.owner)
}

func (s *Session) heartbeat(ctx context.Context) {
	defer close(s.done)

	interval := s.ttl / 3
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		lease, err := s.client.Renew(ctx, s.key, s.owner, s.ttl)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			// A failed renewal is only fatal once the lease may have lapsed;
			// until then the next tick retries. Treat a definite loss as
			// final immediately.
			if errors.Is(err, ErrLeaseLost) {
				close(s.lost)
				return
			}
			continue
		}

		s.mu.Lock()
		s.token = lease.FencingToken
		s.mu.Unlock()
	}
}
