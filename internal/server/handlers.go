package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/rs/zerolog/log"

	"github.com/leasegate/leasegate/internal/domain"
	"github.com/leasegate/leasegate/pkg/client"
)

// LockService is the lease protocol the handlers expose over HTTP.
type LockService interface {
	Acquire(lockID, ownerID string, ttl time.Duration) (*domain.Lease, error)
	Renew(lockID, ownerID string, ttl time.Duration) (*domain.Lease, error)
	Release(lockID, ownerID string) error
	Status(lockID string) (*domain.Lease, error)
}

// Node is the cluster membership surface of a Raft-backed node.
type Node interface {
	Join(nodeID string, raftAddr string) error
}

type Handler struct {
	locks LockService
	node  Node

	// forwardHTTP is shared by the per-leader clients used to replay
	// operations that landed on a follower.
	forwardHTTP *http.Client
}

func (h *Handler) Join(ctx context.Context, input *JoinInput) (*JoinOutput, error) {
	if h.node == nil {
		return nil, huma.Error503ServiceUnavailable("Node is not running in cluster mode")
	}

	if err := h.node.Join(input.Body.ID, input.Body.RaftAddr); err != nil {
		var notLeader *domain.NotLeaderError
		if errors.As(err, &notLeader) {
			cli, ferr := h.leaderClient(notLeader)
			if ferr != nil {
				return nil, ferr
			}
			if err := cli.Join(ctx, input.Body.ID, input.Body.RaftAddr); err != nil {
				return nil, h.mapError(err)
			}
		} else {
			return nil, huma.Error500InternalServerError("Failed to join the cluster", err)
		}
	}

	res := &JoinOutput{}
	res.Body.ID = input.Body.ID
	res.Body.RaftAddr = input.Body.RaftAddr

	return res, nil
}

func (h *Handler) Acquire(ctx context.Context, input *AcquireInput) (*AcquireOutput, error) {
	ttl := time.Duration(input.Body.TTL) * time.Millisecond

	lease, err := h.locks.Acquire(input.Key, input.Body.Owner, ttl)
	if err != nil {
		var notLeader *domain.NotLeaderError
		if errors.As(err, &notLeader) {
			return h.forwardAcquire(ctx, notLeader, input, ttl)
		}
		return nil, h.mapError(err)
	}

	return &AcquireOutput{
		Status: http.StatusOK,
		Body: LeaseBody{
			Status:       "ACQUIRED",
			Owner:        lease.OwnerID,
			FencingToken: lease.FencingToken,
			ExpiresAt:    lease.ExpiresAt,
		},
	}, nil
}

func (h *Handler) Renew(ctx context.Context, input *RenewInput) (*RenewOutput, error) {
	ttl := time.Duration(input.Body.TTL) * time.Millisecond

	lease, err := h.locks.Renew(input.Key, input.Body.Owner, ttl)
	if err != nil {
		var notLeader *domain.NotLeaderError
		if errors.As(err, &notLeader) {
			return h.forwardRenew(ctx, notLeader, input, ttl)
		}
		return nil, h.mapError(err)
	}

	return &RenewOutput{
		Status: http.StatusOK,
		Body: LeaseBody{
			Status:       "RENEWED",
			Owner:        lease.OwnerID,
			FencingToken: lease.FencingToken,
			ExpiresAt:    lease.ExpiresAt,
		},
	}, nil
}

func (h *Handler) Release(ctx context.Context, input *ReleaseInput) (*ReleaseOutput, error) {
	err := h.locks.Release(input.Key, input.Body.Owner)
	if err != nil {
		var notLeader *domain.NotLeaderError
		if errors.As(err, &notLeader) {
			cli, ferr := h.leaderClient(notLeader)
			if ferr != nil {
				return nil, ferr
			}
			err = cli.Release(ctx, input.Key, input.Body.Owner)
		}
		if err != nil {
			return nil, h.mapError(err)
		}
	}

	res := &ReleaseOutput{Status: http.StatusOK}
	res.Body.Status = "RELEASED"
	return res, nil
}

func (h *Handler) Status(ctx context.Context, input *StatusInput) (*StatusOutput, error) {
	lease, err := h.locks.Status(input.Key)
	if err != nil {
		var notLeader *domain.NotLeaderError
		if errors.As(err, &notLeader) {
			return h.forwardStatus(ctx, notLeader, input)
		}
		return nil, h.mapError(err)
	}

	res := &StatusOutput{Status: http.StatusOK}
	if lease == nil {
		res.Body.Free = true
		return res, nil
	}

	res.Body.Owner = lease.OwnerID
	res.Body.FencingToken = lease.FencingToken
	res.Body.ExpiresAt = lease.ExpiresAt
	return res, nil
}

func (h *Handler) forwardAcquire(
	ctx context.Context, notLeader *domain.NotLeaderError, input *AcquireInput, ttl time.Duration,
) (*AcquireOutput, error) {
	cli, err := h.leaderClient(notLeader)
	if err != nil {
		return nil, err
	}

	lease, err := cli.AcquireOnce(ctx, input.Key, input.Body.Owner, ttl)
	if err != nil {
		return nil, h.mapError(err)
	}

	return &AcquireOutput{
		Status: http.StatusOK,
		Body: LeaseBody{
			Status:       "ACQUIRED",
			Owner:        lease.Owner,
			FencingToken: lease.FencingToken,
			ExpiresAt:    lease.ExpiresAt.UnixMilli(),
		},
	}, nil
}

func (h *Handler) forwardRenew(
	ctx context.Context, notLeader *domain.NotLeaderError, input *RenewInput, ttl time.Duration,
) (*RenewOutput, error) {
	cli, err := h.leaderClient(notLeader)
	if err != nil {
		return nil, err
	}

	lease, err := cli.Renew(ctx, input.Key, input.Body.Owner, ttl)
	if err != nil {
		return nil, h.mapError(err)
	}

	return &RenewOutput{
		Status: http.StatusOK,
		Body: LeaseBody{
			Status:       "RENEWED",
			Owner:        lease.Owner,
			FencingToken: lease.FencingToken,
			ExpiresAt:    lease.ExpiresAt.UnixMilli(),
		},
	}, nil
}

func (h *Handler) forwardStatus(
	ctx context.Context, notLeader *domain.NotLeaderError, input *StatusInput,
) (*StatusOutput, error) {
	cli, err := h.leaderClient(notLeader)
	if err != nil {
		return nil, err
	}

	status, err := cli.Status(ctx, input.Key)
	if err != nil {
		return nil, h.mapError(err)
	}

	res := &StatusOutput{Status: http.StatusOK}
	res.Body.Free = status.Free
	if !status.Free {
		res.Body.Owner = status.Owner
		res.Body.FencingToken = status.FencingToken
		res.Body.ExpiresAt = status.ExpiresAt.UnixMilli()
	}
	return res, nil
}

// leaderClient builds a client for the leader a follower pointed us at.
func (h *Handler) leaderClient(notLeader *domain.NotLeaderError) (*client.Client, error) {
	addr := notLeader.LeaderHTTPAddr
	if addr == "" {
		return nil, huma.Error503ServiceUnavailable("No leader elected yet")
	}
	if !strings.HasPrefix(addr, "http://") && !strings.HasPrefix(addr, "https://") {
		addr = "http://" + addr
	}

	log.Debug().Msgf("Forwarding operation to leader at %s", addr)

	return client.New(addr, client.Options{HTTPClient: h.forwardHTTP}), nil
}

// mapError translates protocol errors to the HTTP error model. Errors from a
// forwarded call already carry the leader's status code and pass through
// unchanged.
func (h *Handler) mapError(err error) error {
	var apiErr *client.APIError
	if errors.As(err, &apiErr) {
		return huma.NewError(apiErr.StatusCode, apiErr.Detail)
	}

	switch {
	case errors.Is(err, domain.ErrLockHeld):
		return huma.Error409Conflict("Failed to acquire a lock", err)
	case errors.Is(err, domain.ErrNotOwner):
		return huma.Error409Conflict("Owner mismatch", err)
	case errors.Is(err, domain.ErrLeaseExpired):
		return huma.Error410Gone("Lease expired", err)
	case errors.Is(err, domain.ErrVersionConflict):
		// A lost CAS race is recoverable; the caller retries.
		return huma.Error409Conflict("Concurrent update, retry the operation", err)
	case errors.Is(err, domain.ErrInvalidKey),
		errors.Is(err, domain.ErrInvalidOwner),
		errors.Is(err, domain.ErrInvalidTTL):
		return huma.Error422UnprocessableEntity("Invalid lock request", err)
	case errors.Is(err, domain.ErrStoreUnavailable):
		return huma.Error503ServiceUnavailable("Lease store unavailable", err)
	default:
		return huma.Error500InternalServerError("Internal error", err)
	}
}
