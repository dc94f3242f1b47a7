// Package client is a Go façade for the leasegate HTTP API. It wraps the
// lock endpoints with typed requests and responses and adds acquire retries
// with exponential backoff and heartbeat sessions for long-lived holders.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Lease is the client's view of a granted or renewed lease.
type Lease struct {
	Key          string
	Owner        string
	FencingToken uint64
	ExpiresAt    time.Time
}

// LockStatus reports whether a lock is currently held and by whom.
type LockStatus struct {
	Key          string
	Free         bool
	Owner        string
	FencingToken uint64
	ExpiresAt    time.Time
}

// Options tunes the acquire retry loop.
type Options struct {
	// MaxRetries bounds how many times Acquire replays a denied or failed
	// attempt. Zero keeps the default; a negative value disables retries so
	// Acquire makes a single attempt.
	MaxRetries int

	// MinRetryDelay is the backoff before the first retry. Each subsequent
	// delay grows by half until MaxRetryDelay.
	MinRetryDelay time.Duration
	MaxRetryDelay time.Duration

	// JitterFrac randomizes each delay by up to the given fraction to keep
	// contending clients from retrying in lockstep.
	JitterFrac float64

	HTTPClient *http.Client
}

func defaultOptions() Options {
	return Options{
		MaxRetries:    10,
		MinRetryDelay: 50 * time.Millisecond,
		MaxRetryDelay: 2 * time.Second,
		JitterFrac:    0.2,
		HTTPClient:    &http.Client{Timeout: 10 * time.Second},
	}
}

type Client struct {
	baseURL string
	opts    Options
	http    *http.Client
}

// New returns a client for the lock service at baseURL, e.g.
// "http://localhost:8000".
func New(baseURL string, opts ...Options) *Client {
	o := defaultOptions()
	if len(opts) > 0 {
		custom := opts[0]
		if custom.MaxRetries < 0 {
			o.MaxRetries = 0
		} else if custom.MaxRetries > 0 {
			o.MaxRetries = custom.MaxRetries
		}
		if custom.MinRetryDelay != 0 {
			o.MinRetryDelay = custom.MinRetryDelay
		}
		if custom.MaxRetryDelay != 0 {
			o.MaxRetryDelay = custom.MaxRetryDelay
		}
		if custom.JitterFrac != 0 {
			o.JitterFrac = custom.JitterFrac
		}
		if custom.HTTPClient != nil {
			o.HTTPClient = custom.HTTPClient
		}
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		opts:    o,
		http:    o.HTTPClient,
	}
}

var ownerNode *snowflake.Node

func init() {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	ownerNode = node
}

// NewOwnerID generates a process-unique owner identity. Every client session
// should use its own so a crashed holder is never mistaken for a live one.
func NewOwnerID() string {
	return ownerNode.Generate().String()
}

type acquireRequest struct {
	Owner string `json:"owner"`
	TTL   int64  `json:"ttl_ms"`
}

type releaseRequest struct {
	Owner string `json:"owner"`
}

type leaseResponse struct {
	Status       string `json:"status"`
	Owner        string `json:"owner"`
	FencingToken uint64 `json:"fencing_token"`
	ExpiresAt    int64  `json:"expires_at_ms"`
}

type statusResponse struct {
	Free         bool   `json:"free"`
	Owner        string `json:"owner,omitempty"`
	FencingToken uint64 `json:"fencing_token,omitempty"`
	ExpiresAt    int64  `json:"expires_at_ms,omitempty"`
}

// AcquireOnce makes a single acquire attempt without retries.
func (c *Client) AcquireOnce(ctx context.Context, key, owner string, ttl time.Duration) (*Lease, error) {
	var resp leaseResponse
	err := c.doJSON(
		ctx, http.MethodPost, c.lockURL(key, "acquire"),
		&acquireRequest{Owner: owner, TTL: ttl.Milliseconds()}, &resp,
	)
	if err != nil {
		return nil, err
	}
	return c.lease(key, &resp), nil
}

// Acquire attempts to take the lock, retrying denied attempts with
// exponential backoff until the retry budget or ctx runs out. It returns
// ErrNotAcquired if the lock stayed held for the whole window.
func (c *Client) Acquire(ctx context.Context, key, owner string, ttl time.Duration) (*Lease, error) {
	delay := c.opts.MinRetryDelay

	for attempt := 0; ; attempt++ {
		lease, err := c.AcquireOnce(ctx, key, owner, ttl)
		if err == nil {
			return lease, nil
		}

		var apiErr *APIError
		if !errors.As(err, &apiErr) || !apiErr.Retryable() {
			return nil, err
		}
		if attempt >= c.opts.MaxRetries {
			return nil, fmt.Errorf("%w: %s", ErrNotAcquired, apiErr.Detail)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.jitter(delay)):
		}

		delay += delay / 2
		if delay > c.opts.MaxRetryDelay {
			delay = c.opts.MaxRetryDelay
		}
	}
}

// Renew extends the caller's lease and returns the bumped fencing token.
// A 409 or 410 means the lease is gone for this owner and maps to
// ErrLeaseLost.
func (c *Client) Renew(ctx context.Context, key, owner string, ttl time.Duration) (*Lease, error) {
	var resp leaseResponse
	err := c.doJSON(
		ctx, http.MethodPost, c.lockURL(key, "renew"),
		&acquireRequest{Owner: owner, TTL: ttl.Milliseconds()}, &resp,
	)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) &&
			(apiErr.StatusCode == http.StatusConflict || apiErr.StatusCode == http.StatusGone) {
			return nil, fmt.Errorf("%w: %s", ErrLeaseLost, apiErr.Detail)
		}
		return nil, err
	}
	return c.lease(key, &resp), nil
}

// Release gives the lock up. Releasing a lock that already lapsed succeeds.
func (c *Client) Release(ctx context.Context, key, owner string) error {
	var resp leaseResponse
	return c.doJSON(
		ctx, http.MethodPost, c.lockURL(key, "release"),
		&releaseRequest{Owner: owner}, &resp,
	)
}

// Status reports the lock's current holder.
func (c *Client) Status(ctx context.Context, key string) (*LockStatus, error) {
	var resp statusResponse
	err := c.doJSON(ctx, http.MethodGet, c.lockURL(key, ""), nil, &resp)
	if err != nil {
		return nil, err
	}
	return &LockStatus{
		Key:          key,
		Free:         resp.Free,
		Owner:        resp.Owner,
		FencingToken: resp.FencingToken,
		ExpiresAt:    time.UnixMilli(resp.ExpiresAt),
	}, nil
}

// Join asks the node behind this client to add a peer to its Raft cluster.
func (c *Client) Join(ctx context.Context, nodeID, raftAddr string) error {
	body := map[string]string{"id": nodeID, "raft_addr": raftAddr}
	return c.doJSON(ctx, http.MethodPost, c.baseURL+"/join", body, &struct{}{})
}

func (c *Client) lockURL(key, action string) string {
	u := fmt.Sprintf("%s/API/v1/locks/%s", c.baseURL, url.PathEscape(key))
	if action != "" {
		u += "/" + action
	}
	return u
}

func (c *Client) lease(key string, resp *leaseResponse) *Lease {
	return &Lease{
		Key:          key,
		Owner:        resp.Owner,
		FencingToken: resp.FencingToken,
		ExpiresAt:    time.UnixMilli(resp.ExpiresAt),
	}
}

// jitter uses the global rand source, which is safe for the concurrent
// Acquire calls a shared client sees.
func (c *Client) jitter(d time.Duration) time.Duration {
	if c.opts.JitterFrac <= 0 {
		return d
	}
	spread := float64(d) * c.opts.JitterFrac
	return d + time.Duration(rand.Float64()*spread)
}

type errorModel struct {
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail"`
}

func (c *Client) doJSON(ctx context.Context, method, url string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		model := errorModel{Status: resp.StatusCode}
		_ = json.Unmarshal(data, &model)
		detail := model.Detail
		if detail == "" {
			detail = strings.TrimSpace(string(data))
		}
		return &APIError{StatusCode: resp.StatusCode, Detail: detail}
	}

	if out != nil {
		return json.Unmarshal(data, out)
	}
	return nil
}
