package server

type JoinInput struct {
	Body struct {
		ID       string `json:"id" example:"leasegate-node-0" doc:"ID of a node"`
		RaftAddr string `json:"raft_addr" example:"localhost:12001" doc:"Raft address and port of a node"`
	}
}

type JoinOutput struct {
	Body struct {
		ID       string `json:"id" example:"leasegate-node-0" doc:"ID of a node"`
		RaftAddr string `json:"raft_addr" example:"localhost:12001" doc:"Raft address and port of a node"`
	}
}

type AcquireInput struct {
	Key  string `path:"key" maxLength:"1024" example:"migration_lock:1" doc:"Key for the lock"`
	Body struct {
		Owner string `json:"owner" minLength:"1" example:"worker-17" doc:"Identity of the would-be holder"`
		TTL   int64  `json:"ttl_ms" minimum:"1" example:"30000" doc:"Lease duration in milliseconds"`
	}
}

type AcquireOutput struct {
	Status int
	Body   LeaseBody
}

type RenewInput struct {
	Key  string `path:"key" maxLength:"1024" example:"migration_lock:1" doc:"Key for the lock"`
	Body struct {
		Owner string `json:"owner" minLength:"1" example:"worker-17" doc:"Identity of the current holder"`
		TTL   int64  `json:"ttl_ms" minimum:"1" example:"30000" doc:"New lease duration in milliseconds"`
	}
}

type RenewOutput struct {
	Status int
	Body   LeaseBody
}

type ReleaseInput struct {
	Key  string `path:"key" maxLength:"1024" example:"migration_lock:1" doc:"Key for the lock"`
	Body struct {
		Owner string `json:"owner" minLength:"1" example:"worker-17" doc:"Identity of the current holder"`
	}
}

type ReleaseOutput struct {
	Status int
	Body   struct {
		Status string `json:"status" example:"RELEASED" doc:"Status of the release operation"`
	}
}

// LeaseBody is the success payload for acquire and renew. The fencing token
// is what downstream resources should compare to reject stale holders.
type LeaseBody struct {
	Status       string `json:"status" example:"ACQUIRED" doc:"Status of the operation"`
	Owner        string `json:"owner" example:"worker-17" doc:"Identity of the holder"`
	FencingToken uint64 `json:"fencing_token" example:"42" doc:"Monotonically increasing token for this lock"`
	ExpiresAt    int64  `json:"expires_at_ms" example:"1700000030000" doc:"Lease deadline, unix milliseconds"`
}

type StatusInput struct {
	Key string `path:"key" maxLength:"1024" example:"migration_lock:1" doc:"Key for the lock"`
}

type StatusOutput struct {
	Status int
	Body   struct {
		Free         bool   `json:"free" doc:"Whether the lock is currently free"`
		Owner        string `json:"owner,omitempty" example:"worker-17" doc:"Current holder, empty when free"`
		FencingToken uint64 `json:"fencing_token,omitempty" example:"42" doc:"Token of the current lease"`
		ExpiresAt    int64  `json:"expires_at_ms,omitempty" example:"1700000030000" doc:"Lease deadline, unix milliseconds"`
	}
}
