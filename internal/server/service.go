// Package server exposes the lock manager over HTTP. Handlers are stateless:
// every request goes straight to the lease store, and a request that lands on
// a Raft follower is replayed against the leader.
package server

import (
	"fmt"
	"net/http"

	"github.com/VictoriaMetrics/metrics"
	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humafiber"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/healthcheck"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
)

// Service provides the HTTP service.
type Service struct {
	api      huma.API
	router   *fiber.App
	h        *Handler
	httpAddr string
}

// New returns an unstarted HTTP service around the given lock service. node
// may be nil when the process runs without a Raft cluster.
func New(httpAddr string, locks LockService, node Node) *Service {
	router := fiber.New(fiber.Config{DisableStartupMessage: true})
	api := humafiber.New(
		router, huma.DefaultConfig("LeaseGate a distributed lock service", "1.0.0"),
	)

	h := &Handler{
		locks:       locks,
		node:        node,
		forwardHTTP: &http.Client{},
	}
	h.ConfigureMiddleware(router)
	h.RegisterRoutes(api)

	return &Service{
		api:      api,
		router:   router,
		h:        h,
		httpAddr: httpAddr,
	}
}

func (h *Handler) ConfigureMiddleware(router *fiber.App) {
	router.Use(logger.New(logger.Config{
		TimeFormat: "2006-01-02T15:04:05.999Z0700",
		TimeZone:   "Local",
		Format:     "${time} [INFO] ${locals:requestid} ${method} ${path} ${status} ${latency} ${error}​\n",
	}))

	router.Use(healthcheck.New())
	router.Use(helmet.New())

	router.Use(requestid.New())

	prometheus := fiberprometheus.New("leasegate")
	prometheus.RegisterAt(router, "/metrics")
	router.Use(prometheus.Middleware)

	router.Get("/service/metrics", monitor.New())

	// Lease protocol counters live in a separate registry.
	router.Get("/lock/metrics", func(c *fiber.Ctx) error {
		metrics.WritePrometheus(c.Response().BodyWriter(), true)
		return nil
	})

	router.Use(recover.New())
}

func (h *Handler) RegisterRoutes(api huma.API) {
	huma.Register(
		api,
		huma.Operation{
			OperationID: "raft-join",
			Method:      http.MethodPost,
			Path:        "/join",
			Summary:     "Join cluster",
			Description: "An endpoint for joining cluster that is used by the raft consensus protocol",
			Tags:        []string{"raft"},
		},
		h.Join,
	)
	huma.Register(
		api,
		huma.Operation{
			OperationID: "acquire-lock",
			Method:      http.MethodPost,
			Path:        "/API/v1/locks/{key}/acquire",
			Summary:     "Acquire lock",
			Description: "An endpoint that is used for acquiring a lock",
			Tags:        []string{"Locks"},
		},
		h.Acquire,
	)
	huma.Register(
		api,
		huma.Operation{
			OperationID: "renew-lock",
			Method:      http.MethodPost,
			Path:        "/API/v1/locks/{key}/renew",
			Summary:     "Renew lock",
			Description: "An endpoint that is used for extending a held lock's lease",
			Tags:        []string{"Locks"},
		},
		h.Renew,
	)
	huma.Register(
		api,
		huma.Operation{
			OperationID: "release-lock",
			Method:      http.MethodPost,
			Path:        "/API/v1/locks/{key}/release",
			Summary:     "Release lock",
			Description: "An endpoint that is used for releasing a lock",
			Tags:        []string{"Locks"},
		},
		h.Release,
	)
	huma.Register(
		api,
		huma.Operation{
			OperationID: "lock-status",
			Method:      http.MethodGet,
			Path:        "/API/v1/locks/{key}",
			Summary:     "Lock status",
			Description: "An endpoint that reports the current holder of a lock",
			Tags:        []string{"Locks"},
		},
		h.Status,
	)
}

// Start starts the service.
func (s *Service) Start() error {
	return s.router.Listen(fmt.Sprintf(":%s", s.httpAddr))
}

// Close closes the service.
func (s *Service) Close() error {
	return s.router.Shutdown()
}
