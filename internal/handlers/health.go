package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"esachat/internal/jobs"
)

// Pinger reports backing store reachability
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler handles health check requests
type HealthHandler struct {
	store     Pinger
	inFlight  func() int
	scheduler *jobs.JobScheduler
}

// NewHealthHandler creates a new health handler. scheduler may be nil.
func NewHealthHandler(store Pinger, inFlight func() int, scheduler *jobs.JobScheduler) *HealthHandler {
	return &HealthHandler{store: store, inFlight: inFlight, scheduler: scheduler}
}

// Handle responds with server health status
func (h *HealthHandler) Handle(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
	defer cancel()

	status, store, code := "healthy", "ok", fiber.StatusOK
	if err := h.store.Ping(ctx); err != nil {
		status, store, code = "degraded", err.Error(), fiber.StatusServiceUnavailable
	}

	body := fiber.Map{
		"status":         status,
		"store":          store,
		"jobs_in_flight": h.inFlight(),
		"timestamp":      time.Now().Format(time.RFC3339),
	}
	if h.scheduler != nil {
		body["maintenance"] = h.scheduler.GetStatus()
	}
	return c.Status(code).JSON(body)
}
