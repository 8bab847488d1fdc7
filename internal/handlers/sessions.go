package handlers

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"

	"esachat/internal/logging"
	"esachat/internal/middleware"
	"esachat/internal/models"
	"esachat/internal/services"
)

// SessionsHandler exposes the caller's stored conversations
type SessionsHandler struct {
	sessions *services.SessionService
}

// NewSessionsHandler creates a new sessions handler
func NewSessionsHandler(sessions *services.SessionService) *SessionsHandler {
	return &SessionsHandler{sessions: sessions}
}

func ok(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"ok": true})
}

// storeError maps a session store error to a response
func storeError(c *fiber.Ctx, op string, err error) error {
	if errors.Is(err, services.ErrSessionNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "session_not_found",
		})
	}
	logging.WithSession(c.Params("id"), middleware.UserID(c)).
		Error("session store operation failed", "op", op, "error", err)
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error": "Session store unavailable",
	})
}

// List returns the caller's sessions, most recent first
// GET /api/sessions
func (h *SessionsHandler) List(c *fiber.Ctx) error {
	list, err := h.sessions.List(c.UserContext(), middleware.UserID(c))
	if err != nil {
		return storeError(c, "list", err)
	}
	return c.JSON(list)
}

// Get returns one session document
// GET /api/sessions/:id
func (h *SessionsHandler) Get(c *fiber.Ctx) error {
	doc, err := h.sessions.GetOwned(c.UserContext(), middleware.UserID(c), c.Params("id"))
	if err != nil {
		return storeError(c, "get", err)
	}
	return c.JSON(doc)
}

// Upsert merges the client's messages into the stored session
// POST /api/sessions
func (h *SessionsHandler) Upsert(c *fiber.Ctx) error {
	var req models.SessionUpsertRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if strings.TrimSpace(req.SessionID) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "session_id is required",
		})
	}

	if err := h.sessions.Save(c.UserContext(), middleware.UserID(c), req.SessionID, req.Title, req.Messages); err != nil {
		return storeError(c, "save", err)
	}
	return ok(c)
}

// Delete removes the caller's copy of a session
// DELETE /api/sessions/:id
func (h *SessionsHandler) Delete(c *fiber.Ctx) error {
	if err := h.sessions.Delete(c.UserContext(), middleware.UserID(c), c.Params("id")); err != nil {
		return storeError(c, "delete", err)
	}
	return ok(c)
}

// Rename changes a session title
// PATCH /api/sessions/:id/title
func (h *SessionsHandler) Rename(c *fiber.Ctx) error {
	var req models.SessionTitleRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if err := h.sessions.UpdateTitle(c.UserContext(), middleware.UserID(c), c.Params("id"), req.Title, req.Touch); err != nil {
		return storeError(c, "rename", err)
	}
	return ok(c)
}

// Seed rebuilds the agent history from the stored messages so a
// reopened conversation keeps its context
// POST /api/sessions/:id/seed
func (h *SessionsHandler) Seed(c *fiber.Ctx) error {
	if err := h.sessions.SeedHistory(c.UserContext(), middleware.UserID(c), c.Params("id")); err != nil {
		return storeError(c, "seed", err)
	}
	return ok(c)
}
