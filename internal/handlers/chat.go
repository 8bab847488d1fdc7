package handlers

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"strings"

	"github.com/gofiber/fiber/v2"

	"esachat/internal/jobs"
	"esachat/internal/logging"
	"esachat/internal/middleware"
	"esachat/internal/models"
	"esachat/internal/services"
	"esachat/internal/wizard"
)

// ScheduleFailedText replaces the deferred acknowledgment when the job
// could not be queued.
const ScheduleFailedText = "⚠️ We couldn't schedule your validation run. Please try again in a few minutes."

// Asker forwards free text to the conversational agent
type Asker interface {
	Ask(ctx context.Context, sid, prompt string) (string, error)
}

// ModelRunner runs the computation service synchronously
type ModelRunner interface {
	Run(ctx context.Context, svc models.Service, sid, sub string, inputs map[string]any) models.ModelResult
}

// JobSubmitter queues deferred validation runs
type JobSubmitter interface {
	Submit(job jobs.ValidationJob) (string, error)
}

// OwnerRecorder records the first owner of a session
type OwnerRecorder interface {
	SetOwner(ctx context.Context, sid, sub string) (bool, error)
}

// ChatHandler drives one wizard turn per request
type ChatHandler struct {
	state       *services.StateService
	engine      *wizard.Engine
	agent       Asker
	model       ModelRunner
	jobs        JobSubmitter
	owners      OwnerRecorder
	metrics     *services.Metrics
	frontendURL string
}

// NewChatHandler creates a new chat handler
func NewChatHandler(
	state *services.StateService,
	engine *wizard.Engine,
	agent Asker,
	model ModelRunner,
	jobs JobSubmitter,
	owners OwnerRecorder,
	metrics *services.Metrics,
	frontendURL string,
) *ChatHandler {
	return &ChatHandler{
		state:       state,
		engine:      engine,
		agent:       agent,
		model:       model,
		jobs:        jobs,
		owners:      owners,
		metrics:     metrics,
		frontendURL: frontendURL,
	}
}

// Chat handles one user message
// POST /api/chat
func (h *ChatHandler) Chat(c *fiber.Ctx) error {
	var req models.ChatRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	sid := strings.TrimSpace(req.SessionID)
	if sid == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "session_id is required",
		})
	}

	ctx := c.UserContext()
	sub := middleware.UserID(c)
	logger := logging.WithSession(sid, sub)

	st, err := h.state.Load(ctx, sid)
	if err != nil {
		logger.Error("failed to load wizard state", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load session state",
		})
	}

	t := h.engine.Transition(st, wizard.Input{
		Text:          req.Message,
		NotifyAddress: middleware.UserEmail(c),
		SessionLink:   jobs.DeepLink(h.frontendURL, sid),
	})

	if err := h.state.Save(ctx, sid, t.State); err != nil {
		logger.Error("failed to save wizard state", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to save session state",
		})
	}

	resp, outcome, err := h.apply(c, logger, sid, sub, st.Service, t)
	if err != nil {
		logger.Error("turn failed", "step", t.State.CurrentStep, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to process message",
		})
	}
	h.metrics.RecordTransition(string(firstService(t, st.Service)), outcome)

	return c.JSON(resp)
}

// apply executes the transition's effects in order and builds the reply.
func (h *ChatHandler) apply(c *fiber.Ctx, logger *slog.Logger, sid, sub string, prev models.Service, t wizard.Transition) (models.ChatResponse, string, error) {
	ctx := c.UserContext()
	resp := models.NewChatResponse(t.Reply.Text)
	outcome := "advanced"
	if t.Rejected {
		outcome = "rejected"
	}

	for _, eff := range t.Effects {
		switch eff.Kind {
		case wizard.EffectClearHistory:
			if err := h.state.ClearHistory(ctx, sid); err != nil {
				return resp, "", fmt.Errorf("clear history: %w", err)
			}
			if prev != models.ServiceNone && t.State.Service == models.ServiceNone {
				outcome = "exit"
			}

		case wizard.EffectAskAgent:
			answer, err := h.agent.Ask(ctx, sid, eff.Prompt)
			if err != nil {
				return resp, "", fmt.Errorf("ask agent: %w", err)
			}
			resp.Response = answer
			if outcome != "exit" {
				outcome = "agent"
			}

		case wizard.EffectRunModel:
			result := h.model.Run(ctx, eff.Service, sid, sub, eff.Inputs)
			resp = models.ChatResponseFromResult(result)
			outcome = "completed"

		case wizard.EffectDeferJob:
			outcome = "deferred"
			if sub != "" {
				if _, err := h.owners.SetOwner(ctx, sid, sub); err != nil {
					logger.Warn("could not record session owner", "error", err)
				}
			}
			id, err := h.jobs.Submit(jobs.ValidationJob{
				SessionID:     sid,
				Service:       eff.Service,
				Inputs:        eff.Inputs,
				OwnerHint:     sub,
				NotifyAddress: middleware.UserEmail(c),
			})
			if err != nil {
				logger.Error("failed to queue validation run", "service", eff.Service, "error", err)
				resp.Response = ScheduleFailedText
				continue
			}
			logger.Info("validation run queued", "service", eff.Service, "job_id", id)
		}
	}

	if t.Reply.Action != "" {
		a := t.Reply.Action
		resp.Action = &a
	}
	if resp.Pilot == nil && t.Reply.Pilot != "" {
		p := t.Reply.Pilot
		resp.Pilot = &p
	}
	return resp, outcome, nil
}

// firstService labels the turn with the service it ran under.
func firstService(t wizard.Transition, prev models.Service) models.Service {
	for _, eff := range t.Effects {
		if eff.Service != models.ServiceNone {
			return eff.Service
		}
	}
	if prev != models.ServiceNone {
		return prev
	}
	return t.State.Service
}

// ClearSession deletes a session's wizard state and agent history
// POST /api/clear-session
func (h *ChatHandler) ClearSession(c *fiber.Ctx) error {
	var req models.ClearSessionRequest
	if err := c.BodyParser(&req); err != nil || strings.TrimSpace(req.SessionID) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "session_id is required",
		})
	}

	if err := h.state.Clear(c.UserContext(), req.SessionID); err != nil {
		log.Printf("❌ [CHAT] Failed to clear session %s: %v", req.SessionID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to clear session",
		})
	}

	log.Printf("🧹 [CHAT] Cleared session %s", req.SessionID)
	return c.JSON(fiber.Map{
		"message": fmt.Sprintf("Session %s cleared", req.SessionID),
		"status":  "ok",
	})
}
