package services

import (
	"context"
	"log/slog"

	"esachat/internal/models"
)

// Completer produces an agent answer for a history.
type Completer interface {
	Complete(ctx context.Context, history []models.HistoryEntry) (string, error)
}

// ChatService keeps the per-session agent history and asks the agent.
type ChatService struct {
	state *StateService
	agent Completer
}

// NewChatService creates a new chat service
func NewChatService(state *StateService, agent Completer) *ChatService {
	return &ChatService{state: state, agent: agent}
}

// Ask appends prompt to the session history and returns the agent's
// answer. Agent failures yield AgentFallbackReply and are not recorded.
func (c *ChatService) Ask(ctx context.Context, sid, prompt string) (string, error) {
	if err := c.state.EnsureSystemPrompt(ctx, sid, AgentSystemPrompt); err != nil {
		return "", err
	}
	if err := c.state.AppendHistory(ctx, sid, models.HistoryEntry{Role: "user", Content: prompt}); err != nil {
		return "", err
	}
	history, err := c.state.History(ctx, sid)
	if err != nil {
		return "", err
	}

	answer, err := c.agent.Complete(ctx, history)
	if err != nil {
		slog.Error("conversational agent failed", "session_id", sid, "error", err)
		return AgentFallbackReply, nil
	}

	if err := c.state.AppendHistory(ctx, sid, models.HistoryEntry{Role: "assistant", Content: answer}); err != nil {
		return "", err
	}
	return answer, nil
}
