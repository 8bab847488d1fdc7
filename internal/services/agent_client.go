package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"esachat/internal/models"
)

// AgentFallbackReply is shown when the conversational agent cannot answer.
const AgentFallbackReply = "Sorry, I couldn't reach the assistant right now. Please try again in a moment, or start a service with #crop, #pv, #abm, #pecs or #full."

// AgentClient calls a hosted conversational agent by id.
type AgentClient struct {
	baseURL string
	apiKey  string
	agentID string
	client  *http.Client
}

// NewAgentClient creates a new agent client
func NewAgentClient(baseURL, apiKey, agentID string, timeout time.Duration) *AgentClient {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &AgentClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		agentID: agentID,
		client:  &http.Client{Timeout: timeout},
	}
}

type agentRequest struct {
	AgentID  string                `json:"agent_id"`
	Messages []models.HistoryEntry `json:"messages"`
}

type agentResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Complete sends the history and returns the agent's trimmed answer.
func (a *AgentClient) Complete(ctx context.Context, history []models.HistoryEntry) (string, error) {
	if a.apiKey == "" || a.agentID == "" {
		return "", errors.New("agent is not configured")
	}

	reqBody, err := json.Marshal(agentRequest{AgentID: a.agentID, Messages: history})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/agents/completions", bytes.NewReader(reqBody))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("agent error (status %d): %s", resp.StatusCode, truncate(string(body), 300))
	}

	var parsed agentResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("failed to parse agent response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", errors.New("no response from agent")
	}
	return strings.TrimSpace(parsed.Choices[0].Message.Content), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
