package models

import "encoding/json"

// Reply actions understood by the client.
const (
	ActionOpenMap         = "open_map"
	ActionShowPVIndicator = "show_pv_indicator"
)

// ChatRequest is the body of POST /api/chat
type ChatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
}

// ClearSessionRequest is the body of POST /api/clear-session
type ClearSessionRequest struct {
	SessionID string `json:"session_id"`
}

// ChatResponse is returned for every wizard turn.
type ChatResponse struct {
	Response        string            `json:"response"`
	ChartData       []ChartEntry      `json:"chart_data"`
	MapLayers       []json.RawMessage `json:"map_layers"`
	ProfitLayers    []json.RawMessage `json:"profit_layers"`
	ProfitChartData []json.RawMessage `json:"profit_chart_data"`
	MapExplanation  json.RawMessage   `json:"map_explanation"`
	Action          *string           `json:"action"`
	Pilot           *string           `json:"pilot"`
}

// NewChatResponse returns a text-only response.
func NewChatResponse(text string) ChatResponse {
	return ChatResponse{
		Response:        text,
		ChartData:       []ChartEntry{},
		MapLayers:       []json.RawMessage{},
		ProfitLayers:    []json.RawMessage{},
		ProfitChartData: []json.RawMessage{},
	}
}

// ChatResponseFromResult copies a model result into a response.
func ChatResponseFromResult(r ModelResult) ChatResponse {
	resp := NewChatResponse(r.Text)
	if r.ChartData != nil {
		resp.ChartData = r.ChartData
	}
	if r.MapLayers != nil {
		resp.MapLayers = r.MapLayers
	}
	if r.ProfitLayers != nil {
		resp.ProfitLayers = r.ProfitLayers
	}
	if r.ProfitChartData != nil {
		resp.ProfitChartData = r.ProfitChartData
	}
	resp.MapExplanation = r.MapExplanation
	if r.Action != ServiceNone {
		a := string(r.Action)
		resp.Action = &a
	}
	if r.Pilot != "" {
		p := r.Pilot
		resp.Pilot = &p
	}
	return resp
}

// HistoryEntry is one turn of the conversational agent's history.
type HistoryEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
