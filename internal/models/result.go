package models

import "encoding/json"

// Scenarios are the climate projections reported per-scenario by the
// computation service, in display order.
var Scenarios = []string{"RCP26", "RCP45", "RCP85"}

// ChartEntry is one explainability block of a model response.
type ChartEntry struct {
	Data                  json.RawMessage `json:"data"`
	Offset                json.RawMessage `json:"offset"`
	Explanation           json.RawMessage `json:"explanation"`
	ValidationExplanation json.RawMessage `json:"validation_explanation"`
	Scenario              *string         `json:"scenario"`
}

// ModelResult is the outcome of a computation-service run. The job
// runner folds it into the session as an assistant message.
type ModelResult struct {
	Action          Service           `json:"action"`
	Pilot           string            `json:"pilot"`
	ChartData       []ChartEntry      `json:"chart_data"`
	MapLayers       []json.RawMessage `json:"map_layers"`
	ProfitLayers    []json.RawMessage `json:"profit_layers"`
	ProfitChartData []json.RawMessage `json:"profit_chart_data"`
	MapExplanation  json.RawMessage   `json:"map_explanation"`
	Text            string            `json:"text"`
	Succeeded       bool              `json:"-"`
}

// NewModelResult returns a result with empty, non-nil collections.
func NewModelResult(action Service, pilot string) ModelResult {
	return ModelResult{
		Action:          action,
		Pilot:           pilot,
		ChartData:       []ChartEntry{},
		MapLayers:       []json.RawMessage{},
		ProfitLayers:    []json.RawMessage{},
		ProfitChartData: []json.RawMessage{},
	}
}

// ActiveComponents tells the client which result widgets to render.
type ActiveComponents struct {
	Map       bool `json:"map"`
	Graph     bool `json:"graph"`
	SimpleMap bool `json:"simple_map"`
	BarChart  bool `json:"bar_chart"`
	Slider    bool `json:"slider"`
}

// MapData is the map payload of a result message.
type MapData struct {
	PilotArea      *string           `json:"pilotArea"`
	GeoJSONData    json.RawMessage   `json:"geoJsonData"`
	WMSLayers      []json.RawMessage `json:"wmsLayers"`
	MapExplanation json.RawMessage   `json:"mapExplanation"`
}
