package models

import (
	"encoding/json"
	"testing"
	"time"
)

func TestMessagePreservesClientFields(t *testing.T) {
	in := `{"role":"assistant","content":"hi","timestamp":"2025-03-01T10:00:00Z","activeComponents":{"map":true},"serviceCalled":"Pv_suitability","mapData":{"geoJsonData":{"type":"Polygon"},"extra":1}}`

	var m Message
	if err := json.Unmarshal([]byte(in), &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if m.Role != "assistant" || m.Content != "hi" {
		t.Fatalf("unexpected typed fields: %+v", m)
	}
	if _, ok := m.Extra["activeComponents"]; !ok {
		t.Fatal("expected activeComponents to be kept")
	}

	out, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var got, want map[string]any
	_ = json.Unmarshal(out, &got)
	_ = json.Unmarshal([]byte(in), &want)
	gotJSON, _ := json.Marshal(got)
	wantJSON, _ := json.Marshal(want)
	if string(gotJSON) != string(wantJSON) {
		t.Errorf("round trip changed message\n got: %s\nwant: %s", gotJSON, wantJSON)
	}
}

func TestMessageWithoutTimestamp(t *testing.T) {
	var m Message
	if err := json.Unmarshal([]byte(`{"role":"user","content":"x"}`), &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !m.Timestamp.IsZero() {
		t.Fatal("expected zero timestamp")
	}
	out, _ := json.Marshal(m)
	var fields map[string]any
	_ = json.Unmarshal(out, &fields)
	if _, ok := fields["timestamp"]; ok {
		t.Error("absent timestamp should not be written")
	}
}

func TestTimestampEpoch(t *testing.T) {
	ref := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	refEpoch := float64(ref.Unix())

	tests := []struct {
		name string
		raw  string
		want float64
	}{
		{"number", `1740823200`, refEpoch},
		{"fractional number", `1740823200.5`, refEpoch + 0.5},
		{"zulu", `"2025-03-01T10:00:00Z"`, refEpoch},
		{"offset", `"2025-03-01T12:00:00+02:00"`, refEpoch},
		{"python isoformat", `"2025-03-01T10:00:00.000000+00:00"`, refEpoch},
		{"naive", `"2025-03-01T10:00:00"`, refEpoch},
		{"garbage", `"yesterday"`, 0},
		{"object", `{"t":1}`, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ts Timestamp
			if err := json.Unmarshal([]byte(tt.raw), &ts); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if got := ts.Epoch(); got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestNewTimestampParsesBack(t *testing.T) {
	now := time.Date(2025, 6, 2, 8, 30, 15, 250000000, time.UTC)
	ts := NewTimestamp(now)
	if got := ts.Epoch(); got != float64(now.UnixNano())/1e9 {
		t.Errorf("expected %v, got %v", float64(now.UnixNano())/1e9, got)
	}
}

func TestMessageGeoJSON(t *testing.T) {
	tests := []struct {
		name    string
		mapData string
		wantOK  bool
	}{
		{"object", `{"geoJsonData":{"type":"Polygon"}}`, true},
		{"string", `{"geoJsonData":"{\"type\":\"Polygon\"}"}`, true},
		{"null", `{"geoJsonData":null}`, false},
		{"empty string", `{"geoJsonData":""}`, false},
		{"missing", `{"pilotArea":"PILOT_PILSEN"}`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := Message{MapData: json.RawMessage(tt.mapData)}
			_, ok := m.GeoJSON()
			if ok != tt.wantOK {
				t.Errorf("expected ok=%v, got %v", tt.wantOK, ok)
			}
		})
	}
}

func TestNormalizeTitle(t *testing.T) {
	if got := NormalizeTitle("   "); got != DefaultSessionTitle {
		t.Errorf("expected default title, got %q", got)
	}
	if got := NormalizeTitle("  PV run "); got != "PV run" {
		t.Errorf("expected trimmed title, got %q", got)
	}
}

func TestServiceCalled(t *testing.T) {
	if got := ServiceBaseABM.ServiceCalled(); got != "Base-abm" {
		t.Errorf("expected Base-abm, got %s", got)
	}
	if got := ServiceCrop.ServiceCalled(); got != "Crop_suitability" {
		t.Errorf("expected Crop_suitability, got %s", got)
	}
}
