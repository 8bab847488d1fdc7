package services

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"esachat/internal/models"
)

// In-session texts of the synchronous path.
const (
	ModelCompletedText   = "✅ Model execution completed."
	ModelAPIErrorText    = "\n⚠️ Something went wrong when calling the model API."
	ModelUnreachableText = "\n❌ Failed to contact model API."
)

var (
	socialInputs = []string{
		"health_status",
		"labor_availability",
		"stress_level",
		"satisfaction",
		"policy_incentives",
		"information_access",
		"social_influence",
		"community_participation",
	}
	budgetInputs = []string{
		"total_budget",
		"pv_installation_cost",
		"adoption_weight",
		"resilience_weight",
		"budget_overshoot_weight",
	}
	pvInputs = []string{
		"proximity_to_powerlines",
		"road_network_accessibility",
		"PV_area",
		"electricity_rate",
		"efficiency",
	}
)

// ModelRequest is a ready-to-send computation call.
type ModelRequest struct {
	Service models.Service
	URL     string
	Pilot   string
	Payload map[string]any
}

// ModelResponse is the raw outcome of one delivery.
type ModelResponse struct {
	StatusCode int
	Body       []byte
}

// OK reports a 2xx status.
func (r *ModelResponse) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// ModelAPIClient calls the remote computation service.
type ModelAPIClient struct {
	baseURL string
	client  *http.Client
	metrics *Metrics
}

// NewModelAPIClient creates a client with the given per-call timeout.
// insecureTLS disables certificate verification for endpoints with
// self-signed certificates.
func NewModelAPIClient(baseURL string, timeout time.Duration, insecureTLS bool, metrics *Metrics) *ModelAPIClient {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if insecureTLS {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return &ModelAPIClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout, Transport: transport},
		metrics: metrics,
	}
}

// BuildRequest turns collected wizard inputs into a computation call.
func (c *ModelAPIClient) BuildRequest(svc models.Service, sid, sub string, inputs map[string]any) (ModelRequest, error) {
	prefix := svc.EndpointPrefix()
	if prefix == "" {
		return ModelRequest{}, fmt.Errorf("unsupported model type: %s", svc)
	}

	area, err := stringInput(inputs, "area")
	if err != nil {
		return ModelRequest{}, err
	}
	period, err := stringInput(inputs, "time_period")
	if err != nil {
		return ModelRequest{}, err
	}
	pilot := strings.ToUpper(area)
	period = strings.ToLower(period)
	if period != "future" {
		period = "past"
	}

	var userID any
	if sub != "" {
		userID = sub
	}

	payload := map[string]any{"area": pilot}
	switch svc {
	case models.ServiceCrop:
		crop, err := stringInput(inputs, "crop_type")
		if err != nil {
			return ModelRequest{}, err
		}
		payload["crop_type"] = strings.ToUpper(crop)
		if period == "future" {
			show, err := stringInput(inputs, "show_profit")
			if err != nil {
				return ModelRequest{}, err
			}
			payload["display_profits"] = show
		}

	case models.ServicePV:
		raw, err := stringInput(inputs, "geojson")
		if err != nil {
			return ModelRequest{}, err
		}
		pretty, err := indentJSON(raw)
		if err != nil {
			return ModelRequest{}, fmt.Errorf("geojson: %w", err)
		}
		payload["task_id"] = sid
		payload["user_id"] = userID
		payload["geojson"] = pretty
		if err := floatInputs(payload, inputs, pvInputs); err != nil {
			return ModelRequest{}, err
		}

	default:
		validation, err := stringInput(inputs, "validation")
		if err != nil {
			return ModelRequest{}, err
		}
		payload["task_id"] = sid
		payload["user_id"] = userID
		payload["validation"] = strings.ToLower(validation)
		if svc == models.ServicePECSABM || svc == models.ServiceFullABM {
			if err := floatInputs(payload, inputs, socialInputs); err != nil {
				return ModelRequest{}, err
			}
		}
		if svc == models.ServiceFullABM {
			if err := floatInputs(payload, inputs, budgetInputs); err != nil {
				return ModelRequest{}, err
			}
		}
	}

	return ModelRequest{
		Service: svc,
		URL:     fmt.Sprintf("%s/%s_%s", c.baseURL, prefix, period),
		Pilot:   pilot,
		Payload: payload,
	}, nil
}

// Send posts the request once. A non-nil error means no response was
// received.
func (c *ModelAPIClient) Send(ctx context.Context, req ModelRequest) (*ModelResponse, error) {
	body, err := json.Marshal(req.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.client.Do(httpReq)
	if err != nil {
		c.metrics.RecordModelCall(string(req.Service), "transport_error", time.Since(start).Seconds())
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		c.metrics.RecordModelCall(string(req.Service), "transport_error", time.Since(start).Seconds())
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	c.metrics.RecordModelCall(string(req.Service), strconv.Itoa(resp.StatusCode), time.Since(start).Seconds())
	return &ModelResponse{StatusCode: resp.StatusCode, Body: data}, nil
}

// Run performs the synchronous path: one call, result texts for the chat reply.
func (c *ModelAPIClient) Run(ctx context.Context, svc models.Service, sid, sub string, inputs map[string]any) models.ModelResult {
	req, err := c.BuildRequest(svc, sid, sub, inputs)
	if err != nil {
		slog.Error("cannot build model request", "service", svc, "session_id", sid, "error", err)
		result := models.NewModelResult(svc, pilotInput(inputs))
		result.Text = ModelUnreachableText
		return result
	}

	resp, err := c.Send(ctx, req)
	if err != nil {
		slog.Error("model API call failed", "service", svc, "url", req.URL, "error", err)
		result := models.NewModelResult(svc, req.Pilot)
		result.Text = ModelUnreachableText
		return result
	}
	if !resp.OK() {
		slog.Error("model API returned an error", "service", svc, "status", resp.StatusCode, "body", truncate(string(resp.Body), 300))
		result := models.NewModelResult(svc, req.Pilot)
		result.Text = ModelAPIErrorText
		return result
	}

	result, err := ParseResult(svc, req.Pilot, resp.Body)
	if err != nil {
		slog.Error("model API response unreadable", "service", svc, "error", err)
		result = models.NewModelResult(svc, req.Pilot)
		result.Text = ModelUnreachableText
		return result
	}
	result.Text = ModelCompletedText
	return result
}

// ParseResult extracts layers, explanation and chart entries from a
// computation response.
func ParseResult(svc models.Service, pilot string, body []byte) (models.ModelResult, error) {
	result := models.NewModelResult(svc, pilot)

	var data map[string]json.RawMessage
	if err := json.Unmarshal(body, &data); err != nil {
		return result, fmt.Errorf("parse model response: %w", err)
	}

	if raw, ok := data["geoserver_data"]; ok && !isNullJSON(raw) {
		var geo struct {
			Layers        []json.RawMessage `json:"layers"`
			LayersProfits []json.RawMessage `json:"layers_profits"`
		}
		if err := json.Unmarshal(raw, &geo); err != nil {
			return result, fmt.Errorf("parse geoserver_data: %w", err)
		}
		result.MapLayers = append(result.MapLayers, geo.Layers...)
		result.ProfitLayers = append(result.ProfitLayers, geo.LayersProfits...)
	}

	if raw, ok := data["User Explanation"]; ok && !isNullJSON(raw) {
		result.MapExplanation = raw
	}

	if raw, ok := data["Validation Statistics"]; ok && hasContent(raw) {
		entry, err := chartEntry(raw, nil)
		if err != nil {
			return result, err
		}
		result.ChartData = append(result.ChartData, entry)
	} else {
		for _, scenario := range models.Scenarios {
			raw, ok := data["Validation Statistics - "+scenario]
			if !ok {
				continue
			}
			s := scenario
			entry, err := chartEntry(raw, &s)
			if err != nil {
				return result, err
			}
			result.ChartData = append(result.ChartData, entry)
		}
	}

	result.Succeeded = true
	return result, nil
}

func chartEntry(raw json.RawMessage, scenario *string) (models.ChartEntry, error) {
	var stats map[string]json.RawMessage
	if err := json.Unmarshal(raw, &stats); err != nil {
		return models.ChartEntry{}, fmt.Errorf("parse validation statistics: %w", err)
	}
	return models.ChartEntry{
		Data:                  orDefault(stats["Explainability Plot Data"], "[]"),
		Offset:                orDefault(stats["Explainability Plot Offset"], "0"),
		Explanation:           orDefault(stats["Explainability User Message"], "null"),
		ValidationExplanation: orDefault(stats["Ensemble Statistics User Message"], "null"),
		Scenario:              scenario,
	}, nil
}

func orDefault(raw json.RawMessage, def string) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage(def)
	}
	return raw
}

func isNullJSON(raw json.RawMessage) bool {
	return len(raw) == 0 || string(bytes.TrimSpace(raw)) == "null"
}

// hasContent mirrors a truthiness check: null, false, empty strings and
// empty containers count as absent.
func hasContent(raw json.RawMessage) bool {
	switch string(bytes.TrimSpace(raw)) {
	case "", "null", "false", `""`, "{}", "[]", "0":
		return false
	}
	return true
}

func indentJSON(raw string) (string, error) {
	var compact bytes.Buffer
	if err := json.Compact(&compact, []byte(raw)); err != nil {
		return "", err
	}
	var out bytes.Buffer
	if err := json.Indent(&out, compact.Bytes(), "", "  "); err != nil {
		return "", err
	}
	return out.String(), nil
}

func stringInput(inputs map[string]any, key string) (string, error) {
	v, ok := inputs[key]
	if !ok || v == nil {
		return "", fmt.Errorf("missing input %q", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("input %q is %T, not a string", key, v)
	}
	return s, nil
}

func pilotInput(inputs map[string]any) string {
	s, _ := inputs["area"].(string)
	return strings.ToUpper(s)
}

func floatInputs(payload, inputs map[string]any, keys []string) error {
	for _, k := range keys {
		f, err := floatInput(inputs, k)
		if err != nil {
			return err
		}
		payload[k] = f
	}
	return nil
}

func floatInput(inputs map[string]any, key string) (float64, error) {
	switch v := inputs[key].(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case json.Number:
		return v.Float64()
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, fmt.Errorf("input %q: %w", key, err)
		}
		return f, nil
	case nil:
		return 0, fmt.Errorf("missing input %q", key)
	default:
		return 0, fmt.Errorf("input %q is %T, not a number", key, v)
	}
}
