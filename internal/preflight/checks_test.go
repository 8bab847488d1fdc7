package preflight

import (
	"context"
	"errors"
	"testing"

	"esachat/internal/config"
)

type fakeStore struct{ err error }

func (f fakeStore) Ping(context.Context) error { return f.err }

func fullConfig() *config.Config {
	return &config.Config{
		Environment:     "production",
		RedisURL:        "redis://localhost:6379/0",
		KeycloakIssuer:  "https://id.example/realms/transition",
		KeycloakJWKSURL: "https://id.example/realms/transition/protocol/openid-connect/certs",
		AgentAPIKey:     "key",
		AgentID:         "agent-1",
		Brevo:           config.BrevoConfig{APIKey: "brevo", SenderEmail: "noreply@example.com"},
	}
}

func statusOf(results []CheckResult, name string) string {
	for _, r := range results {
		if r.Name == name {
			return r.Status
		}
	}
	return ""
}

func TestRunAll_AllConfigured(t *testing.T) {
	results := NewChecker(fullConfig(), fakeStore{}).RunAll(context.Background())

	if len(results) != 4 {
		t.Fatalf("Expected 4 results, got %d", len(results))
	}
	for _, r := range results {
		if r.Status != "pass" {
			t.Errorf("Expected %s to pass, got %s (%s)", r.Name, r.Status, r.Message)
		}
	}
	if HasFailures(results) {
		t.Error("Expected no failures")
	}
}

func TestRunAll_StoreDown(t *testing.T) {
	results := NewChecker(fullConfig(), fakeStore{err: errors.New("connection refused")}).RunAll(context.Background())

	if statusOf(results, "Session Store") != "fail" {
		t.Errorf("Expected store check to fail")
	}
	if !HasFailures(results) {
		t.Error("Expected failures")
	}
}

func TestRunAll_MissingIntegrations(t *testing.T) {
	cfg := fullConfig()
	cfg.KeycloakJWKSURL = ""
	cfg.Brevo.APIKey = ""
	cfg.AgentID = ""

	prod := NewChecker(cfg, fakeStore{}).RunAll(context.Background())
	if statusOf(prod, "Identity Provider") != "fail" || statusOf(prod, "Notifications") != "fail" {
		t.Errorf("Expected missing integrations to fail in production: %+v", prod)
	}
	if statusOf(prod, "Conversational Agent") != "warning" {
		t.Errorf("Expected agent to be a warning, got %s", statusOf(prod, "Conversational Agent"))
	}

	cfg.Environment = "development"
	cfg.RedisURL = ""
	dev := NewChecker(cfg, fakeStore{}).RunAll(context.Background())
	if HasFailures(dev) {
		t.Errorf("Expected only warnings in development: %+v", dev)
	}
	if statusOf(dev, "Session Store") != "warning" {
		t.Errorf("Expected in-process store warning, got %s", statusOf(dev, "Session Store"))
	}
}
