package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("BREVO_SENDER_EMAIL", "")
	t.Setenv("SMTP_FROM", "")

	cfg := Load()

	if cfg.Port != "8000" {
		t.Errorf("expected default port 8000, got %s", cfg.Port)
	}
	if cfg.SessionTTL != 14*24*time.Hour {
		t.Errorf("expected 14 day TTL, got %s", cfg.SessionTTL)
	}
	if cfg.Brevo.MaxRetries != 3 {
		t.Errorf("expected 3 email retries, got %d", cfg.Brevo.MaxRetries)
	}
	if cfg.Brevo.BackoffBase != 1.5 {
		t.Errorf("expected backoff base 1.5, got %v", cfg.Brevo.BackoffBase)
	}
	if cfg.Brevo.Timeout != 20*time.Second {
		t.Errorf("expected 20s email timeout, got %s", cfg.Brevo.Timeout)
	}
	if cfg.ModelAsyncTimeout != 5*time.Hour {
		t.Errorf("expected 5h async timeout, got %s", cfg.ModelAsyncTimeout)
	}
	if cfg.IndexCleanupCron != "0 3 * * *" {
		t.Errorf("unexpected cleanup cron %q", cfg.IndexCleanupCron)
	}
}

func TestLoadAudienceList(t *testing.T) {
	t.Setenv("KEYCLOAK_AUDIENCE", " spa-client, ,account ")

	cfg := Load()

	if len(cfg.KeycloakAudience) != 2 {
		t.Fatalf("expected 2 audiences, got %v", cfg.KeycloakAudience)
	}
	if cfg.KeycloakAudience[0] != "spa-client" || cfg.KeycloakAudience[1] != "account" {
		t.Errorf("unexpected audiences %v", cfg.KeycloakAudience)
	}
}

func TestSenderFallsBackToSMTPFrom(t *testing.T) {
	tests := []struct {
		name      string
		from      string
		wantName  string
		wantEmail string
	}{
		{"name and address", `"Transition Bot" <bot@example.org>`, "Transition Bot", "bot@example.org"},
		{"bare address", "bot@example.org", "", "bot@example.org"},
		{"empty", "", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("BREVO_SENDER_EMAIL", "")
			t.Setenv("BREVO_SENDER_NAME", "")
			t.Setenv("SMTP_FROM", tt.from)

			cfg := Load()

			if cfg.Brevo.SenderName != tt.wantName {
				t.Errorf("expected sender name %q, got %q", tt.wantName, cfg.Brevo.SenderName)
			}
			if cfg.Brevo.SenderEmail != tt.wantEmail {
				t.Errorf("expected sender email %q, got %q", tt.wantEmail, cfg.Brevo.SenderEmail)
			}
		})
	}
}

func TestValidateProductionRequiresRedis(t *testing.T) {
	cfg := &Config{Environment: "production", KeycloakJWKSURL: "https://idp/certs", MaxConcurrentJobs: 1}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error without REDIS_URL in production")
	}

	cfg.RedisURL = "redis://localhost:6379"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
