package preflight

import (
	"context"
	"fmt"
	"log"
	"time"

	"esachat/internal/config"
)

// CheckResult represents the result of a preflight check
type CheckResult struct {
	Name    string
	Status  string // "pass", "fail", "warning"
	Message string
	Error   error
}

// Pinger reports whether the session store is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// Checker performs pre-flight checks before the server starts
type Checker struct {
	cfg   *config.Config
	store Pinger
}

// NewChecker creates a new preflight checker
func NewChecker(cfg *config.Config, store Pinger) *Checker {
	return &Checker{cfg: cfg, store: store}
}

// RunAll runs all preflight checks and returns results
func (c *Checker) RunAll(ctx context.Context) []CheckResult {
	log.Println("🔍 Running pre-flight checks...")

	results := []CheckResult{
		c.checkStoreConnection(ctx),
		c.checkIdentityProvider(),
		c.checkAgent(),
		c.checkNotifications(),
	}

	passed, failed, warnings := 0, 0, 0
	for _, result := range results {
		switch result.Status {
		case "pass":
			log.Printf("   ✅ %s: %s", result.Name, result.Message)
			passed++
		case "fail":
			log.Printf("   ❌ %s: %s", result.Name, result.Message)
			if result.Error != nil {
				log.Printf("      Error: %v", result.Error)
			}
			failed++
		case "warning":
			log.Printf("   ⚠️  %s: %s", result.Name, result.Message)
			warnings++
		}
	}

	log.Printf("📊 Pre-flight summary: %d passed, %d failed, %d warnings", passed, failed, warnings)
	return results
}

// HasFailures returns true if any check failed
func HasFailures(results []CheckResult) bool {
	for _, result := range results {
		if result.Status == "fail" {
			return true
		}
	}
	return false
}

func (c *Checker) checkStoreConnection(ctx context.Context) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := c.store.Ping(ctx); err != nil {
		return CheckResult{
			Name:    "Session Store",
			Status:  "fail",
			Message: "Cannot reach the session store",
			Error:   err,
		}
	}
	if c.cfg.RedisURL == "" {
		return CheckResult{
			Name:    "Session Store",
			Status:  "warning",
			Message: "In-process store, sessions are lost on restart",
		}
	}
	return CheckResult{
		Name:    "Session Store",
		Status:  "pass",
		Message: "Redis connection successful",
	}
}

// missing reports a fail in production and a warning elsewhere.
func (c *Checker) missing(name, message string) CheckResult {
	status := "warning"
	if c.cfg.IsProduction() {
		status = "fail"
	}
	return CheckResult{Name: name, Status: status, Message: message}
}

func (c *Checker) checkIdentityProvider() CheckResult {
	if c.cfg.KeycloakJWKSURL == "" {
		return c.missing("Identity Provider", "KEYCLOAK_JWKS_URL not set, authentication bypassed")
	}
	if c.cfg.KeycloakIssuer == "" {
		return CheckResult{
			Name:    "Identity Provider",
			Status:  "warning",
			Message: "KEYCLOAK_ISSUER not set, token issuer is not checked",
		}
	}
	return CheckResult{
		Name:    "Identity Provider",
		Status:  "pass",
		Message: fmt.Sprintf("Issuer %s, %d allowed audiences", c.cfg.KeycloakIssuer, len(c.cfg.KeycloakAudience)),
	}
}

func (c *Checker) checkAgent() CheckResult {
	if c.cfg.AgentAPIKey == "" || c.cfg.AgentID == "" {
		return CheckResult{
			Name:    "Conversational Agent",
			Status:  "warning",
			Message: "API_KEY or AGENT_ID not set, free-text questions get a fallback reply",
		}
	}
	return CheckResult{
		Name:    "Conversational Agent",
		Status:  "pass",
		Message: "Agent " + c.cfg.AgentID + " configured",
	}
}

func (c *Checker) checkNotifications() CheckResult {
	if c.cfg.Brevo.APIKey == "" || c.cfg.Brevo.SenderEmail == "" {
		return c.missing("Notifications", "Brevo API key or sender missing, emails are only logged")
	}
	return CheckResult{
		Name:    "Notifications",
		Status:  "pass",
		Message: "Brevo sender " + c.cfg.Brevo.SenderEmail,
	}
}
