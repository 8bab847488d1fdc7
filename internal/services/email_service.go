package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"golang.org/x/time/rate"

	"esachat/internal/config"
)

// Notifier delivers an HTML message and reports whether it was accepted.
type Notifier interface {
	Send(ctx context.Context, to, subject, html string) bool
}

const maxEmailBackoff = 30 * time.Second

// EmailService sends transactional email through the Brevo REST API.
type EmailService struct {
	cfg     config.BrevoConfig
	client  *http.Client
	limiter *rate.Limiter
	metrics *Metrics
	// sleep waits between retries; replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewEmailService creates a Brevo client. A missing API key or sender is
// a configuration error.
func NewEmailService(cfg config.BrevoConfig, metrics *Metrics) (*EmailService, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("BREVO_API_KEY is not set")
	}
	if strings.TrimSpace(cfg.SenderEmail) == "" {
		return nil, errors.New("BREVO_SENDER_EMAIL (or SMTP_FROM) is required for Brevo API emails")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.brevo.com/v3"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 1.5
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}

	limit := rate.Inf
	if cfg.RatePerSec > 0 {
		limit = rate.Limit(cfg.RatePerSec)
	}
	return &EmailService{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(limit, 1),
		metrics: metrics,
		sleep:   sleepContext,
	}, nil
}

type brevoContact struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type brevoEmail struct {
	Sender      brevoContact   `json:"sender"`
	To          []brevoContact `json:"to"`
	Subject     string         `json:"subject"`
	HTMLContent string         `json:"htmlContent"`
}

// emailBackoff is base^attempt seconds, capped at 30s.
func emailBackoff(base float64, attempt int) time.Duration {
	d := time.Duration(math.Pow(base, float64(attempt)) * float64(time.Second))
	if d > maxEmailBackoff || d <= 0 {
		return maxEmailBackoff
	}
	return d
}

// Send delivers one email, retrying 429, 5xx and transport failures.
func (e *EmailService) Send(ctx context.Context, to, subject, html string) bool {
	ok := e.send(ctx, to, subject, html)
	e.metrics.RecordEmail(subjectKind(subject), ok)
	return ok
}

func (e *EmailService) send(ctx context.Context, to, subject, html string) bool {
	body, err := json.Marshal(brevoEmail{
		Sender:      brevoContact{Email: e.cfg.SenderEmail, Name: e.cfg.SenderName},
		To:          []brevoContact{{Email: to}},
		Subject:     subject,
		HTMLContent: html,
	})
	if err != nil {
		slog.Error("failed to marshal email", "error", err)
		return false
	}
	url := strings.TrimRight(e.cfg.BaseURL, "/") + "/smtp/email"

	for attempt := 0; attempt <= e.cfg.MaxRetries; attempt++ {
		if err := e.limiter.Wait(ctx); err != nil {
			slog.Error("email send cancelled", "to", to, "error", err)
			return false
		}

		status, text, err := e.post(ctx, url, body)
		var lastErr string
		switch {
		case err != nil:
			lastErr = err.Error()
		case status >= 200 && status < 300:
			slog.Info("email sent", "to", to, "status", status)
			return true
		case status == http.StatusTooManyRequests || status >= 500:
			lastErr = fmt.Sprintf("%d - %s", status, truncate(text, 300))
		default:
			slog.Error("email rejected", "to", to, "status", status, "body", truncate(text, 300))
			return false
		}

		if attempt == e.cfg.MaxRetries {
			slog.Error("email failed after retries", "to", to, "error", lastErr)
			return false
		}
		delay := emailBackoff(e.cfg.BackoffBase, attempt)
		slog.Warn("email transient failure; retrying", "to", to, "delay", delay, "error", lastErr)
		if err := e.sleep(ctx, delay); err != nil {
			return false
		}
	}
	return false
}

func (e *EmailService) post(ctx context.Context, url string, body []byte) (int, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("api-key", e.cfg.APIKey)
	req.Header.Set("accept", "application/json")
	req.Header.Set("content-type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return resp.StatusCode, string(data), nil
}

func subjectKind(subject string) string {
	if strings.HasSuffix(subject, "failed") {
		return "failure"
	}
	return "results"
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// LogNotifier logs instead of sending; used when email is not configured
// outside production.
type LogNotifier struct{}

func (LogNotifier) Send(_ context.Context, to, subject, _ string) bool {
	slog.Info("[EMAIL/DEV] notification not sent", "to", to, "subject", subject)
	return true
}

var emailTemplates = template.Must(template.New("results").Parse(`<html>
<body style="font-family:system-ui,-apple-system,Segoe UI,Roboto,sans-serif; line-height:1.5">
<p>Hi,</p>
<p>Your <strong>{{.Model}} validation</strong> results for session <em>{{.SessionID}}</em> are ready and will be available for the next 14 days.</p>
{{if .Summary}}<div>{{.Summary}}</div>{{end}}
<p><a href="{{.Link}}" style="background:#2563eb;color:#fff;padding:10px 16px;border-radius:6px;text-decoration:none;display:inline-block">Open results</a></p>
<p>If the button doesn't work, copy this URL:<br><a href="{{.Link}}">{{.Link}}</a></p>
<hr style="border:none;border-top:1px solid #e5e7eb;margin:16px 0">
<p style="color:#6b7280;font-size:12px">This is an automated message. Please do not reply.</p>
</body>
</html>
`))

func init() {
	template.Must(emailTemplates.New("failure").Parse(`<html>
<body style="font-family:system-ui,-apple-system,Segoe UI,Roboto,sans-serif; line-height:1.5">
<p>Hi,</p>
<p>We couldn’t complete your <strong>{{.Model}} validation</strong> run.</p>
{{if .Summary}}<div>{{.Summary}}</div>{{end}}
<p>Details have been added to your session. You may try again later.</p>
<p><a href="{{.Link}}">Open session</a></p>
</body>
</html>
`))
}

type emailView struct {
	Model     string
	SessionID string
	Link      string
	Summary   template.HTML
}

// RenderResultsEmail builds the results-ready body. summary is markdown.
func RenderResultsEmail(model, sessionID, link, summary string) (string, error) {
	return renderEmail("results", model, sessionID, link, summary)
}

// RenderFailureEmail builds the run-failed body. summary is markdown.
func RenderFailureEmail(model, sessionID, link, summary string) (string, error) {
	return renderEmail("failure", model, sessionID, link, summary)
}

func renderEmail(name, model, sessionID, link, summary string) (string, error) {
	view := emailView{Model: model, SessionID: sessionID, Link: link}
	if summary != "" {
		var md bytes.Buffer
		// goldmark omits raw HTML unless WithUnsafe is set
		if err := goldmark.Convert([]byte(summary), &md); err != nil {
			return "", fmt.Errorf("render summary: %w", err)
		}
		view.Summary = template.HTML(md.String())
	}

	var out bytes.Buffer
	if err := emailTemplates.ExecuteTemplate(&out, name, view); err != nil {
		return "", fmt.Errorf("render %s email: %w", name, err)
	}
	return out.String(), nil
}
