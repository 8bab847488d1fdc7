package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"esachat/internal/logging"
	"esachat/internal/models"
	"esachat/internal/services"
)

// Result texts written into the session.
const (
	ValidationReadyText = "✅ ABM validation results are ready."
	interruptedError    = "the server restarted before the run finished"
)

// DefaultMaxAttempts is one initial delivery plus three retries.
const DefaultMaxAttempts = 4

// DefaultBackoff is indexed by attempt; the last entry repeats.
var DefaultBackoff = []time.Duration{5 * time.Minute, 15 * time.Minute, 30 * time.Minute}

// ValidationJob is a deferred ABM run with validation.
type ValidationJob struct {
	ID            string
	SessionID     string
	Service       models.Service
	Inputs        map[string]any
	OwnerHint     string
	NotifyAddress string
}

// ModelSender builds and delivers computation requests.
type ModelSender interface {
	BuildRequest(svc models.Service, sid, sub string, inputs map[string]any) (services.ModelRequest, error)
	Send(ctx context.Context, req services.ModelRequest) (*services.ModelResponse, error)
}

// ResultSink persists job outcomes into the session.
type ResultSink interface {
	SetOwner(ctx context.Context, sid, sub string) (bool, error)
	AppendAsyncResult(ctx context.Context, ownerHint, sid string, result models.ModelResult) error
}

// Runner executes validation jobs. Run never returns an error: every
// outcome ends as a message in the session.
type Runner struct {
	model       ModelSender
	sessions    ResultSink
	notifier    services.Notifier
	frontendURL string
	metrics     *services.Metrics

	clock       clockwork.Clock
	wait        func(ctx context.Context, d time.Duration) error
	maxAttempts int
	backoff     []time.Duration
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithClock sets the clock used for backoff waits.
func WithClock(c clockwork.Clock) RunnerOption {
	return func(r *Runner) { r.clock = c }
}

// WithWait replaces the backoff wait entirely.
func WithWait(fn func(ctx context.Context, d time.Duration) error) RunnerOption {
	return func(r *Runner) { r.wait = fn }
}

// WithBackoff overrides the retry schedule and attempt budget.
func WithBackoff(maxAttempts int, schedule []time.Duration) RunnerOption {
	return func(r *Runner) {
		r.maxAttempts = maxAttempts
		r.backoff = schedule
	}
}

// WithMetrics records attempts and outcomes.
func WithMetrics(m *services.Metrics) RunnerOption {
	return func(r *Runner) { r.metrics = m }
}

// NewRunner creates a validation job runner
func NewRunner(model ModelSender, sessions ResultSink, notifier services.Notifier, frontendURL string, opts ...RunnerOption) *Runner {
	r := &Runner{
		model:       model,
		sessions:    sessions,
		notifier:    notifier,
		frontendURL: strings.TrimRight(frontendURL, "/"),
		clock:       clockwork.NewRealClock(),
		maxAttempts: DefaultMaxAttempts,
		backoff:     DefaultBackoff,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.wait == nil {
		r.wait = r.clockWait
	}
	if r.maxAttempts < 1 {
		r.maxAttempts = 1
	}
	return r
}

func (r *Runner) clockWait(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-r.clock.After(d):
		return nil
	}
}

// Delay returns the wait before retry number attempt (0-based).
func (r *Runner) Delay(attempt int) time.Duration {
	if len(r.backoff) == 0 {
		return 0
	}
	if attempt >= len(r.backoff) {
		return r.backoff[len(r.backoff)-1]
	}
	return r.backoff[attempt]
}

// IsRetryableStatus reports gateway and timeout statuses.
func IsRetryableStatus(code int) bool {
	return code == 502 || code == 503 || code == 504
}

// DeepLink returns the frontend link that reopens a session.
func DeepLink(frontendURL, sid string) string {
	return fmt.Sprintf("%s/?sessionId=%s", strings.TrimRight(frontendURL, "/"), sid)
}

type outcome struct {
	body        []byte
	lastError   string
	interrupted bool
}

// Run delivers the job and settles it into the session.
func (r *Runner) Run(ctx context.Context, job ValidationJob) {
	log := logging.WithJob("abm_validation", job.SessionID, string(job.Service))
	svc := string(job.Service)
	pilot := strings.ToUpper(stringValue(job.Inputs["area"]))

	req, err := r.model.BuildRequest(job.Service, job.SessionID, job.OwnerHint, job.Inputs)
	var out outcome
	if err != nil {
		log.Error("cannot build validation request", "error", err)
		out.lastError = err.Error()
	} else {
		pilot = req.Pilot
		out = r.deliver(ctx, log, req)
	}

	// Settle even when the runner is being shut down.
	settleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	if out.body != nil {
		if r.succeed(settleCtx, log, job, pilot, out.body) {
			r.metrics.RecordJobOutcome(svc, "succeeded")
			return
		}
		out.lastError = "unreadable response from the computation service"
	}

	if out.interrupted {
		r.metrics.RecordJobOutcome(svc, "interrupted")
	} else {
		r.metrics.RecordJobOutcome(svc, "failed")
	}
	r.fail(settleCtx, log, job, pilot, out.lastError)
}

func (r *Runner) deliver(ctx context.Context, log *slog.Logger, req services.ModelRequest) outcome {
	svc := string(req.Service)
	var out outcome
	if ctx.Err() != nil {
		out.lastError = interruptedError
		out.interrupted = true
		return out
	}

	for attempt := 0; attempt < r.maxAttempts; attempt++ {
		resp, err := r.model.Send(ctx, req)
		switch {
		case ctx.Err() != nil:
			out.lastError = interruptedError
			out.interrupted = true
			return out
		case err != nil:
			r.metrics.RecordJobAttempt(svc, "transport_error")
			out.lastError = truncate(err.Error(), 300)
		case resp.StatusCode == 200:
			r.metrics.RecordJobAttempt(svc, "200")
			out.body = resp.Body
			if out.body == nil {
				out.body = []byte{}
			}
			return out
		default:
			r.metrics.RecordJobAttempt(svc, strconv.Itoa(resp.StatusCode))
			out.lastError = fmt.Sprintf("%d - %s", resp.StatusCode, truncate(string(resp.Body), 300))
			if !IsRetryableStatus(resp.StatusCode) {
				log.Error("validation run: non-retryable response", "last_error", out.lastError)
				return out
			}
		}

		if attempt == r.maxAttempts-1 {
			break
		}
		delay := r.Delay(attempt)
		log.Warn("validation run: attempt failed; retrying",
			"attempt", attempt+1, "delay", delay, "last_error", out.lastError)
		if err := r.wait(ctx, delay); err != nil {
			out.lastError = interruptedError
			out.interrupted = true
			return out
		}
	}
	return out
}

func (r *Runner) succeed(ctx context.Context, log *slog.Logger, job ValidationJob, pilot string, body []byte) bool {
	result, err := services.ParseResult(job.Service, pilot, body)
	if err != nil {
		log.Error("validation run: unreadable response", "error", err)
		return false
	}
	result.Text = ValidationReadyText

	if job.OwnerHint != "" {
		if _, err := r.sessions.SetOwner(ctx, job.SessionID, job.OwnerHint); err != nil {
			log.Error("validation run: cannot record owner", "error", err)
		}
	}
	if err := r.sessions.AppendAsyncResult(ctx, job.OwnerHint, job.SessionID, result); err != nil {
		log.Error("validation run: cannot store result", "error", err)
	}
	log.Info("validation run completed", "layers", len(result.MapLayers), "charts", len(result.ChartData))

	name := job.Service.ModelName()
	link := DeepLink(r.frontendURL, job.SessionID)
	html, err := services.RenderResultsEmail(name, job.SessionID, link, emailSummary(result))
	if err != nil {
		log.Error("validation run: cannot render email", "error", err)
		return true
	}
	r.notify(ctx, log, job, fmt.Sprintf("%s validation results are ready", name), html, link)
	return true
}

// emailSummary prefers the model's own user explanation over the
// generic ready text.
func emailSummary(result models.ModelResult) string {
	var explanation string
	if err := json.Unmarshal(result.MapExplanation, &explanation); err == nil && strings.TrimSpace(explanation) != "" {
		return explanation
	}
	return result.Text
}

// FailureText is the in-session message for a run that never succeeded.
func FailureText(modelName, lastError string) string {
	detail := ""
	if lastError != "" {
		detail = " (" + lastError + ")"
	}
	return fmt.Sprintf("⚠️ We couldn’t complete your **%s** run with validation.\n\n"+
		"The upstream service responded with an error%s. Please try again later or contact support.",
		modelName, detail)
}

func (r *Runner) fail(ctx context.Context, log *slog.Logger, job ValidationJob, pilot, lastError string) {
	log.Error("validation run: final failure", "last_error", lastError)

	name := job.Service.ModelName()
	result := models.NewModelResult(job.Service, pilot)
	result.Text = FailureText(name, lastError)

	if err := r.sessions.AppendAsyncResult(ctx, job.OwnerHint, job.SessionID, result); err != nil {
		log.Error("validation run: cannot store failure", "error", err)
	}

	link := DeepLink(r.frontendURL, job.SessionID)
	html, err := services.RenderFailureEmail(name, job.SessionID, link, result.Text)
	if err != nil {
		log.Error("validation run: cannot render email", "error", err)
		return
	}
	r.notify(ctx, log, job, fmt.Sprintf("%s validation failed", name), html, link)
}

func (r *Runner) notify(ctx context.Context, log *slog.Logger, job ValidationJob, subject, html, link string) {
	if job.NotifyAddress == "" {
		log.Info("[EMAIL/SKIPPED] no email present", "sub", job.OwnerHint, "link", link)
		return
	}
	if r.notifier == nil {
		log.Warn("[EMAIL/SKIPPED] no notifier configured", "link", link)
		return
	}
	if !r.notifier.Send(ctx, job.NotifyAddress, subject, html) {
		log.Error("notification not delivered", "to", job.NotifyAddress, "subject", subject)
	}
}

func stringValue(v any) string {
	s, _ := v.(string)
	return s
}

// truncate keeps the first n runes of s.
func truncate(s string, n int) string {
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
