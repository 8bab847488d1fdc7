package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"esachat/internal/config"
)

func newTestEmail(t *testing.T, statuses ...int) (*EmailService, *int32, *[]time.Duration) {
	t.Helper()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		assert.Equal(t, "/smtp/email", r.URL.Path)
		assert.Equal(t, "key", r.Header.Get("api-key"))

		var body brevoEmail
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "noreply@example.com", body.Sender.Email)
		assert.Equal(t, "ESA", body.Sender.Name)

		i := int(n) - 1
		if i >= len(statuses) {
			i = len(statuses) - 1
		}
		w.WriteHeader(statuses[i])
	}))
	t.Cleanup(srv.Close)

	svc, err := NewEmailService(config.BrevoConfig{
		APIKey:      "key",
		BaseURL:     srv.URL,
		MaxRetries:  3,
		BackoffBase: 2,
		SenderEmail: "noreply@example.com",
		SenderName:  "ESA",
	}, nil)
	require.NoError(t, err)

	var delays []time.Duration
	svc.sleep = func(_ context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}
	return svc, &calls, &delays
}

func TestEmailService_RetriesTransientFailures(t *testing.T) {
	svc, calls, delays := newTestEmail(t, http.StatusServiceUnavailable, http.StatusTooManyRequests, http.StatusCreated)

	ok := svc.Send(context.Background(), "user@example.com", "ABM validation results are ready", "<p>hi</p>")

	assert.True(t, ok)
	assert.EqualValues(t, 3, atomic.LoadInt32(calls))
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, *delays)
}

func TestEmailService_GivesUp(t *testing.T) {
	svc, calls, delays := newTestEmail(t, http.StatusBadGateway)

	assert.False(t, svc.Send(context.Background(), "user@example.com", "s", "b"))
	assert.EqualValues(t, 4, atomic.LoadInt32(calls))
	assert.Len(t, *delays, 3)
}

func TestEmailService_NonRetryable(t *testing.T) {
	svc, calls, delays := newTestEmail(t, http.StatusBadRequest)

	assert.False(t, svc.Send(context.Background(), "user@example.com", "s", "b"))
	assert.EqualValues(t, 1, atomic.LoadInt32(calls))
	assert.Empty(t, *delays)
}

func TestNewEmailService_RequiresCredentials(t *testing.T) {
	_, err := NewEmailService(config.BrevoConfig{SenderEmail: "a@b.c"}, nil)
	assert.ErrorContains(t, err, "BREVO_API_KEY")

	_, err = NewEmailService(config.BrevoConfig{APIKey: "k"}, nil)
	assert.ErrorContains(t, err, "BREVO_SENDER_EMAIL")
}

func TestEmailBackoff(t *testing.T) {
	assert.Equal(t, time.Second, emailBackoff(1.5, 0))
	assert.Equal(t, 1500*time.Millisecond, emailBackoff(1.5, 1))
	assert.Equal(t, 30*time.Second, emailBackoff(1.5, 20))
}

func TestRenderEmails(t *testing.T) {
	html, err := RenderResultsEmail("ABM", "s1", "https://app.example/?sessionId=s1", "")
	require.NoError(t, err)
	assert.Contains(t, html, "Open results")
	assert.Contains(t, html, "next 14 days")
	assert.Contains(t, html, `href="https://app.example/?sessionId=s1"`)

	html, err = RenderFailureEmail("FULL-ABM", "s1", "https://app.example/?sessionId=s1",
		"The upstream service responded with an error (**503**). <script>x</script>")
	require.NoError(t, err)
	assert.Contains(t, html, "<strong>FULL-ABM validation</strong>")
	assert.Contains(t, html, "<strong>503</strong>")
	assert.NotContains(t, html, "<script>")
	assert.Contains(t, html, "Open session")
}
