// Package webhook notifies callers when an async job reaches a terminal
// state. Delivery is best effort: one attempt, bounded by a timeout.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/toricodesthings/text-extraction-service/internal/metrics"
	"github.com/toricodesthings/text-extraction-service/internal/types"
)

const (
	userAgent       = "text-extraction-service-webhooks/1.0"
	SignatureHeader = "X-Webhook-Signature"
	JobIDHeader     = "X-Job-ID"
)

type Payload struct {
	JobID       string                  `json:"job_id"`
	Status      types.JobStatus         `json:"status"`
	Result      *types.ExtractionResult `json:"result,omitempty"`
	Error       *string                 `json:"error,omitempty"`
	CompletedAt *time.Time              `json:"completed_at,omitempty"`
}

type Notifier struct {
	client  *http.Client
	secret  string
	metrics *metrics.Metrics
}

// New returns a notifier whose requests give up after timeout. An empty
// secret disables signing.
func New(timeout time.Duration, secret string, m *metrics.Metrics) *Notifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Notifier{
		client:  &http.Client{Timeout: timeout},
		secret:  secret,
		metrics: m,
	}
}

// Notify posts the job outcome to job.CallbackURL. Failures are logged and
// returned; they never change the job.
func (n *Notifier) Notify(ctx context.Context, job types.Job) error {
	if job.CallbackURL == "" {
		return nil
	}
	err := n.send(ctx, job)
	n.metrics.RecordWebhook(err)
	if err != nil {
		log.Warn().Err(err).Str("job_id", job.ID).Str("callback", redact(job.CallbackURL)).Msg("webhook delivery failed")
		return err
	}
	log.Debug().Str("job_id", job.ID).Str("status", string(job.Status)).Msg("webhook delivered")
	return nil
}

func (n *Notifier) send(ctx context.Context, job types.Job) error {
	body, err := json.Marshal(Payload{
		JobID:       job.ID,
		Status:      job.Status,
		Result:      job.Result,
		Error:       job.Error,
		CompletedAt: job.CompletedAt,
	})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, job.CallbackURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set(JobIDHeader, job.ID)
	if n.secret != "" {
		req.Header.Set(SignatureHeader, Sign(body, n.secret))
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		slurp, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<10))
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(slurp))
	}
	return nil
}

// Sign is the hex HMAC-SHA256 of payload, as sent in SignatureHeader.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// ValidateURL accepts absolute http(s) URLs with a host.
func ValidateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid callbackUrl: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("callbackUrl scheme must be http or https")
	}
	if u.Hostname() == "" {
		return fmt.Errorf("callbackUrl must have a host")
	}
	return nil
}

// redact drops query strings, which often carry tokens.
func redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "invalid-url"
	}
	u.RawQuery = ""
	u.User = nil
	return u.String()
}
