package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tis24dev/backupguard/internal/config"
	"github.com/tis24dev/backupguard/internal/logging"
)

const (
	maxResponseLog  = 500
	rateLimitFactor = 5
)

var (
	// errPermanent marks responses that retrying cannot fix.
	errPermanent   = errors.New("permanent webhook failure")
	errRateLimited = errors.New("rate limited (HTTP 429)")
)

// WebhookNotifier posts run summaries as JSON to one endpoint.
type WebhookNotifier struct {
	config config.WebhookConfig
	logger *logging.Logger
	client *http.Client
}

// NewWebhookNotifier creates a notifier for cfg. It fails when the URL is
// missing or not http(s).
func NewWebhookNotifier(cfg config.WebhookConfig, logger *logging.Logger) (*WebhookNotifier, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid webhook URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid webhook URL scheme %q", u.Scheme)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = config.DefaultWebhookTimeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = config.DefaultWebhookRetryDelay
	}
	logger.Debug("Webhook notifier for %s (timeout %s, retries %d)", maskURL(cfg.URL), cfg.Timeout, cfg.MaxRetries)
	return &WebhookNotifier{
		config: cfg,
		logger: logger,
		client: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// Name returns the notifier name
func (w *WebhookNotifier) Name() string {
	return "Webhook"
}

// Send posts summary, retrying transport errors, rate limits and server
// errors up to MaxRetries times. Other 4xx responses are not retried.
func (w *WebhookNotifier) Send(ctx context.Context, summary *RunSummary) error {
	payload, err := json.Marshal(buildPayload(summary))
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= w.config.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := w.config.RetryDelay
			if errors.Is(lastErr, errRateLimited) {
				delay *= rateLimitFactor
			}
			w.logger.Debug("Retry attempt %d/%d after %s", attempt, w.config.MaxRetries, delay)
			if err := sleep(ctx, delay); err != nil {
				return fmt.Errorf("webhook cancelled: %w", err)
			}
		}

		lastErr = w.post(ctx, payload, summary.Version)
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, errPermanent) {
			break
		}
		w.logger.Warning("Webhook attempt %d/%d failed: %v", attempt+1, w.config.MaxRetries+1, lastErr)
	}
	return fmt.Errorf("webhook %s failed: %w", maskURL(w.config.URL), lastErr)
}

func (w *WebhookNotifier) post(ctx context.Context, payload []byte, version string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.config.URL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: create request: %v", errPermanent, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "backupguard/"+version)
	if w.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+w.config.Token)
	}
	if w.config.Secret != "" {
		req.Header.Set("X-Signature", signPayload(payload, w.config.Secret))
		req.Header.Set("X-Signature-Algorithm", "hmac-sha256")
	}

	start := time.Now()
	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseLog))
	resp.Body.Close()
	w.logger.Debug("Webhook answered HTTP %d in %dms", resp.StatusCode, time.Since(start).Milliseconds())

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		w.logger.Info("Webhook notification sent: HTTP %d", resp.StatusCode)
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return errRateLimited
	case resp.StatusCode >= 500:
		return fmt.Errorf("server error (HTTP %d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	default:
		return fmt.Errorf("%w: HTTP %d: %s", errPermanent, resp.StatusCode, strings.TrimSpace(string(body)))
	}
}

func buildPayload(s *RunSummary) map[string]interface{} {
	return map[string]interface{}{
		"status":        s.Status.String(),
		"message":       s.Message,
		"exit_code":     s.ExitCode.Int(),
		"command":       s.Command,
		"args":          s.Args,
		"hostname":      s.Hostname,
		"version":       s.Version,
		"timestamp":     s.StartTime.Unix(),
		"timestamp_iso": s.StartTime.Format(time.RFC3339),
		"duration_ms":   s.Duration.Milliseconds(),
		"errors":        s.ErrorCount,
		"warnings":      s.WarningCount,
	}
}

func signPayload(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// maskURL hides path and query, which often carry tokens.
func maskURL(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return "***INVALID_URL***"
	}
	masked := parsed.Scheme + "://" + parsed.Host
	if parsed.Path != "" && parsed.Path != "/" {
		masked += "/***MASKED***"
	}
	if parsed.RawQuery != "" {
		masked += "?***MASKED***"
	}
	return masked
}
