package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// WebhookChannel delivers alerts as JSON POSTs to a configured
// endpoint, typically a case-management intake or a chat integration.
type WebhookChannel struct {
	URL        string
	Method     string
	Headers    map[string]string
	Timeout    time.Duration
	RetryCount int
	enabled    bool
	log        *zap.SugaredLogger
}

// NewWebhookChannel builds a webhook channel. method defaults to POST
// and timeout to 30s.
func NewWebhookChannel(url, method string, headers map[string]string, timeout time.Duration, log *zap.SugaredLogger) *WebhookChannel {
	if method == "" {
		method = http.MethodPost
	}
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &WebhookChannel{
		URL:        url,
		Method:     method,
		Headers:    headers,
		Timeout:    timeout,
		RetryCount: 3,
		enabled:    true,
		log:        log,
	}
}

// Send posts the alert, retrying with linear backoff.
func (wc *WebhookChannel) Send(ctx context.Context, alert *Alert) error {
	if !wc.enabled {
		return nil
	}

	jsonData, err := json.Marshal(alert)
	if err != nil {
		return errors.Wrap(err, "failed to marshal alert payload")
	}
	return wc.sendWithRetry(ctx, jsonData)
}

func (wc *WebhookChannel) sendWithRetry(ctx context.Context, data []byte) error {
	var lastErr error

	for i := 0; i <= wc.RetryCount; i++ {
		if err := wc.send(ctx, data); err != nil {
			lastErr = err
			wc.log.Warnw("Webhook send failed, retrying",
				"attempt", i+1,
				"error", err)

			if i < wc.RetryCount {
				select {
				case <-time.After(time.Duration(i+1) * time.Second):
					continue
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		} else {
			return nil
		}
	}

	return errors.Wrap(lastErr, "webhook send failed after retries")
}

func (wc *WebhookChannel) send(ctx context.Context, data []byte) error {
	client := &http.Client{Timeout: wc.Timeout}

	req, err := http.NewRequestWithContext(ctx, wc.Method, wc.URL, bytes.NewBuffer(data))
	if err != nil {
		return errors.Wrap(err, "failed to create webhook request")
	}

	req.Header.Set("Content-Type", "application/json")
	for key, value := range wc.Headers {
		req.Header.Set(key, value)
	}

	resp, err := client.Do(req)
	if err != nil {
		return errors.Wrap(err, "failed to send webhook request")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// ChannelType identifies the channel in logs.
func (wc *WebhookChannel) ChannelType() string { return "webhook" }

// Enabled reports whether the channel delivers alerts.
func (wc *WebhookChannel) Enabled() bool { return wc.enabled }

// SetEnabled toggles delivery without dropping the channel from its
// subscriptions.
func (wc *WebhookChannel) SetEnabled(enabled bool) { wc.enabled = enabled }
