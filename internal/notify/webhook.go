package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// WebhookNotifier posts {"text": ...} to a chat-style incoming webhook.
type WebhookNotifier struct {
	url        string
	httpClient *http.Client
	policy     RetryPolicy
}

// NewWebhookNotifier builds a notifier with a per-attempt timeout.
func NewWebhookNotifier(url string, timeout time.Duration, policy RetryPolicy) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &WebhookNotifier{
		url:        strings.TrimSpace(url),
		httpClient: &http.Client{Timeout: timeout},
		policy:     policy,
	}
}

// Notify implements Notifier. 4xx responses are not retried.
func (w *WebhookNotifier) Notify(ctx context.Context, text string) error {
	if w == nil || w.url == "" {
		return ErrNotConfigured
	}
	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	return retry(ctx, w.policy, func() error {
		return w.post(ctx, body)
	})
}

func (w *WebhookNotifier) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return permanentError{err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests:
		return permanentError{err: fmt.Errorf("webhook returned %s", resp.Status)}
	default:
		return fmt.Errorf("webhook returned %s", resp.Status)
	}
}
