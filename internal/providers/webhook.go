package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"health-service/internal/logging"
	"health-service/internal/models"
	"health-service/internal/utils"
)

// Webhook posts notifications as JSON to the rule's webhook URL.
type Webhook struct {
	client   *http.Client
	logger   *logging.Logger
	attempts int
	delay    time.Duration
}

// NewWebhook creates a webhook provider. A nil client uses a 10 second timeout.
func NewWebhook(client *http.Client, logger *logging.Logger) *Webhook {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Webhook{client: client, logger: logger, attempts: 3, delay: time.Second}
}

// Send posts n, retrying on transport errors and non-2xx responses.
func (w *Webhook) Send(ctx context.Context, n models.Notification) error {
	if n.WebhookURL == "" {
		return fmt.Errorf("no webhook url for rule %s", n.RuleID)
	}
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	return utils.Retry(ctx, w.logger, w.attempts, w.delay, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.WebhookURL, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("create webhook request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "health-service")

		resp, err := w.client.Do(req)
		if err != nil {
			return fmt.Errorf("webhook request failed: %w", err)
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fmt.Errorf("webhook returned status %d", resp.StatusCode)
		}
		return nil
	})
}
