package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"auction-batch/internal/models"
)

// Alert is the single message dispatched for a run that needs attention.
type Alert struct {
	RunID     string                `json:"run_id"`
	RunDate   string                `json:"run_date"`
	Text      string                `json:"text"`
	Failed    []string              `json:"failed_tasks"`
	Unhealthy []models.HealthRecord `json:"unhealthy"`
}

// Notifier is a fire-and-forget alert sink.
type Notifier interface {
	Notify(ctx context.Context, alert Alert) error
}

// WebhookNotifier posts the alert as JSON. The "text" field makes the payload
// acceptable to Slack-style incoming webhooks.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

func NewWebhookNotifier(url string, timeout time.Duration) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookNotifier{url: url, client: &http.Client{Timeout: timeout}}
}

func (n *WebhookNotifier) Notify(ctx context.Context, alert Alert) error {
	body, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("post alert: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("post alert: status %d", resp.StatusCode)
	}
	return nil
}
