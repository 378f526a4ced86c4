package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// WebhookSMSSender posts messages to a provider-agnostic webhook.
type WebhookSMSSender struct {
	url   string
	token string
	http  *http.Client
}

func NewWebhookSMSSender(url, token string) *WebhookSMSSender {
	return &WebhookSMSSender{
		url:   strings.TrimSpace(url),
		token: strings.TrimSpace(token),
		http: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

func (s *WebhookSMSSender) ProviderID() string {
	return "sms-webhook"
}

func (s *WebhookSMSSender) Send(ctx context.Context, to, body string) (string, error) {
	if s.url == "" {
		return "", errors.New("sms webhook url not configured")
	}
	messageID := uuid.NewString()
	raw, err := json.Marshal(map[string]string{
		"message_id": messageID,
		"to":         to,
		"body":       body,
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(raw))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("sms webhook returned %d", resp.StatusCode)
	}
	return messageID, nil
}

// NoopSMSSender accepts everything. Used when no SMS provider is
// configured so email-only deployments keep working.
type NoopSMSSender struct{}

func NewNoopSMSSender() *NoopSMSSender {
	return &NoopSMSSender{}
}

func (s *NoopSMSSender) ProviderID() string {
	return "sms-noop"
}

func (s *NoopSMSSender) Send(_ context.Context, _, _ string) (string, error) {
	return uuid.NewString(), nil
}
