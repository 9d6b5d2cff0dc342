package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
)

// Transport sends rendered content to a target and reports its message id.
// Send failures are transport errors; the caller records them on the
// obligation and never retries inline.
type Transport interface {
	Send(ctx context.Context, target, content string) (string, error)
	Status() string
}

var _ Transport = (*ConsoleTransport)(nil)

// ConsoleTransport logs outgoing messages, for local runs and development
type ConsoleTransport struct{}

func NewConsoleTransport() *ConsoleTransport {
	return &ConsoleTransport{}
}

func (t *ConsoleTransport) Send(ctx context.Context, target, content string) (string, error) {
	messageID := uuid.NewString()
	slog.Info("Message sent", "transport", "console", "target", target, "message_id", messageID, "size", len(content))
	return messageID, nil
}

func (t *ConsoleTransport) Status() string {
	return "connected"
}

var _ Transport = (*WebhookTransport)(nil)

// WebhookTransport POSTs messages to an HTTP endpoint
type WebhookTransport struct {
	httpClient *http.Client
	url        string
}

func NewWebhookTransport(httpClient *http.Client, url string) *WebhookTransport {
	return &WebhookTransport{
		httpClient: httpClient,
		url:        url,
	}
}

type webhookPayload struct {
	Target  string `json:"target"`
	Content string `json:"content"`
}

type webhookResponse struct {
	MessageID string `json:"message_id"`
}

func (t *WebhookTransport) Send(ctx context.Context, target, content string) (string, error) {
	body, err := json.Marshal(webhookPayload{Target: target, Content: content})
	if err != nil {
		return "", fmt.Errorf("failed to encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", t.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to deliver webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("webhook error: %d %s", resp.StatusCode, resp.Status)
	}

	var parsed webhookResponse
	data, err := io.ReadAll(resp.Body)
	if err == nil && json.Unmarshal(data, &parsed) == nil && parsed.MessageID != "" {
		return parsed.MessageID, nil
	}

	// Endpoint did not return an id; synthesize one so the send is traceable
	return uuid.NewString(), nil
}

func (t *WebhookTransport) Status() string {
	if t.url == "" {
		return "unconfigured"
	}
	return "connected"
}
