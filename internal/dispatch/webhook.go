package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// webhookPayload is the JSON body posted to a provider endpoint.
type webhookPayload struct {
	To               string `json:"to"`
	Title            string `json:"title,omitempty"`
	Content          string `json:"content"`
	PlainTextContent string `json:"plain_text_content,omitempty"`
}

// webhookResponse is the JSON body a provider returns on acceptance.
type webhookResponse struct {
	MessageID string `json:"message_id"`
	Error     string `json:"error,omitempty"`
}

// WebhookDispatcher delivers through an HTTP provider endpoint: one JSON
// POST per send, authenticated by a bearer token. Both the email and SMS
// vendors in this deployment speak the same envelope, so a single
// implementation covers both channels with different endpoints.
type WebhookDispatcher struct {
	name     string
	endpoint string
	token    string
	client   *http.Client
}

// NewWebhookDispatcher builds a dispatcher for one provider endpoint.
// The timeout bounds every dispatch end to end; zero selects 30s.
func NewWebhookDispatcher(name, endpoint, token string, timeout time.Duration) *WebhookDispatcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &WebhookDispatcher{
		name:     name,
		endpoint: endpoint,
		token:    token,
		client:   &http.Client{Timeout: timeout},
	}
}

// Name identifies the provider for logs and diagnostics.
func (d *WebhookDispatcher) Name() string { return d.name }

// Dispatch posts the payload to the provider. Provider rejections (non-2xx)
// are ordinary failures reported through Result; transport-level faults are
// returned as errors for the orchestrator to capture.
func (d *WebhookDispatcher) Dispatch(ctx context.Context, req Request) (Result, error) {
	body, err := json.Marshal(webhookPayload{
		To:               req.Address,
		Title:            req.Title,
		Content:          req.Content,
		PlainTextContent: req.PlainTextContent,
	})
	if err != nil {
		return Result{}, fmt.Errorf("encode provider payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("build provider request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if d.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+d.token)
	}

	resp, err := d.client.Do(httpReq)
	if err != nil {
		return Result{}, fmt.Errorf("provider %s: %w", d.name, err)
	}
	defer resp.Body.Close()

	// Cap the provider response read; acceptance bodies are tiny.
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return Result{}, fmt.Errorf("provider %s: read response: %w", d.name, err)
	}

	var wr webhookResponse
	_ = json.Unmarshal(raw, &wr) // tolerate non-JSON bodies on errors

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := wr.Error
		if msg == "" {
			msg = fmt.Sprintf("provider %s returned status %d", d.name, resp.StatusCode)
		}
		return Result{Success: false, Error: msg}, nil
	}
	return Result{Success: true, ProviderMessageID: wr.MessageID}, nil
}
