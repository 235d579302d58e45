package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const defaultWebhookTimeout = 10 * time.Second

type webhookRequest struct {
	To      []string `json:"to"`
	From    string   `json:"from,omitempty"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html,omitempty"`
	Text    string   `json:"text,omitempty"`
}

// WebhookTransport hands messages to an HTTP mail relay that accepts a JSON
// envelope and answers 2xx once the message is queued on its side.
type WebhookTransport struct {
	client   *resty.Client
	endpoint string
	from     string
}

var _ Transport = (*WebhookTransport)(nil)

func NewWebhookTransport(endpoint string, from string) (*WebhookTransport, error) {
	client := resty.New()
	client.SetTimeout(defaultWebhookTimeout)
	client.SetRetryCount(0)

	return NewWebhookTransportWithClient(endpoint, from, client)
}

func NewWebhookTransportWithClient(endpoint string, from string, client *resty.Client) (*WebhookTransport, error) {
	trimmedEndpoint := strings.TrimSpace(endpoint)
	if trimmedEndpoint == "" {
		return nil, fmt.Errorf("webhook endpoint is required")
	}
	if _, err := url.ParseRequestURI(trimmedEndpoint); err != nil {
		return nil, fmt.Errorf("invalid webhook endpoint: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultWebhookTimeout)
	}
	client.SetRetryCount(0)

	return &WebhookTransport{
		client:   client,
		endpoint: trimmedEndpoint,
		from:     strings.TrimSpace(from),
	}, nil
}

func (t *WebhookTransport) Name() string {
	if t == nil {
		return "webhook"
	}
	if u, err := url.Parse(t.endpoint); err == nil && u.Host != "" {
		return u.Host
	}
	return "webhook"
}

func (t *WebhookTransport) Send(ctx context.Context, msg Message) error {
	if t == nil || t.client == nil {
		return fmt.Errorf("webhook transport is not initialized")
	}
	if err := msg.Validate(); err != nil {
		return &TransportError{Message: "invalid message", Cause: err}
	}

	from := t.from
	if override := strings.TrimSpace(msg.From); override != "" {
		from = override
	}

	response, err := t.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(webhookRequest{
			To:      msg.To,
			From:    from,
			Subject: msg.Subject,
			HTML:    msg.HTML,
			Text:    msg.Text,
		}).
		Post(t.endpoint)
	if err != nil {
		return &TransportError{
			Message:   "relay request failed",
			Transient: !errors.Is(err, context.Canceled),
			Cause:     err,
		}
	}
	if response == nil {
		return &TransportError{
			Message:   "relay returned empty response",
			Transient: true,
		}
	}

	statusCode := response.StatusCode()
	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		return nil
	}

	return &TransportError{
		Code:      statusCode,
		Message:   relayErrorMessage(statusCode, strings.TrimSpace(response.String())),
		Transient: isTransientHTTPStatus(statusCode),
	}
}

func isTransientHTTPStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests || (statusCode >= http.StatusInternalServerError && statusCode <= 599)
}

func relayErrorMessage(statusCode int, body string) string {
	base := fmt.Sprintf("relay returned status %d", statusCode)
	if body == "" {
		return base
	}
	return fmt.Sprintf("%s: %s", base, body)
}
