// Package transport sends outbound text notifications. Transport is the
// thin interface the core depends on; PushClient is the one concrete
// implementation, an HTTP form-POST client generalized from the
// Telegram-specific notifier in the retrieval pack's binance-bot example
// down to a plain sendPush(token, recipient, text) contract.
package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Transport is the single outbound-message capability the core consumes.
type Transport interface {
	SendPush(ctx context.Context, token, recipient, text string) (bool, error)
}

// PushClient posts form-encoded messages to a configurable webhook/bot
// endpoint. The endpoint URL is expected to accept `token`, `recipient`
// and `text` form fields.
type PushClient struct {
	endpoint string
	client   *http.Client
}

var _ Transport = (*PushClient)(nil)

// NewPushClient builds a client posting to endpoint with a 10s timeout.
func NewPushClient(endpoint string) *PushClient {
	return &PushClient{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

// SendPush posts the message and reports whether the endpoint accepted it.
func (p *PushClient) SendPush(ctx context.Context, token, recipient, text string) (bool, error) {
	data := url.Values{}
	data.Set("token", token)
	data.Set("recipient", recipient)
	data.Set("text", text)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, strings.NewReader(data.Encode()))
	if err != nil {
		return false, fmt.Errorf("transport: building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("transport: sending push: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("transport: endpoint returned %d: %s", resp.StatusCode, string(body))
	}
	return true, nil
}
