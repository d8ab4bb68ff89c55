package sms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/edusync/attendance-api/pkg/config"
)

// Result captures the gateway's verdict for a single message.
type Result struct {
	Delivered  bool
	ProviderID string
	Detail     string
}

// Sender delivers one SMS message. Implementations must be safe for
// concurrent use.
type Sender interface {
	Send(ctx context.Context, phone, message, senderName string) (*Result, error)
}

// Client talks to an HTTP JSON SMS gateway.
type Client struct {
	url    string
	apiKey string
	http   *http.Client
}

// NewClient builds a gateway client from notifier configuration.
func NewClient(cfg config.NotifierConfig) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		url:    cfg.GatewayURL,
		apiKey: cfg.GatewayAPIKey,
		http:   &http.Client{Timeout: timeout},
	}
}

type sendRequest struct {
	To      string `json:"to"`
	Message string `json:"message"`
	Sender  string `json:"sender"`
}

type sendResponse struct {
	Status    string `json:"status"`
	MessageID string `json:"message_id"`
	Error     string `json:"error"`
}

// Send submits one message and interprets the gateway response. A non-2xx
// response or a gateway-reported failure yields Delivered=false with the
// error detail, not a Go error; network failures are returned as errors.
func (c *Client) Send(ctx context.Context, phone, message, senderName string) (*Result, error) {
	payload, err := json.Marshal(sendRequest{To: phone, Message: message, Sender: senderName})
	if err != nil {
		return nil, fmt.Errorf("marshal sms request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build sms request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sms gateway request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return nil, fmt.Errorf("read sms gateway response: %w", err)
	}

	var parsed sendResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		parsed = sendResponse{Error: string(body)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &Result{Delivered: false, Detail: fmt.Sprintf("gateway status %d: %s", resp.StatusCode, parsed.Error)}, nil
	}
	if parsed.Status != "" && parsed.Status != "sent" && parsed.Status != "queued" {
		return &Result{Delivered: false, ProviderID: parsed.MessageID, Detail: parsed.Error}, nil
	}

	return &Result{Delivered: true, ProviderID: parsed.MessageID}, nil
}
