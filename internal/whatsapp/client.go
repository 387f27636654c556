// Package whatsapp is a minimal client for the Cloud API graph
// endpoint used for outbound text messages.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Sender is the outbound-message capability the dispatcher depends on.
type Sender interface {
	SendText(ctx context.Context, to, body string) (string, error)
}

// APIError carries the HTTP status and raw payload of a failed send so
// callers can record it verbatim on the attempt.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("whatsapp api error: status %d: %s", e.StatusCode, e.Body)
}

// Temporary reports whether retrying the send can help.
func (e *APIError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

type Client struct {
	BaseURL       string
	Token         string
	PhoneNumberID string
	HTTP          *http.Client
	RetryAttempts int
}

func NewClient(baseURL, token, phoneNumberID string, timeout time.Duration, retries int) *Client {
	return &Client{
		BaseURL:       baseURL,
		Token:         token,
		PhoneNumberID: phoneNumberID,
		HTTP:          &http.Client{Timeout: timeout},
		RetryAttempts: retries,
	}
}

type sendRequest struct {
	MessagingProduct string   `json:"messaging_product"`
	To               string   `json:"to"`
	Type             string   `json:"type"`
	Text             textBody `json:"text"`
}

type textBody struct {
	Body string `json:"body"`
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

// SendText posts one text message and returns the provider message id.
// Transient provider errors (429, 5xx) are retried with exponential
// backoff up to RetryAttempts; other failures return immediately.
func (c *Client) SendText(ctx context.Context, to, body string) (string, error) {
	var id string

	operation := func() error {
		var err error
		id, err = c.sendOnce(ctx, to, body)
		if err == nil {
			return nil
		}
		if apiErr, ok := err.(*APIError); ok && !apiErr.Temporary() {
			return backoff.Permanent(err)
		}
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxElapsedTime = time.Duration(c.RetryAttempts) * 5 * time.Second

	policy := backoff.WithMaxRetries(b, uint64(c.RetryAttempts))
	if err := backoff.Retry(operation, backoff.WithContext(policy, ctx)); err != nil {
		return "", err
	}
	return id, nil
}

func (c *Client) sendOnce(ctx context.Context, to, body string) (string, error) {
	payload, err := json.Marshal(sendRequest{
		MessagingProduct: "whatsapp",
		To:               to,
		Type:             "text",
		Text:             textBody{Body: body},
	})
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/%s/messages", c.BaseURL, c.PhoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.Token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return "", fmt.Errorf("whatsapp send: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return "", fmt.Errorf("whatsapp read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &APIError{StatusCode: resp.StatusCode, Body: string(raw)}
	}

	var parsed sendResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("whatsapp decode response: %w", err)
	}
	if len(parsed.Messages) == 0 {
		return "", fmt.Errorf("whatsapp response missing message id")
	}
	return parsed.Messages[0].ID, nil
}

// NoopSender is used when cloud sends are disabled by configuration.
// Every message is accepted locally with a synthetic id.
type NoopSender struct{}

func (NoopSender) SendText(ctx context.Context, to, body string) (string, error) {
	return fmt.Sprintf("noop-%d", time.Now().UnixNano()), nil
}
