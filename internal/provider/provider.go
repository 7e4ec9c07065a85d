// Package provider implements the messaging-provider HTTP client named in
// spec §6 as an external collaborator. The wire shapes are exactly those
// given there; nothing here invents endpoints. Grounded on the teacher's
// internal/git.Client interface-for-testability convention.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Message is one row of the provider's inbound-message payload (spec §6).
type Message struct {
	MessageHandle string `json:"message_handle"`
	Content       string `json:"content"`
	FromNumber    any    `json:"from_number"` // string or []string
	ToNumber      any    `json:"to_number"`
	IsOutbound    bool   `json:"is_outbound"`
	MediaURL      string `json:"media_url,omitempty"`
	CreatedAt     string `json:"created_at,omitempty"`
	DateSent      string `json:"date_sent,omitempty"`
	DateUpdated   string `json:"date_updated,omitempty"`
}

// FromNumberString normalizes the from_number field, which the provider
// may deliver as either a bare string or an array (spec §9 open question):
// pick the first non-empty entry.
func (m Message) FromNumberString() string {
	return firstNonEmpty(m.FromNumber)
}

func firstNonEmpty(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []any:
		for _, item := range t {
			if s, ok := item.(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}

type messagesResponse struct {
	Data []Message `json:"data"`
}

// Client is the messaging-provider collaborator. Methods correspond
// exactly to the four endpoints named in spec §6.
type Client interface {
	FetchMessages(ctx context.Context, limit int) ([]Message, error)
	SendMessage(ctx context.Context, number, content string) (messageID string, err error)
	SendTyping(ctx context.Context, number string) error
	MarkRead(ctx context.Context, number, messageHandle string) error
}

// httpClient is the real implementation, backed by net/http with the
// exponential-backoff-plus-jitter retry policy of spec §5 (3 attempts,
// 500ms -> 4000ms, on 429/502/503/504 and network errors).
type httpClient struct {
	apiBase    string
	apiKey     string
	apiSecret  string
	fromNumber string
	http       *http.Client
}

// NewHTTPClient builds the real provider client.
func NewHTTPClient(apiBase, apiKey, apiSecret, fromNumber string, timeout time.Duration) Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &httpClient{
		apiBase:    apiBase,
		apiKey:     apiKey,
		apiSecret:  apiSecret,
		fromNumber: fromNumber,
		http:       &http.Client{Timeout: timeout},
	}
}

func (c *httpClient) authHeaders(req *http.Request) {
	req.Header.Set("X-Api-Key", c.apiKey)
	req.Header.Set("X-Api-Secret", c.apiSecret)
	req.Header.Set("Content-Type", "application/json")
}

func (c *httpClient) FetchMessages(ctx context.Context, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 100
	}
	url := fmt.Sprintf("%s/v2/messages?limit=%d", c.apiBase, limit)

	var out messagesResponse
	err := c.doWithRetry(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		c.authHeaders(req)

		resp, err := c.http.Do(req)
		if err != nil {
			return err // network error: retryable
		}
		defer func() { _ = resp.Body.Close() }()

		if isRetryableStatus(resp.StatusCode) {
			return fmt.Errorf("transient provider error: status %d", resp.StatusCode)
		}
		if resp.StatusCode >= 400 {
			return backoff.Permanent(fmt.Errorf("irrecoverable provider error: status %d", resp.StatusCode))
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return backoff.Permanent(err)
		}
		return json.Unmarshal(body, &out)
	})
	if err != nil {
		return nil, err
	}

	var filtered []Message
	for _, m := range out.Data {
		if !m.IsOutbound {
			filtered = append(filtered, m)
		}
	}
	return filtered, nil
}

func (c *httpClient) SendMessage(ctx context.Context, number, content string) (string, error) {
	url := c.apiBase + "/send-message"
	payload := map[string]string{
		"number":      number,
		"from_number": c.fromNumber,
		"content":     content,
	}

	var result struct {
		MessageHandle string `json:"message_handle"`
		ID            string `json:"id"`
	}
	err := c.doWithRetry(ctx, func() error {
		return c.postJSON(ctx, url, payload, &result)
	})
	if err != nil {
		return "", err
	}
	if result.MessageHandle != "" {
		return result.MessageHandle, nil
	}
	return result.ID, nil
}

func (c *httpClient) SendTyping(ctx context.Context, number string) error {
	url := c.apiBase + "/send-typing-indicator"
	// Best-effort per spec §6: the error left after retries is returned so
	// the caller can back off, and is never treated as fatal.
	return c.doWithRetry(ctx, func() error {
		return c.postJSON(ctx, url, map[string]string{"number": number}, nil)
	})
}

func (c *httpClient) MarkRead(ctx context.Context, number, messageHandle string) error {
	url := c.apiBase + "/mark-read"
	_ = c.doWithRetry(ctx, func() error {
		return c.postJSON(ctx, url, map[string]string{"number": number, "message_handle": messageHandle}, nil)
	})
	return nil
}

func (c *httpClient) postJSON(ctx context.Context, url string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return backoff.Permanent(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(err)
	}
	c.authHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if isRetryableStatus(resp.StatusCode) {
		return fmt.Errorf("transient provider error: status %d", resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return backoff.Permanent(fmt.Errorf("irrecoverable provider error: status %d", resp.StatusCode))
	}
	if out == nil {
		return nil
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return backoff.Permanent(err)
	}
	if len(respBody) == 0 {
		return nil
	}
	return json.Unmarshal(respBody, out)
}

func isRetryableStatus(status int) bool {
	switch status {
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// doWithRetry applies spec §5's policy: 3 attempts, exponential backoff
// 500ms -> 4000ms plus jitter.
func (c *httpClient) doWithRetry(ctx context.Context, op backoff.Operation) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 500 * time.Millisecond
	policy.MaxInterval = 4000 * time.Millisecond
	policy.Multiplier = 2
	policy.RandomizationFactor = 0.5

	withCtx := backoff.WithContext(backoff.WithMaxRetries(policy, 2), ctx)
	return backoff.Retry(op, withCtx)
}

// BestTimestamp picks the best-available timestamp per spec §6's ordering
// rule: created_at | date_sent | date_updated; missing sorts last.
func BestTimestamp(m Message) (time.Time, bool) {
	for _, raw := range []string{m.CreatedAt, m.DateSent, m.DateUpdated} {
		if raw == "" {
			continue
		}
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			return t, true
		}
		if unixSec, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return time.Unix(unixSec, 0).UTC(), true
		}
	}
	return time.Time{}, false
}
