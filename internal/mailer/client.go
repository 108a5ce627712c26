// Package mailer delivers newsletter email through an HTTP mail API or, in
// development, to the log.
package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Message is one outgoing email.
type Message struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Text    string `json:"text"`
	HTML    string `json:"html,omitempty"`
}

// Mailer sends a single message.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// Client is a mail API client. It posts one JSON document per message to
// endpoint with a bearer token.
type Client struct {
	endpoint   string
	token      string
	from       string
	httpClient *http.Client
}

// NewClient creates a new mail API client
func NewClient(endpoint, token, from string, timeout time.Duration) *Client {
	return &Client{
		endpoint: endpoint,
		token:    token,
		from:     from,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// sendRequest is the API request body
type sendRequest struct {
	From string `json:"from"`
	Message
}

// apiResponse is the API response body
type apiResponse struct {
	ID     string `json:"id"`
	Error  string `json:"error,omitempty"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors,omitempty"`
}

// Send delivers msg. Any non-2xx response is an error carrying the API's
// message when it sent one.
func (c *Client) Send(ctx context.Context, msg Message) error {
	jsonData, err := json.Marshal(sendRequest{From: c.from, Message: msg})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	var apiResp apiResponse
	if json.Unmarshal(body, &apiResp) == nil {
		if apiResp.Error != "" {
			return fmt.Errorf("mail api error: %d %s", resp.StatusCode, apiResp.Error)
		}
		if len(apiResp.Errors) > 0 {
			return fmt.Errorf("mail api error: %d %s", resp.StatusCode, apiResp.Errors[0].Message)
		}
	}
	return fmt.Errorf("unexpected status: %d %s", resp.StatusCode, resp.Status)
}

// LogMailer writes messages to the log instead of sending them.
type LogMailer struct {
	logger *zap.Logger
}

// NewLogMailer creates a mailer that only logs.
func NewLogMailer(logger *zap.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

// Send logs msg.
func (m *LogMailer) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.logger.Info("mail",
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.Int("bytes", len(msg.Text)),
	)
	return nil
}

// New picks a mailer by provider name: "http" or "log".
func New(provider, endpoint, token, from string, timeout time.Duration, logger *zap.Logger) (Mailer, error) {
	switch provider {
	case "", "log":
		return NewLogMailer(logger), nil
	case "http":
		if endpoint == "" {
			return nil, fmt.Errorf("mailer endpoint is required for provider %q", provider)
		}
		return NewClient(endpoint, token, from, timeout), nil
	default:
		return nil, fmt.Errorf("unknown mailer provider %q", provider)
	}
}
