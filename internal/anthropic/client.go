package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/MikeSquared-Agency/interviewd/internal/keyring"
)

const (
	defaultBaseURL = "https://api.anthropic.com"
	defaultVersion = "2023-06-01"
	maxAttempts    = 3
)

// ErrNoAPIKey is returned when the key ring is empty.
var ErrNoAPIKey = errors.New("no anthropic api key configured")

// StatusError is a non-200 reply from the Messages API.
type StatusError struct {
	Status  int
	Type    string
	Message string
	Body    string
}

func (e *StatusError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("api error %d: %s: %s", e.Status, e.Type, e.Message)
	}
	return fmt.Sprintf("api error %d: %s", e.Status, e.Body)
}

// Retryable reports whether the status is a server-side failure.
func (e *StatusError) Retryable() bool {
	return e.Status >= 500
}

type Client struct {
	keys    *keyring.Ring
	model   string
	version string
	baseURL string
	backoff time.Duration
	client  *http.Client
	logger  *slog.Logger
}

func NewClient(keys *keyring.Ring, model, version string, logger *slog.Logger) *Client {
	if version == "" {
		version = defaultVersion
	}
	return &Client{
		keys:    keys,
		model:   model,
		version: version,
		baseURL: defaultBaseURL,
		backoff: time.Second,
		client:  &http.Client{Timeout: 40 * time.Second},
		logger:  logger,
	}
}

// SetTestTransport points the client at a test server and removes the backoff delay.
func (c *Client) SetTestTransport(baseURL string) {
	c.baseURL = baseURL
	c.backoff = time.Millisecond
}

// Model returns the configured model identifier.
func (c *Client) Model() string {
	return c.model
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type request struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	System    string    `json:"system,omitempty"`
	Messages  []Message `json:"messages"`
}

type response struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type errorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Complete sends a message to the Anthropic API and returns the text response.
// Server errors and transport failures are retried with a linear backoff;
// client errors fail on the first attempt.
func (c *Client) Complete(ctx context.Context, system string, messages []Message, maxTokens int) (string, error) {
	if c.keys == nil || c.keys.Len() == 0 {
		return "", ErrNoAPIKey
	}

	body, err := json.Marshal(request{
		Model:     c.model,
		MaxTokens: maxTokens,
		System:    system,
		Messages:  messages,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		text, retry, err := c.send(ctx, body)
		if err == nil {
			return text, nil
		}
		lastErr = err
		if !retry || attempt == maxAttempts {
			break
		}

		wait := c.backoff * time.Duration(attempt)
		c.logger.Warn("anthropic call failed, retrying", "attempt", attempt, "wait", wait, "error", err)
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(wait):
		}
	}
	return "", lastErr
}

func (c *Client) send(ctx context.Context, body []byte) (string, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return "", false, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.keys.Next())
	req.Header.Set("anthropic-version", c.version)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", ctx.Err() == nil, fmt.Errorf("api call: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", true, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		se := &StatusError{Status: resp.StatusCode, Body: string(respBody)}
		var errResp errorResponse
		if json.Unmarshal(respBody, &errResp) == nil {
			se.Type = errResp.Error.Type
			se.Message = errResp.Error.Message
		}
		return "", se.Retryable(), se
	}

	var apiResp response
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return "", false, fmt.Errorf("unmarshal response: %w", err)
	}

	if len(apiResp.Content) == 0 {
		return "", false, fmt.Errorf("empty response content")
	}

	return apiResp.Content[0].Text, false, nil
}
