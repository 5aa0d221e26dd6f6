// Package dify provides a client for Dify chat applications.
package dify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
)

const defaultBaseURL = "https://api.dify.ai/v1"

// Client sends a single blocking chat message to a Dify app. Each app has its
// own API key, so the key travels with the request.
type Client interface {
	ChatMessage(ctx context.Context, apiKey string, req ChatRequest) (*ChatResponse, error)
}

// ChatRequest is the body for POST /chat-messages.
type ChatRequest struct {
	Query          string         `json:"query"`
	Inputs         map[string]any `json:"inputs"`
	ResponseMode   string         `json:"response_mode"`
	User           string         `json:"user"`
	ConversationID string         `json:"conversation_id,omitempty"`
}

// ChatResponse is the blocking-mode reply.
type ChatResponse struct {
	MessageID      string   `json:"message_id"`
	ConversationID string   `json:"conversation_id"`
	Answer         string   `json:"answer"`
	Metadata       Metadata `json:"metadata"`
	CreatedAt      int64    `json:"created_at"`
}

// Metadata carries token usage.
type Metadata struct {
	Usage Usage `json:"usage"`
}

// Usage tracks token consumption.
type Usage struct {
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	TotalTokens      int     `json:"total_tokens"`
	Latency          float64 `json:"latency"`
}

// APIError is returned when Dify responds with a non-200 status.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("dify: HTTP %d: %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("dify: HTTP %d: %s", e.StatusCode, e.Message)
}

// Option configures the Dify client.
type Option func(*httpClient)

// WithBaseURL sets a custom base URL (self-hosted instance or testing).
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		if url != "" {
			c.baseURL = url
		}
	}
}

// WithUser sets the end-user identifier sent with every message.
func WithUser(user string) Option {
	return func(c *httpClient) {
		if user != "" {
			c.user = user
		}
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	baseURL string
	user    string
	http    *http.Client
}

// NewClient creates a Dify client. Per-call deadlines come from the context.
func NewClient(opts ...Option) Client {
	c := &httpClient{
		baseURL: defaultBaseURL,
		user:    "news-pipeline",
		http: &http.Client{
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) ChatMessage(ctx context.Context, apiKey string, req ChatRequest) (*ChatResponse, error) {
	if req.Inputs == nil {
		req.Inputs = map[string]any{}
	}
	if req.ResponseMode == "" {
		req.ResponseMode = "blocking"
	}
	if req.User == "" {
		req.User = c.user
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, eris.Wrap(err, "dify: marshal request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat-messages", bytes.NewReader(payload))
	if err != nil {
		return nil, eris.Wrap(err, "dify: create request")
	}
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, eris.Wrap(err, "dify: request failed")
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "dify: read response body")
	}
	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: truncate(string(body), 512)}
		var payload struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		if json.Unmarshal(body, &payload) == nil && payload.Message != "" {
			apiErr.Code = payload.Code
			apiErr.Message = payload.Message
		}
		return nil, apiErr
	}

	var out ChatResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, eris.Wrap(err, "dify: unmarshal response")
	}
	return &out, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
