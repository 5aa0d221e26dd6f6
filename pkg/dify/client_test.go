package dify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChatMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/chat-messages", r.URL.Path)
		assert.Equal(t, "Bearer app-classify", r.Header.Get("Authorization"))

		var req ChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "https://news.example.com/a", req.Query)
		assert.Equal(t, "blocking", req.ResponseMode)
		assert.Equal(t, "tester", req.User)
		assert.NotNil(t, req.Inputs)

		_, _ = w.Write([]byte(`{"message_id":"m1","conversation_id":"c1","answer":"{\"is_valid\":true}","metadata":{"usage":{"total_tokens":42}}}`))
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL), WithUser("tester"))
	resp, err := c.ChatMessage(context.Background(), "app-classify", ChatRequest{Query: "https://news.example.com/a"})
	require.NoError(t, err)
	assert.Equal(t, "m1", resp.MessageID)
	assert.Equal(t, `{"is_valid":true}`, resp.Answer)
	assert.Equal(t, 42, resp.Metadata.Usage.TotalTokens)
}

func TestChatMessage_APIError(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantCode string
		wantMsg  string
	}{
		{"json error", http.StatusTooManyRequests, `{"code":"too_many_requests","message":"quota exceeded","status":429}`, "too_many_requests", "quota exceeded"},
		{"plain error", http.StatusBadGateway, `upstream down`, "", "upstream down"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewClient(WithBaseURL(srv.URL)).ChatMessage(context.Background(), "k", ChatRequest{Query: "q"})
			require.Error(t, err)
			var apiErr *APIError
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, tt.status, apiErr.StatusCode)
			assert.Equal(t, tt.wantCode, apiErr.Code)
			assert.Equal(t, tt.wantMsg, apiErr.Message)
		})
	}
}

func TestChatMessage_BadJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	}))
	defer srv.Close()

	_, err := NewClient(WithBaseURL(srv.URL)).ChatMessage(context.Background(), "k", ChatRequest{Query: "q"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unmarshal")
}

func TestChatMessage_ContextDeadline(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(block)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := NewClient(WithBaseURL(srv.URL)).ChatMessage(ctx, "k", ChatRequest{Query: "q"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestWithBaseURL_EmptyKeepsDefault(t *testing.T) {
	c := NewClient(WithBaseURL("")).(*httpClient)
	assert.Equal(t, defaultBaseURL, c.baseURL)
	assert.Equal(t, "news-pipeline", c.user)
}
