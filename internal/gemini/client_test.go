package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRequest() *Request {
	return &Request{
		SystemInstruction: &Content{Parts: []Part{{Text: "be kind"}}},
		Contents:          []Content{TextContent("user", "hello")},
		SafetySettings:    DefaultSafetySettings(),
	}
}

func TestGenerateContent_Success(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1beta/models/test-model:generateContent", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-goog-api-key"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Contains(t, body, "contents")
		assert.Contains(t, body, "systemInstruction")
		assert.Len(t, body["safetySettings"], 4)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"world"}]}}]}`))
	}))
	defer server.Close()

	c := NewClient("test-key", "test-model", 5*time.Second, WithBaseURL(server.URL))
	raw, err := c.GenerateContent(context.Background(), testRequest())
	require.NoError(t, err)
	assert.JSONEq(t, `{"candidates":[{"content":{"parts":[{"text":"world"}]}}]}`, string(raw))
	assert.Equal(t, 1, calls)
}

func TestGenerateContent_NonSuccessStatus(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":{"message":"overloaded"}}`))
	}))
	defer server.Close()

	c := NewClient("k", "m", 5*time.Second, WithBaseURL(server.URL))
	_, err := c.GenerateContent(context.Background(), testRequest())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnavailable))
	assert.Contains(t, err.Error(), "status=503")
	assert.Equal(t, 1, calls, "client must not retry")
}

func TestGenerateContent_EmptyBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	c := NewClient("k", "m", 5*time.Second, WithBaseURL(server.URL))
	_, err := c.GenerateContent(context.Background(), testRequest())
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestGenerateContent_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	c := NewClient("k", "m", 20*time.Millisecond, WithBaseURL(server.URL))
	_, err := c.GenerateContent(context.Background(), testRequest())
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestGenerateContent_ConnectionRefused(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	addr := server.URL
	server.Close()

	c := NewClient("k", "m", time.Second, WithBaseURL(addr))
	_, err := c.GenerateContent(context.Background(), testRequest())
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "ab", truncate("abc", 2))
	assert.Equal(t, "çã", truncate("çãõ", 2))
	assert.Equal(t, 400, len([]rune(truncate(strings.Repeat("x", 500), 400))))
}
