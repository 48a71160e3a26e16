package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"sage-app/internal/config"
)

func newTestClient(baseURL string) *AnthropicClient {
	return NewAnthropicClient(&config.LLMConfig{
		AnthropicAPIKey:  "test-key",
		AnthropicBaseURL: baseURL,
		AnthropicVersion: "2023-06-01",
		RequestTimeout:   5 * time.Second,
	})
}

func collect(t *testing.T, chunks <-chan StreamChunk) (string, error) {
	t.Helper()
	var sb strings.Builder
	for c := range chunks {
		if c.Err != nil {
			return sb.String(), c.Err
		}
		sb.WriteString(c.Text)
	}
	return sb.String(), nil
}

func TestComplete_FirstTextBlock(t *testing.T) {
	var got messagesRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("path = %s, want /v1/messages", r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "test-key" {
			t.Errorf("x-api-key = %q", r.Header.Get("x-api-key"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		fmt.Fprint(w, `{"content":[{"type":"tool_use"},{"type":"text","text":"hello"}]}`)
	}))
	defer server.Close()

	text, err := newTestClient(server.URL).Complete(context.Background(), Request{
		Model:     "m",
		MaxTokens: 256,
		System:    "sys",
		Messages:  []Message{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if text != "hello" {
		t.Errorf("Complete() = %q, want hello", text)
	}
	if got.Stream {
		t.Error("non-streaming request sent stream=true")
	}
	if got.MaxTokens != 256 || got.System != "sys" || len(got.Messages) != 1 {
		t.Errorf("request body = %+v", got)
	}
}

func TestComplete_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":"slow down"}`)
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).Complete(context.Background(), Request{Model: "m"})
	if err == nil || !strings.Contains(err.Error(), "429") {
		t.Errorf("Complete() error = %v, want status 429", err)
	}
}

func TestComplete_MissingAPIKey(t *testing.T) {
	c := NewAnthropicClient(&config.LLMConfig{AnthropicBaseURL: "http://unused"})
	if _, err := c.Complete(context.Background(), Request{}); err == nil {
		t.Error("Complete() error = nil, want missing key error")
	}
}

func TestStream_RelaysTextDeltas(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req messagesRequest
		json.NewDecoder(r.Body).Decode(&req)
		if !req.Stream {
			t.Error("streaming request sent stream=false")
		}
		w.Header().Set("Content-Type", "text/event-stream")
		lines := []string{
			"event: message_start",
			`data: {"type":"message_start"}`,
			"",
			"event: content_block_delta",
			`data: {"type":"content_block_delta","delta":{"type":"text_delta","text":"Hel"}}`,
			"",
			`data: {"type":"content_block_delta","delta":{"type":"input_json_delta","partial_json":"{"}}`,
			"data: {broken",
			`data: {"type":"content_block_delta","delta":{"type":"text_delta","text":"lo"}}`,
			"data: [DONE]",
			"",
		}
		fmt.Fprint(w, strings.Join(lines, "\n"))
	}))
	defer server.Close()

	chunks, err := newTestClient(server.URL).Stream(context.Background(), Request{Model: "m", ConnectTimeout: time.Second})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	text, err := collect(t, chunks)
	if err != nil {
		t.Fatalf("stream error = %v", err)
	}
	if text != "Hello" {
		t.Errorf("streamed text = %q, want Hello", text)
	}
}

func TestStream_UpstreamErrorEvent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `data: {"type":"content_block_delta","delta":{"type":"text_delta","text":"a"}}`+"\n\n")
		fmt.Fprint(w, `data: {"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`+"\n\n")
	}))
	defer server.Close()

	chunks, err := newTestClient(server.URL).Stream(context.Background(), Request{Model: "m"})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	text, err := collect(t, chunks)
	if err == nil || !strings.Contains(err.Error(), "Overloaded") {
		t.Errorf("stream error = %v, want overloaded", err)
	}
	if text != "a" {
		t.Errorf("text before error = %q, want a", text)
	}
}

func TestStream_ConnectTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	_, err := newTestClient(server.URL).Stream(context.Background(), Request{Model: "m", ConnectTimeout: 50 * time.Millisecond})
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("Stream() error = %v, want ErrTimeout", err)
	}
}

func TestStream_TimeoutDisarmedOnceStreaming(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		w.WriteHeader(http.StatusOK)
		flusher.Flush()
		// Keep streaming well past the connect timeout
		for _, part := range []string{"slow", " but", " alive"} {
			time.Sleep(40 * time.Millisecond)
			fmt.Fprintf(w, `data: {"type":"content_block_delta","delta":{"type":"text_delta","text":%q}}`+"\n\n", part)
			flusher.Flush()
		}
	}))
	defer server.Close()

	chunks, err := newTestClient(server.URL).Stream(context.Background(), Request{Model: "m", ConnectTimeout: 30 * time.Millisecond})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	text, err := collect(t, chunks)
	if err != nil {
		t.Fatalf("stream error = %v", err)
	}
	if text != "slow but alive" {
		t.Errorf("streamed text = %q", text)
	}
}
