package llm

import (
	"context"
	"errors"
	"time"
)

// ErrTimeout is returned when the model service does not start answering in time
var ErrTimeout = errors.New("model request timed out")

// ErrEmptyResponse is returned when the model produced no text
var ErrEmptyResponse = errors.New("model returned no text")

// Message is one prompt turn. Role is "user" or "assistant".
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a completion request
type Request struct {
	Model     string
	MaxTokens int
	System    string
	Messages  []Message
	// ConnectTimeout bounds the wait for the response to begin. Zero means no bound.
	// For streams it is disarmed once the response starts.
	ConnectTimeout time.Duration
}

// StreamChunk is one streamed fragment, or the error that ended the stream
type StreamChunk struct {
	Text string
	Err  error
}

// Client defines the model service operations the app needs
type Client interface {
	// Complete sends a request and returns the first text block of the reply
	Complete(ctx context.Context, req Request) (string, error)

	// Stream sends a request and returns text fragments as they arrive.
	// The channel is closed when the upstream stream ends.
	Stream(ctx context.Context, req Request) (<-chan StreamChunk, error)
}
