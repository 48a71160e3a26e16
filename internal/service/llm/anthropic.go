package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"sage-app/internal/config"
	"sage-app/internal/logger"
	"sage-app/internal/sse"

	"github.com/sirupsen/logrus"
)

const messagesPath = "/v1/messages"

// AnthropicClient implements Client against the Anthropic messages API
type AnthropicClient struct {
	config     *config.LLMConfig
	httpClient *http.Client
}

// NewAnthropicClient creates a client with config.
// The http.Client has no overall timeout; streams are bounded per request.
func NewAnthropicClient(llmConfig *config.LLMConfig) *AnthropicClient {
	return &AnthropicClient{
		config:     llmConfig,
		httpClient: &http.Client{},
	}
}

type messagesRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	System    string    `json:"system"`
	Messages  []Message `json:"messages"`
	Stream    bool      `json:"stream"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type messagesResponse struct {
	Content []contentBlock `json:"content"`
}

type streamEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Complete sends a non-streaming request and returns the first text block
func (c *AnthropicClient) Complete(ctx context.Context, req Request) (string, error) {
	if req.ConnectTimeout == 0 {
		req.ConnectTimeout = c.config.RequestTimeout
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// For a non-streaming call the whole body is the first byte, so the timer stays armed until read
	timer, timedOut := armTimeout(req.ConnectTimeout, cancel)
	defer stopTimer(timer)

	logger.Log.WithFields(logrus.Fields{
		"model":         req.Model,
		"message_count": len(req.Messages),
	}).Debug("Calling Anthropic API")

	resp, err := c.send(ctx, req, false)
	if err != nil {
		return "", timeoutOr(timedOut, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", timeoutOr(timedOut, fmt.Errorf("error reading response body: %w", err))
	}

	var msgResp messagesResponse
	if err := json.Unmarshal(body, &msgResp); err != nil {
		return "", fmt.Errorf("error decoding response: %w", err)
	}

	for _, block := range msgResp.Content {
		if block.Type == "text" {
			return block.Text, nil
		}
	}
	return "", ErrEmptyResponse
}

// Stream sends a streaming request. The connect timeout is disarmed as soon as
// response headers arrive; after that only ctx bounds the stream.
func (c *AnthropicClient) Stream(ctx context.Context, req Request) (<-chan StreamChunk, error) {
	ctx, cancel := context.WithCancel(ctx)
	timer, timedOut := armTimeout(req.ConnectTimeout, cancel)

	logger.Log.WithFields(logrus.Fields{
		"model":         req.Model,
		"message_count": len(req.Messages),
	}).Info("Calling Anthropic API (streaming)")

	resp, err := c.send(ctx, req, true)
	if err != nil {
		stopTimer(timer)
		cancel()
		return nil, timeoutOr(timedOut, err)
	}

	// A live connection is evidence of progress, not a hang
	if timer != nil && !timer.Stop() && timedOut.Load() {
		resp.Body.Close()
		cancel()
		return nil, ErrTimeout
	}

	chunks := make(chan StreamChunk)

	go func() {
		defer cancel()
		defer resp.Body.Close()
		defer close(chunks)

		emit := func(chunk StreamChunk) bool {
			select {
			case chunks <- chunk:
				return true
			case <-ctx.Done():
				return false
			}
		}

		sc := sse.NewScanner(resp.Body)
		for sc.Scan() {
			payload := sc.Payload()
			if payload == sse.DoneSentinel {
				continue
			}

			var ev streamEvent
			if err := json.Unmarshal([]byte(payload), &ev); err != nil {
				logger.Log.WithError(err).Warn("Error parsing stream chunk")
				continue
			}

			switch {
			case ev.Type == "content_block_delta" && ev.Delta.Type == "text_delta":
				if ev.Delta.Text == "" {
					continue
				}
				if !emit(StreamChunk{Text: ev.Delta.Text}) {
					return
				}
			case ev.Type == "error" && ev.Error != nil:
				emit(StreamChunk{Err: fmt.Errorf("upstream stream error (%s): %s", ev.Error.Type, ev.Error.Message)})
				return
			}
		}

		if err := sc.Err(); err != nil && ctx.Err() == nil {
			logger.Log.WithError(err).Error("Scanner error during streaming")
			emit(StreamChunk{Err: fmt.Errorf("error reading stream: %w", err)})
		}
	}()

	return chunks, nil
}

func (c *AnthropicClient) send(ctx context.Context, req Request, stream bool) (*http.Response, error) {
	if c.config.AnthropicAPIKey == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY not configured")
	}

	jsonData, err := json.Marshal(messagesRequest{
		Model:     req.Model,
		MaxTokens: req.MaxTokens,
		System:    req.System,
		Messages:  req.Messages,
		Stream:    stream,
	})
	if err != nil {
		return nil, fmt.Errorf("error marshaling request: %w", err)
	}

	url := strings.TrimRight(c.config.AnthropicBaseURL, "/") + messagesPath
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}

	httpReq.Header.Set("content-type", "application/json")
	httpReq.Header.Set("x-api-key", c.config.AnthropicAPIKey)
	httpReq.Header.Set("anthropic-version", c.config.AnthropicVersion)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("error sending request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("anthropic API returned status %d: %s", resp.StatusCode, string(body))
	}
	return resp, nil
}

// armTimeout cancels after d and records that it fired. A zero d arms nothing.
func armTimeout(d time.Duration, cancel context.CancelFunc) (*time.Timer, *atomic.Bool) {
	fired := &atomic.Bool{}
	if d <= 0 {
		return nil, fired
	}
	return time.AfterFunc(d, func() {
		fired.Store(true)
		cancel()
	}), fired
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}

func timeoutOr(fired *atomic.Bool, err error) error {
	if fired.Load() || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return err
}
