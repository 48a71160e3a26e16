package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"sage-app/internal/api/handlers"
	"sage-app/internal/sse"
)

// Client talks to the Sage HTTP API
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient creates a client for baseURL. Streams have no overall timeout.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{},
	}
}

// Login exchanges credentials for a token and keeps it
func (c *Client) Login(ctx context.Context, username, password string) error {
	var resp handlers.LoginResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/login", handlers.LoginRequest{Username: username, Password: password}, &resp); err != nil {
		return err
	}
	c.token = resp.Token
	return nil
}

// Chat sends a message, or opens the session when message is nil, and
// dispatches the streamed events
func (c *Client) Chat(ctx context.Context, message *string, conversationID string, h sse.Handlers) error {
	return c.stream(ctx, "/api/chat", handlers.ChatRequest{Message: message, ConversationID: conversationID}, h)
}

// Confirm sends a checkpoint decision and dispatches Sage's follow-up
func (c *Client) Confirm(ctx context.Context, messageID, action, conversationID string, h sse.Handlers) error {
	return c.stream(ctx, "/api/checkpoint/confirm", handlers.ConfirmRequest{
		MessageID:      messageID,
		Action:         action,
		ConversationID: conversationID,
	}, h)
}

// Manual fetches the confirmed manual
func (c *Client) Manual(ctx context.Context) (*handlers.ManualResponse, error) {
	var resp handlers.ManualResponse
	if err := c.doJSON(ctx, http.MethodGet, "/api/manual", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Summarize asks the server to write the conversation summary
func (c *Client) Summarize(ctx context.Context, conversationID string) (string, error) {
	var resp handlers.SummarizeResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/session/summary", handlers.SummarizeRequest{ConversationID: conversationID}, &resp); err != nil {
		return "", err
	}
	return resp.Summary, nil
}

// LatestConversation returns the id of the conversation to resume, or "" if none
func (c *Client) LatestConversation(ctx context.Context) (string, error) {
	var resp handlers.ConversationInfo
	err := c.doJSON(ctx, http.MethodGet, "/api/conversations/latest", nil, &resp)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

// APIError is a non-2xx JSON error from the server
type APIError struct {
	Code    int
	Message string
	Detail  string
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s (%d): %s", e.Message, e.Code, e.Detail)
	}
	return fmt.Sprintf("%s (%d)", e.Message, e.Code)
}

func (c *Client) stream(ctx context.Context, path string, body interface{}, h sse.Handlers) error {
	resp, err := c.send(ctx, http.MethodPost, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return sse.Consume(resp.Body, h)
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out interface{}) error {
	resp, err := c.send(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("error decoding response: %w", err)
	}
	return nil
}

// send performs the request and turns error statuses into *APIError
func (c *Client) send(ctx context.Context, method, path string, body interface{}) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("error marshaling request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error sending request: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		defer resp.Body.Close()
		apiErr := &APIError{Code: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		var errResp handlers.ErrorResponse
		if json.NewDecoder(resp.Body).Decode(&errResp) == nil && errResp.Message != "" {
			apiErr.Message = errResp.Message
			apiErr.Detail = errResp.Error
		}
		return nil, apiErr
	}
	return resp, nil
}
