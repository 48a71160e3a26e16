package testutil

import (
	"context"
	"errors"
	"sync"

	"sage-app/internal/repository/db"
	"sage-app/internal/repository/memory"
	"sage-app/internal/service/llm"
)

// ErrInjected is the default failure returned by mocks told to fail
var ErrInjected = errors.New("injected failure")

// MockDatabase is a db.Database backed by the memory store. Set a Func field
// to override one operation, typically to inject a failure.
type MockDatabase struct {
	*memory.Store

	AddMessageFunc                    func(ctx context.Context, msg db.NewMessage) (*db.Message, error)
	GetConversationMessagesFunc       func(ctx context.Context, conversationID string) ([]db.Message, error)
	UpdateMessageClassificationFunc   func(ctx context.Context, id string, c db.Classification) error
	UpdateConversationCalibrationFunc func(ctx context.Context, id, ratings string) error
	GetManualComponentsFunc           func(ctx context.Context, userID string) ([]db.ManualComponent, error)
	UpsertManualComponentFunc         func(ctx context.Context, c db.ManualComponent) (*db.ManualComponent, error)
}

// NewMockDatabase creates a mock over an empty memory store
func NewMockDatabase() *MockDatabase {
	return &MockDatabase{Store: memory.New()}
}

func (m *MockDatabase) AddMessage(ctx context.Context, msg db.NewMessage) (*db.Message, error) {
	if m.AddMessageFunc != nil {
		return m.AddMessageFunc(ctx, msg)
	}
	return m.Store.AddMessage(ctx, msg)
}

func (m *MockDatabase) GetConversationMessages(ctx context.Context, conversationID string) ([]db.Message, error) {
	if m.GetConversationMessagesFunc != nil {
		return m.GetConversationMessagesFunc(ctx, conversationID)
	}
	return m.Store.GetConversationMessages(ctx, conversationID)
}

func (m *MockDatabase) UpdateMessageClassification(ctx context.Context, id string, c db.Classification) error {
	if m.UpdateMessageClassificationFunc != nil {
		return m.UpdateMessageClassificationFunc(ctx, id, c)
	}
	return m.Store.UpdateMessageClassification(ctx, id, c)
}

func (m *MockDatabase) UpdateConversationCalibration(ctx context.Context, id, ratings string) error {
	if m.UpdateConversationCalibrationFunc != nil {
		return m.UpdateConversationCalibrationFunc(ctx, id, ratings)
	}
	return m.Store.UpdateConversationCalibration(ctx, id, ratings)
}

func (m *MockDatabase) GetManualComponents(ctx context.Context, userID string) ([]db.ManualComponent, error) {
	if m.GetManualComponentsFunc != nil {
		return m.GetManualComponentsFunc(ctx, userID)
	}
	return m.Store.GetManualComponents(ctx, userID)
}

func (m *MockDatabase) UpsertManualComponent(ctx context.Context, c db.ManualComponent) (*db.ManualComponent, error) {
	if m.UpsertManualComponentFunc != nil {
		return m.UpsertManualComponentFunc(ctx, c)
	}
	return m.Store.UpsertManualComponent(ctx, c)
}

// MockLLMClient is a scripted llm.Client. Streams replay StreamChunks in order;
// Complete returns CompleteText or CompleteErr. Every request is recorded.
type MockLLMClient struct {
	StreamChunks []llm.StreamChunk
	StreamErr    error
	// StreamFunc overrides the scripted stream when set
	StreamFunc func(ctx context.Context, req llm.Request) (<-chan llm.StreamChunk, error)

	CompleteText string
	CompleteErr  error
	// CompleteFunc overrides the scripted completion when set
	CompleteFunc func(ctx context.Context, req llm.Request) (string, error)

	mu               sync.Mutex
	streamRequests   []llm.Request
	completeRequests []llm.Request
}

func (m *MockLLMClient) Complete(ctx context.Context, req llm.Request) (string, error) {
	m.mu.Lock()
	m.completeRequests = append(m.completeRequests, req)
	m.mu.Unlock()

	if m.CompleteFunc != nil {
		return m.CompleteFunc(ctx, req)
	}
	return m.CompleteText, m.CompleteErr
}

func (m *MockLLMClient) Stream(ctx context.Context, req llm.Request) (<-chan llm.StreamChunk, error) {
	m.mu.Lock()
	m.streamRequests = append(m.streamRequests, req)
	m.mu.Unlock()

	if m.StreamFunc != nil {
		return m.StreamFunc(ctx, req)
	}
	if m.StreamErr != nil {
		return nil, m.StreamErr
	}

	chunks := make(chan llm.StreamChunk)
	go func() {
		defer close(chunks)
		for _, c := range m.StreamChunks {
			select {
			case chunks <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return chunks, nil
}

// StreamRequests returns the recorded streaming requests
func (m *MockLLMClient) StreamRequests() []llm.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]llm.Request(nil), m.streamRequests...)
}

// CompleteRequests returns the recorded completion requests
func (m *MockLLMClient) CompleteRequests() []llm.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]llm.Request(nil), m.completeRequests...)
}

// Chunks builds a successful scripted stream from text fragments
func Chunks(parts ...string) []llm.StreamChunk {
	out := make([]llm.StreamChunk, len(parts))
	for i, p := range parts {
		out[i] = llm.StreamChunk{Text: p}
	}
	return out
}
