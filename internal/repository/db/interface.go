package db

import "context"

// Database defines the interface for all persistence operations.
// Handlers and services depend on this so tests can swap in the memory store.
type Database interface {
	// Users
	CreateUser(ctx context.Context, username, email, passwordHash string) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)

	// Conversations
	CreateConversation(ctx context.Context, userID string) (*Conversation, error)
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	GetConversationsByUser(ctx context.Context, userID string) ([]Conversation, error)
	GetLatestConversation(ctx context.Context, userID string) (*Conversation, error)
	UpdateConversationSummary(ctx context.Context, id, summary string) error
	UpdateConversationCalibration(ctx context.Context, id, ratings string) error

	// Messages
	AddMessage(ctx context.Context, msg NewMessage) (*Message, error)
	GetMessage(ctx context.Context, id string) (*Message, error)
	GetConversationMessages(ctx context.Context, conversationID string) ([]Message, error)
	CountMessagesByRole(ctx context.Context, conversationID, role string) (int, error)
	UpdateMessageClassification(ctx context.Context, id string, c Classification) error
	UpdateCheckpointStatus(ctx context.Context, id string, status CheckpointStatus) error

	// Manual
	GetManualComponents(ctx context.Context, userID string) ([]ManualComponent, error)
	UpsertManualComponent(ctx context.Context, c ManualComponent) (*ManualComponent, error)
}
