package conversation

import (
	"context"
	"errors"
	"fmt"

	"sage-app/internal/logger"
	"sage-app/internal/repository/db"

	"github.com/sirupsen/logrus"
)

// ErrForbidden is returned when a conversation belongs to another user
var ErrForbidden = errors.New("unauthorized: user does not own this conversation")

// ConversationService handles the business logic for conversation management
type ConversationService struct {
	db db.Database
}

// NewConversationService creates a new ConversationService
func NewConversationService(database db.Database) *ConversationService {
	return &ConversationService{
		db: database,
	}
}

// Owned loads a conversation and verifies userID owns it
func (s *ConversationService) Owned(ctx context.Context, conversationID, userID string) (*db.Conversation, error) {
	conv, err := s.db.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("conversation not found: %w", err)
	}
	if conv.UserID != userID {
		return nil, ErrForbidden
	}
	return conv, nil
}

// Resolve returns the conversation to run a turn in. An empty id creates a
// new conversation for the user.
func (s *ConversationService) Resolve(ctx context.Context, conversationID, userID string) (*db.Conversation, error) {
	if conversationID != "" {
		return s.Owned(ctx, conversationID, userID)
	}

	conv, err := s.db.CreateConversation(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	logger.Log.WithFields(logrus.Fields{"conversation_id": conv.ID, "user_id": userID}).Info("Created new conversation")
	return conv, nil
}

// GetUserConversations retrieves all conversations for a user, most recent first
func (s *ConversationService) GetUserConversations(ctx context.Context, userID string) ([]db.Conversation, error) {
	conversations, err := s.db.GetConversationsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve conversations: %w", err)
	}
	return conversations, nil
}

// GetLatestConversation returns the user's most recently active conversation
func (s *ConversationService) GetLatestConversation(ctx context.Context, userID string) (*db.Conversation, error) {
	conv, err := s.db.GetLatestConversation(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve latest conversation: %w", err)
	}
	return conv, nil
}

// GetConversationMessages retrieves the visible transcript of a conversation.
// System bookkeeping turns are never shown to the user.
func (s *ConversationService) GetConversationMessages(ctx context.Context, conversationID, userID string) ([]db.Message, error) {
	if _, err := s.Owned(ctx, conversationID, userID); err != nil {
		return nil, err
	}

	messages, err := s.db.GetConversationMessages(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve messages: %w", err)
	}

	visible := make([]db.Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == db.RoleSystem {
			continue
		}
		visible = append(visible, m)
	}
	return visible, nil
}
