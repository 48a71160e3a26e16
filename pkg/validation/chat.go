package validation

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

// MaxMessageLength bounds one user message, in runes
const MaxMessageLength = 8000

// ChatRequestValidator validates chat-related requests
type ChatRequestValidator struct{}

// NewChatRequestValidator creates a new ChatRequestValidator
func NewChatRequestValidator() *ChatRequestValidator {
	return &ChatRequestValidator{}
}

// ValidateMessage validates a chat message. A nil message opens the session
// and is always valid.
func (v *ChatRequestValidator) ValidateMessage(message *string) error {
	if message == nil {
		return nil
	}
	if strings.TrimSpace(*message) == "" {
		return errors.New("message cannot be empty")
	}
	if n := utf8.RuneCountInString(*message); n > MaxMessageLength {
		return fmt.Errorf("message must be at most %d characters long, got %d", MaxMessageLength, n)
	}
	return nil
}

// ValidateConversationID validates an optional conversation id
func (v *ChatRequestValidator) ValidateConversationID(id string) error {
	if id == "" {
		return nil
	}
	return v.validateID("conversationId", id)
}

// ValidateChatRequest validates a complete chat request
func (v *ChatRequestValidator) ValidateChatRequest(message *string, conversationID string) error {
	if err := v.ValidateMessage(message); err != nil {
		return err
	}
	return v.ValidateConversationID(conversationID)
}

// ValidateConfirmRequest validates a checkpoint decision. The action itself is
// checked by the checkpoint service.
func (v *ChatRequestValidator) ValidateConfirmRequest(messageID, action, conversationID string) error {
	if messageID == "" {
		return errors.New("messageId is required")
	}
	if err := v.validateID("messageId", messageID); err != nil {
		return err
	}
	if action == "" {
		return errors.New("action is required")
	}
	return v.ValidateConversationID(conversationID)
}

// ValidateSummarizeRequest validates a summarization request
func (v *ChatRequestValidator) ValidateSummarizeRequest(conversationID string) error {
	if conversationID == "" {
		return errors.New("conversationId is required")
	}
	return v.validateID("conversationId", conversationID)
}

func (v *ChatRequestValidator) validateID(field, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("%s must be a valid UUID, got %q", field, id)
	}
	return nil
}
