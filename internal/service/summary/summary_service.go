package summary

import (
	"context"
	"fmt"
	"strings"

	"sage-app/internal/config"
	"sage-app/internal/logger"
	"sage-app/internal/repository/db"
	"sage-app/internal/service/conversation"
	"sage-app/internal/service/llm"

	"github.com/sirupsen/logrus"
)

const summarizationPrompt = "Summarize this conversation between a user and Sage (an AI building behavioral models). " +
	"Focus on: topics explored, what the user revealed, checkpoints confirmed, what was left unresolved. " +
	"Keep under 300 words. This summary will be injected into Sage's context next session."

// SummaryService writes the rolling summary a returning user's next session starts from
type SummaryService struct {
	db            db.Database
	conversations *conversation.ConversationService
	client        llm.Client
	model         config.Model
}

// NewSummaryService creates a new SummaryService
func NewSummaryService(database db.Database, client llm.Client, model config.Model) *SummaryService {
	return &SummaryService{
		db:            database,
		conversations: conversation.NewConversationService(database),
		client:        client,
		model:         model,
	}
}

// SummarizeConversation summarizes the whole transcript and stores it on the
// conversation. An empty conversation yields "" without a model call.
func (s *SummaryService) SummarizeConversation(ctx context.Context, conversationID, userID string) (string, error) {
	if _, err := s.conversations.Owned(ctx, conversationID, userID); err != nil {
		return "", err
	}

	messages, err := s.db.GetConversationMessages(ctx, conversationID)
	if err != nil {
		return "", fmt.Errorf("error getting conversation messages: %w", err)
	}
	if len(messages) == 0 {
		return "", nil
	}

	logger.Log.WithFields(logrus.Fields{
		"conversation_id": conversationID,
		"message_count":   len(messages),
	}).Info("Calling LLM to generate summary")

	summary, err := s.client.Complete(ctx, llm.Request{
		Model:     s.model.ID,
		MaxTokens: s.model.MaxTokens,
		System:    summarizationPrompt,
		Messages:  []llm.Message{{Role: db.RoleUser, Content: Transcript(messages)}},
	})
	if err != nil {
		return "", fmt.Errorf("LLM error during summarization: %w", err)
	}

	if err := s.db.UpdateConversationSummary(ctx, conversationID, summary); err != nil {
		return "", fmt.Errorf("failed to save summary: %w", err)
	}

	logger.Log.WithField("summary_chars", len(summary)).Info("Generated summary")
	return summary, nil
}

// Transcript renders messages as labelled blocks separated by blank lines
func Transcript(messages []db.Message) string {
	parts := make([]string, len(messages))
	for i, m := range messages {
		parts[i] = label(m.Role) + ": " + m.Content
	}
	return strings.Join(parts, "\n\n")
}

func label(role string) string {
	switch role {
	case db.RoleUser:
		return "User"
	case db.RoleAssistant:
		return "Sage"
	}
	return "System"
}
