package handlers

import (
	"errors"
	"net/http"

	"sage-app/internal/auth"
	"sage-app/internal/logger"
	"sage-app/internal/repository/db"
)

type ConversationInfo struct {
	ID        string  `json:"id"`
	Summary   *string `json:"summary,omitempty"`
	CreatedAt string  `json:"created_at"`
	UpdatedAt string  `json:"updated_at"`
}

type ConversationsResponse struct {
	Conversations []ConversationInfo `json:"conversations"`
}

type CheckpointData struct {
	Layer  int     `json:"layer"`
	Type   string  `json:"type"`
	Name   *string `json:"name"`
	Status string  `json:"status"`
}

type MessageData struct {
	ID             string          `json:"id"`
	Role           string          `json:"role"`
	Content        string          `json:"content"`
	IsCheckpoint   bool            `json:"is_checkpoint"`
	CheckpointMeta *CheckpointData `json:"checkpoint_meta"`
	ProcessingText *string         `json:"processing_text,omitempty"`
	CreatedAt      string          `json:"created_at"`
}

type MessagesResponse struct {
	Messages []MessageData `json:"messages"`
}

// GetConversationsHandler returns all conversations for the authenticated user
func (ch *ChatHandlers) GetConversationsHandler(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.ClaimsFromContext(r.Context())

	conversations, err := ch.config.Conversations.GetUserConversations(r.Context(), claims.UserID())
	if err != nil {
		logger.Log.WithError(err).Error("Error retrieving conversations")
		sendError(w, http.StatusInternalServerError, "Error retrieving conversations", err)
		return
	}

	infos := make([]ConversationInfo, 0, len(conversations))
	for _, conv := range conversations {
		infos = append(infos, conversationInfo(conv))
	}

	sendJSON(w, http.StatusOK, ConversationsResponse{Conversations: infos})
}

// GetLatestConversationHandler returns the conversation to resume, or 404 for a new user
func (ch *ChatHandlers) GetLatestConversationHandler(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.ClaimsFromContext(r.Context())

	conv, err := ch.config.Conversations.GetLatestConversation(r.Context(), claims.UserID())
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			sendError(w, http.StatusNotFound, "No conversations yet", nil)
			return
		}
		logger.Log.WithError(err).Error("Error retrieving latest conversation")
		sendError(w, http.StatusInternalServerError, "Error retrieving conversation", err)
		return
	}

	sendJSON(w, http.StatusOK, conversationInfo(*conv))
}

// GetConversationMessagesHandler returns the visible transcript of a conversation
func (ch *ChatHandlers) GetConversationMessagesHandler(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.ClaimsFromContext(r.Context())
	conversationID := r.PathValue("id")

	if err := ch.validator.ValidateConversationID(conversationID); err != nil || conversationID == "" {
		sendError(w, http.StatusBadRequest, "Invalid conversation id", err)
		return
	}

	messages, err := ch.config.Conversations.GetConversationMessages(r.Context(), conversationID, claims.UserID())
	if err != nil {
		ch.sendConversationError(w, err)
		return
	}

	data := make([]MessageData, 0, len(messages))
	for _, m := range messages {
		data = append(data, messageData(m))
	}

	sendJSON(w, http.StatusOK, MessagesResponse{Messages: data})
}

func conversationInfo(conv db.Conversation) ConversationInfo {
	return ConversationInfo{
		ID:        conv.ID,
		Summary:   conv.Summary,
		CreatedAt: formatTime(conv.CreatedAt),
		UpdatedAt: formatTime(conv.UpdatedAt),
	}
}

func messageData(m db.Message) MessageData {
	md := MessageData{
		ID:             m.ID,
		Role:           m.Role,
		Content:        m.Content,
		IsCheckpoint:   m.IsCheckpoint,
		ProcessingText: m.ProcessingText,
		CreatedAt:      formatTime(m.CreatedAt),
	}
	if m.CheckpointMeta != nil {
		md.CheckpointMeta = &CheckpointData{
			Layer:  m.CheckpointMeta.Layer,
			Type:   string(m.CheckpointMeta.Type),
			Name:   m.CheckpointMeta.Name,
			Status: string(m.CheckpointMeta.Status),
		}
	}
	return md
}
