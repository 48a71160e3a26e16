package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"sage-app/internal/app"
	"sage-app/internal/auth"
	"sage-app/internal/logger"
	"sage-app/internal/repository/db"
	"sage-app/internal/service/checkpoint"
	"sage-app/internal/service/conversation"
	"sage-app/internal/service/session"
	"sage-app/internal/sse"
	"sage-app/pkg/validation"

	"github.com/sirupsen/logrus"
)

// Request/Response types

type ChatRequest struct {
	Message        *string `json:"message"`
	ConversationID string  `json:"conversationId"`
}

type ConfirmRequest struct {
	MessageID      string `json:"messageId"`
	Action         string `json:"action"`
	ConversationID string `json:"conversationId"`
}

type ComponentData struct {
	ID        string  `json:"id"`
	Layer     int     `json:"layer"`
	Type      string  `json:"type"`
	Name      *string `json:"name"`
	Content   string  `json:"content"`
	CreatedAt string  `json:"created_at"`
	UpdatedAt string  `json:"updated_at"`
}

type ManualResponse struct {
	Components  []ComponentData `json:"components"`
	GateReached bool            `json:"gateReached"`
}

type SummarizeRequest struct {
	ConversationID string `json:"conversationId"`
}

type SummarizeResponse struct {
	Summary string `json:"summary"`
}

// ChatHandlers serves the session, checkpoint, manual and summary endpoints
type ChatHandlers struct {
	config    *app.Config
	validator *validation.ChatRequestValidator
}

// NewChatHandlers creates a new ChatHandlers with service layer
func NewChatHandlers(config *app.Config) *ChatHandlers {
	return &ChatHandlers{
		config:    config,
		validator: validation.NewChatRequestValidator(),
	}
}

// ChatStreamHandler runs one session turn and streams its events.
// A null message asks Sage to speak first.
func (ch *ChatHandlers) ChatStreamHandler(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.ClaimsFromContext(r.Context())

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if err := ch.validator.ValidateChatRequest(req.Message, req.ConversationID); err != nil {
		sendError(w, http.StatusBadRequest, "Validation failed", err)
		return
	}

	conv, err := ch.config.Conversations.Resolve(r.Context(), req.ConversationID, claims.UserID())
	if err != nil {
		ch.sendConversationError(w, err)
		return
	}

	logger.Log.WithFields(logrus.Fields{
		"username":        claims.Username,
		"conversation_id": conv.ID,
		"opener":          req.Message == nil,
	}).Info("Chat stream request received")

	stream, err := sse.NewWriter(w)
	if err != nil {
		sendError(w, http.StatusInternalServerError, "Streaming not supported", err)
		return
	}

	events := ch.config.Sessions.Run(r.Context(), session.Request{
		ConversationID: conv.ID,
		UserID:         claims.UserID(),
		Message:        req.Message,
	})
	relay(stream, events)
}

// ConfirmCheckpointHandler records a checkpoint decision and streams Sage's follow-up
func (ch *ChatHandlers) ConfirmCheckpointHandler(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.ClaimsFromContext(r.Context())

	var req ConfirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if err := ch.validator.ValidateConfirmRequest(req.MessageID, req.Action, req.ConversationID); err != nil {
		sendError(w, http.StatusBadRequest, "Validation failed", err)
		return
	}

	events, err := ch.config.Checkpoints.Confirm(r.Context(), checkpoint.Request{
		MessageID:      req.MessageID,
		Action:         req.Action,
		ConversationID: req.ConversationID,
		UserID:         claims.UserID(),
	})
	if err != nil {
		switch {
		case errors.Is(err, checkpoint.ErrNotFound):
			sendError(w, http.StatusNotFound, "Message not found", err)
		case errors.Is(err, checkpoint.ErrForbidden):
			sendError(w, http.StatusForbidden, "Unauthorized", err)
		case errors.Is(err, checkpoint.ErrInvalidAction),
			errors.Is(err, checkpoint.ErrNotCheckpoint),
			errors.Is(err, checkpoint.ErrWrongConversation),
			errors.Is(err, checkpoint.ErrUnnamedPattern):
			sendError(w, http.StatusBadRequest, "Invalid checkpoint decision", err)
		default:
			logger.Log.WithError(err).Error("Error confirming checkpoint")
			sendError(w, http.StatusInternalServerError, "Error confirming checkpoint", err)
		}
		return
	}

	stream, err := sse.NewWriter(w)
	if err != nil {
		// The decision is stored; let the follow-up turn finish unseen
		for range events {
		}
		sendError(w, http.StatusInternalServerError, "Streaming not supported", err)
		return
	}

	relay(stream, events)
}

// GetManualHandler returns the user's confirmed manual
func (ch *ChatHandlers) GetManualHandler(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.ClaimsFromContext(r.Context())

	m, err := ch.config.Manuals.GetManual(r.Context(), claims.UserID())
	if err != nil {
		logger.Log.WithError(err).Error("Error retrieving manual")
		sendError(w, http.StatusInternalServerError, "Error retrieving manual", err)
		return
	}

	components := make([]ComponentData, 0, len(m.Components))
	for _, c := range m.Components {
		components = append(components, ComponentData{
			ID:        c.ID,
			Layer:     c.Layer,
			Type:      string(c.Type),
			Name:      c.Name,
			Content:   c.Content,
			CreatedAt: formatTime(c.CreatedAt),
			UpdatedAt: formatTime(c.UpdatedAt),
		})
	}

	sendJSON(w, http.StatusOK, ManualResponse{
		Components:  components,
		GateReached: m.GateReached,
	})
}

// SummarizeHandler writes the rolling summary of a conversation
func (ch *ChatHandlers) SummarizeHandler(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.ClaimsFromContext(r.Context())

	var req SummarizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if err := ch.validator.ValidateSummarizeRequest(req.ConversationID); err != nil {
		sendError(w, http.StatusBadRequest, "Validation failed", err)
		return
	}

	summary, err := ch.config.Summaries.SummarizeConversation(r.Context(), req.ConversationID, claims.UserID())
	if err != nil {
		// Another user's conversation is reported as missing
		if errors.Is(err, db.ErrNotFound) || errors.Is(err, conversation.ErrForbidden) {
			sendError(w, http.StatusNotFound, "Not found", nil)
			return
		}
		logger.Log.WithError(err).Error("Error summarizing conversation")
		sendError(w, http.StatusInternalServerError, "Error generating summary", err)
		return
	}

	sendJSON(w, http.StatusOK, SummarizeResponse{Summary: summary})
}

// Helper methods

// relay forwards events to the client. After a failed write it keeps draining
// so the producer can finish its turn.
func relay(stream *sse.Writer, events <-chan sse.Event) {
	failed := false
	for ev := range events {
		if failed {
			continue
		}
		if err := stream.Send(ev); err != nil {
			logger.Log.WithError(err).Warn("Client write failed, draining stream")
			failed = true
		}
	}
}

func (ch *ChatHandlers) sendConversationError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, db.ErrNotFound):
		sendError(w, http.StatusNotFound, "Conversation not found", err)
	case errors.Is(err, conversation.ErrForbidden):
		sendError(w, http.StatusForbidden, "Unauthorized", err)
	default:
		logger.Log.WithError(err).Error("Error resolving conversation")
		sendError(w, http.StatusInternalServerError, "Error resolving conversation", err)
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
