// Package checkpoint applies a user's decision on a pending checkpoint and
// runs the follow-up turn.
package checkpoint

import (
	"context"
	"errors"
	"fmt"

	"sage-app/internal/logger"
	"sage-app/internal/repository/db"
	"sage-app/internal/service/session"
	"sage-app/internal/sse"

	"github.com/sirupsen/logrus"
)

// Errors returned before any state changes
var (
	ErrInvalidAction     = errors.New("invalid checkpoint action")
	ErrNotFound          = errors.New("message not found")
	ErrForbidden         = errors.New("conversation belongs to another user")
	ErrNotCheckpoint     = errors.New("message is not a checkpoint")
	ErrWrongConversation = errors.New("message does not belong to conversation")
	ErrUnnamedPattern    = errors.New("pattern checkpoint has no name")
)

// Runner runs a session turn
type Runner interface {
	Run(ctx context.Context, req session.Request) <-chan sse.Event
}

// Request is one decision on a checkpoint message
type Request struct {
	MessageID      string
	Action         string
	ConversationID string
	UserID         string
}

// Service handles checkpoint decisions
type Service struct {
	db     db.Database
	runner Runner
}

// NewService creates a Service
func NewService(database db.Database, runner Runner) *Service {
	return &Service{db: database, runner: runner}
}

// Confirm records the decision and returns the event stream of the follow-up
// turn. An empty ConversationID means the conversation of the message.
func (s *Service) Confirm(ctx context.Context, req Request) (<-chan sse.Event, error) {
	decision, err := db.ParseDecision(req.Action)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAction, req.Action)
	}

	msg, err := s.db.GetMessage(ctx, req.MessageID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load message: %w", err)
	}

	conv, err := s.db.GetConversation(ctx, msg.ConversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}
	if conv.UserID != req.UserID {
		return nil, ErrForbidden
	}
	convID := req.ConversationID
	if convID == "" {
		convID = conv.ID
	}
	if convID != conv.ID {
		return nil, ErrWrongConversation
	}

	if !msg.IsCheckpoint || msg.CheckpointMeta == nil {
		return nil, ErrNotCheckpoint
	}
	meta := *msg.CheckpointMeta
	name := db.NormalizeName(meta.Name)
	if decision == db.DecisionConfirmed && meta.Type == db.TypePattern && name == nil {
		return nil, ErrUnnamedPattern
	}

	log := logger.Log.WithFields(logrus.Fields{
		"conversation_id": convID,
		"message_id":      msg.ID,
		"decision":        decision,
	})

	if err := s.db.UpdateCheckpointStatus(ctx, msg.ID, db.CheckpointStatus(decision)); err != nil {
		return nil, fmt.Errorf("failed to update checkpoint status: %w", err)
	}

	if decision == db.DecisionConfirmed {
		// A narrative component is keyed by layer alone, so its name is not part of the key
		component, err := s.db.UpsertManualComponent(ctx, db.ManualComponent{
			UserID:          req.UserID,
			Layer:           meta.Layer,
			Type:            meta.Type,
			Name:            name,
			Content:         msg.Content,
			SourceMessageID: msg.ID,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to save manual component: %w", err)
		}
		log.WithFields(logrus.Fields{
			"component_id": component.ID,
			"layer":        component.Layer,
			"type":         component.Type,
		}).Info("Manual component saved")
	}

	if _, err := s.db.AddMessage(ctx, db.NewMessage{
		ConversationID: convID,
		Role:           db.RoleSystem,
		Kind:           db.KindCheckpointDecision,
		Decision:       &decision,
		Content:        decision.Marker(),
	}); err != nil {
		return nil, fmt.Errorf("failed to record decision: %w", err)
	}

	log.Info("Checkpoint decision recorded")

	return s.runner.Run(ctx, session.Request{
		ConversationID: convID,
		UserID:         req.UserID,
	}), nil
}
