// Package session drives one chat turn: it persists the inbound message,
// assembles context, relays the streamed reply, and records the classification.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"sage-app/internal/config"
	"sage-app/internal/logger"
	"sage-app/internal/repository/db"
	"sage-app/internal/service/classifier"
	"sage-app/internal/service/history"
	"sage-app/internal/service/llm"
	"sage-app/internal/service/prompt"
	"sage-app/internal/sse"

	"github.com/sirupsen/logrus"
)

// User-facing error messages
const (
	MsgSaveFailed = "Failed to save message"
	MsgTimeout    = "Sage took too long to respond. Please try again."
	MsgFailed     = "Something went wrong generating a response. Please try again."
)

// Options are the tunables of one orchestrator
type Options struct {
	HistoryHead      int
	HistoryTail      int
	ClassifierWindow int
	Model            config.Model
	// GenerationTimeout bounds the wait for the reply stream to start
	GenerationTimeout time.Duration
}

// DefaultOptions returns the standard window sizes with the default chat model
func DefaultOptions() Options {
	return Options{
		HistoryHead:       history.DefaultHead,
		HistoryTail:       history.DefaultTail,
		ClassifierWindow:  4,
		Model:             config.DefaultModelsConfig().Chat,
		GenerationTimeout: 60 * time.Second,
	}
}

// OptionsFromConfig builds Options from application config
func OptionsFromConfig(cfg *config.AppConfig) Options {
	return Options{
		HistoryHead:       cfg.Session.HistoryHead,
		HistoryTail:       cfg.Session.HistoryTail,
		ClassifierWindow:  cfg.Session.ClassifierWindow,
		Model:             cfg.Models.Chat,
		GenerationTimeout: cfg.Session.GenerationTimeout,
	}
}

// Request identifies the turn to run. A nil Message runs the turn without a
// new user message, e.g. to open a session or after a checkpoint decision.
type Request struct {
	ConversationID string
	UserID         string
	Message        *string
}

// Orchestrator runs turns against a store and a model client
type Orchestrator struct {
	db         db.Database
	client     llm.Client
	classifier *classifier.Classifier
	opts       Options
}

// New creates an Orchestrator
func New(database db.Database, client llm.Client, cls *classifier.Classifier, opts Options) *Orchestrator {
	return &Orchestrator{
		db:         database,
		client:     client,
		classifier: cls,
		opts:       opts,
	}
}

// Run starts the turn and returns its events. The channel is unbuffered, so a
// slow reader slows the relay, and it is closed after the terminal event.
//
// Once ctx is done no more events are sent, but a turn that has started
// generating still saves and classifies its reply.
func (o *Orchestrator) Run(ctx context.Context, req Request) <-chan sse.Event {
	events := make(chan sse.Event)
	go o.run(ctx, req, events)
	return events
}

// emitter sends to the consumer until its context ends
type emitter struct {
	ctx  context.Context
	out  chan<- sse.Event
	gone bool
}

func (e *emitter) send(ev sse.Event) {
	if e.gone {
		return
	}
	select {
	case e.out <- ev:
	case <-e.ctx.Done():
		e.gone = true
	}
}

func (o *Orchestrator) run(ctx context.Context, req Request, events chan<- sse.Event) {
	defer close(events)

	out := &emitter{ctx: ctx, out: events}
	log := logger.Log.WithFields(logrus.Fields{
		"conversation_id": req.ConversationID,
		"user_id":         req.UserID,
	})

	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", r).Error("Session turn panicked")
			out.send(sse.Error(MsgFailed))
		}
	}()

	// Store work must outlive a disconnected client
	work := context.WithoutCancel(ctx)

	// Intake
	var userMsg *db.Message
	if req.Message != nil {
		m, err := o.db.AddMessage(work, db.NewMessage{
			ConversationID: req.ConversationID,
			Role:           db.RoleUser,
			Kind:           db.KindUserContent,
			Content:        *req.Message,
		})
		if err != nil {
			log.WithError(err).Error("Failed to save user message")
			out.send(sse.Error(MsgSaveFailed))
			return
		}
		userMsg = m
	}

	if err := o.respond(work, req, userMsg, out, log); err != nil {
		log.WithError(err).Error("Session turn failed")
		if errors.Is(err, llm.ErrTimeout) {
			out.send(sse.Error(MsgTimeout))
		} else {
			out.send(sse.Error(MsgFailed))
		}
	}
}

// respond runs every phase after intake. Errors it returns are fatal to the turn.
func (o *Orchestrator) respond(ctx context.Context, req Request, userMsg *db.Message, out *emitter, log *logrus.Entry) error {
	// Context build
	stored, err := o.db.GetConversationMessages(ctx, req.ConversationID)
	if err != nil {
		return fmt.Errorf("failed to load history: %w", err)
	}
	turns := history.Translate(stored)
	window := history.Bound(turns, o.opts.HistoryHead, o.opts.HistoryTail)

	system, err := o.buildPrompt(ctx, req)
	if err != nil {
		return err
	}

	log.WithFields(logrus.Fields{
		"stored_messages": len(stored),
		"window_turns":    len(window),
	}).Debug("Prepared session context")

	// Generation
	reply, err := o.generate(ctx, system, window, out)
	if err != nil {
		return err
	}

	// Persistence of reply
	saved, err := o.db.AddMessage(ctx, db.NewMessage{
		ConversationID: req.ConversationID,
		Role:           db.RoleAssistant,
		Kind:           db.KindAssistantContent,
		Content:        reply,
	})
	if err != nil {
		return fmt.Errorf("failed to save reply: %w", err)
	}

	// Classification is best-effort from here on
	result := o.classifier.Classify(ctx, reply, history.Recent(turns, o.opts.ClassifierWindow))
	if err := o.db.UpdateMessageClassification(ctx, saved.ID, db.Classification{
		ProcessingText: result.ProcessingText,
		Meta:           result.Meta(),
	}); err != nil {
		log.WithError(err).WithField("message_id", saved.ID).Warn("Failed to store classification")
	}

	if userMsg != nil {
		o.captureCalibration(ctx, req, log)
	}

	// Completion
	var checkpoint *sse.Checkpoint
	if result.IsCheckpoint {
		checkpoint = &sse.Checkpoint{
			IsCheckpoint: true,
			Layer:        result.Layer,
			Type:         string(result.Type),
			Name:         result.Name,
		}
	}
	out.send(sse.MessageComplete(saved.ID, req.ConversationID, checkpoint, result.ProcessingText))

	log.WithFields(logrus.Fields{
		"message_id":    saved.ID,
		"reply_chars":   len(reply),
		"is_checkpoint": result.IsCheckpoint,
	}).Info("Session turn completed")
	return nil
}

func (o *Orchestrator) buildPrompt(ctx context.Context, req Request) (string, error) {
	components, err := o.db.GetManualComponents(ctx, req.UserID)
	if err != nil {
		return "", fmt.Errorf("failed to load manual: %w", err)
	}

	pc := prompt.Context{
		Components:    components,
		ReturningUser: len(components) > 0,
	}
	if pc.ReturningUser {
		conv, err := o.db.GetConversation(ctx, req.ConversationID)
		if err != nil {
			return "", fmt.Errorf("failed to load conversation: %w", err)
		}
		pc.Summary = conv.Summary
		pc.Calibration = conv.CalibrationRatings
	}
	return prompt.Build(pc), nil
}

// generate relays the reply stream and returns the accumulated text
func (o *Orchestrator) generate(ctx context.Context, system string, window []llm.Message, out *emitter) (string, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	chunks, err := o.client.Stream(ctx, llm.Request{
		Model:          o.opts.Model.ID,
		MaxTokens:      o.opts.Model.MaxTokens,
		System:         system,
		Messages:       window,
		ConnectTimeout: o.opts.GenerationTimeout,
	})
	if err != nil {
		return "", fmt.Errorf("failed to start generation: %w", err)
	}

	var sb strings.Builder
	for chunk := range chunks {
		if chunk.Err != nil {
			return "", fmt.Errorf("generation stream failed: %w", chunk.Err)
		}
		if chunk.Text == "" {
			continue
		}
		sb.WriteString(chunk.Text)
		out.send(sse.TextDelta(chunk.Text))
	}

	if sb.Len() == 0 {
		return "", llm.ErrEmptyResponse
	}
	return sb.String(), nil
}

// captureCalibration stores the conversation's first user message as its calibration answers
func (o *Orchestrator) captureCalibration(ctx context.Context, req Request, log *logrus.Entry) {
	count, err := o.db.CountMessagesByRole(ctx, req.ConversationID, db.RoleUser)
	if err != nil {
		log.WithError(err).Warn("Failed to count user messages")
		return
	}
	if count != 1 {
		return
	}
	if err := o.db.UpdateConversationCalibration(ctx, req.ConversationID, *req.Message); err != nil {
		log.WithError(err).Warn("Failed to store calibration ratings")
		return
	}
	log.Debug("Captured calibration ratings")
}
