// Package classifier judges whether a generated reply is a checkpoint and
// derives the short progress phrase shown while Sage is listening.
package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strings"

	"sage-app/internal/config"
	"sage-app/internal/logger"
	"sage-app/internal/repository/db"
	"sage-app/internal/service/llm"

	"github.com/sirupsen/logrus"
)

// DefaultProcessingText is used whenever no better phrase is available
const DefaultProcessingText = "listening..."

// Result is the judgment for one reply. Layer, Type and Name are meaningful
// only when IsCheckpoint is true.
type Result struct {
	IsCheckpoint   bool
	Layer          int
	Type           db.ComponentType
	Name           *string
	ProcessingText string
}

// Fallback is returned when classification fails for any reason
var Fallback = Result{ProcessingText: DefaultProcessingText}

// Meta returns the pending checkpoint metadata for a checkpoint result, or nil
func (r Result) Meta() *db.CheckpointMeta {
	if !r.IsCheckpoint {
		return nil
	}
	return &db.CheckpointMeta{
		Layer:  r.Layer,
		Type:   r.Type,
		Name:   r.Name,
		Status: db.StatusPending,
	}
}

// Classifier calls a small model to judge replies
type Classifier struct {
	client llm.Client
	model  config.Model
}

// New creates a classifier using model for every call
func New(client llm.Client, model config.Model) *Classifier {
	return &Classifier{client: client, model: model}
}

// Classify judges reply given the recent transcript. It never fails: transport
// and parse errors are logged and yield Fallback.
func (c *Classifier) Classify(ctx context.Context, reply, recent string) Result {
	raw, err := c.client.Complete(ctx, llm.Request{
		Model:     c.model.ID,
		MaxTokens: c.model.MaxTokens,
		System:    instruction,
		Messages: []llm.Message{{
			Role:    db.RoleUser,
			Content: fmt.Sprintf("Recent conversation:\n%s\n\nSage's latest message:\n%s", recent, reply),
		}},
	})
	if err != nil {
		logger.Log.WithError(err).Warn("Classifier call failed")
		return Fallback
	}

	result, err := Parse(raw)
	if err != nil {
		logger.Log.WithFields(logrus.Fields{
			"raw":   raw,
			"error": err.Error(),
		}).Warn("Classifier returned unparseable output")
		return Fallback
	}

	logger.Log.WithFields(logrus.Fields{
		"is_checkpoint": result.IsCheckpoint,
		"layer":         result.Layer,
		"type":          result.Type,
	}).Debug("Reply classified")
	return result
}

var fencePattern = regexp.MustCompile("```(json)?\\s*")

type payload struct {
	IsCheckpoint   bool     `json:"is_checkpoint"`
	Layer          *float64 `json:"layer"`
	Type           *string  `json:"type"`
	Name           *string  `json:"name"`
	ProcessingText string   `json:"processing_text"`
}

// Parse decodes a classifier reply, tolerating markdown fences. A checkpoint
// without a usable layer is downgraded to a non-checkpoint.
func Parse(raw string) (Result, error) {
	cleaned := strings.TrimSpace(fencePattern.ReplaceAllString(raw, ""))

	var p payload
	if err := json.Unmarshal([]byte(cleaned), &p); err != nil {
		return Fallback, fmt.Errorf("decoding classifier output: %w", err)
	}

	result := Result{
		IsCheckpoint:   p.IsCheckpoint,
		ProcessingText: p.ProcessingText,
	}
	if strings.TrimSpace(result.ProcessingText) == "" {
		result.ProcessingText = DefaultProcessingText
	}

	layer, ok := validLayer(p.Layer)
	if !result.IsCheckpoint || !ok {
		result.IsCheckpoint = false
		return result, nil
	}

	result.Layer = layer
	result.Type = db.TypeComponent
	if p.Type != nil && db.ComponentType(*p.Type) == db.TypePattern {
		result.Type = db.TypePattern
	}
	if p.Name != nil && strings.TrimSpace(*p.Name) != "" {
		name := strings.TrimSpace(*p.Name)
		result.Name = &name
	}
	return result, nil
}

func validLayer(v *float64) (int, bool) {
	if v == nil || *v != math.Trunc(*v) {
		return 0, false
	}
	layer := int(*v)
	if layer < db.MinLayer || layer > db.MaxLayer {
		return 0, false
	}
	return layer, true
}
