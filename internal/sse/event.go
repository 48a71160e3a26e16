// Package sse implements the line-oriented push protocol between the server and
// chat clients. Each event is a single "data: <json>" line followed by a blank line.
package sse

import (
	"encoding/json"
	"fmt"
)

// Event types
const (
	TypeTextDelta       = "text_delta"
	TypeMessageComplete = "message_complete"
	TypeError           = "error"
)

// Checkpoint describes a reply judged to be a checkpoint
type Checkpoint struct {
	IsCheckpoint bool    `json:"isCheckpoint"`
	Layer        int     `json:"layer"`
	Type         string  `json:"type"`
	Name         *string `json:"name"`
}

// Event is one pushed event. Only the fields for its Type are meaningful;
// MarshalJSON emits exactly those.
type Event struct {
	Type string

	// text_delta
	Text string

	// message_complete
	MessageID      string
	ConversationID string
	Checkpoint     *Checkpoint
	ProcessingText string

	// error
	Message string
}

type textDeltaWire struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type messageCompleteWire struct {
	Type           string      `json:"type"`
	MessageID      string      `json:"messageId"`
	ConversationID string      `json:"conversationId"`
	Checkpoint     *Checkpoint `json:"checkpoint"`
	ProcessingText string      `json:"processingText"`
}

type errorWire struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// anyWire accepts every event shape; "error" is read as a fallback for "message"
type anyWire struct {
	Type           string      `json:"type"`
	Text           string      `json:"text"`
	MessageID      string      `json:"messageId"`
	ConversationID string      `json:"conversationId"`
	Checkpoint     *Checkpoint `json:"checkpoint"`
	ProcessingText string      `json:"processingText"`
	Message        string      `json:"message"`
	Error          string      `json:"error"`
}

// MarshalJSON implements json.Marshaler
func (e Event) MarshalJSON() ([]byte, error) {
	switch e.Type {
	case TypeTextDelta:
		return json.Marshal(textDeltaWire{Type: e.Type, Text: e.Text})
	case TypeMessageComplete:
		return json.Marshal(messageCompleteWire{
			Type:           e.Type,
			MessageID:      e.MessageID,
			ConversationID: e.ConversationID,
			Checkpoint:     e.Checkpoint,
			ProcessingText: e.ProcessingText,
		})
	case TypeError:
		return json.Marshal(errorWire{Type: e.Type, Message: e.Message})
	}
	return nil, fmt.Errorf("unknown event type %q", e.Type)
}

// UnmarshalJSON implements json.Unmarshaler
func (e *Event) UnmarshalJSON(data []byte) error {
	var w anyWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	switch w.Type {
	case TypeTextDelta, TypeMessageComplete, TypeError:
	default:
		return fmt.Errorf("unknown event type %q", w.Type)
	}
	msg := w.Message
	if msg == "" {
		msg = w.Error
	}
	*e = Event{
		Type:           w.Type,
		Text:           w.Text,
		MessageID:      w.MessageID,
		ConversationID: w.ConversationID,
		Checkpoint:     w.Checkpoint,
		ProcessingText: w.ProcessingText,
		Message:        msg,
	}
	return nil
}

// TextDelta builds a text fragment event
func TextDelta(text string) Event {
	return Event{Type: TypeTextDelta, Text: text}
}

// MessageComplete builds the terminal summary event
func MessageComplete(messageID, conversationID string, checkpoint *Checkpoint, processingText string) Event {
	return Event{
		Type:           TypeMessageComplete,
		MessageID:      messageID,
		ConversationID: conversationID,
		Checkpoint:     checkpoint,
		ProcessingText: processingText,
	}
}

// Error builds a terminal error event
func Error(message string) Event {
	return Event{Type: TypeError, Message: message}
}

// Terminal reports whether the event ends a stream
func (e Event) Terminal() bool {
	return e.Type == TypeMessageComplete || e.Type == TypeError
}
