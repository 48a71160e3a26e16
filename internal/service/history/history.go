// Package history turns a stored transcript into the bounded list of turns
// sent to the model.
package history

import (
	"strings"

	"sage-app/internal/repository/db"
	"sage-app/internal/service/llm"
)

// Opener is the synthetic first turn sent when a conversation has no history yet
const Opener = "[New session — deliver entry sequence]"

// Default window sizes
const (
	DefaultHead = 4
	DefaultTail = 46
)

// DecisionText returns the user-voiced stand-in for a checkpoint decision
func DecisionText(d db.Decision) (string, bool) {
	switch d {
	case db.DecisionConfirmed:
		return "I confirmed that checkpoint. That resonates.", true
	case db.DecisionRejected:
		return "That checkpoint didn't land right for me.", true
	case db.DecisionRefined:
		return "That's close but not quite right.", true
	}
	return "", false
}

// Translate maps stored turns to prompt turns, in order. Checkpoint decisions
// become user turns; system rows without a known decision are dropped.
func Translate(msgs []db.Message) []llm.Message {
	out := make([]llm.Message, 0, len(msgs))
	for _, m := range msgs {
		switch kindOf(m) {
		case db.KindUserContent:
			out = append(out, llm.Message{Role: db.RoleUser, Content: m.Content})
		case db.KindAssistantContent:
			out = append(out, llm.Message{Role: db.RoleAssistant, Content: m.Content})
		case db.KindCheckpointDecision:
			if m.Decision == nil {
				continue
			}
			if text, ok := DecisionText(*m.Decision); ok {
				out = append(out, llm.Message{Role: db.RoleUser, Content: text})
			}
		}
	}
	return out
}

// kindOf falls back to the role when a row predates turn kinds
func kindOf(m db.Message) db.TurnKind {
	if m.Kind != "" {
		return m.Kind
	}
	switch m.Role {
	case db.RoleUser:
		return db.KindUserContent
	case db.RoleAssistant:
		return db.KindAssistantContent
	}
	return db.KindCheckpointDecision
}

// Bound keeps the first head and last tail turns when turns is longer than
// head+tail. An empty list becomes the single opener turn.
func Bound(turns []llm.Message, head, tail int) []llm.Message {
	if len(turns) == 0 {
		return []llm.Message{{Role: db.RoleUser, Content: Opener}}
	}
	if len(turns) <= head+tail {
		return turns
	}
	out := make([]llm.Message, 0, head+tail)
	out = append(out, turns[:head]...)
	out = append(out, turns[len(turns)-tail:]...)
	return out
}

// Window translates msgs and bounds the result
func Window(msgs []db.Message, head, tail int) []llm.Message {
	return Bound(Translate(msgs), head, tail)
}

// Recent renders the last n turns as "role: content" blocks separated by blank lines
func Recent(turns []llm.Message, n int) string {
	if n < 0 {
		n = 0
	}
	if n < len(turns) {
		turns = turns[len(turns)-n:]
	}
	parts := make([]string, len(turns))
	for i, t := range turns {
		parts[i] = t.Role + ": " + t.Content
	}
	return strings.Join(parts, "\n\n")
}
