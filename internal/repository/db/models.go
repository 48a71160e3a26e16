package db

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound is returned by stores when a keyed lookup matches no row
var ErrNotFound = errors.New("not found")

// ErrUsernameTaken is returned by CreateUser for a duplicate username
var ErrUsernameTaken = errors.New("username already exists")

// Message roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// TurnKind tags what a stored turn represents, independent of its content
type TurnKind string

const (
	KindUserContent        TurnKind = "user_content"
	KindAssistantContent   TurnKind = "assistant_content"
	KindCheckpointDecision TurnKind = "checkpoint_decision"
)

// Decision is a user's answer to a pending checkpoint
type Decision string

const (
	DecisionConfirmed Decision = "confirmed"
	DecisionRejected  Decision = "rejected"
	DecisionRefined   Decision = "refined"
)

// ParseDecision validates a client-supplied action string
func ParseDecision(s string) (Decision, error) {
	switch d := Decision(s); d {
	case DecisionConfirmed, DecisionRejected, DecisionRefined:
		return d, nil
	}
	return "", fmt.Errorf("invalid decision %q", s)
}

// Marker returns the bookkeeping content stored with a checkpoint_decision turn
func (d Decision) Marker() string {
	switch d {
	case DecisionConfirmed:
		return "[User confirmed the checkpoint]"
	case DecisionRejected:
		return "[User rejected the checkpoint]"
	case DecisionRefined:
		return "[User wants to refine the checkpoint]"
	}
	return ""
}

// ComponentType distinguishes the one-per-layer narrative from recurring loops
type ComponentType string

const (
	TypeComponent ComponentType = "component"
	TypePattern   ComponentType = "pattern"
)

// CheckpointStatus is the lifecycle state of a checkpoint message
type CheckpointStatus string

const (
	StatusPending   CheckpointStatus = "pending"
	StatusConfirmed CheckpointStatus = "confirmed"
	StatusRejected  CheckpointStatus = "rejected"
	StatusRefined   CheckpointStatus = "refined"
)

// Layers of the manual
const (
	LayerDrives  = 1
	LayerReacts  = 2
	LayerRelates = 3
	MinLayer     = LayerDrives
	MaxLayer     = LayerRelates
)

// LayerName returns the display name of a manual layer
func LayerName(layer int) string {
	switch layer {
	case LayerDrives:
		return "What Drives You"
	case LayerReacts:
		return "How You React"
	case LayerRelates:
		return "How You Relate"
	}
	return ""
}

// User represents a user in the database
type User struct {
	ID           string
	Username     string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

// Conversation represents a conversation in the database
type Conversation struct {
	ID                 string
	UserID             string
	Summary            *string
	CalibrationRatings *string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// CheckpointMeta is stored as JSONB next to a checkpoint message
type CheckpointMeta struct {
	Layer  int              `json:"layer"`
	Type   ComponentType    `json:"type"`
	Name   *string          `json:"name"`
	Status CheckpointStatus `json:"status"`
}

// Value implements driver.Valuer
func (m CheckpointMeta) Value() (driver.Value, error) {
	return json.Marshal(m)
}

// Scan implements sql.Scanner
func (m *CheckpointMeta) Scan(src interface{}) error {
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, m)
	case string:
		return json.Unmarshal([]byte(v), m)
	}
	return fmt.Errorf("cannot scan %T into CheckpointMeta", src)
}

// Message represents a message in a conversation
type Message struct {
	ID             string
	ConversationID string
	Role           string
	Kind           TurnKind
	Decision       *Decision // set only for KindCheckpointDecision
	Content        string
	IsCheckpoint   bool
	CheckpointMeta *CheckpointMeta
	ProcessingText *string
	CreatedAt      time.Time
}

// NewMessage describes a message to insert
type NewMessage struct {
	ConversationID string
	Role           string
	Kind           TurnKind
	Decision       *Decision
	Content        string
}

// Classification is the post-generation update applied to an assistant message.
// Meta is nil unless the reply was judged a checkpoint.
type Classification struct {
	ProcessingText string
	Meta           *CheckpointMeta
}

// ManualComponent is a confirmed entry in a user's manual
type ManualComponent struct {
	ID              string
	UserID          string
	Layer           int
	Type            ComponentType
	Name            *string
	Content         string
	SourceMessageID string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// NormalizeName lower-cases and trims a component name; empty names become nil
func NormalizeName(name *string) *string {
	if name == nil {
		return nil
	}
	n := strings.ToLower(strings.TrimSpace(*name))
	if n == "" {
		return nil
	}
	return &n
}

// GateReached reports whether every layer has a confirmed narrative component
func GateReached(components []ManualComponent) bool {
	for layer := MinLayer; layer <= MaxLayer; layer++ {
		found := false
		for _, c := range components {
			if c.Layer == layer && c.Type == TypeComponent {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
