// Package memory is an in-process db.Database used for local runs and tests.
// Every operation follows the same ordering and dedup rules as the Postgres store.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"sage-app/internal/repository/db"

	"github.com/google/uuid"
)

var _ db.Database = (*Store)(nil)

// Store keeps all rows in maps guarded by one mutex
type Store struct {
	mu sync.RWMutex

	now func() time.Time
	seq int64

	users         map[string]*db.User
	conversations map[string]*db.Conversation
	messages      map[string]*storedMessage
	components    map[string]*db.ManualComponent
}

type storedMessage struct {
	msg db.Message
	seq int64
}

// New creates an empty store
func New() *Store {
	return &Store{
		now:           time.Now,
		users:         make(map[string]*db.User),
		conversations: make(map[string]*db.Conversation),
		messages:      make(map[string]*storedMessage),
		components:    make(map[string]*db.ManualComponent),
	}
}

// SetClock replaces the time source; used by tests that need fixed timestamps
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Close is a no-op so the store can stand in for Postgres
func (s *Store) Close() error {
	return nil
}

func (s *Store) CreateUser(_ context.Context, username, email, passwordHash string) (*db.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if u.Username == username {
			return nil, db.ErrUsernameTaken
		}
	}
	u := &db.User{
		ID:           uuid.New().String(),
		Username:     username,
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    s.now(),
	}
	s.users[u.ID] = u
	cp := *u
	return &cp, nil
}

func (s *Store) GetUserByUsername(_ context.Context, username string) (*db.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.users {
		if u.Username == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("user %q: %w", username, db.ErrNotFound)
}

func (s *Store) CreateConversation(_ context.Context, userID string) (*db.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	c := &db.Conversation{
		ID:        uuid.New().String(),
		UserID:    userID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.conversations[c.ID] = c
	return copyConversation(c), nil
}

func (s *Store) GetConversation(_ context.Context, id string) (*db.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.conversations[id]
	if !ok {
		return nil, fmt.Errorf("conversation %s: %w", id, db.ErrNotFound)
	}
	return copyConversation(c), nil
}

func (s *Store) GetConversationsByUser(_ context.Context, userID string) ([]db.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []db.Conversation
	for _, c := range s.conversations {
		if c.UserID == userID {
			out = append(out, *copyConversation(c))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) GetLatestConversation(ctx context.Context, userID string) (*db.Conversation, error) {
	convs, err := s.GetConversationsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(convs) == 0 {
		return nil, fmt.Errorf("latest conversation for %s: %w", userID, db.ErrNotFound)
	}
	return &convs[0], nil
}

func (s *Store) UpdateConversationSummary(_ context.Context, id, summary string) error {
	return s.updateConversation(id, func(c *db.Conversation) { c.Summary = &summary })
}

func (s *Store) UpdateConversationCalibration(_ context.Context, id, ratings string) error {
	return s.updateConversation(id, func(c *db.Conversation) { c.CalibrationRatings = &ratings })
}

func (s *Store) updateConversation(id string, apply func(*db.Conversation)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.conversations[id]
	if !ok {
		return fmt.Errorf("conversation %s: %w", id, db.ErrNotFound)
	}
	apply(c)
	c.UpdatedAt = s.now()
	return nil
}

func (s *Store) AddMessage(_ context.Context, nm db.NewMessage) (*db.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[nm.ConversationID]
	if !ok {
		return nil, fmt.Errorf("conversation %s: %w", nm.ConversationID, db.ErrNotFound)
	}

	s.seq++
	m := db.Message{
		ID:             uuid.New().String(),
		ConversationID: nm.ConversationID,
		Role:           nm.Role,
		Kind:           nm.Kind,
		Content:        nm.Content,
		CreatedAt:      s.now(),
	}
	if nm.Decision != nil {
		d := *nm.Decision
		m.Decision = &d
	}
	s.messages[m.ID] = &storedMessage{msg: m, seq: s.seq}
	conv.UpdatedAt = m.CreatedAt

	return copyMessage(&m), nil
}

func (s *Store) GetMessage(_ context.Context, id string) (*db.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sm, ok := s.messages[id]
	if !ok {
		return nil, fmt.Errorf("message %s: %w", id, db.ErrNotFound)
	}
	return copyMessage(&sm.msg), nil
}

// GetConversationMessages returns the conversation's messages by creation time, then insertion order
func (s *Store) GetConversationMessages(_ context.Context, conversationID string) ([]db.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rows []*storedMessage
	for _, sm := range s.messages {
		if sm.msg.ConversationID == conversationID {
			rows = append(rows, sm)
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].msg.CreatedAt.Equal(rows[j].msg.CreatedAt) {
			return rows[i].msg.CreatedAt.Before(rows[j].msg.CreatedAt)
		}
		return rows[i].seq < rows[j].seq
	})

	out := make([]db.Message, len(rows))
	for i, sm := range rows {
		out[i] = *copyMessage(&sm.msg)
	}
	return out, nil
}

func (s *Store) CountMessagesByRole(_ context.Context, conversationID, role string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, sm := range s.messages {
		if sm.msg.ConversationID == conversationID && sm.msg.Role == role {
			n++
		}
	}
	return n, nil
}

func (s *Store) UpdateMessageClassification(_ context.Context, id string, c db.Classification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sm, ok := s.messages[id]
	if !ok {
		return fmt.Errorf("message %s: %w", id, db.ErrNotFound)
	}
	text := c.ProcessingText
	sm.msg.ProcessingText = &text
	if c.Meta != nil {
		meta := *c.Meta
		sm.msg.IsCheckpoint = true
		sm.msg.CheckpointMeta = &meta
	}
	return nil
}

func (s *Store) UpdateCheckpointStatus(_ context.Context, id string, status db.CheckpointStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sm, ok := s.messages[id]
	if !ok {
		return fmt.Errorf("message %s: %w", id, db.ErrNotFound)
	}
	if sm.msg.CheckpointMeta == nil {
		return fmt.Errorf("message %s has no checkpoint metadata", id)
	}
	sm.msg.CheckpointMeta.Status = status
	return nil
}

// GetManualComponents returns the user's manual ordered by layer, then type
func (s *Store) GetManualComponents(_ context.Context, userID string) ([]db.ManualComponent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []db.ManualComponent
	for _, c := range s.components {
		if c.UserID == userID {
			out = append(out, *copyComponent(c))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Layer != out[j].Layer {
			return out[i].Layer < out[j].Layer
		}
		if out[i].Type != out[j].Type {
			return out[i].Type < out[j].Type
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// UpsertManualComponent overwrites the row sharing the component's dedup key, or inserts one
func (s *Store) UpsertManualComponent(_ context.Context, mc db.ManualComponent) (*db.ManualComponent, error) {
	if mc.Type == db.TypePattern && mc.Name == nil {
		return nil, fmt.Errorf("pattern components require a name")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for _, existing := range s.components {
		if sameKey(existing, &mc) {
			existing.Name = mc.Name
			existing.Content = mc.Content
			existing.SourceMessageID = mc.SourceMessageID
			existing.UpdatedAt = now
			return copyComponent(existing), nil
		}
	}

	row := mc
	row.ID = uuid.New().String()
	row.CreatedAt = now
	row.UpdatedAt = now
	s.components[row.ID] = &row
	return copyComponent(&row), nil
}

func sameKey(a, b *db.ManualComponent) bool {
	if a.UserID != b.UserID || a.Layer != b.Layer || a.Type != b.Type {
		return false
	}
	if a.Type == db.TypeComponent {
		return true
	}
	return a.Name != nil && b.Name != nil && *a.Name == *b.Name
}

func copyConversation(c *db.Conversation) *db.Conversation {
	cp := *c
	if c.Summary != nil {
		v := *c.Summary
		cp.Summary = &v
	}
	if c.CalibrationRatings != nil {
		v := *c.CalibrationRatings
		cp.CalibrationRatings = &v
	}
	return &cp
}

func copyMessage(m *db.Message) *db.Message {
	cp := *m
	if m.Decision != nil {
		v := *m.Decision
		cp.Decision = &v
	}
	if m.CheckpointMeta != nil {
		meta := *m.CheckpointMeta
		if meta.Name != nil {
			v := *meta.Name
			meta.Name = &v
		}
		cp.CheckpointMeta = &meta
	}
	if m.ProcessingText != nil {
		v := *m.ProcessingText
		cp.ProcessingText = &v
	}
	return &cp
}

func copyComponent(c *db.ManualComponent) *db.ManualComponent {
	cp := *c
	if c.Name != nil {
		v := *c.Name
		cp.Name = &v
	}
	return &cp
}
