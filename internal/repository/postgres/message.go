package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"sage-app/internal/repository/db"

	"github.com/google/uuid"
)

const messageColumns = `id, conversation_id, role, kind, decision, content, is_checkpoint, checkpoint_meta, processing_text, created_at`

func scanMessage(row rowScanner) (*db.Message, error) {
	var m db.Message
	var kind string
	var decision, processingText sql.NullString
	var meta []byte

	if err := row.Scan(&m.ID, &m.ConversationID, &m.Role, &kind, &decision, &m.Content,
		&m.IsCheckpoint, &meta, &processingText, &m.CreatedAt); err != nil {
		return nil, err
	}

	m.Kind = db.TurnKind(kind)
	if decision.Valid {
		d := db.Decision(decision.String)
		m.Decision = &d
	}
	if meta != nil {
		var cm db.CheckpointMeta
		if err := cm.Scan(meta); err != nil {
			return nil, fmt.Errorf("error decoding checkpoint meta: %w", err)
		}
		m.CheckpointMeta = &cm
	}
	m.ProcessingText = nullableString(processingText)
	return &m, nil
}

// AddMessage appends a message and marks the conversation active
func (p *PostgresDB) AddMessage(ctx context.Context, nm db.NewMessage) (*db.Message, error) {
	var decision sql.NullString
	if nm.Decision != nil {
		decision = sql.NullString{String: string(*nm.Decision), Valid: true}
	}

	query := `
	WITH inserted AS (
		INSERT INTO messages (id, conversation_id, role, kind, decision, content)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + messageColumns + `
	), touched AS (
		UPDATE conversations SET updated_at = now() WHERE id = $2
	)
	SELECT ` + messageColumns + ` FROM inserted
	`

	m, err := scanMessage(p.conn.QueryRowContext(ctx, query,
		uuid.New().String(), nm.ConversationID, nm.Role, string(nm.Kind), decision, nm.Content))
	if err != nil {
		if code := pgCode(err); code == codeForeignKeyViolation || code == codeInvalidText {
			return nil, fmt.Errorf("conversation %s: %w", nm.ConversationID, db.ErrNotFound)
		}
		return nil, fmt.Errorf("error adding message: %w", err)
	}
	return m, nil
}

// GetMessage retrieves one message
func (p *PostgresDB) GetMessage(ctx context.Context, id string) (*db.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE id = $1`

	m, err := scanMessage(p.conn.QueryRowContext(ctx, query, id))
	if err != nil {
		if notFound(err) {
			return nil, fmt.Errorf("message %s: %w", id, db.ErrNotFound)
		}
		return nil, fmt.Errorf("error retrieving message: %w", err)
	}
	return m, nil
}

// GetConversationMessages returns the conversation's messages by creation time, then insertion order
func (p *PostgresDB) GetConversationMessages(ctx context.Context, conversationID string) ([]db.Message, error) {
	query := `
	SELECT ` + messageColumns + `
	FROM messages
	WHERE conversation_id = $1
	ORDER BY created_at ASC, seq ASC
	`

	rows, err := p.conn.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("error querying messages: %w", err)
	}
	defer rows.Close()

	messages := []db.Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning message: %w", err)
		}
		messages = append(messages, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating messages: %w", err)
	}
	return messages, nil
}

// CountMessagesByRole counts the conversation's messages with role
func (p *PostgresDB) CountMessagesByRole(ctx context.Context, conversationID, role string) (int, error) {
	var n int
	query := `SELECT count(*) FROM messages WHERE conversation_id = $1 AND role = $2`
	if err := p.conn.QueryRowContext(ctx, query, conversationID, role).Scan(&n); err != nil {
		return 0, fmt.Errorf("error counting messages: %w", err)
	}
	return n, nil
}

// UpdateMessageClassification stores the processing text, and the checkpoint
// flag with its metadata when c.Meta is set
func (p *PostgresDB) UpdateMessageClassification(ctx context.Context, id string, c db.Classification) error {
	var meta interface{}
	if c.Meta != nil {
		meta = *c.Meta
	}

	query := `
	UPDATE messages
	SET processing_text = $2,
	    is_checkpoint = is_checkpoint OR $3,
	    checkpoint_meta = COALESCE($4::jsonb, checkpoint_meta)
	WHERE id = $1
	`

	result, err := p.conn.ExecContext(ctx, query, id, c.ProcessingText, c.Meta != nil, meta)
	if err != nil {
		return fmt.Errorf("error updating classification: %w", err)
	}
	return expectRow(result, "message", id)
}

// UpdateCheckpointStatus sets the status inside the checkpoint metadata,
// leaving layer, type and name untouched
func (p *PostgresDB) UpdateCheckpointStatus(ctx context.Context, id string, status db.CheckpointStatus) error {
	query := `
	UPDATE messages
	SET checkpoint_meta = jsonb_set(checkpoint_meta, '{status}', to_jsonb($2::text))
	WHERE id = $1 AND checkpoint_meta IS NOT NULL
	`

	result, err := p.conn.ExecContext(ctx, query, id, string(status))
	if err != nil {
		return fmt.Errorf("error updating checkpoint status: %w", err)
	}
	return expectRow(result, "checkpoint message", id)
}
