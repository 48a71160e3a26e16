package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"sage-app/internal/repository/db"

	"github.com/google/uuid"
)

const conversationColumns = `id, user_id, summary, calibration_ratings, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanConversation(row rowScanner) (*db.Conversation, error) {
	var conv db.Conversation
	var summary, ratings sql.NullString
	if err := row.Scan(&conv.ID, &conv.UserID, &summary, &ratings, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
		return nil, err
	}
	conv.Summary = nullableString(summary)
	conv.CalibrationRatings = nullableString(ratings)
	return &conv, nil
}

// CreateConversation creates a new conversation for a user
func (p *PostgresDB) CreateConversation(ctx context.Context, userID string) (*db.Conversation, error) {
	query := `
	INSERT INTO conversations (id, user_id)
	VALUES ($1, $2)
	RETURNING ` + conversationColumns

	conv, err := scanConversation(p.conn.QueryRowContext(ctx, query, uuid.New().String(), userID))
	if err != nil {
		if pgCode(err) == codeForeignKeyViolation {
			return nil, fmt.Errorf("user %s: %w", userID, db.ErrNotFound)
		}
		return nil, fmt.Errorf("error creating conversation: %w", err)
	}
	return conv, nil
}

// GetConversation retrieves a specific conversation
func (p *PostgresDB) GetConversation(ctx context.Context, id string) (*db.Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE id = $1`

	conv, err := scanConversation(p.conn.QueryRowContext(ctx, query, id))
	if err != nil {
		if notFound(err) {
			return nil, fmt.Errorf("conversation %s: %w", id, db.ErrNotFound)
		}
		return nil, fmt.Errorf("error retrieving conversation: %w", err)
	}
	return conv, nil
}

// GetConversationsByUser retrieves all conversations for a user, most recent first
func (p *PostgresDB) GetConversationsByUser(ctx context.Context, userID string) ([]db.Conversation, error) {
	query := `
	SELECT ` + conversationColumns + `
	FROM conversations
	WHERE user_id = $1
	ORDER BY updated_at DESC, created_at DESC
	`

	rows, err := p.conn.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("error querying conversations: %w", err)
	}
	defer rows.Close()

	conversations := []db.Conversation{}
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning conversation: %w", err)
		}
		conversations = append(conversations, *conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating conversations: %w", err)
	}
	return conversations, nil
}

// GetLatestConversation returns the user's most recently active conversation
func (p *PostgresDB) GetLatestConversation(ctx context.Context, userID string) (*db.Conversation, error) {
	query := `
	SELECT ` + conversationColumns + `
	FROM conversations
	WHERE user_id = $1
	ORDER BY updated_at DESC, created_at DESC
	LIMIT 1
	`

	conv, err := scanConversation(p.conn.QueryRowContext(ctx, query, userID))
	if err != nil {
		if notFound(err) {
			return nil, fmt.Errorf("latest conversation for %s: %w", userID, db.ErrNotFound)
		}
		return nil, fmt.Errorf("error retrieving latest conversation: %w", err)
	}
	return conv, nil
}

// UpdateConversationSummary stores the rolling session summary
func (p *PostgresDB) UpdateConversationSummary(ctx context.Context, id, summary string) error {
	return p.updateConversation(ctx, id, `summary = $2`, summary)
}

// UpdateConversationCalibration stores the first-session calibration answers
func (p *PostgresDB) UpdateConversationCalibration(ctx context.Context, id, ratings string) error {
	return p.updateConversation(ctx, id, `calibration_ratings = $2`, ratings)
}

func (p *PostgresDB) updateConversation(ctx context.Context, id, assignment string, value string) error {
	query := `UPDATE conversations SET ` + assignment + `, updated_at = now() WHERE id = $1`

	result, err := p.conn.ExecContext(ctx, query, id, value)
	if err != nil {
		if notFound(err) {
			return fmt.Errorf("conversation %s: %w", id, db.ErrNotFound)
		}
		return fmt.Errorf("error updating conversation: %w", err)
	}
	return expectRow(result, "conversation", id)
}

// expectRow turns an update that matched nothing into db.ErrNotFound
func expectRow(result sql.Result, what, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("error reading affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", what, id, db.ErrNotFound)
	}
	return nil
}

func nullableString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
