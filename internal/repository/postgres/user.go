package postgres

import (
	"context"
	"fmt"

	"sage-app/internal/repository/db"

	"github.com/google/uuid"
)

// CreateUser inserts a user. The password must already be hashed.
func (p *PostgresDB) CreateUser(ctx context.Context, username, email, passwordHash string) (*db.User, error) {
	user := db.User{
		ID:           uuid.New().String(),
		Username:     username,
		Email:        email,
		PasswordHash: passwordHash,
	}

	query := `
	INSERT INTO users (id, username, email, password_hash)
	VALUES ($1, $2, $3, $4)
	RETURNING created_at
	`

	err := p.conn.QueryRowContext(ctx, query, user.ID, username, email, passwordHash).Scan(&user.CreatedAt)
	if err != nil {
		if pgCode(err) == codeUniqueViolation {
			return nil, db.ErrUsernameTaken
		}
		return nil, fmt.Errorf("error creating user: %w", err)
	}

	return &user, nil
}

// GetUserByUsername retrieves a user by username
func (p *PostgresDB) GetUserByUsername(ctx context.Context, username string) (*db.User, error) {
	var user db.User
	query := `SELECT id, username, email, password_hash, created_at FROM users WHERE username = $1`

	err := p.conn.QueryRowContext(ctx, query, username).Scan(&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		if notFound(err) {
			return nil, fmt.Errorf("user %s: %w", username, db.ErrNotFound)
		}
		return nil, fmt.Errorf("error retrieving user: %w", err)
	}

	return &user, nil
}
