package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"sage-app/internal/repository/db"

	"github.com/google/uuid"
)

const componentColumns = `id, user_id, layer, type, name, content, source_message_id, created_at, updated_at`

// Conflict targets match the partial unique indexes of the dedup rule
const (
	upsertComponentQuery = `
	INSERT INTO manual_components (id, user_id, layer, type, name, content, source_message_id)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (user_id, layer) WHERE type = 'component'
	DO UPDATE SET name = EXCLUDED.name, content = EXCLUDED.content,
	              source_message_id = EXCLUDED.source_message_id, updated_at = now()
	RETURNING ` + componentColumns

	upsertPatternQuery = `
	INSERT INTO manual_components (id, user_id, layer, type, name, content, source_message_id)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (user_id, layer, name) WHERE type = 'pattern'
	DO UPDATE SET content = EXCLUDED.content,
	              source_message_id = EXCLUDED.source_message_id, updated_at = now()
	RETURNING ` + componentColumns
)

func scanComponent(row rowScanner) (*db.ManualComponent, error) {
	var c db.ManualComponent
	var componentType string
	var name, source sql.NullString
	if err := row.Scan(&c.ID, &c.UserID, &c.Layer, &componentType, &name, &c.Content,
		&source, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.Type = db.ComponentType(componentType)
	c.Name = nullableString(name)
	c.SourceMessageID = source.String
	return &c, nil
}

// GetManualComponents returns the user's manual ordered by layer, then type
func (p *PostgresDB) GetManualComponents(ctx context.Context, userID string) ([]db.ManualComponent, error) {
	query := `
	SELECT ` + componentColumns + `
	FROM manual_components
	WHERE user_id = $1
	ORDER BY layer ASC, type ASC, created_at ASC
	`

	rows, err := p.conn.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("error querying manual components: %w", err)
	}
	defer rows.Close()

	components := []db.ManualComponent{}
	for rows.Next() {
		c, err := scanComponent(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning manual component: %w", err)
		}
		components = append(components, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating manual components: %w", err)
	}
	return components, nil
}

// UpsertManualComponent overwrites the row sharing the component's dedup key, or inserts one
func (p *PostgresDB) UpsertManualComponent(ctx context.Context, mc db.ManualComponent) (*db.ManualComponent, error) {
	query := upsertComponentQuery
	if mc.Type == db.TypePattern {
		if mc.Name == nil {
			return nil, fmt.Errorf("pattern components require a name")
		}
		query = upsertPatternQuery
	}

	var name, source sql.NullString
	if mc.Name != nil {
		name = sql.NullString{String: *mc.Name, Valid: true}
	}
	if mc.SourceMessageID != "" {
		source = sql.NullString{String: mc.SourceMessageID, Valid: true}
	}

	c, err := scanComponent(p.conn.QueryRowContext(ctx, query,
		uuid.New().String(), mc.UserID, mc.Layer, string(mc.Type), name, mc.Content, source))
	if err != nil {
		return nil, fmt.Errorf("error upserting manual component: %w", err)
	}
	return c, nil
}
