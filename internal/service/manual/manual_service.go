// Package manual exposes a user's confirmed behavioral manual.
package manual

import (
	"context"
	"fmt"

	"sage-app/internal/repository/db"
)

// Manual is the confirmed components of one user and the derived gate
type Manual struct {
	Components  []db.ManualComponent
	GateReached bool
}

// ManualService reads manuals
type ManualService struct {
	db db.Database
}

// NewManualService creates a new ManualService
func NewManualService(database db.Database) *ManualService {
	return &ManualService{db: database}
}

// GetManual returns the user's components ordered by layer, then type
func (s *ManualService) GetManual(ctx context.Context, userID string) (*Manual, error) {
	components, err := s.db.GetManualComponents(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve manual: %w", err)
	}
	if components == nil {
		components = []db.ManualComponent{}
	}
	return &Manual{
		Components:  components,
		GateReached: db.GateReached(components),
	}, nil
}
