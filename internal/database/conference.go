package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/trunkline/trunkline/internal/database/models"
)

// conferenceRepo implements ConferenceRepository.
type conferenceRepo struct {
	db *DB
}

// NewConferenceRepository creates a new ConferenceRepository.
func NewConferenceRepository(db *DB) ConferenceRepository {
	return &conferenceRepo{db: db}
}

// GetByID returns a conference room by ID within the tenant, or nil if
// absent.
func (r *conferenceRepo) GetByID(ctx context.Context, tenantID, id int64) (*models.ConferenceRoom, error) {
	var c models.ConferenceRoom
	err := r.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, name, number, created_at
		 FROM conference_rooms WHERE tenant_id = $1 AND id = $2`, tenantID, id,
	).Scan(&c.ID, &c.TenantID, &c.Name, &c.Number, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning conference room: %w", err)
	}
	return &c, nil
}
