package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/trunkline/trunkline/internal/database/models"
)

// didRepo implements DIDRepository.
type didRepo struct {
	db *DB
}

// NewDIDRepository creates a new DIDRepository.
func NewDIDRepository(db *DB) DIDRepository {
	return &didRepo{db: db}
}

// GetByNumber returns the DID mapping for a dialed number within the
// tenant, or nil if absent.
func (r *didRepo) GetByNumber(ctx context.Context, tenantID int64, number string) (*models.DIDNumber, error) {
	var d models.DIDNumber
	err := r.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, number, name, routing_type, target_id,
		 created_at, updated_at
		 FROM did_numbers WHERE tenant_id = $1 AND number = $2`, tenantID, number,
	).Scan(&d.ID, &d.TenantID, &d.Number, &d.Name, &d.RoutingType, &d.TargetID,
		&d.CreatedAt, &d.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning did number: %w", err)
	}
	return &d, nil
}
