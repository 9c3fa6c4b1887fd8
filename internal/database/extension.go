package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/trunkline/trunkline/internal/database/models"
)

// extensionRepo implements ExtensionRepository.
type extensionRepo struct {
	db *DB
}

// NewExtensionRepository creates a new ExtensionRepository.
func NewExtensionRepository(db *DB) ExtensionRepository {
	return &extensionRepo{db: db}
}

const extensionColumns = `id, tenant_id, number, name, type, active, sip_address,
	ring_group_id, conference_id, ivr_menu_id, COALESCE(assistant_uri, ''),
	created_at, updated_at`

// GetByID returns an extension by ID within the tenant, or nil if absent.
func (r *extensionRepo) GetByID(ctx context.Context, tenantID, id int64) (*models.Extension, error) {
	return r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT `+extensionColumns+`
		 FROM extensions WHERE tenant_id = $1 AND id = $2`, tenantID, id,
	))
}

// GetByNumber returns an extension by its dialable number within the
// tenant, or nil if absent.
func (r *extensionRepo) GetByNumber(ctx context.Context, tenantID int64, number string) (*models.Extension, error) {
	return r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT `+extensionColumns+`
		 FROM extensions WHERE tenant_id = $1 AND number = $2`, tenantID, number,
	))
}

func (r *extensionRepo) scanOne(row *sql.Row) (*models.Extension, error) {
	var e models.Extension
	var sipAddr sql.NullString
	err := row.Scan(&e.ID, &e.TenantID, &e.Number, &e.Name, &e.Type, &e.Active,
		&sipAddr, &e.RingGroupID, &e.ConferenceID, &e.IVRMenuID, &e.AssistantURI,
		&e.CreatedAt, &e.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning extension: %w", err)
	}
	e.SIPAddress = sipAddr.String
	return &e, nil
}
