package database

import (
	"context"
	"fmt"

	"github.com/trunkline/trunkline/internal/database/models"
)

// whitelistRepo implements WhitelistRepository.
type whitelistRepo struct {
	db *DB
}

// NewWhitelistRepository creates a new WhitelistRepository.
func NewWhitelistRepository(db *DB) WhitelistRepository {
	return &whitelistRepo{db: db}
}

// ListForTenant returns all of the tenant's outbound whitelist entries
// ordered by ID so scoring ties resolve deterministically.
func (r *whitelistRepo) ListForTenant(ctx context.Context, tenantID int64) ([]models.OutboundWhitelistEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, tenant_id, destination_country, COALESCE(destination_prefix, ''),
		 trunk_name, created_at
		 FROM outbound_whitelist WHERE tenant_id = $1 ORDER BY id`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("querying outbound whitelist: %w", err)
	}
	defer rows.Close()

	var entries []models.OutboundWhitelistEntry
	for rows.Next() {
		var e models.OutboundWhitelistEntry
		if err := rows.Scan(&e.ID, &e.TenantID, &e.DestinationCountry,
			&e.DestinationPrefix, &e.TrunkName, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning whitelist row: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
