package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/trunkline/trunkline/internal/database/models"
)

// ivrMenuRepo implements IVRMenuRepository.
type ivrMenuRepo struct {
	db *DB
}

// NewIVRMenuRepository creates a new IVRMenuRepository.
func NewIVRMenuRepository(db *DB) IVRMenuRepository {
	return &ivrMenuRepo{db: db}
}

// GetByID returns a menu with its options ordered by priority, or nil
// if absent.
func (r *ivrMenuRepo) GetByID(ctx context.Context, tenantID, id int64) (*models.IVRMenu, error) {
	var m models.IVRMenu
	err := r.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, name, active, greeting, max_turns,
		 failover_type, failover_id, created_at, updated_at
		 FROM ivr_menus WHERE tenant_id = $1 AND id = $2`, tenantID, id,
	).Scan(&m.ID, &m.TenantID, &m.Name, &m.Active, &m.Greeting, &m.MaxTurns,
		&m.FailoverType, &m.FailoverID, &m.CreatedAt, &m.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning ivr menu: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, menu_id, digits, dest_type, dest_id, priority
		 FROM ivr_menu_options WHERE menu_id = $1
		 ORDER BY priority ASC, id ASC`, m.ID)
	if err != nil {
		return nil, fmt.Errorf("querying ivr menu options: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var o models.IVRMenuOption
		if err := rows.Scan(&o.ID, &o.MenuID, &o.Digits, &o.DestType, &o.DestID, &o.Priority); err != nil {
			return nil, fmt.Errorf("scanning ivr menu option: %w", err)
		}
		m.Options = append(m.Options, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &m, nil
}
