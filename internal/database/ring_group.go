package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/trunkline/trunkline/internal/database/models"
)

// ringGroupRepo implements RingGroupRepository.
type ringGroupRepo struct {
	db *DB
}

// NewRingGroupRepository creates a new RingGroupRepository.
func NewRingGroupRepository(db *DB) RingGroupRepository {
	return &ringGroupRepo{db: db}
}

const ringGroupColumns = `id, tenant_id, name, active, strategy, ring_timeout,
	ring_turns, fallback_action, fallback_target_id, created_at, updated_at`

// GetByID returns a ring group by ID within the tenant, or nil if absent.
func (r *ringGroupRepo) GetByID(ctx context.Context, tenantID, id int64) (*models.RingGroup, error) {
	return r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT `+ringGroupColumns+`
		 FROM ring_groups WHERE tenant_id = $1 AND id = $2`, tenantID, id,
	))
}

// GetByName returns a ring group by exact name within the tenant, or
// nil if absent. Used as a configuration-error fallback only.
func (r *ringGroupRepo) GetByName(ctx context.Context, tenantID int64, name string) (*models.RingGroup, error) {
	return r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT `+ringGroupColumns+`
		 FROM ring_groups WHERE tenant_id = $1 AND name = $2
		 ORDER BY id LIMIT 1`, tenantID, name,
	))
}

// ListMembers returns the group's members ordered by priority ascending.
func (r *ringGroupRepo) ListMembers(ctx context.Context, tenantID, ringGroupID int64) ([]models.RingGroupMember, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT m.id, m.ring_group_id, m.extension_id, m.priority
		 FROM ring_group_members m
		 JOIN ring_groups g ON g.id = m.ring_group_id
		 WHERE g.tenant_id = $1 AND m.ring_group_id = $2
		 ORDER BY m.priority ASC, m.id ASC`, tenantID, ringGroupID)
	if err != nil {
		return nil, fmt.Errorf("querying ring group members: %w", err)
	}
	defer rows.Close()

	var members []models.RingGroupMember
	for rows.Next() {
		var m models.RingGroupMember
		if err := rows.Scan(&m.ID, &m.RingGroupID, &m.ExtensionID, &m.Priority); err != nil {
			return nil, fmt.Errorf("scanning ring group member row: %w", err)
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

func (r *ringGroupRepo) scanOne(row *sql.Row) (*models.RingGroup, error) {
	var g models.RingGroup
	err := row.Scan(&g.ID, &g.TenantID, &g.Name, &g.Active, &g.Strategy,
		&g.RingTimeout, &g.RingTurns, &g.FallbackAction, &g.FallbackTargetID,
		&g.CreatedAt, &g.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning ring group: %w", err)
	}
	return &g, nil
}
