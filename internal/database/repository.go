package database

import (
	"context"
	"time"

	"github.com/trunkline/trunkline/internal/database/models"
)

// All reference data is owned by the provisioning layer; the routing
// engine only reads it. Every query method takes an explicit tenant ID
// so there is no implicit tenant context to forget to apply.

// ExtensionRepository reads PBX extensions.
type ExtensionRepository interface {
	GetByID(ctx context.Context, tenantID, id int64) (*models.Extension, error)
	GetByNumber(ctx context.Context, tenantID int64, number string) (*models.Extension, error)
}

// RingGroupRepository reads ring groups and their membership.
type RingGroupRepository interface {
	GetByID(ctx context.Context, tenantID, id int64) (*models.RingGroup, error)
	// GetByName is a best-effort fallback used when a destination
	// references a ring group that cannot be found by ID.
	GetByName(ctx context.Context, tenantID int64, name string) (*models.RingGroup, error)
	ListMembers(ctx context.Context, tenantID, ringGroupID int64) ([]models.RingGroupMember, error)
}

// BusinessHoursRepository reads business hours schedules with their
// days, ranges and exceptions.
type BusinessHoursRepository interface {
	GetByID(ctx context.Context, tenantID, id int64) (*models.BusinessHoursSchedule, error)
	// GetActive returns the tenant's active schedule, or nil if no
	// schedule is active.
	GetActive(ctx context.Context, tenantID int64) (*models.BusinessHoursSchedule, error)
}

// IVRMenuRepository reads IVR menus with their options.
type IVRMenuRepository interface {
	GetByID(ctx context.Context, tenantID, id int64) (*models.IVRMenu, error)
}

// DIDRepository reads DID number mappings.
type DIDRepository interface {
	GetByNumber(ctx context.Context, tenantID int64, number string) (*models.DIDNumber, error)
}

// WhitelistRepository reads outbound whitelist entries.
type WhitelistRepository interface {
	ListForTenant(ctx context.Context, tenantID int64) ([]models.OutboundWhitelistEntry, error)
}

// ConferenceRepository reads conference rooms.
type ConferenceRepository interface {
	GetByID(ctx context.Context, tenantID, id int64) (*models.ConferenceRoom, error)
}

// LockRepository is the durable mutual-exclusion fallback used by the
// cache layer when the primary lock backend is unavailable. Acquire
// must be atomic across concurrent callers (unique constraint on the
// lock name); expired rows are reaped lazily by the next acquirer.
type LockRepository interface {
	Acquire(ctx context.Context, name, holder string, lease time.Duration) (bool, error)
	Release(ctx context.Context, name, holder string) error
}
