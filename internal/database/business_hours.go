package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/trunkline/trunkline/internal/database/models"
)

// businessHoursRepo implements BusinessHoursRepository.
type businessHoursRepo struct {
	db *DB
}

// NewBusinessHoursRepository creates a new BusinessHoursRepository.
func NewBusinessHoursRepository(db *DB) BusinessHoursRepository {
	return &businessHoursRepo{db: db}
}

const scheduleColumns = `id, tenant_id, name, active, timezone,
	open_action, open_target_id, closed_action, closed_target_id,
	created_at, updated_at`

// GetByID returns a schedule with its days, ranges and exceptions, or
// nil if absent.
func (r *businessHoursRepo) GetByID(ctx context.Context, tenantID, id int64) (*models.BusinessHoursSchedule, error) {
	s, err := r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT `+scheduleColumns+`
		 FROM business_hours_schedules WHERE tenant_id = $1 AND id = $2`, tenantID, id,
	))
	if err != nil || s == nil {
		return s, err
	}
	if err := r.loadChildren(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// GetActive returns the tenant's active schedule, or nil if none.
func (r *businessHoursRepo) GetActive(ctx context.Context, tenantID int64) (*models.BusinessHoursSchedule, error) {
	s, err := r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT `+scheduleColumns+`
		 FROM business_hours_schedules WHERE tenant_id = $1 AND active = TRUE
		 ORDER BY id LIMIT 1`, tenantID,
	))
	if err != nil || s == nil {
		return s, err
	}
	if err := r.loadChildren(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// loadChildren populates Days and Exceptions for a loaded schedule.
func (r *businessHoursRepo) loadChildren(ctx context.Context, s *models.BusinessHoursSchedule) error {
	dayRows, err := r.db.QueryContext(ctx,
		`SELECT d.id, d.weekday, d.enabled
		 FROM business_hours_days d
		 WHERE d.schedule_id = $1 ORDER BY d.weekday`, s.ID)
	if err != nil {
		return fmt.Errorf("querying schedule days: %w", err)
	}
	defer dayRows.Close()

	dayIDs := make(map[int64]int) // day row id -> index in s.Days
	for dayRows.Next() {
		var rowID int64
		var d models.ScheduleDay
		if err := dayRows.Scan(&rowID, &d.Weekday, &d.Enabled); err != nil {
			return fmt.Errorf("scanning schedule day: %w", err)
		}
		dayIDs[rowID] = len(s.Days)
		s.Days = append(s.Days, d)
	}
	if err := dayRows.Err(); err != nil {
		return err
	}

	rangeRows, err := r.db.QueryContext(ctx,
		`SELECT r.day_id, r.start_time, r.end_time
		 FROM business_hours_ranges r
		 JOIN business_hours_days d ON d.id = r.day_id
		 WHERE d.schedule_id = $1 ORDER BY r.start_time`, s.ID)
	if err != nil {
		return fmt.Errorf("querying schedule ranges: %w", err)
	}
	defer rangeRows.Close()

	for rangeRows.Next() {
		var dayID int64
		var tr models.TimeRange
		if err := rangeRows.Scan(&dayID, &tr.Start, &tr.End); err != nil {
			return fmt.Errorf("scanning schedule range: %w", err)
		}
		if idx, ok := dayIDs[dayID]; ok {
			s.Days[idx].Ranges = append(s.Days[idx].Ranges, tr)
		}
	}
	if err := rangeRows.Err(); err != nil {
		return err
	}

	excRows, err := r.db.QueryContext(ctx,
		`SELECT id, date, type FROM business_hours_exceptions
		 WHERE schedule_id = $1 ORDER BY date`, s.ID)
	if err != nil {
		return fmt.Errorf("querying schedule exceptions: %w", err)
	}
	defer excRows.Close()

	excIDs := make(map[int64]int)
	for excRows.Next() {
		var rowID int64
		var e models.ScheduleException
		if err := excRows.Scan(&rowID, &e.Date, &e.Type); err != nil {
			return fmt.Errorf("scanning schedule exception: %w", err)
		}
		excIDs[rowID] = len(s.Exceptions)
		s.Exceptions = append(s.Exceptions, e)
	}
	if err := excRows.Err(); err != nil {
		return err
	}

	excRangeRows, err := r.db.QueryContext(ctx,
		`SELECT r.exception_id, r.start_time, r.end_time
		 FROM business_hours_exception_ranges r
		 JOIN business_hours_exceptions e ON e.id = r.exception_id
		 WHERE e.schedule_id = $1 ORDER BY r.start_time`, s.ID)
	if err != nil {
		return fmt.Errorf("querying exception ranges: %w", err)
	}
	defer excRangeRows.Close()

	for excRangeRows.Next() {
		var excID int64
		var tr models.TimeRange
		if err := excRangeRows.Scan(&excID, &tr.Start, &tr.End); err != nil {
			return fmt.Errorf("scanning exception range: %w", err)
		}
		if idx, ok := excIDs[excID]; ok {
			s.Exceptions[idx].Ranges = append(s.Exceptions[idx].Ranges, tr)
		}
	}
	return excRangeRows.Err()
}

func (r *businessHoursRepo) scanOne(row *sql.Row) (*models.BusinessHoursSchedule, error) {
	var s models.BusinessHoursSchedule
	err := row.Scan(&s.ID, &s.TenantID, &s.Name, &s.Active, &s.Timezone,
		&s.OpenAction.Type, &s.OpenAction.TargetID,
		&s.ClosedAction.Type, &s.ClosedAction.TargetID,
		&s.CreatedAt, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning business hours schedule: %w", err)
	}
	return &s, nil
}
