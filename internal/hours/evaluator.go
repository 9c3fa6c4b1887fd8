// Package hours decides whether a tenant is open at a point in time and
// which routing action applies. Time ranges are half-open [start, end)
// in the schedule's local wall clock, compared lexicographically as
// "HH:MM:SS". Date exceptions override the weekday schedule outright.
package hours

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/trunkline/trunkline/internal/database/models"
)

// Evaluator evaluates business hours schedules.
type Evaluator struct {
	logger *slog.Logger
	// nowFunc allows overriding the current time for testing.
	nowFunc func() time.Time
}

// NewEvaluator creates a new Evaluator.
func NewEvaluator(logger *slog.Logger) *Evaluator {
	return &Evaluator{
		logger:  logger.With("subsystem", "business_hours"),
		nowFunc: time.Now,
	}
}

// IsOpen reports whether the schedule is open at now (converted to the
// schedule's timezone). An inactive schedule is always closed. An
// unloadable timezone is treated as closed and reported as an error.
func (e *Evaluator) IsOpen(s *models.BusinessHoursSchedule, now time.Time) (bool, error) {
	if s == nil || !s.Active {
		return false, nil
	}

	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return false, fmt.Errorf("loading timezone %q: %w", s.Timezone, err)
	}
	local := now.In(loc)

	date := local.Format("2006-01-02")
	clock := local.Format("15:04:05")

	// A matching exception decides the day regardless of the weekday
	// schedule and its enabled flag.
	for _, exc := range s.Exceptions {
		if exc.Date != date {
			continue
		}
		switch exc.Type {
		case models.ExceptionClosed:
			e.logger.Debug("closed exception matched", "schedule_id", s.ID, "date", date)
			return false, nil
		case models.ExceptionSpecialHours:
			return inAnyRange(clock, exc.Ranges), nil
		}
	}

	weekday := int(local.Weekday())
	for _, day := range s.Days {
		if day.Weekday != weekday {
			continue
		}
		if !day.Enabled {
			return false, nil
		}
		return inAnyRange(clock, day.Ranges), nil
	}

	// Day not configured at all: closed.
	return false, nil
}

// CurrentAction returns the schedule's open-hours action when open,
// else the closed-hours action. The caller resolves the action against
// the tenant's own data.
func (e *Evaluator) CurrentAction(s *models.BusinessHoursSchedule, now time.Time) (models.RoutingAction, error) {
	open, err := e.IsOpen(s, now)
	if err != nil {
		return models.RoutingAction{}, err
	}
	if open {
		return s.OpenAction, nil
	}
	return s.ClosedAction, nil
}

// Now returns the evaluator's current time. Exposed so callers share
// one clock with the evaluation itself.
func (e *Evaluator) Now() time.Time {
	return e.nowFunc()
}

// inAnyRange reports whether clock falls in any half-open range.
// Lexicographic comparison is valid for zero-padded "HH:MM:SS".
func inAnyRange(clock string, ranges []models.TimeRange) bool {
	for _, r := range ranges {
		if normalize(r.Start) <= clock && clock < normalize(r.End) {
			return true
		}
	}
	return false
}

// normalize pads "HH:MM" range bounds to "HH:MM:SS".
func normalize(t string) string {
	if len(t) == 5 {
		return t + ":00"
	}
	return t
}
