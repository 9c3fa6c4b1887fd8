package hours

import (
	"log/slog"
	"testing"
	"time"

	"github.com/trunkline/trunkline/internal/database/models"
)

func testSchedule() *models.BusinessHoursSchedule {
	return &models.BusinessHoursSchedule{
		ID:       1,
		TenantID: 1,
		Active:   true,
		Timezone: "UTC",
		OpenAction: models.RoutingAction{
			Type: models.DestExtension, TargetID: ptrInt64(100),
		},
		ClosedAction: models.RoutingAction{
			Type: models.DestVoicemail,
		},
		Days: []models.ScheduleDay{
			// Monday 09:00-12:00 and 13:00-17:30.
			{Weekday: 1, Enabled: true, Ranges: []models.TimeRange{
				{Start: "09:00:00", End: "12:00:00"},
				{Start: "13:00:00", End: "17:30:00"},
			}},
			// Tuesday configured but disabled.
			{Weekday: 2, Enabled: false, Ranges: []models.TimeRange{
				{Start: "09:00:00", End: "17:00:00"},
			}},
		},
	}
}

func ptrInt64(v int64) *int64 { return &v }

// 2026-08-31 is a Monday, 2026-09-01 a Tuesday.
func mustTime(t *testing.T, value string) time.Time {
	t.Helper()
	tm, err := time.Parse(time.RFC3339, value)
	if err != nil {
		t.Fatalf("parsing %q: %v", value, err)
	}
	return tm
}

func TestIsOpen(t *testing.T) {
	e := NewEvaluator(slog.Default())

	tests := []struct {
		name string
		now  string
		want bool
	}{
		{"inside morning range", "2026-08-31T10:00:00Z", true},
		{"start instant is open", "2026-08-31T09:00:00Z", true},
		{"end instant is closed", "2026-08-31T12:00:00Z", false},
		{"between ranges", "2026-08-31T12:30:00Z", false},
		{"inside afternoon range", "2026-08-31T17:29:59Z", true},
		{"afternoon end instant is closed", "2026-08-31T17:30:00Z", false},
		{"disabled day", "2026-09-01T10:00:00Z", false},
		{"unconfigured day", "2026-09-02T10:00:00Z", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.IsOpen(testSchedule(), mustTime(t, tt.now))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("IsOpen() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsOpenInactiveSchedule(t *testing.T) {
	e := NewEvaluator(slog.Default())
	s := testSchedule()
	s.Active = false

	got, err := e.IsOpen(s, mustTime(t, "2026-08-31T10:00:00Z"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got {
		t.Error("inactive schedule should be closed")
	}
}

func TestIsOpenNilSchedule(t *testing.T) {
	e := NewEvaluator(slog.Default())
	got, err := e.IsOpen(nil, time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got {
		t.Error("nil schedule should be closed")
	}
}

func TestIsOpenBadTimezone(t *testing.T) {
	e := NewEvaluator(slog.Default())
	s := testSchedule()
	s.Timezone = "Mars/Phobos"

	got, err := e.IsOpen(s, mustTime(t, "2026-08-31T10:00:00Z"))
	if err == nil {
		t.Fatal("expected error for bad timezone")
	}
	if got {
		t.Error("bad timezone should evaluate closed")
	}
}

func TestIsOpenClosedException(t *testing.T) {
	e := NewEvaluator(slog.Default())
	s := testSchedule()
	s.Exceptions = []models.ScheduleException{
		{Date: "2026-08-31", Type: models.ExceptionClosed},
	}

	got, err := e.IsOpen(s, mustTime(t, "2026-08-31T10:00:00Z"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got {
		t.Error("closed exception should override open weekday")
	}
}

func TestIsOpenSpecialHoursException(t *testing.T) {
	e := NewEvaluator(slog.Default())

	// Special hours on a disabled weekday still open the day.
	s := testSchedule()
	s.Exceptions = []models.ScheduleException{
		{Date: "2026-09-01", Type: models.ExceptionSpecialHours, Ranges: []models.TimeRange{
			{Start: "10:00:00", End: "14:00:00"},
		}},
	}

	tests := []struct {
		name string
		now  string
		want bool
	}{
		{"inside special hours", "2026-09-01T11:00:00Z", true},
		{"outside special hours", "2026-09-01T09:00:00Z", false},
		{"special end instant closed", "2026-09-01T14:00:00Z", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.IsOpen(s, mustTime(t, tt.now))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("IsOpen() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsOpenTimezoneConversion(t *testing.T) {
	e := NewEvaluator(slog.Default())
	s := testSchedule()
	s.Timezone = "America/New_York"

	// 14:00 UTC on Monday is 10:00 in New York, inside the morning range.
	got, err := e.IsOpen(s, mustTime(t, "2026-08-31T14:00:00Z"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got {
		t.Error("10:00 local should be open")
	}

	// 10:00 UTC is 06:00 in New York, before opening.
	got, err = e.IsOpen(s, mustTime(t, "2026-08-31T10:00:00Z"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got {
		t.Error("06:00 local should be closed")
	}
}

func TestIsOpenShortRangeFormat(t *testing.T) {
	e := NewEvaluator(slog.Default())
	s := testSchedule()
	s.Days = []models.ScheduleDay{
		{Weekday: 1, Enabled: true, Ranges: []models.TimeRange{
			{Start: "09:00", End: "17:00"},
		}},
	}

	got, err := e.IsOpen(s, mustTime(t, "2026-08-31T09:00:00Z"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got {
		t.Error("HH:MM range bounds should be accepted")
	}
}

func TestCurrentAction(t *testing.T) {
	e := NewEvaluator(slog.Default())
	s := testSchedule()

	open, err := e.CurrentAction(s, mustTime(t, "2026-08-31T10:00:00Z"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if open.Type != models.DestExtension {
		t.Errorf("open action = %q, want %q", open.Type, models.DestExtension)
	}

	closed, err := e.CurrentAction(s, mustTime(t, "2026-08-31T20:00:00Z"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if closed.Type != models.DestVoicemail {
		t.Errorf("closed action = %q, want %q", closed.Type, models.DestVoicemail)
	}
}
