package domain

import (
	"context"
	"time"

	"github.com/uptrace/bun"
)

type ResourceKind string

const (
	ResourceKindCalendar ResourceKind = "calendar"
	ResourceKindEvent    ResourceKind = "event"
)

// Resource is a bookable entity: a professional's calendar (capacity 1) or
// a capacity-bounded event. The id is an opaque string owned by the
// upstream profile system.
type Resource struct {
	bun.BaseModel `bun:"table:resources"`

	ID              string       `bun:"id,pk"`
	Kind            ResourceKind `bun:"kind,notnull"`
	Timezone        string       `bun:"timezone,notnull"`
	WorkingDays     []int16      `bun:"working_days,array,notnull"`
	DayStartMinutes int          `bun:"day_start_minutes,notnull"`
	DayEndMinutes   int          `bun:"day_end_minutes,notnull"`
	Capacity        int          `bun:"capacity,notnull"`
	SlotStepMinutes int          `bun:"slot_step_minutes,notnull"`
	AutoConfirm     bool         `bun:"auto_confirm,notnull"`
	CreatedAt       time.Time    `bun:"created_at,notnull"`
	UpdatedAt       time.Time    `bun:"updated_at,notnull"`
}

func (r *Resource) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	now := time.Now().UTC()
	switch query.(type) {
	case *bun.InsertQuery:
		if r.CreatedAt.IsZero() {
			r.CreatedAt = now
		}
		if r.UpdatedAt.IsZero() {
			r.UpdatedAt = now
		}
	case *bun.UpdateQuery:
		r.UpdatedAt = now
	}
	return nil
}

func (r *Resource) Location() (*time.Location, error) {
	return time.LoadLocation(r.Timezone)
}

// WorksOn reports whether weekday (1=Monday .. 7=Sunday) is in the
// resource's working-day set. An empty set means closed every day.
func (r *Resource) WorksOn(weekday int16) bool {
	for _, wd := range r.WorkingDays {
		if wd == weekday {
			return true
		}
	}
	return false
}

// WorkingWindow returns the operating interval on the given local calendar
// day. ok is false when the day is not a working day.
func (r *Resource) WorkingWindow(year int, month time.Month, day int, loc *time.Location) (Interval, bool) {
	midnight := time.Date(year, month, day, 0, 0, 0, 0, loc)
	if !r.WorksOn(ISOWeekday(midnight)) {
		return Interval{}, false
	}
	if r.DayEndMinutes <= r.DayStartMinutes {
		return Interval{}, false
	}
	return Interval{
		Start: wallClock(year, month, day, r.DayStartMinutes, loc),
		End:   wallClock(year, month, day, r.DayEndMinutes, loc),
	}, true
}

// IsWorkingInstant reports whether t falls inside the resource's operating
// window on its local day. Defined through WorkingWindow so the instant
// check and the window projection can never disagree.
func (r *Resource) IsWorkingInstant(t time.Time, loc *time.Location) bool {
	local := t.In(loc)
	window, ok := r.WorkingWindow(local.Year(), local.Month(), local.Day(), loc)
	if !ok {
		return false
	}
	return !t.Before(window.Start) && t.Before(window.End)
}

// wallClock materializes minutes-after-midnight as a wall-clock reading on
// the given local day. On DST transition days this keeps 09:00 meaning
// 09:00 on the clock, where adding a duration to midnight would drift.
func wallClock(year int, month time.Month, day, minutes int, loc *time.Location) time.Time {
	return time.Date(year, month, day, minutes/60, minutes%60, 0, 0, loc)
}

// ISOWeekday maps time.Weekday onto the 1=Monday .. 7=Sunday convention
// used for working days and recurring blocks.
func ISOWeekday(t time.Time) int16 {
	wd := t.Weekday()
	if wd == time.Sunday {
		return 7
	}
	return int16(wd)
}
