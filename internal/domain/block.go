package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type BlockSource string

const (
	BlockSourceManual   BlockSource = "manual"
	BlockSourceImported BlockSource = "imported-event"
)

// Block is a declared unavailability interval for a resource. A one-off
// block carries StartTime/EndTime; a recurring block carries a weekday
// (1=Monday .. 7=Sunday) plus a local time-of-day range, optionally
// bounded by Until. Exactly one of the two shapes is populated.
type Block struct {
	bun.BaseModel `bun:"table:blocks"`

	ID           uuid.UUID   `bun:"id,pk,type:uuid"`
	ResourceID   string      `bun:"resource_id,notnull"`
	StartTime    *time.Time  `bun:"start_time"`
	EndTime      *time.Time  `bun:"end_time"`
	Weekday      *int16      `bun:"weekday"`
	StartMinutes *int        `bun:"start_minutes"`
	EndMinutes   *int        `bun:"end_minutes"`
	Until        *time.Time  `bun:"until"`
	Source       BlockSource `bun:"source,notnull"`
	CreatedAt    time.Time   `bun:"created_at,notnull"`
	UpdatedAt    time.Time   `bun:"updated_at,notnull"`
}

func (b *Block) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	now := time.Now().UTC()
	switch query.(type) {
	case *bun.InsertQuery:
		if b.ID == uuid.Nil {
			id, err := uuid.NewV7()
			if err != nil {
				return err
			}
			b.ID = id
		}
		if b.CreatedAt.IsZero() {
			b.CreatedAt = now
		}
		if b.UpdatedAt.IsZero() {
			b.UpdatedAt = now
		}
	case *bun.UpdateQuery:
		b.UpdatedAt = now
	}
	return nil
}

func (b *Block) Recurring() bool {
	return b.Weekday != nil
}

// ExpandOnDay projects the block onto one local calendar day. For a
// recurring block the weekday and time-of-day range are materialized in
// loc; ok is false when the block does not apply to that day. A one-off
// block returns its stored interval when it touches the day at all.
func (b *Block) ExpandOnDay(year int, month time.Month, day int, loc *time.Location) (Interval, bool) {
	midnight := time.Date(year, month, day, 0, 0, 0, 0, loc)

	if !b.Recurring() {
		if b.StartTime == nil || b.EndTime == nil {
			return Interval{}, false
		}
		iv := Interval{Start: *b.StartTime, End: *b.EndTime}
		dayIv := Interval{Start: midnight, End: midnight.AddDate(0, 0, 1)}
		if !iv.Overlaps(dayIv) {
			return Interval{}, false
		}
		return iv, true
	}

	if b.StartMinutes == nil || b.EndMinutes == nil {
		return Interval{}, false
	}
	if ISOWeekday(midnight) != *b.Weekday {
		return Interval{}, false
	}
	if b.Until != nil && midnight.After(b.Until.In(loc)) {
		return Interval{}, false
	}
	return Interval{
		Start: wallClock(year, month, day, *b.StartMinutes, loc),
		End:   wallClock(year, month, day, *b.EndMinutes, loc),
	}, true
}

// AnyBlockOverlaps reports whether the candidate interval overlaps any of
// the blocks. Recurring blocks are expanded for each local day the
// candidate touches; the whole candidate duration is compared, so a block
// starting mid-slot still rejects the slot.
func AnyBlockOverlaps(blocks []Block, candidate Interval, loc *time.Location) bool {
	for i := range blocks {
		if blockOverlaps(&blocks[i], candidate, loc) {
			return true
		}
	}
	return false
}

func blockOverlaps(b *Block, candidate Interval, loc *time.Location) bool {
	startLocal := candidate.Start.In(loc)
	// The candidate may cross local midnight; expand on every day it spans.
	for d := time.Date(startLocal.Year(), startLocal.Month(), startLocal.Day(), 0, 0, 0, 0, loc); d.Before(candidate.End); d = d.AddDate(0, 0, 1) {
		iv, ok := b.ExpandOnDay(d.Year(), d.Month(), d.Day(), loc)
		if ok && iv.Overlaps(candidate) {
			return true
		}
	}
	return false
}
