package domain

import "time"

// Interval is a half-open time span [Start, End). The end instant is
// excluded so back-to-back bookings never read as overlapping.
type Interval struct {
	Start time.Time
	End   time.Time
}

func NewInterval(start time.Time, duration time.Duration) Interval {
	return Interval{Start: start, End: start.Add(duration)}
}

func (iv Interval) Duration() time.Duration {
	return iv.End.Sub(iv.Start)
}

// Overlaps reports whether two half-open intervals share any instant.
// Every overlap decision in the engine (block expansion, slot generation,
// the booking write path) goes through this comparison.
func (iv Interval) Overlaps(other Interval) bool {
	return iv.Start.Before(other.End) && other.Start.Before(iv.End)
}

// Contains reports whether other lies entirely within iv.
func (iv Interval) Contains(other Interval) bool {
	return !other.Start.Before(iv.Start) && !other.End.After(iv.End)
}

func overlapCount(candidate Interval, busy []Interval) int {
	n := 0
	for _, b := range busy {
		if candidate.Overlaps(b) {
			n++
		}
	}
	return n
}
