package domain

import (
	"errors"
	"time"
)

type SlotStatus string

const (
	SlotStatusAvailable SlotStatus = "available"
	SlotStatusBlocked   SlotStatus = "blocked"
	SlotStatusReserved  SlotStatus = "reserved"
)

// Slot is a candidate start time for a service of fixed duration. Rejected
// ticks are kept with their rejection reason for UI previews; the
// authoritative accept/reject decision is re-derived at booking time.
type Slot struct {
	Start  time.Time  `json:"start"`
	End    time.Time  `json:"end"`
	Status SlotStatus `json:"status"`
}

// GenerateSlots enumerates candidate start times on one local calendar day.
// Ticks advance by the resource's slot step (the service duration when the
// step is zero); a candidate that would extend past the working end is
// never emitted. The result is advisory: it reflects the blocks and busy
// intervals passed in, computed fresh per call.
func GenerateSlots(res Resource, year int, month time.Month, day int, serviceDuration time.Duration, blocks []Block, busy []Interval) ([]Slot, error) {
	if serviceDuration <= 0 {
		return nil, errors.New("invalid duration")
	}
	loc, err := res.Location()
	if err != nil {
		return nil, errors.New("invalid timezone")
	}

	window, ok := res.WorkingWindow(year, month, day, loc)
	if !ok {
		return nil, nil
	}

	step := serviceDuration
	if res.SlotStepMinutes > 0 {
		step = time.Duration(res.SlotStepMinutes) * time.Minute
	}

	// A slot is reserved once busy intervals exhaust the capacity, so a
	// half-full event slot still renders as available.
	capacity := res.Capacity
	if capacity < 1 {
		capacity = 1
	}

	var out []Slot
	for t := window.Start; !t.Add(serviceDuration).After(window.End); t = t.Add(step) {
		candidate := NewInterval(t, serviceDuration)
		slot := Slot{Start: candidate.Start, End: candidate.End, Status: SlotStatusAvailable}
		switch {
		case AnyBlockOverlaps(blocks, candidate, loc):
			slot.Status = SlotStatusBlocked
		case overlapCount(candidate, busy) >= capacity:
			slot.Status = SlotStatusReserved
		}
		out = append(out, slot)
	}
	return out, nil
}

// AvailableOnly filters a generated slot list down to bookable starts.
func AvailableOnly(slots []Slot) []Slot {
	out := make([]Slot, 0, len(slots))
	for _, s := range slots {
		if s.Status == SlotStatusAvailable {
			out = append(out, s)
		}
	}
	return out
}
