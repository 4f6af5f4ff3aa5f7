package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// WaitlistEntry is an ordered request for a slot on a full resource.
// EnqueuedAt defines FIFO order; NotifiedAt is set exactly once, by the
// atomic promotion update.
type WaitlistEntry struct {
	bun.BaseModel `bun:"table:waitlist_entries"`

	ID          uuid.UUID  `bun:"id,pk,type:uuid"`
	ResourceID  string     `bun:"resource_id,notnull"`
	RequesterID string     `bun:"requester_id,notnull"`
	EnqueuedAt  time.Time  `bun:"enqueued_at,notnull"`
	NotifiedAt  *time.Time `bun:"notified_at"`
	CancelledAt *time.Time `bun:"cancelled_at"`
}

func (e *WaitlistEntry) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	if _, ok := query.(*bun.InsertQuery); ok {
		if e.ID == uuid.Nil {
			id, err := uuid.NewV7()
			if err != nil {
				return err
			}
			e.ID = id
		}
		if e.EnqueuedAt.IsZero() {
			e.EnqueuedAt = time.Now().UTC()
		}
	}
	return nil
}
