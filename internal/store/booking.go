package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"bookwell/backend/internal/domain"
)

// BookingRepository is the engine's durable store. Mutating operations are
// atomic: the authoritative availability re-check and the write commit or
// fail as one unit.
type BookingRepository interface {
	CreateResource(ctx context.Context, res domain.Resource) (domain.Resource, error)
	GetResource(ctx context.Context, resourceID string) (domain.Resource, error)

	CreateBlock(ctx context.Context, block domain.Block) (domain.Block, error)
	DeleteBlock(ctx context.Context, resourceID string, blockID uuid.UUID) error
	ListBlocks(ctx context.Context, resourceID string, windowStart, windowEnd time.Time) ([]domain.Block, error)

	// CreateReservation re-checks working hours, blocks, overlap and
	// capacity against current state and inserts in the same transaction.
	// The stored status follows the resource's auto-confirm flag.
	CreateReservation(ctx context.Context, res domain.Reservation) (domain.Reservation, error)
	ConfirmReservation(ctx context.Context, reservationID uuid.UUID) (domain.Reservation, error)
	// CancelReservation returns the updated row and the status it held
	// before cancellation, so callers can decide on waitlist promotion.
	CancelReservation(ctx context.Context, reservationID uuid.UUID) (domain.Reservation, domain.ReservationStatus, error)
	CompleteElapsed(ctx context.Context, cutoff time.Time) (int64, error)
	ListActiveReservations(ctx context.Context, resourceID string, windowStart, windowEnd time.Time) ([]domain.Reservation, error)
	Occupancy(ctx context.Context, resourceID string) (int, error)

	// EnqueueWaitlist appends an entry; when the requester already has a
	// non-cancelled entry the existing one is returned with created=false.
	EnqueueWaitlist(ctx context.Context, resourceID, requesterID string) (domain.WaitlistEntry, bool, error)
	// PromoteNextWaitlist atomically selects the oldest unnotified entry
	// and stamps notified_at in the same update. ok is false when the
	// queue is empty or fully notified.
	PromoteNextWaitlist(ctx context.Context, resourceID string) (domain.WaitlistEntry, bool, error)
}

// BookingTx is the per-resource transactional view used by the write path.
// Every method observes the same snapshot the final insert commits against.
type BookingTx interface {
	GetResource(ctx context.Context, resourceID string) (domain.Resource, error)
	ListBlocks(ctx context.Context, resourceID string, windowStart, windowEnd time.Time) ([]domain.Block, error)
	ListActiveReservations(ctx context.Context, resourceID string, windowStart, windowEnd time.Time) ([]domain.Reservation, error)
	InsertReservation(ctx context.Context, res domain.Reservation) (domain.Reservation, error)
	GetReservation(ctx context.Context, reservationID uuid.UUID) (domain.Reservation, error)
	UpdateReservationStatus(ctx context.Context, reservationID uuid.UUID, status domain.ReservationStatus) (domain.Reservation, error)
	CountConfirmed(ctx context.Context, resourceID string) (int, error)
}
