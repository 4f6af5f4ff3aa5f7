package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/uptrace/bun"

	"bookwell/backend/internal/domain"
	"bookwell/backend/internal/store"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

type BookingRepo struct {
	db *bun.DB
}

func NewBookingRepo(db *bun.DB) *BookingRepo {
	return &BookingRepo{db: db}
}

type bookingTx struct {
	tx bun.Tx
}

// InResourceTransaction runs fn inside a transaction serialized per
// resource via an advisory lock, so no two writes for the same resource
// ever interleave their check-then-write sequences.
func (r *BookingRepo) InResourceTransaction(ctx context.Context, resourceID string, fn func(ctx context.Context, tx store.BookingTx) error) error {
	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := lockResource(ctx, tx, resourceID); err != nil {
			return err
		}
		return fn(ctx, bookingTx{tx: tx})
	})
}

func lockResource(ctx context.Context, tx bun.Tx, resourceID string) error {
	_, err := tx.NewRaw("SELECT pg_advisory_xact_lock(hashtext(?))", resourceID).Exec(ctx)
	return err
}

func (r *BookingRepo) CreateResource(ctx context.Context, res domain.Resource) (domain.Resource, error) {
	m := res
	_, err := r.db.NewInsert().Model(&m).Exec(ctx)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return domain.Resource{}, store.ErrConflict
		}
		return domain.Resource{}, err
	}
	return m, nil
}

func (r *BookingRepo) GetResource(ctx context.Context, resourceID string) (domain.Resource, error) {
	var res domain.Resource
	err := r.db.NewSelect().
		Model(&res).
		Where("id = ?", resourceID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Resource{}, store.ErrNotFound
		}
		return domain.Resource{}, err
	}
	return res, nil
}

func (r *BookingRepo) CreateBlock(ctx context.Context, block domain.Block) (domain.Block, error) {
	m := block
	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := lockResource(ctx, tx, block.ResourceID); err != nil {
			return err
		}
		_, err := tx.NewInsert().Model(&m).Exec(ctx)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation {
				return store.ErrNotFound
			}
			return err
		}
		return nil
	})
	if err != nil {
		return domain.Block{}, err
	}
	return m, nil
}

func (r *BookingRepo) DeleteBlock(ctx context.Context, resourceID string, blockID uuid.UUID) error {
	res, err := r.db.NewDelete().
		Model((*domain.Block)(nil)).
		Where("resource_id = ?", resourceID).
		Where("id = ?", blockID).
		Exec(ctx)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *BookingRepo) ListBlocks(ctx context.Context, resourceID string, windowStart, windowEnd time.Time) ([]domain.Block, error) {
	var rows []domain.Block
	err := r.db.NewSelect().
		Model(&rows).
		Where("resource_id = ?", resourceID).
		Where("(weekday IS NOT NULL AND (until IS NULL OR until >= ?)) OR (start_time < ? AND end_time > ?)",
			windowStart, windowEnd, windowStart).
		OrderExpr("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *BookingRepo) CreateReservation(ctx context.Context, res domain.Reservation) (domain.Reservation, error) {
	var out domain.Reservation
	err := r.InResourceTransaction(ctx, res.ResourceID, func(ctx context.Context, tx store.BookingTx) error {
		resource, err := tx.GetResource(ctx, res.ResourceID)
		if err != nil {
			return err
		}

		res.Status = domain.ReservationStatusPending
		if resource.AutoConfirm {
			res.Status = domain.ReservationStatusConfirmed
		}

		if err := ensureBookable(ctx, tx, resource, res.Interval(), res.Status); err != nil {
			return err
		}

		created, err := tx.InsertReservation(ctx, res)
		if err != nil {
			return err
		}
		out = created
		return nil
	})
	if err != nil {
		return domain.Reservation{}, err
	}
	return out, nil
}

func (r *BookingRepo) ConfirmReservation(ctx context.Context, reservationID uuid.UUID) (domain.Reservation, error) {
	resourceID, err := r.reservationResourceID(ctx, reservationID)
	if err != nil {
		return domain.Reservation{}, err
	}

	var out domain.Reservation
	err = r.InResourceTransaction(ctx, resourceID, func(ctx context.Context, tx store.BookingTx) error {
		res, err := tx.GetReservation(ctx, reservationID)
		if err != nil {
			return err
		}

		switch res.Status {
		case domain.ReservationStatusConfirmed:
			out = res
			return nil
		case domain.ReservationStatusPending:
		default:
			return store.ErrInvalidTransition
		}

		resource, err := tx.GetResource(ctx, res.ResourceID)
		if err != nil {
			return err
		}
		if resource.Kind == domain.ResourceKindEvent {
			n, err := tx.CountConfirmed(ctx, resource.ID)
			if err != nil {
				return err
			}
			if n >= resource.Capacity {
				return store.ErrCapacityFull
			}
		}

		out, err = tx.UpdateReservationStatus(ctx, reservationID, domain.ReservationStatusConfirmed)
		return err
	})
	if err != nil {
		return domain.Reservation{}, err
	}
	return out, nil
}

func (r *BookingRepo) CancelReservation(ctx context.Context, reservationID uuid.UUID) (domain.Reservation, domain.ReservationStatus, error) {
	resourceID, err := r.reservationResourceID(ctx, reservationID)
	if err != nil {
		return domain.Reservation{}, "", err
	}

	var out domain.Reservation
	var prior domain.ReservationStatus
	err = r.InResourceTransaction(ctx, resourceID, func(ctx context.Context, tx store.BookingTx) error {
		res, err := tx.GetReservation(ctx, reservationID)
		if err != nil {
			return err
		}

		prior = res.Status
		switch res.Status {
		case domain.ReservationStatusCancelled:
			out = res
			return nil
		case domain.ReservationStatusPending, domain.ReservationStatusConfirmed:
		default:
			return store.ErrInvalidTransition
		}

		out, err = tx.UpdateReservationStatus(ctx, reservationID, domain.ReservationStatusCancelled)
		return err
	})
	if err != nil {
		return domain.Reservation{}, "", err
	}
	return out, prior, nil
}

// CompleteElapsed sweeps confirmed reservations whose interval has ended.
func (r *BookingRepo) CompleteElapsed(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.NewUpdate().
		Model((*domain.Reservation)(nil)).
		Set("status = ?", domain.ReservationStatusCompleted).
		Set("updated_at = now()").
		Where("status = ?", domain.ReservationStatusConfirmed).
		Where("end_time <= ?", cutoff).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *BookingRepo) ListActiveReservations(ctx context.Context, resourceID string, windowStart, windowEnd time.Time) ([]domain.Reservation, error) {
	var rows []domain.Reservation
	err := r.db.NewSelect().
		Model(&rows).
		Where("resource_id = ?", resourceID).
		Where("status IN (?)", bun.In([]domain.ReservationStatus{
			domain.ReservationStatusPending,
			domain.ReservationStatusConfirmed,
		})).
		Where("start_time < ?", windowEnd).
		Where("end_time > ?", windowStart).
		OrderExpr("start_time ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *BookingRepo) Occupancy(ctx context.Context, resourceID string) (int, error) {
	return r.db.NewSelect().
		Model((*domain.Reservation)(nil)).
		Where("resource_id = ?", resourceID).
		Where("status = ?", domain.ReservationStatusConfirmed).
		Count(ctx)
}

func (r *BookingRepo) EnqueueWaitlist(ctx context.Context, resourceID, requesterID string) (domain.WaitlistEntry, bool, error) {
	entry := domain.WaitlistEntry{
		ResourceID:  resourceID,
		RequesterID: requesterID,
	}
	_, err := r.db.NewInsert().Model(&entry).Exec(ctx)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgUniqueViolation {
				var existing domain.WaitlistEntry
				selectErr := r.db.NewSelect().
					Model(&existing).
					Where("resource_id = ?", resourceID).
					Where("requester_id = ?", requesterID).
					Where("cancelled_at IS NULL").
					Limit(1).
					Scan(ctx)
				if selectErr != nil {
					return domain.WaitlistEntry{}, false, err
				}
				return existing, false, nil
			}
			if pgErr.Code == pgForeignKeyViolation {
				return domain.WaitlistEntry{}, false, store.ErrNotFound
			}
		}
		return domain.WaitlistEntry{}, false, err
	}
	return entry, true, nil
}

// PromoteNextWaitlist selects the oldest unnotified entry and stamps
// notified_at in the same statement, so two concurrent cancellations can
// never both promote the same entry.
func (r *BookingRepo) PromoteNextWaitlist(ctx context.Context, resourceID string) (domain.WaitlistEntry, bool, error) {
	var entry domain.WaitlistEntry
	err := r.db.NewRaw(`
		UPDATE waitlist_entries SET notified_at = now()
		WHERE id = (
			SELECT id FROM waitlist_entries
			WHERE resource_id = ? AND notified_at IS NULL AND cancelled_at IS NULL
			ORDER BY enqueued_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING id, resource_id, requester_id, enqueued_at, notified_at, cancelled_at
	`, resourceID).Scan(ctx, &entry)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.WaitlistEntry{}, false, nil
		}
		return domain.WaitlistEntry{}, false, err
	}
	return entry, true, nil
}

func (r *BookingRepo) reservationResourceID(ctx context.Context, reservationID uuid.UUID) (string, error) {
	var res domain.Reservation
	err := r.db.NewSelect().
		Model(&res).
		Column("resource_id").
		Where("id = ?", reservationID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", store.ErrNotFound
		}
		return "", err
	}
	return res.ResourceID, nil
}

// ensureBookable is the authoritative availability check, run against the
// transaction's state immediately before the write commits. Failure order
// mirrors the rejection taxonomy: working hours, blocks, then conflict or
// capacity.
func ensureBookable(ctx context.Context, tx store.BookingTx, resource domain.Resource, iv domain.Interval, status domain.ReservationStatus) error {
	loc, err := resource.Location()
	if err != nil {
		return fmt.Errorf("resource timezone: %w", err)
	}

	// The start instant must be inside the working window, and the whole
	// interval must end by close.
	if !resource.IsWorkingInstant(iv.Start, loc) {
		return store.ErrOutsideHours
	}
	localStart := iv.Start.In(loc)
	window, _ := resource.WorkingWindow(localStart.Year(), localStart.Month(), localStart.Day(), loc)
	if iv.End.After(window.End) {
		return store.ErrOutsideHours
	}

	blocks, err := tx.ListBlocks(ctx, resource.ID, iv.Start, iv.End)
	if err != nil {
		return err
	}
	if domain.AnyBlockOverlaps(blocks, iv, loc) {
		return store.ErrBlocked
	}

	if resource.Kind == domain.ResourceKindEvent {
		if status == domain.ReservationStatusConfirmed {
			n, err := tx.CountConfirmed(ctx, resource.ID)
			if err != nil {
				return err
			}
			if n >= resource.Capacity {
				return store.ErrCapacityFull
			}
		}
		return nil
	}

	existing, err := tx.ListActiveReservations(ctx, resource.ID, iv.Start, iv.End)
	if err != nil {
		return err
	}
	for i := range existing {
		if iv.Overlaps(existing[i].Interval()) {
			return store.ErrConflict
		}
	}
	return nil
}

func (r bookingTx) GetResource(ctx context.Context, resourceID string) (domain.Resource, error) {
	var res domain.Resource
	err := r.tx.NewSelect().
		Model(&res).
		Where("id = ?", resourceID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Resource{}, store.ErrNotFound
		}
		return domain.Resource{}, err
	}
	return res, nil
}

func (r bookingTx) ListBlocks(ctx context.Context, resourceID string, windowStart, windowEnd time.Time) ([]domain.Block, error) {
	var rows []domain.Block
	err := r.tx.NewSelect().
		Model(&rows).
		Where("resource_id = ?", resourceID).
		Where("(weekday IS NOT NULL AND (until IS NULL OR until >= ?)) OR (start_time < ? AND end_time > ?)",
			windowStart, windowEnd, windowStart).
		OrderExpr("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r bookingTx) ListActiveReservations(ctx context.Context, resourceID string, windowStart, windowEnd time.Time) ([]domain.Reservation, error) {
	var rows []domain.Reservation
	err := r.tx.NewSelect().
		Model(&rows).
		Where("resource_id = ?", resourceID).
		Where("status IN (?)", bun.In([]domain.ReservationStatus{
			domain.ReservationStatusPending,
			domain.ReservationStatusConfirmed,
		})).
		Where("start_time < ?", windowEnd).
		Where("end_time > ?", windowStart).
		OrderExpr("start_time ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r bookingTx) InsertReservation(ctx context.Context, res domain.Reservation) (domain.Reservation, error) {
	m := res
	_, err := r.tx.NewInsert().Model(&m).Exec(ctx)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			// reservations_active_holder_slot_key: this holder already has
			// an active reservation on the exact slot.
			if pgErr.Code == pgUniqueViolation {
				return domain.Reservation{}, store.ErrConflict
			}
			if pgErr.Code == pgForeignKeyViolation {
				return domain.Reservation{}, store.ErrNotFound
			}
		}
		return domain.Reservation{}, err
	}
	return m, nil
}

func (r bookingTx) GetReservation(ctx context.Context, reservationID uuid.UUID) (domain.Reservation, error) {
	var res domain.Reservation
	err := r.tx.NewSelect().
		Model(&res).
		Where("id = ?", reservationID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Reservation{}, store.ErrNotFound
		}
		return domain.Reservation{}, err
	}
	return res, nil
}

func (r bookingTx) UpdateReservationStatus(ctx context.Context, reservationID uuid.UUID, status domain.ReservationStatus) (domain.Reservation, error) {
	q := r.tx.NewUpdate().
		Model((*domain.Reservation)(nil)).
		Set("status = ?", status).
		Set("updated_at = now()").
		Where("id = ?", reservationID)
	if status == domain.ReservationStatusCancelled {
		q = q.Set("cancelled_at = now()")
	}

	res, err := q.Exec(ctx)
	if err != nil {
		return domain.Reservation{}, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return domain.Reservation{}, err
	}
	if affected == 0 {
		return domain.Reservation{}, store.ErrNotFound
	}
	return r.GetReservation(ctx, reservationID)
}

func (r bookingTx) CountConfirmed(ctx context.Context, resourceID string) (int, error) {
	return r.tx.NewSelect().
		Model((*domain.Reservation)(nil)).
		Where("resource_id = ?", resourceID).
		Where("status = ?", domain.ReservationStatusConfirmed).
		Count(ctx)
}
