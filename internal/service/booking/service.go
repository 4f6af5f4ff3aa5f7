package booking

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"bookwell/backend/internal/domain"
	"bookwell/backend/internal/notify"
	"bookwell/backend/internal/store"
)

type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string {
	return e.msg
}

func validationError(msg string) error {
	return &ValidationError{msg: msg}
}

// AvailabilityCache fronts AvailableSlots. A nil cache disables caching.
type AvailabilityCache interface {
	GetSlots(ctx context.Context, resourceID, date string, duration time.Duration) ([]domain.Slot, bool)
	SetSlots(ctx context.Context, resourceID, date string, duration time.Duration, slots []domain.Slot)
	Invalidate(ctx context.Context, resourceID string)
}

type Service struct {
	repo     store.BookingRepository
	cache    AvailabilityCache
	notifier notify.Notifier
	log      *slog.Logger
}

func NewService(repo store.BookingRepository, cache AvailabilityCache, notifier notify.Notifier, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	if notifier == nil {
		notifier = notify.NewLogNotifier(log)
	}
	return &Service{
		repo:     repo,
		cache:    cache,
		notifier: notifier,
		log:      log.With(slog.String("component", "booking")),
	}
}

const maxReservationDuration = 24 * time.Hour

type CreateResourceInput struct {
	ID              string
	Kind            domain.ResourceKind
	Timezone        string
	WorkingDays     []int16
	DayStartMinutes int
	DayEndMinutes   int
	Capacity        int
	SlotStepMinutes int
	AutoConfirm     bool
}

func (s *Service) CreateResource(ctx context.Context, in CreateResourceInput) (domain.Resource, error) {
	id := strings.TrimSpace(in.ID)
	if id == "" {
		return domain.Resource{}, validationError("resource id is required")
	}
	if in.Kind != domain.ResourceKindCalendar && in.Kind != domain.ResourceKindEvent {
		return domain.Resource{}, validationError("kind must be calendar or event")
	}

	tz := strings.TrimSpace(in.Timezone)
	if tz == "" {
		return domain.Resource{}, validationError("timezone is required")
	}
	if _, err := time.LoadLocation(tz); err != nil {
		return domain.Resource{}, validationError("invalid timezone")
	}

	if in.DayStartMinutes < 0 || in.DayEndMinutes > 24*60 {
		return domain.Resource{}, validationError("working hours out of range")
	}
	if in.DayEndMinutes <= in.DayStartMinutes {
		return domain.Resource{}, validationError("day end must be after day start")
	}
	if in.SlotStepMinutes < 0 {
		return domain.Resource{}, validationError("slot step must not be negative")
	}

	capacity := in.Capacity
	if in.Kind == domain.ResourceKindCalendar {
		if capacity == 0 {
			capacity = 1
		}
		if capacity != 1 {
			return domain.Resource{}, validationError("calendar resources have capacity 1")
		}
	}
	if capacity < 1 {
		return domain.Resource{}, validationError("capacity must be at least 1")
	}

	dedup := make(map[int16]struct{}, len(in.WorkingDays))
	days := make([]int16, 0, len(in.WorkingDays))
	for _, wd := range in.WorkingDays {
		if wd < 1 || wd > 7 {
			return domain.Resource{}, validationError("invalid weekday")
		}
		if _, ok := dedup[wd]; ok {
			continue
		}
		dedup[wd] = struct{}{}
		days = append(days, wd)
	}
	sort.Slice(days, func(i, j int) bool { return days[i] < days[j] })

	return s.repo.CreateResource(ctx, domain.Resource{
		ID:              id,
		Kind:            in.Kind,
		Timezone:        tz,
		WorkingDays:     days,
		DayStartMinutes: in.DayStartMinutes,
		DayEndMinutes:   in.DayEndMinutes,
		Capacity:        capacity,
		SlotStepMinutes: in.SlotStepMinutes,
		AutoConfirm:     in.AutoConfirm,
	})
}

func (s *Service) GetResource(ctx context.Context, resourceID string) (domain.Resource, error) {
	if strings.TrimSpace(resourceID) == "" {
		return domain.Resource{}, validationError("resource id is required")
	}
	return s.repo.GetResource(ctx, resourceID)
}

// Occupancy is the live count of confirmed reservations on the resource.
func (s *Service) Occupancy(ctx context.Context, resourceID string) (int, error) {
	if strings.TrimSpace(resourceID) == "" {
		return 0, validationError("resource id is required")
	}
	return s.repo.Occupancy(ctx, resourceID)
}

func (s *Service) HasCapacity(ctx context.Context, resourceID string) (bool, error) {
	res, err := s.repo.GetResource(ctx, resourceID)
	if err != nil {
		return false, err
	}
	n, err := s.repo.Occupancy(ctx, resourceID)
	if err != nil {
		return false, err
	}
	return n < res.Capacity, nil
}

type CreateBlockInput struct {
	ResourceID   string
	StartTime    *time.Time
	EndTime      *time.Time
	Weekday      *int16
	StartMinutes *int
	EndMinutes   *int
	Until        *time.Time
	Source       domain.BlockSource
}

func (s *Service) CreateBlock(ctx context.Context, in CreateBlockInput) (domain.Block, error) {
	if strings.TrimSpace(in.ResourceID) == "" {
		return domain.Block{}, validationError("resource id is required")
	}

	source := in.Source
	if source == "" {
		source = domain.BlockSourceManual
	}
	if source != domain.BlockSourceManual && source != domain.BlockSourceImported {
		return domain.Block{}, validationError("invalid block source")
	}

	recurring := in.Weekday != nil
	oneOff := in.StartTime != nil || in.EndTime != nil
	if recurring == oneOff {
		return domain.Block{}, validationError("block must be either one-off or recurring")
	}

	block := domain.Block{
		ResourceID: in.ResourceID,
		Source:     source,
	}

	if recurring {
		if *in.Weekday < 1 || *in.Weekday > 7 {
			return domain.Block{}, validationError("invalid weekday")
		}
		if in.StartMinutes == nil || in.EndMinutes == nil {
			return domain.Block{}, validationError("recurring block requires a time range")
		}
		if *in.StartMinutes < 0 || *in.EndMinutes > 24*60 {
			return domain.Block{}, validationError("block time range out of range")
		}
		if *in.EndMinutes <= *in.StartMinutes {
			return domain.Block{}, validationError("block end must be after block start")
		}
		block.Weekday = in.Weekday
		block.StartMinutes = in.StartMinutes
		block.EndMinutes = in.EndMinutes
		if in.Until != nil {
			u := in.Until.UTC()
			block.Until = &u
		}
	} else {
		if in.StartTime == nil || in.EndTime == nil {
			return domain.Block{}, validationError("one-off block requires start and end")
		}
		start := in.StartTime.UTC()
		end := in.EndTime.UTC()
		if !end.After(start) {
			return domain.Block{}, validationError("block end must be after block start")
		}
		block.StartTime = &start
		block.EndTime = &end
	}

	created, err := s.repo.CreateBlock(ctx, block)
	if err != nil {
		return domain.Block{}, err
	}
	s.invalidateSlots(ctx, in.ResourceID)
	return created, nil
}

func (s *Service) DeleteBlock(ctx context.Context, resourceID string, blockID uuid.UUID) error {
	if strings.TrimSpace(resourceID) == "" {
		return validationError("resource id is required")
	}
	if blockID == uuid.Nil {
		return validationError("block id is required")
	}
	if err := s.repo.DeleteBlock(ctx, resourceID, blockID); err != nil {
		return err
	}
	s.invalidateSlots(ctx, resourceID)
	return nil
}

// AvailableSlots is the advisory read path: it reflects stored state at
// call time and is never trusted at booking time.
func (s *Service) AvailableSlots(ctx context.Context, resourceID, date string, serviceDuration time.Duration) ([]domain.Slot, error) {
	if strings.TrimSpace(resourceID) == "" {
		return nil, validationError("resource id is required")
	}
	if serviceDuration <= 0 {
		return nil, validationError("duration must be positive")
	}
	if serviceDuration > maxReservationDuration {
		return nil, validationError("duration too long")
	}
	// Malformed input never reaches the store.
	if _, err := time.Parse("2006-01-02", date); err != nil {
		return nil, validationError("invalid date, want YYYY-MM-DD")
	}

	res, err := s.repo.GetResource(ctx, resourceID)
	if err != nil {
		return nil, err
	}
	loc, err := res.Location()
	if err != nil {
		return nil, err
	}
	day, err := time.ParseInLocation("2006-01-02", date, loc)
	if err != nil {
		return nil, validationError("invalid date, want YYYY-MM-DD")
	}

	if s.cache != nil {
		if slots, ok := s.cache.GetSlots(ctx, resourceID, date, serviceDuration); ok {
			return slots, nil
		}
	}

	dayEnd := day.AddDate(0, 0, 1)
	blocks, err := s.repo.ListBlocks(ctx, resourceID, day, dayEnd)
	if err != nil {
		return nil, err
	}
	reservations, err := s.repo.ListActiveReservations(ctx, resourceID, day, dayEnd)
	if err != nil {
		return nil, err
	}
	// Calendars treat any active hold as exclusive; event capacity is
	// consumed by confirmed reservations only, matching the booking path.
	busy := make([]domain.Interval, 0, len(reservations))
	for i := range reservations {
		if res.Kind == domain.ResourceKindEvent && reservations[i].Status != domain.ReservationStatusConfirmed {
			continue
		}
		busy = append(busy, reservations[i].Interval())
	}

	slots, err := domain.GenerateSlots(res, day.Year(), day.Month(), day.Day(), serviceDuration, blocks, busy)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		s.cache.SetSlots(ctx, resourceID, date, serviceDuration, slots)
	}
	return slots, nil
}

type CreateReservationInput struct {
	ResourceID string
	HolderID   string
	StartTime  time.Time
	Duration   time.Duration
}

func (s *Service) CreateReservation(ctx context.Context, in CreateReservationInput) (domain.Reservation, error) {
	if strings.TrimSpace(in.ResourceID) == "" {
		return domain.Reservation{}, validationError("resource id is required")
	}
	if strings.TrimSpace(in.HolderID) == "" {
		return domain.Reservation{}, validationError("holder id is required")
	}
	if in.Duration <= 0 {
		return domain.Reservation{}, validationError("duration must be positive")
	}
	if in.Duration > maxReservationDuration {
		return domain.Reservation{}, validationError("duration too long")
	}

	start := in.StartTime.UTC()
	created, err := s.repo.CreateReservation(ctx, domain.Reservation{
		ResourceID: in.ResourceID,
		HolderID:   in.HolderID,
		StartTime:  start,
		EndTime:    start.Add(in.Duration),
	})
	if err != nil {
		return domain.Reservation{}, err
	}

	s.invalidateSlots(ctx, in.ResourceID)

	template := notify.TemplateReservationReceived
	if created.Status == domain.ReservationStatusConfirmed {
		template = notify.TemplateReservationConfirmed
	}
	s.send(ctx, created.HolderID, template, reservationPayload(created))

	return created, nil
}

func (s *Service) ConfirmReservation(ctx context.Context, reservationID uuid.UUID) (domain.Reservation, error) {
	if reservationID == uuid.Nil {
		return domain.Reservation{}, validationError("reservation id is required")
	}

	confirmed, err := s.repo.ConfirmReservation(ctx, reservationID)
	if err != nil {
		return domain.Reservation{}, err
	}

	s.invalidateSlots(ctx, confirmed.ResourceID)
	s.send(ctx, confirmed.HolderID, notify.TemplateReservationConfirmed, reservationPayload(confirmed))
	return confirmed, nil
}

// CancelReservation cancels and, when the reservation was confirmed,
// promotes the next waitlisted requester. Promotion only notifies; it does
// not reserve the freed slot for the promoted requester.
func (s *Service) CancelReservation(ctx context.Context, reservationID uuid.UUID) (domain.Reservation, error) {
	if reservationID == uuid.Nil {
		return domain.Reservation{}, validationError("reservation id is required")
	}

	cancelled, prior, err := s.repo.CancelReservation(ctx, reservationID)
	if err != nil {
		return domain.Reservation{}, err
	}

	s.invalidateSlots(ctx, cancelled.ResourceID)
	if prior == domain.ReservationStatusConfirmed {
		s.send(ctx, cancelled.HolderID, notify.TemplateReservationCancelled, reservationPayload(cancelled))
		s.promoteNext(ctx, cancelled.ResourceID)
	}
	return cancelled, nil
}

func (s *Service) JoinWaitlist(ctx context.Context, resourceID, requesterID string) (domain.WaitlistEntry, bool, error) {
	if strings.TrimSpace(resourceID) == "" {
		return domain.WaitlistEntry{}, false, validationError("resource id is required")
	}
	if strings.TrimSpace(requesterID) == "" {
		return domain.WaitlistEntry{}, false, validationError("requester id is required")
	}
	return s.repo.EnqueueWaitlist(ctx, resourceID, requesterID)
}

func (s *Service) CompleteElapsed(ctx context.Context) (int64, error) {
	return s.repo.CompleteElapsed(ctx, time.Now().UTC())
}

// promoteNext runs after a confirmed cancellation has committed; its
// failures are logged, never surfaced, since the cancellation itself
// already succeeded.
func (s *Service) promoteNext(ctx context.Context, resourceID string) {
	entry, ok, err := s.repo.PromoteNextWaitlist(ctx, resourceID)
	if err != nil {
		s.log.ErrorContext(ctx, "waitlist promotion failed",
			slog.String("resource_id", resourceID), slog.Any("err", err))
		return
	}
	if !ok {
		return
	}

	s.log.InfoContext(ctx, "waitlist entry promoted",
		slog.String("resource_id", resourceID),
		slog.String("requester_id", entry.RequesterID),
		slog.Time("enqueued_at", entry.EnqueuedAt),
	)
	s.send(ctx, entry.RequesterID, notify.TemplateWaitlistSlotOpen, map[string]string{
		"resource_id": resourceID,
	})
}

func (s *Service) send(ctx context.Context, recipient, template string, payload map[string]string) {
	if err := s.notifier.Send(ctx, recipient, template, payload); err != nil {
		s.log.WarnContext(ctx, "notification send failed",
			slog.String("recipient", recipient),
			slog.String("template", template),
			slog.Any("err", err),
		)
	}
}

func reservationPayload(r domain.Reservation) map[string]string {
	return map[string]string{
		"reservation_id": r.ID.String(),
		"resource_id":    r.ResourceID,
		"start_time":     r.StartTime.UTC().Format(time.RFC3339),
		"end_time":       r.EndTime.UTC().Format(time.RFC3339),
		"status":         string(r.Status),
	}
}

func (s *Service) invalidateSlots(ctx context.Context, resourceID string) {
	if s.cache != nil {
		s.cache.Invalidate(ctx, resourceID)
	}
}
