package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"bookwell/backend/internal/domain"
	"bookwell/backend/internal/service/booking"
	"bookwell/backend/internal/store"
)

type bookingService interface {
	CreateResource(ctx context.Context, in booking.CreateResourceInput) (domain.Resource, error)
	GetResource(ctx context.Context, resourceID string) (domain.Resource, error)
	Occupancy(ctx context.Context, resourceID string) (int, error)
	CreateBlock(ctx context.Context, in booking.CreateBlockInput) (domain.Block, error)
	DeleteBlock(ctx context.Context, resourceID string, blockID uuid.UUID) error
	AvailableSlots(ctx context.Context, resourceID, date string, serviceDuration time.Duration) ([]domain.Slot, error)
	CreateReservation(ctx context.Context, in booking.CreateReservationInput) (domain.Reservation, error)
	ConfirmReservation(ctx context.Context, reservationID uuid.UUID) (domain.Reservation, error)
	CancelReservation(ctx context.Context, reservationID uuid.UUID) (domain.Reservation, error)
	JoinWaitlist(ctx context.Context, resourceID, requesterID string) (domain.WaitlistEntry, bool, error)
}

type Server struct {
	svc bookingService
	log *slog.Logger
}

func NewServer(svc bookingService, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		svc: svc,
		log: log.With(slog.String("component", "http")),
	}
}

func (s *Server) Router(allowOrigins []string) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	corsCfg := cors.DefaultConfig()
	if len(allowOrigins) == 1 && allowOrigins[0] == "*" {
		corsCfg.AllowAllOrigins = true
	} else if len(allowOrigins) > 0 {
		corsCfg.AllowOrigins = allowOrigins
	} else {
		corsCfg.AllowAllOrigins = true
	}
	corsCfg.AllowHeaders = append(corsCfg.AllowHeaders, "Authorization")
	r.Use(cors.New(corsCfg))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := r.Group("/v1")
	{
		v1.POST("/resources", s.createResource)
		v1.GET("/resources/:id", s.getResource)
		v1.POST("/resources/:id/blocks", s.createBlock)
		v1.DELETE("/resources/:id/blocks/:blockID", s.deleteBlock)
		v1.GET("/resources/:id/slots", s.availableSlots)
		v1.POST("/resources/:id/waitlist", s.joinWaitlist)
		v1.POST("/reservations", s.createReservation)
		v1.POST("/reservations/:id/confirm", s.confirmReservation)
		v1.POST("/reservations/:id/cancel", s.cancelReservation)
	}

	return r
}

type createResourceRequest struct {
	ID              string  `json:"id" binding:"required"`
	Kind            string  `json:"kind" binding:"required"`
	Timezone        string  `json:"timezone" binding:"required"`
	WorkingDays     []int16 `json:"working_days"`
	DayStartMinutes int     `json:"day_start_minutes"`
	DayEndMinutes   int     `json:"day_end_minutes"`
	Capacity        int     `json:"capacity"`
	SlotStepMinutes int     `json:"slot_step_minutes"`
	AutoConfirm     bool    `json:"auto_confirm"`
}

func (s *Server) createResource(c *gin.Context) {
	log := s.log.With(slog.String("handler", "createResource"))

	var req createResourceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warn("invalid request", slog.Any("err", err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	res, err := s.svc.CreateResource(c.Request.Context(), booking.CreateResourceInput{
		ID:              req.ID,
		Kind:            domain.ResourceKind(req.Kind),
		Timezone:        req.Timezone,
		WorkingDays:     req.WorkingDays,
		DayStartMinutes: req.DayStartMinutes,
		DayEndMinutes:   req.DayEndMinutes,
		Capacity:        req.Capacity,
		SlotStepMinutes: req.SlotStepMinutes,
		AutoConfirm:     req.AutoConfirm,
	})
	if err != nil {
		s.writeError(c, log, err)
		return
	}

	log.Info("resource created", slog.String("resource_id", res.ID), slog.String("kind", string(res.Kind)))
	c.JSON(http.StatusCreated, toResourceResponse(res, -1))
}

func (s *Server) getResource(c *gin.Context) {
	log := s.log.With(slog.String("handler", "getResource"))
	resourceID := c.Param("id")

	res, err := s.svc.GetResource(c.Request.Context(), resourceID)
	if err != nil {
		s.writeError(c, log, err)
		return
	}
	occupancy, err := s.svc.Occupancy(c.Request.Context(), resourceID)
	if err != nil {
		s.writeError(c, log, err)
		return
	}

	c.JSON(http.StatusOK, toResourceResponse(res, occupancy))
}

type createBlockRequest struct {
	StartTime    *time.Time `json:"start_time"`
	EndTime      *time.Time `json:"end_time"`
	Weekday      *int16     `json:"weekday"`
	StartMinutes *int       `json:"start_minutes"`
	EndMinutes   *int       `json:"end_minutes"`
	Until        *time.Time `json:"until"`
	Source       string     `json:"source"`
}

func (s *Server) createBlock(c *gin.Context) {
	log := s.log.With(slog.String("handler", "createBlock"))

	var req createBlockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warn("invalid request", slog.Any("err", err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	block, err := s.svc.CreateBlock(c.Request.Context(), booking.CreateBlockInput{
		ResourceID:   c.Param("id"),
		StartTime:    req.StartTime,
		EndTime:      req.EndTime,
		Weekday:      req.Weekday,
		StartMinutes: req.StartMinutes,
		EndMinutes:   req.EndMinutes,
		Until:        req.Until,
		Source:       domain.BlockSource(req.Source),
	})
	if err != nil {
		s.writeError(c, log, err)
		return
	}

	log.Info("block created",
		slog.String("resource_id", block.ResourceID),
		slog.String("block_id", block.ID.String()),
		slog.Bool("recurring", block.Recurring()),
	)
	c.JSON(http.StatusCreated, toBlockResponse(block))
}

func (s *Server) deleteBlock(c *gin.Context) {
	log := s.log.With(slog.String("handler", "deleteBlock"))

	blockID, err := uuid.Parse(c.Param("blockID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid block id"})
		return
	}

	if err := s.svc.DeleteBlock(c.Request.Context(), c.Param("id"), blockID); err != nil {
		s.writeError(c, log, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) availableSlots(c *gin.Context) {
	log := s.log.With(slog.String("handler", "availableSlots"))

	date := c.Query("date")
	durationStr := c.DefaultQuery("duration", "")
	if durationStr == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "duration query parameter is required, e.g. duration=50m"})
		return
	}
	duration, err := time.ParseDuration(durationStr)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid duration"})
		return
	}

	slots, err := s.svc.AvailableSlots(c.Request.Context(), c.Param("id"), date, duration)
	if err != nil {
		s.writeError(c, log, err)
		return
	}

	out := make([]gin.H, 0, len(slots))
	for _, slot := range slots {
		out = append(out, gin.H{
			"start":  slot.Start,
			"end":    slot.End,
			"status": slot.Status,
		})
	}
	c.JSON(http.StatusOK, gin.H{"slots": out})
}

type createReservationRequest struct {
	ResourceID      string    `json:"resource_id" binding:"required"`
	HolderID        string    `json:"holder_id" binding:"required"`
	StartTime       time.Time `json:"start_time" binding:"required"`
	DurationMinutes int       `json:"duration_minutes" binding:"required"`
}

func (s *Server) createReservation(c *gin.Context) {
	log := s.log.With(slog.String("handler", "createReservation"))

	var req createReservationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warn("invalid request", slog.Any("err", err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	created, err := s.svc.CreateReservation(c.Request.Context(), booking.CreateReservationInput{
		ResourceID: req.ResourceID,
		HolderID:   req.HolderID,
		StartTime:  req.StartTime,
		Duration:   time.Duration(req.DurationMinutes) * time.Minute,
	})
	if err != nil {
		s.writeError(c, log, err)
		return
	}

	log.Info("reservation created",
		slog.String("reservation_id", created.ID.String()),
		slog.String("resource_id", created.ResourceID),
		slog.Time("start_time", created.StartTime),
		slog.String("status", string(created.Status)),
	)
	c.JSON(http.StatusCreated, gin.H{
		"status":      created.Status,
		"reservation": toReservationResponse(created),
	})
}

func (s *Server) confirmReservation(c *gin.Context) {
	log := s.log.With(slog.String("handler", "confirmReservation"))

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid reservation id"})
		return
	}

	confirmed, err := s.svc.ConfirmReservation(c.Request.Context(), id)
	if err != nil {
		s.writeError(c, log, err)
		return
	}

	log.Info("reservation confirmed", slog.String("reservation_id", confirmed.ID.String()))
	c.JSON(http.StatusOK, gin.H{
		"status":      confirmed.Status,
		"reservation": toReservationResponse(confirmed),
	})
}

func (s *Server) cancelReservation(c *gin.Context) {
	log := s.log.With(slog.String("handler", "cancelReservation"))

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid reservation id"})
		return
	}

	cancelled, err := s.svc.CancelReservation(c.Request.Context(), id)
	if err != nil {
		s.writeError(c, log, err)
		return
	}

	log.Info("reservation cancelled", slog.String("reservation_id", cancelled.ID.String()))
	c.JSON(http.StatusOK, gin.H{
		"status":      cancelled.Status,
		"reservation": toReservationResponse(cancelled),
	})
}

type joinWaitlistRequest struct {
	RequesterID string `json:"requester_id" binding:"required"`
}

func (s *Server) joinWaitlist(c *gin.Context) {
	log := s.log.With(slog.String("handler", "joinWaitlist"))

	var req joinWaitlistRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warn("invalid request", slog.Any("err", err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	entry, created, err := s.svc.JoinWaitlist(c.Request.Context(), c.Param("id"), req.RequesterID)
	if err != nil {
		s.writeError(c, log, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
		log.Info("waitlist entry created",
			slog.String("resource_id", entry.ResourceID),
			slog.String("requester_id", entry.RequesterID),
		)
	}
	c.JSON(status, gin.H{
		"enqueued":    created,
		"entry_id":    entry.ID,
		"enqueued_at": entry.EnqueuedAt,
	})
}

// writeError maps engine errors onto the HTTP surface. Conflicts get the
// generic "no longer available" message; policy rejections stay specific
// and actionable; anything unexpected is a retryable transient failure.
func (s *Server) writeError(c *gin.Context, log *slog.Logger, err error) {
	var vErr *booking.ValidationError
	switch {
	case errors.As(err, &vErr):
		log.Warn("invalid request", slog.Any("err", err))
		c.JSON(http.StatusBadRequest, gin.H{"error": vErr.Error()})
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, store.ErrOutsideHours):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"status": "rejected",
			"reason": "outside_working_hours",
			"error":  "That time is outside working hours. Pick a slot within the listed availability.",
		})
	case errors.Is(err, store.ErrBlocked):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"status": "rejected",
			"reason": "blocked",
			"error":  "That time is blocked on this calendar. Pick a different slot.",
		})
	case errors.Is(err, store.ErrConflict), errors.Is(err, store.ErrCapacityFull):
		c.JSON(http.StatusConflict, gin.H{
			"status": "rejected",
			"reason": "slot_unavailable",
			"error":  "This time is no longer available. Please choose another.",
		})
	case errors.Is(err, store.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": "reservation is not in a state that allows this action"})
	default:
		log.Error("request failed", slog.Any("err", err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "temporary error, please retry"})
	}
}

type resourceResponse struct {
	ID              string    `json:"id"`
	Kind            string    `json:"kind"`
	Timezone        string    `json:"timezone"`
	WorkingDays     []int16   `json:"working_days"`
	DayStartMinutes int       `json:"day_start_minutes"`
	DayEndMinutes   int       `json:"day_end_minutes"`
	Capacity        int       `json:"capacity"`
	SlotStepMinutes int       `json:"slot_step_minutes"`
	AutoConfirm     bool      `json:"auto_confirm"`
	Occupancy       *int      `json:"occupancy,omitempty"`
	HasCapacity     *bool     `json:"has_capacity,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

func toResourceResponse(res domain.Resource, occupancy int) resourceResponse {
	out := resourceResponse{
		ID:              res.ID,
		Kind:            string(res.Kind),
		Timezone:        res.Timezone,
		WorkingDays:     res.WorkingDays,
		DayStartMinutes: res.DayStartMinutes,
		DayEndMinutes:   res.DayEndMinutes,
		Capacity:        res.Capacity,
		SlotStepMinutes: res.SlotStepMinutes,
		AutoConfirm:     res.AutoConfirm,
		CreatedAt:       res.CreatedAt,
	}
	if occupancy >= 0 {
		hasCapacity := occupancy < res.Capacity
		out.Occupancy = &occupancy
		out.HasCapacity = &hasCapacity
	}
	return out
}

type blockResponse struct {
	ID           uuid.UUID  `json:"id"`
	ResourceID   string     `json:"resource_id"`
	StartTime    *time.Time `json:"start_time,omitempty"`
	EndTime      *time.Time `json:"end_time,omitempty"`
	Weekday      *int16     `json:"weekday,omitempty"`
	StartMinutes *int       `json:"start_minutes,omitempty"`
	EndMinutes   *int       `json:"end_minutes,omitempty"`
	Until        *time.Time `json:"until,omitempty"`
	Source       string     `json:"source"`
}

func toBlockResponse(b domain.Block) blockResponse {
	return blockResponse{
		ID:           b.ID,
		ResourceID:   b.ResourceID,
		StartTime:    b.StartTime,
		EndTime:      b.EndTime,
		Weekday:      b.Weekday,
		StartMinutes: b.StartMinutes,
		EndMinutes:   b.EndMinutes,
		Until:        b.Until,
		Source:       string(b.Source),
	}
}

type reservationResponse struct {
	ID         uuid.UUID `json:"id"`
	ResourceID string    `json:"resource_id"`
	HolderID   string    `json:"holder_id"`
	StartTime  time.Time `json:"start_time"`
	EndTime    time.Time `json:"end_time"`
	Status     string    `json:"status"`
}

func toReservationResponse(r domain.Reservation) reservationResponse {
	return reservationResponse{
		ID:         r.ID,
		ResourceID: r.ResourceID,
		HolderID:   r.HolderID,
		StartTime:  r.StartTime,
		EndTime:    r.EndTime,
		Status:     string(r.Status),
	}
}
