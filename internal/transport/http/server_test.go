package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"bookwell/backend/internal/domain"
	"bookwell/backend/internal/service/booking"
	"bookwell/backend/internal/store"
)

type fakeBookingService struct {
	createResourceFn func(ctx context.Context, in booking.CreateResourceInput) (domain.Resource, error)
	getResourceFn    func(ctx context.Context, resourceID string) (domain.Resource, error)
	occupancyFn      func(ctx context.Context, resourceID string) (int, error)
	createBlockFn    func(ctx context.Context, in booking.CreateBlockInput) (domain.Block, error)
	deleteBlockFn    func(ctx context.Context, resourceID string, blockID uuid.UUID) error
	availableSlotsFn func(ctx context.Context, resourceID, date string, serviceDuration time.Duration) ([]domain.Slot, error)
	createFn         func(ctx context.Context, in booking.CreateReservationInput) (domain.Reservation, error)
	confirmFn        func(ctx context.Context, reservationID uuid.UUID) (domain.Reservation, error)
	cancelFn         func(ctx context.Context, reservationID uuid.UUID) (domain.Reservation, error)
	joinWaitlistFn   func(ctx context.Context, resourceID, requesterID string) (domain.WaitlistEntry, bool, error)
}

func (f *fakeBookingService) CreateResource(ctx context.Context, in booking.CreateResourceInput) (domain.Resource, error) {
	if f.createResourceFn == nil {
		panic("CreateResource not configured")
	}
	return f.createResourceFn(ctx, in)
}

func (f *fakeBookingService) GetResource(ctx context.Context, resourceID string) (domain.Resource, error) {
	if f.getResourceFn == nil {
		panic("GetResource not configured")
	}
	return f.getResourceFn(ctx, resourceID)
}

func (f *fakeBookingService) Occupancy(ctx context.Context, resourceID string) (int, error) {
	if f.occupancyFn == nil {
		panic("Occupancy not configured")
	}
	return f.occupancyFn(ctx, resourceID)
}

func (f *fakeBookingService) CreateBlock(ctx context.Context, in booking.CreateBlockInput) (domain.Block, error) {
	if f.createBlockFn == nil {
		panic("CreateBlock not configured")
	}
	return f.createBlockFn(ctx, in)
}

func (f *fakeBookingService) DeleteBlock(ctx context.Context, resourceID string, blockID uuid.UUID) error {
	if f.deleteBlockFn == nil {
		panic("DeleteBlock not configured")
	}
	return f.deleteBlockFn(ctx, resourceID, blockID)
}

func (f *fakeBookingService) AvailableSlots(ctx context.Context, resourceID, date string, serviceDuration time.Duration) ([]domain.Slot, error) {
	if f.availableSlotsFn == nil {
		panic("AvailableSlots not configured")
	}
	return f.availableSlotsFn(ctx, resourceID, date, serviceDuration)
}

func (f *fakeBookingService) CreateReservation(ctx context.Context, in booking.CreateReservationInput) (domain.Reservation, error) {
	if f.createFn == nil {
		panic("CreateReservation not configured")
	}
	return f.createFn(ctx, in)
}

func (f *fakeBookingService) ConfirmReservation(ctx context.Context, reservationID uuid.UUID) (domain.Reservation, error) {
	if f.confirmFn == nil {
		panic("ConfirmReservation not configured")
	}
	return f.confirmFn(ctx, reservationID)
}

func (f *fakeBookingService) CancelReservation(ctx context.Context, reservationID uuid.UUID) (domain.Reservation, error) {
	if f.cancelFn == nil {
		panic("CancelReservation not configured")
	}
	return f.cancelFn(ctx, reservationID)
}

func (f *fakeBookingService) JoinWaitlist(ctx context.Context, resourceID, requesterID string) (domain.WaitlistEntry, bool, error) {
	if f.joinWaitlistFn == nil {
		panic("JoinWaitlist not configured")
	}
	return f.joinWaitlistFn(ctx, resourceID, requesterID)
}

func newTestRouter(t *testing.T, svc *fakeBookingService) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	return NewServer(svc, nil).Router(nil)
}

func doJSON(t *testing.T, router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode body %q: %v", w.Body.String(), err)
	}
	return out
}

func TestHealthz(t *testing.T) {
	router := newTestRouter(t, &fakeBookingService{})
	w := doJSON(t, router, http.MethodGet, "/healthz", "")
	if w.Code != http.StatusOK {
		t.Fatalf("code = %d, want 200", w.Code)
	}
}

func TestCreateReservation_Created(t *testing.T) {
	id := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	svc := &fakeBookingService{
		createFn: func(ctx context.Context, in booking.CreateReservationInput) (domain.Reservation, error) {
			if in.ResourceID != "pro-1" || in.HolderID != "h1" {
				t.Fatalf("input = %+v", in)
			}
			if in.Duration != 50*time.Minute {
				t.Fatalf("duration = %v, want 50m", in.Duration)
			}
			return domain.Reservation{
				ID:         id,
				ResourceID: in.ResourceID,
				HolderID:   in.HolderID,
				StartTime:  in.StartTime,
				EndTime:    in.StartTime.Add(in.Duration),
				Status:     domain.ReservationStatusPending,
			}, nil
		},
	}
	router := newTestRouter(t, svc)

	w := doJSON(t, router, http.MethodPost, "/v1/reservations",
		`{"resource_id":"pro-1","holder_id":"h1","start_time":"2026-01-05T10:00:00Z","duration_minutes":50}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("code = %d, body = %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	if body["status"] != "pending" {
		t.Fatalf("status = %v, want pending", body["status"])
	}
	reservation, ok := body["reservation"].(map[string]any)
	if !ok {
		t.Fatalf("missing reservation object in %v", body)
	}
	if reservation["id"] != id.String() {
		t.Fatalf("id = %v, want %s", reservation["id"], id)
	}
}

func TestCreateReservation_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantCode   int
		wantReason string
	}{
		{name: "conflict", err: store.ErrConflict, wantCode: http.StatusConflict, wantReason: "slot_unavailable"},
		{name: "capacity full", err: store.ErrCapacityFull, wantCode: http.StatusConflict, wantReason: "slot_unavailable"},
		{name: "outside hours", err: store.ErrOutsideHours, wantCode: http.StatusUnprocessableEntity, wantReason: "outside_working_hours"},
		{name: "blocked", err: store.ErrBlocked, wantCode: http.StatusUnprocessableEntity, wantReason: "blocked"},
		{name: "unknown resource", err: store.ErrNotFound, wantCode: http.StatusNotFound},
		{name: "storage down", err: errors.New("connection refused"), wantCode: http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeBookingService{
				createFn: func(ctx context.Context, in booking.CreateReservationInput) (domain.Reservation, error) {
					return domain.Reservation{}, tt.err
				},
			}
			router := newTestRouter(t, svc)

			w := doJSON(t, router, http.MethodPost, "/v1/reservations",
				`{"resource_id":"pro-1","holder_id":"h1","start_time":"2026-01-05T10:00:00Z","duration_minutes":50}`)
			if w.Code != tt.wantCode {
				t.Fatalf("code = %d, want %d, body = %s", w.Code, tt.wantCode, w.Body.String())
			}
			if tt.wantReason != "" {
				body := decodeBody(t, w)
				if body["reason"] != tt.wantReason {
					t.Fatalf("reason = %v, want %q", body["reason"], tt.wantReason)
				}
			}
		})
	}
}

func TestCreateReservation_ConflictMessageIsGeneric(t *testing.T) {
	svc := &fakeBookingService{
		createFn: func(ctx context.Context, in booking.CreateReservationInput) (domain.Reservation, error) {
			return domain.Reservation{}, store.ErrConflict
		},
	}
	router := newTestRouter(t, svc)

	w := doJSON(t, router, http.MethodPost, "/v1/reservations",
		`{"resource_id":"pro-1","holder_id":"h1","start_time":"2026-01-05T10:00:00Z","duration_minutes":50}`)
	body := decodeBody(t, w)
	if body["error"] != "This time is no longer available. Please choose another." {
		t.Fatalf("error = %v, want the generic unavailability message", body["error"])
	}
}

func TestCreateReservation_InvalidBody(t *testing.T) {
	router := newTestRouter(t, &fakeBookingService{})
	w := doJSON(t, router, http.MethodPost, "/v1/reservations", `{"resource_id":"pro-1"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("code = %d, want 400", w.Code)
	}
}

func TestCreateReservation_ValidationError(t *testing.T) {
	svc := &fakeBookingService{
		createFn: func(ctx context.Context, in booking.CreateReservationInput) (domain.Reservation, error) {
			return domain.Reservation{}, &booking.ValidationError{}
		},
	}
	router := newTestRouter(t, svc)

	w := doJSON(t, router, http.MethodPost, "/v1/reservations",
		`{"resource_id":"pro-1","holder_id":"h1","start_time":"2026-01-05T10:00:00Z","duration_minutes":50}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("code = %d, want 400", w.Code)
	}
}

func TestConfirmReservation_InvalidID(t *testing.T) {
	router := newTestRouter(t, &fakeBookingService{})
	w := doJSON(t, router, http.MethodPost, "/v1/reservations/not-a-uuid/confirm", "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("code = %d, want 400", w.Code)
	}
}

func TestConfirmReservation_InvalidTransition(t *testing.T) {
	svc := &fakeBookingService{
		confirmFn: func(ctx context.Context, reservationID uuid.UUID) (domain.Reservation, error) {
			return domain.Reservation{}, store.ErrInvalidTransition
		},
	}
	router := newTestRouter(t, svc)

	w := doJSON(t, router, http.MethodPost,
		"/v1/reservations/00000000-0000-0000-0000-000000000001/confirm", "")
	if w.Code != http.StatusConflict {
		t.Fatalf("code = %d, want 409", w.Code)
	}
}

func TestCancelReservation_OK(t *testing.T) {
	id := uuid.MustParse("00000000-0000-0000-0000-000000000002")
	svc := &fakeBookingService{
		cancelFn: func(ctx context.Context, reservationID uuid.UUID) (domain.Reservation, error) {
			if reservationID != id {
				t.Fatalf("id = %s, want %s", reservationID, id)
			}
			return domain.Reservation{ID: id, Status: domain.ReservationStatusCancelled}, nil
		},
	}
	router := newTestRouter(t, svc)

	w := doJSON(t, router, http.MethodPost, "/v1/reservations/"+id.String()+"/cancel", "")
	if w.Code != http.StatusOK {
		t.Fatalf("code = %d, body = %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	if body["status"] != "cancelled" {
		t.Fatalf("status = %v, want cancelled", body["status"])
	}
}

func TestAvailableSlots(t *testing.T) {
	svc := &fakeBookingService{
		availableSlotsFn: func(ctx context.Context, resourceID, date string, serviceDuration time.Duration) ([]domain.Slot, error) {
			if resourceID != "pro-1" || date != "2026-01-05" || serviceDuration != 50*time.Minute {
				t.Fatalf("args = (%q, %q, %v)", resourceID, date, serviceDuration)
			}
			return []domain.Slot{{
				Start:  time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC),
				End:    time.Date(2026, 1, 5, 9, 50, 0, 0, time.UTC),
				Status: domain.SlotStatusAvailable,
			}}, nil
		},
	}
	router := newTestRouter(t, svc)

	w := doJSON(t, router, http.MethodGet, "/v1/resources/pro-1/slots?date=2026-01-05&duration=50m", "")
	if w.Code != http.StatusOK {
		t.Fatalf("code = %d, body = %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	slots, ok := body["slots"].([]any)
	if !ok || len(slots) != 1 {
		t.Fatalf("slots = %v, want one entry", body["slots"])
	}
}

func TestAvailableSlots_DurationRequired(t *testing.T) {
	router := newTestRouter(t, &fakeBookingService{})

	w := doJSON(t, router, http.MethodGet, "/v1/resources/pro-1/slots?date=2026-01-05", "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("code = %d, want 400", w.Code)
	}
	w = doJSON(t, router, http.MethodGet, "/v1/resources/pro-1/slots?date=2026-01-05&duration=soon", "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("code = %d, want 400", w.Code)
	}
}

func TestJoinWaitlist_StatusByCreation(t *testing.T) {
	entry := domain.WaitlistEntry{
		ID:          uuid.MustParse("00000000-0000-0000-0000-000000000003"),
		ResourceID:  "event-1",
		RequesterID: "w1",
		EnqueuedAt:  time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC),
	}

	for _, created := range []bool{true, false} {
		svc := &fakeBookingService{
			joinWaitlistFn: func(ctx context.Context, resourceID, requesterID string) (domain.WaitlistEntry, bool, error) {
				return entry, created, nil
			},
		}
		router := newTestRouter(t, svc)

		w := doJSON(t, router, http.MethodPost, "/v1/resources/event-1/waitlist", `{"requester_id":"w1"}`)
		wantCode := http.StatusOK
		if created {
			wantCode = http.StatusCreated
		}
		if w.Code != wantCode {
			t.Fatalf("created=%t: code = %d, want %d", created, w.Code, wantCode)
		}
		body := decodeBody(t, w)
		if body["enqueued"] != created {
			t.Fatalf("created=%t: enqueued = %v", created, body["enqueued"])
		}
	}
}

func TestGetResource_IncludesOccupancy(t *testing.T) {
	svc := &fakeBookingService{
		getResourceFn: func(ctx context.Context, resourceID string) (domain.Resource, error) {
			return domain.Resource{
				ID:       resourceID,
				Kind:     domain.ResourceKindEvent,
				Timezone: "UTC",
				Capacity: 5,
			}, nil
		},
		occupancyFn: func(ctx context.Context, resourceID string) (int, error) {
			return 3, nil
		},
	}
	router := newTestRouter(t, svc)

	w := doJSON(t, router, http.MethodGet, "/v1/resources/event-1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("code = %d, body = %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	if body["occupancy"] != float64(3) {
		t.Fatalf("occupancy = %v, want 3", body["occupancy"])
	}
	if body["has_capacity"] != true {
		t.Fatalf("has_capacity = %v, want true", body["has_capacity"])
	}
}

func TestDeleteBlock(t *testing.T) {
	blockID := uuid.MustParse("00000000-0000-0000-0000-000000000004")
	svc := &fakeBookingService{
		deleteBlockFn: func(ctx context.Context, resourceID string, id uuid.UUID) error {
			if resourceID != "pro-1" || id != blockID {
				t.Fatalf("args = (%q, %s)", resourceID, id)
			}
			return nil
		},
	}
	router := newTestRouter(t, svc)

	w := doJSON(t, router, http.MethodDelete, "/v1/resources/pro-1/blocks/"+blockID.String(), "")
	if w.Code != http.StatusNoContent {
		t.Fatalf("code = %d, want 204", w.Code)
	}

	w = doJSON(t, router, http.MethodDelete, "/v1/resources/pro-1/blocks/nope", "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("code = %d, want 400", w.Code)
	}
}
