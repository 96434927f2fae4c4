package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Sudo-psc/saraiva-vision-scheduling/services/scheduling-service/internal/availability"
	"github.com/Sudo-psc/saraiva-vision-scheduling/services/scheduling-service/internal/cache"
	"github.com/Sudo-psc/saraiva-vision-scheduling/services/scheduling-service/internal/model"
	"github.com/Sudo-psc/saraiva-vision-scheduling/services/scheduling-service/internal/outbox"
	"github.com/Sudo-psc/saraiva-vision-scheduling/services/scheduling-service/internal/storage"
)

type BookingHandler struct {
	repo            *storage.AppointmentRepository
	schedule        ScheduleStore
	outboxRepo      *outbox.Repository
	cache           *cache.Availability
	logger          *slog.Logger
	loc             *time.Location
	defaultDuration time.Duration
}

func NewBookingHandler(repo *storage.AppointmentRepository, schedule ScheduleStore, outboxRepo *outbox.Repository, availCache *cache.Availability, logger *slog.Logger, loc *time.Location, defaultDuration time.Duration) *BookingHandler {
	if defaultDuration <= 0 {
		defaultDuration = 30 * time.Minute
	}
	return &BookingHandler{
		repo:            repo,
		schedule:        schedule,
		outboxRepo:      outboxRepo,
		cache:           availCache,
		logger:          logger,
		loc:             loc,
		defaultDuration: defaultDuration,
	}
}

type bookRequest struct {
	ServiceID    string `json:"service_id"`
	PatientName  string `json:"patient_name"`
	PatientEmail string `json:"patient_email"`
	PatientPhone string `json:"patient_phone"`
	StartTime    string `json:"start_time"`
}

type bookResponse struct {
	AppointmentID string `json:"appointment_id"`
	StartTime     string `json:"start_time"`
	EndTime       string `json:"end_time"`
}

// Book serves POST /api/appointments. The requested start must be one of the
// free slots the availability calculator would return for that date; the
// exclusion constraint on confirmed appointments backstops concurrent
// bookings of the same slot.
func (h *BookingHandler) Book(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req bookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	req.ServiceID = strings.TrimSpace(req.ServiceID)
	req.PatientName = strings.TrimSpace(req.PatientName)
	req.PatientEmail = strings.TrimSpace(req.PatientEmail)
	req.PatientPhone = strings.TrimSpace(req.PatientPhone)

	if req.PatientName == "" {
		writeError(w, http.StatusBadRequest, "patient_name is required")
		return
	}
	if req.PatientEmail == "" && req.PatientPhone == "" {
		writeError(w, http.StatusBadRequest, "patient_email or patient_phone is required")
		return
	}
	start, err := time.Parse(time.RFC3339, req.StartTime)
	if err != nil {
		writeError(w, http.StatusBadRequest, "start_time must be RFC 3339")
		return
	}
	start = start.In(h.loc)

	ctx := r.Context()
	duration := h.defaultDuration
	if req.ServiceID != "" {
		mins, err := h.schedule.ServiceDuration(ctx, req.ServiceID)
		if err != nil {
			if storage.IsNotFound(err) {
				writeError(w, http.StatusBadRequest, "unknown service")
				return
			}
			h.logger.Error("service duration lookup failed", "service_id", req.ServiceID, "err", err)
			writeError(w, http.StatusInternalServerError, "failed to load service")
			return
		}
		duration = time.Duration(mins) * time.Minute
	}
	end := start.Add(duration)

	ok, err := h.startIsBookable(r, start, duration)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to check availability")
		return
	}
	if !ok {
		writeError(w, http.StatusUnprocessableEntity, "requested time is not available")
		return
	}

	appt := &model.Appointment{
		ServiceID:    req.ServiceID,
		PatientName:  req.PatientName,
		PatientEmail: req.PatientEmail,
		PatientPhone: req.PatientPhone,
		StartTime:    start,
		EndTime:      end,
		Status:       "confirmed",
	}

	tx, err := h.repo.Begin(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "db error")
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	id, err := h.repo.Create(ctx, tx, appt)
	if err != nil {
		if storage.IsConflict(err) {
			writeError(w, http.StatusConflict, "time slot already booked")
			return
		}
		h.logger.Error("appointment insert failed", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to create appointment")
		return
	}

	payload, err := json.Marshal(map[string]any{
		"appointment_id": id,
		"service_id":     appt.ServiceID,
		"patient_email":  appt.PatientEmail,
		"patient_phone":  appt.PatientPhone,
		"start_time":     appt.StartTime.UTC().Format(time.RFC3339),
		"end_time":       appt.EndTime.UTC().Format(time.RFC3339),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to build event payload")
		return
	}
	if err := h.outboxRepo.Insert(ctx, tx, outbox.Event{
		AggregateType: "appointment",
		AggregateID:   id,
		EventType:     outbox.EventAppointmentBooked,
		Payload:       payload,
	}); err != nil {
		h.logger.Error("outbox insert failed", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to write outbox event")
		return
	}

	if err := tx.Commit(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to commit")
		return
	}
	h.cache.InvalidateDate(ctx, start.Format("2006-01-02"))

	writeJSON(w, http.StatusCreated, bookResponse{
		AppointmentID: id,
		StartTime:     appt.StartTime.Format(time.RFC3339),
		EndTime:       appt.EndTime.Format(time.RFC3339),
	})
}

// startIsBookable recomputes the free slots for the requested date and checks
// the requested start matches one of them exactly.
func (h *BookingHandler) startIsBookable(r *http.Request, start time.Time, duration time.Duration) (bool, error) {
	ctx := r.Context()
	dateStr := start.Format("2006-01-02")
	day := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, h.loc)

	rules, err := h.schedule.RulesForWeekday(ctx, int(day.Weekday()))
	if err != nil {
		return false, err
	}
	overrides, err := h.schedule.OverridesForDate(ctx, dateStr)
	if err != nil {
		return false, err
	}
	appts, err := h.repo.ConfirmedBetween(ctx, day, day.AddDate(0, 0, 1))
	if err != nil {
		return false, err
	}
	booked := make([]availability.Interval, 0, len(appts))
	for _, a := range appts {
		booked = append(booked, availability.Interval{Start: a.StartTime, End: a.EndTime})
	}

	slots, err := availability.Slots(day, h.loc, rules, overrides, booked, duration)
	if err != nil {
		return false, err
	}
	for _, s := range slots {
		if s.Start.Equal(start) {
			return true, nil
		}
	}
	return false, nil
}

type appointmentItem struct {
	AppointmentID string `json:"appointment_id"`
	ServiceID     string `json:"service_id,omitempty"`
	PatientName   string `json:"patient_name"`
	PatientEmail  string `json:"patient_email,omitempty"`
	PatientPhone  string `json:"patient_phone,omitempty"`
	StartTime     string `json:"start_time"`
	EndTime       string `json:"end_time"`
	Status        string `json:"status"`
	CancelledAt   string `json:"cancelled_at,omitempty"`
	CreatedAt     string `json:"created_at"`
}

// List serves GET /api/admin/appointments.
func (h *BookingHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	limit := 50
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	appts, err := h.repo.List(r.Context(), limit)
	if err != nil {
		h.logger.Error("appointment list failed", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to list appointments")
		return
	}

	items := make([]appointmentItem, 0, len(appts))
	for _, a := range appts {
		item := appointmentItem{
			AppointmentID: a.ID,
			ServiceID:     a.ServiceID,
			PatientName:   a.PatientName,
			PatientEmail:  a.PatientEmail,
			PatientPhone:  a.PatientPhone,
			StartTime:     a.StartTime.In(h.loc).Format(time.RFC3339),
			EndTime:       a.EndTime.In(h.loc).Format(time.RFC3339),
			Status:        a.Status,
			CreatedAt:     a.CreatedAt.UTC().Format(time.RFC3339),
		}
		if a.CancelledAt != nil {
			item.CancelledAt = a.CancelledAt.UTC().Format(time.RFC3339)
		}
		items = append(items, item)
	}
	writeJSON(w, http.StatusOK, items)
}

type cancelRequest struct {
	AppointmentID string `json:"appointment_id"`
	Reason        string `json:"reason"`
}

type cancelResponse struct {
	AppointmentID string `json:"appointment_id"`
	Status        string `json:"status"`
	CancelledAt   string `json:"cancelled_at"`
}

// Cancel serves POST /api/admin/appointments/cancel. Cancelling an already
// cancelled appointment returns the original cancellation, not an error.
func (h *BookingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	req.AppointmentID = strings.TrimSpace(req.AppointmentID)
	req.Reason = strings.TrimSpace(req.Reason)
	if req.AppointmentID == "" {
		writeError(w, http.StatusBadRequest, "appointment_id is required")
		return
	}

	ctx := r.Context()
	tx, err := h.repo.Begin(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "db error")
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	appt, err := h.repo.GetForUpdate(ctx, tx, req.AppointmentID)
	if err != nil {
		if storage.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "appointment not found")
			return
		}
		h.logger.Error("appointment load failed", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to load appointment")
		return
	}

	if appt.Status == "cancelled" && appt.CancelledAt != nil {
		writeJSON(w, http.StatusOK, cancelResponse{
			AppointmentID: appt.ID,
			Status:        "cancelled",
			CancelledAt:   appt.CancelledAt.UTC().Format(time.RFC3339),
		})
		return
	}

	cancelledAt, err := h.repo.Cancel(ctx, tx, appt.ID, req.Reason)
	if err != nil {
		h.logger.Error("appointment cancel failed", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to cancel appointment")
		return
	}

	payload, err := json.Marshal(map[string]any{
		"appointment_id": appt.ID,
		"service_id":     appt.ServiceID,
		"start_time":     appt.StartTime.UTC().Format(time.RFC3339),
		"end_time":       appt.EndTime.UTC().Format(time.RFC3339),
		"cancelled_at":   cancelledAt.UTC().Format(time.RFC3339),
		"reason":         req.Reason,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to build event payload")
		return
	}
	if err := h.outboxRepo.Insert(ctx, tx, outbox.Event{
		AggregateType: "appointment",
		AggregateID:   appt.ID,
		EventType:     outbox.EventAppointmentCancelled,
		Payload:       payload,
	}); err != nil {
		h.logger.Error("outbox insert failed", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to write outbox event")
		return
	}

	if err := tx.Commit(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to commit")
		return
	}
	h.cache.InvalidateDate(ctx, appt.StartTime.In(h.loc).Format("2006-01-02"))

	writeJSON(w, http.StatusOK, cancelResponse{
		AppointmentID: appt.ID,
		Status:        "cancelled",
		CancelledAt:   cancelledAt.UTC().Format(time.RFC3339),
	})
}
