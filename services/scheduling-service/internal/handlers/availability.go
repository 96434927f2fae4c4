package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Sudo-psc/saraiva-vision-scheduling/services/scheduling-service/internal/availability"
	"github.com/Sudo-psc/saraiva-vision-scheduling/services/scheduling-service/internal/cache"
	"github.com/Sudo-psc/saraiva-vision-scheduling/services/scheduling-service/internal/model"
	"github.com/Sudo-psc/saraiva-vision-scheduling/services/scheduling-service/internal/storage"
)

// ScheduleStore is the slice of the schedule repository the availability
// handler reads from.
type ScheduleStore interface {
	RulesForWeekday(ctx context.Context, weekday int) ([]model.BusinessHourRule, error)
	OverridesForDate(ctx context.Context, date string) ([]model.DateOverride, error)
	ServiceDuration(ctx context.Context, serviceID string) (int, error)
}

// AppointmentReader loads the confirmed appointments overlapping a window.
type AppointmentReader interface {
	ConfirmedBetween(ctx context.Context, start, end time.Time) ([]model.Appointment, error)
}

type AvailabilityHandler struct {
	schedule        ScheduleStore
	appointments    AppointmentReader
	cache           *cache.Availability
	logger          *slog.Logger
	loc             *time.Location
	defaultDuration time.Duration
}

func NewAvailabilityHandler(schedule ScheduleStore, appointments AppointmentReader, availCache *cache.Availability, logger *slog.Logger, loc *time.Location, defaultDuration time.Duration) *AvailabilityHandler {
	if defaultDuration <= 0 {
		defaultDuration = 30 * time.Minute
	}
	return &AvailabilityHandler{
		schedule:        schedule,
		appointments:    appointments,
		cache:           availCache,
		logger:          logger,
		loc:             loc,
		defaultDuration: defaultDuration,
	}
}

type slotItem struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type availabilityResponse struct {
	Availability    []slotItem `json:"availability"`
	Date            string     `json:"date"`
	ServiceDuration int        `json:"serviceDuration"`
}

// Get serves GET /api/availability?date=YYYY-MM-DD&serviceId=<optional>.
func (h *AvailabilityHandler) Get(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	dateStr := strings.TrimSpace(r.URL.Query().Get("date"))
	if dateStr == "" {
		writeError(w, http.StatusBadRequest, "date is required")
		return
	}
	day, err := time.ParseInLocation("2006-01-02", dateStr, h.loc)
	if err != nil {
		writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}
	serviceID := strings.TrimSpace(r.URL.Query().Get("serviceId"))

	ctx := r.Context()
	if payload, ok := h.cache.Get(ctx, dateStr, serviceID); ok {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(payload)
		return
	}

	duration := h.defaultDuration
	if serviceID != "" {
		mins, err := h.schedule.ServiceDuration(ctx, serviceID)
		if err != nil {
			if storage.IsNotFound(err) {
				writeError(w, http.StatusBadRequest, "unknown service")
				return
			}
			h.logger.Error("service duration lookup failed", "service_id", serviceID, "err", err)
			writeError(w, http.StatusInternalServerError, "failed to load service")
			return
		}
		duration = time.Duration(mins) * time.Minute
	}

	rules, err := h.schedule.RulesForWeekday(ctx, int(day.Weekday()))
	if err != nil {
		h.logger.Error("business hours load failed", "date", dateStr, "err", err)
		writeError(w, http.StatusInternalServerError, "failed to load business hours")
		return
	}
	overrides, err := h.schedule.OverridesForDate(ctx, dateStr)
	if err != nil {
		h.logger.Error("overrides load failed", "date", dateStr, "err", err)
		writeError(w, http.StatusInternalServerError, "failed to load date overrides")
		return
	}

	dayStart := day
	dayEnd := day.AddDate(0, 0, 1)
	appts, err := h.appointments.ConfirmedBetween(ctx, dayStart, dayEnd)
	if err != nil {
		h.logger.Error("appointments load failed", "date", dateStr, "err", err)
		writeError(w, http.StatusInternalServerError, "failed to load appointments")
		return
	}
	booked := make([]availability.Interval, 0, len(appts))
	for _, a := range appts {
		booked = append(booked, availability.Interval{Start: a.StartTime, End: a.EndTime})
	}

	slots, err := availability.Slots(day, h.loc, rules, overrides, booked, duration)
	if err != nil {
		if errors.Is(err, availability.ErrInvalidInput) {
			// Malformed stored clock times or a non-positive service duration;
			// the request itself was fine.
			h.logger.Error("availability computation rejected stored data", "date", dateStr, "err", err)
		} else {
			h.logger.Error("availability computation failed", "date", dateStr, "err", err)
		}
		writeError(w, http.StatusInternalServerError, "failed to compute availability")
		return
	}

	resp := availabilityResponse{
		Availability:    make([]slotItem, 0, len(slots)),
		Date:            dateStr,
		ServiceDuration: int(duration / time.Minute),
	}
	for _, s := range slots {
		resp.Availability = append(resp.Availability, slotItem{
			Start: s.Start.Format(time.RFC3339),
			End:   s.End.Format(time.RFC3339),
		})
	}

	body, err := json.Marshal(resp)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to build response")
		return
	}
	h.cache.Set(ctx, dateStr, serviceID, body)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}
