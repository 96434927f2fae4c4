package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Sudo-psc/saraiva-vision-scheduling/services/scheduling-service/internal/cache"
	"github.com/Sudo-psc/saraiva-vision-scheduling/services/scheduling-service/internal/model"
	"github.com/Sudo-psc/saraiva-vision-scheduling/services/scheduling-service/internal/storage"
)

// ScheduleAdminStore is the slice of the schedule repository the admin
// surface writes through.
type ScheduleAdminStore interface {
	ListRules(ctx context.Context) ([]model.BusinessHourRule, error)
	ReplaceRules(ctx context.Context, rules []model.BusinessHourRule) error
	ListOverrides(ctx context.Context, from, to string) ([]model.DateOverride, error)
	CreateOverride(ctx context.Context, ov model.DateOverride) (string, error)
	DeleteOverride(ctx context.Context, id string) error
	CreateService(ctx context.Context, name string, durationMinutes int, description string) (string, error)
	ListServices(ctx context.Context, limit int) ([]model.ClinicService, error)
}

type AdminHandler struct {
	store  ScheduleAdminStore
	cache  *cache.Availability
	logger *slog.Logger
}

func NewAdminHandler(store ScheduleAdminStore, availCache *cache.Availability, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{store: store, cache: availCache, logger: logger}
}

type businessHourItem struct {
	ID        string `json:"id,omitempty"`
	Weekday   int    `json:"weekday"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

// BusinessHours serves GET (list) and PUT (replace the full week) on
// /api/admin/business-hours.
func (h *AdminHandler) BusinessHours(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.listBusinessHours(w, r)
	case http.MethodPut:
		h.replaceBusinessHours(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (h *AdminHandler) listBusinessHours(w http.ResponseWriter, r *http.Request) {
	rules, err := h.store.ListRules(r.Context())
	if err != nil {
		h.logger.Error("business hours list failed", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to list business hours")
		return
	}
	items := make([]businessHourItem, 0, len(rules))
	for _, rule := range rules {
		items = append(items, businessHourItem{
			ID:        rule.ID,
			Weekday:   rule.Weekday,
			StartTime: rule.StartTime,
			EndTime:   rule.EndTime,
		})
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *AdminHandler) replaceBusinessHours(w http.ResponseWriter, r *http.Request) {
	var items []businessHourItem
	if err := json.NewDecoder(r.Body).Decode(&items); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	rules := make([]model.BusinessHourRule, 0, len(items))
	for _, item := range items {
		if item.Weekday < 0 || item.Weekday > 6 {
			writeError(w, http.StatusBadRequest, "weekday must be 0 (Sunday) through 6 (Saturday)")
			return
		}
		if !validClockPair(item.StartTime, item.EndTime) {
			writeError(w, http.StatusBadRequest, "start_time and end_time must be HH:MM with start before end")
			return
		}
		rules = append(rules, model.BusinessHourRule{
			Weekday:   item.Weekday,
			StartTime: item.StartTime,
			EndTime:   item.EndTime,
		})
	}

	if err := h.store.ReplaceRules(r.Context(), rules); err != nil {
		h.logger.Error("business hours replace failed", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to replace business hours")
		return
	}
	// Rule changes affect every future date.
	h.cache.InvalidateAll(r.Context())
	writeJSON(w, http.StatusOK, map[string]int{"rules": len(rules)})
}

type overrideItem struct {
	ID          string `json:"id,omitempty"`
	Date        string `json:"date"`
	IsAvailable bool   `json:"is_available"`
	StartTime   string `json:"start_time,omitempty"`
	EndTime     string `json:"end_time,omitempty"`
	Reason      string `json:"reason,omitempty"`
	CreatedAt   string `json:"created_at,omitempty"`
}

// Overrides serves GET (list by range), POST (create), and DELETE (?id=) on
// /api/admin/overrides.
func (h *AdminHandler) Overrides(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.listOverrides(w, r)
	case http.MethodPost:
		h.createOverride(w, r)
	case http.MethodDelete:
		h.deleteOverride(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (h *AdminHandler) listOverrides(w http.ResponseWriter, r *http.Request) {
	from := strings.TrimSpace(r.URL.Query().Get("from"))
	to := strings.TrimSpace(r.URL.Query().Get("to"))
	if from == "" {
		from = time.Now().Format("2006-01-02")
	}
	if to == "" {
		to = time.Now().AddDate(0, 3, 0).Format("2006-01-02")
	}
	if !validDate(from) || !validDate(to) {
		writeError(w, http.StatusBadRequest, "from and to must be YYYY-MM-DD")
		return
	}

	overrides, err := h.store.ListOverrides(r.Context(), from, to)
	if err != nil {
		h.logger.Error("override list failed", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to list overrides")
		return
	}
	items := make([]overrideItem, 0, len(overrides))
	for _, ov := range overrides {
		items = append(items, overrideItem{
			ID:          ov.ID,
			Date:        ov.Date,
			IsAvailable: ov.IsAvailable,
			StartTime:   ov.StartTime,
			EndTime:     ov.EndTime,
			Reason:      ov.Reason,
			CreatedAt:   ov.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *AdminHandler) createOverride(w http.ResponseWriter, r *http.Request) {
	var item overrideItem
	if err := json.NewDecoder(r.Body).Decode(&item); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	item.Date = strings.TrimSpace(item.Date)
	item.StartTime = strings.TrimSpace(item.StartTime)
	item.EndTime = strings.TrimSpace(item.EndTime)

	if !validDate(item.Date) {
		writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}
	hasWindow := item.StartTime != "" || item.EndTime != ""
	if hasWindow {
		if !item.IsAvailable {
			writeError(w, http.StatusBadRequest, "a closed day cannot carry a custom window")
			return
		}
		if !validClockPair(item.StartTime, item.EndTime) {
			writeError(w, http.StatusBadRequest, "start_time and end_time must be HH:MM with start before end")
			return
		}
	}

	id, err := h.store.CreateOverride(r.Context(), model.DateOverride{
		Date:        item.Date,
		IsAvailable: item.IsAvailable,
		StartTime:   item.StartTime,
		EndTime:     item.EndTime,
		Reason:      strings.TrimSpace(item.Reason),
	})
	if err != nil {
		h.logger.Error("override create failed", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to create override")
		return
	}
	h.cache.InvalidateDate(r.Context(), item.Date)
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (h *AdminHandler) deleteOverride(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.URL.Query().Get("id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}
	if err := h.store.DeleteOverride(r.Context(), id); err != nil {
		if storage.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "override not found")
			return
		}
		h.logger.Error("override delete failed", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to delete override")
		return
	}
	// Without the override's date at hand, drop every cached date.
	h.cache.InvalidateAll(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

type serviceItem struct {
	ID              string `json:"id,omitempty"`
	Name            string `json:"name"`
	DurationMinutes int    `json:"duration_minutes"`
	Description     string `json:"description,omitempty"`
	CreatedAt       string `json:"created_at,omitempty"`
}

// Services serves GET (list) and POST (create) on /api/admin/services.
func (h *AdminHandler) Services(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.listServices(w, r)
	case http.MethodPost:
		h.createService(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (h *AdminHandler) listServices(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	services, err := h.store.ListServices(r.Context(), limit)
	if err != nil {
		h.logger.Error("service list failed", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to list services")
		return
	}
	items := make([]serviceItem, 0, len(services))
	for _, svc := range services {
		items = append(items, serviceItem{
			ID:              svc.ID,
			Name:            svc.Name,
			DurationMinutes: svc.DurationMins,
			Description:     svc.Description,
			CreatedAt:       svc.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *AdminHandler) createService(w http.ResponseWriter, r *http.Request) {
	var item serviceItem
	if err := json.NewDecoder(r.Body).Decode(&item); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	item.Name = strings.TrimSpace(item.Name)
	if item.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if item.DurationMinutes <= 0 || item.DurationMinutes > 8*60 {
		writeError(w, http.StatusBadRequest, "duration_minutes must be between 1 and 480")
		return
	}

	id, err := h.store.CreateService(r.Context(), item.Name, item.DurationMinutes, strings.TrimSpace(item.Description))
	if err != nil {
		h.logger.Error("service create failed", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to create service")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func validDate(s string) bool {
	_, err := time.Parse("2006-01-02", s)
	return err == nil
}

func validClockPair(start, end string) bool {
	s, err := time.Parse("15:04", start)
	if err != nil {
		return false
	}
	e, err := time.Parse("15:04", end)
	if err != nil {
		return false
	}
	return e.After(s)
}
