package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Sudo-psc/saraiva-vision-scheduling/services/scheduling-service/internal/cache"
	"github.com/Sudo-psc/saraiva-vision-scheduling/services/scheduling-service/internal/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeSchedule struct {
	rules     []model.BusinessHourRule
	overrides []model.DateOverride
	durations map[string]int
	err       error
}

func (f *fakeSchedule) RulesForWeekday(_ context.Context, weekday int) ([]model.BusinessHourRule, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []model.BusinessHourRule
	for _, r := range f.rules {
		if r.Weekday == weekday {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeSchedule) OverridesForDate(_ context.Context, date string) ([]model.DateOverride, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []model.DateOverride
	for _, ov := range f.overrides {
		if ov.Date == date {
			out = append(out, ov)
		}
	}
	return out, nil
}

func (f *fakeSchedule) ServiceDuration(_ context.Context, serviceID string) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	mins, ok := f.durations[serviceID]
	if !ok {
		return 0, pgx.ErrNoRows
	}
	return mins, nil
}

type fakeAppointments struct {
	appts []model.Appointment
	err   error
}

func (f *fakeAppointments) ConfirmedBetween(_ context.Context, start, end time.Time) ([]model.Appointment, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []model.Appointment
	for _, a := range f.appts {
		if a.StartTime.Before(end) && start.Before(a.EndTime) {
			out = append(out, a)
		}
	}
	return out, nil
}

func newAvailabilityHandler(t *testing.T, schedule *fakeSchedule, appts *fakeAppointments) *AvailabilityHandler {
	t.Helper()
	loc, err := time.LoadLocation("America/Sao_Paulo")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	return NewAvailabilityHandler(schedule, appts, cache.New(nil, 0, nil), discardLogger(), loc, 30*time.Minute)
}

func getAvailability(t *testing.T, h *AvailabilityHandler, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	h.Get(rec, req)
	return rec
}

func decodeAvailability(t *testing.T, rec *httptest.ResponseRecorder) availabilityResponse {
	t.Helper()
	var resp availabilityResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v (body %s)", err, rec.Body.String())
	}
	return resp
}

func TestAvailabilityMissingDate(t *testing.T) {
	h := newAvailabilityHandler(t, &fakeSchedule{}, &fakeAppointments{})
	rec := getAvailability(t, h, "/api/availability")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || body["error"] == "" {
		t.Fatalf("expected json error body, got %s", rec.Body.String())
	}
}

func TestAvailabilityMalformedDate(t *testing.T) {
	h := newAvailabilityHandler(t, &fakeSchedule{}, &fakeAppointments{})
	rec := getAvailability(t, h, "/api/availability?date=02-03-2026")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestAvailabilityDefaultDuration(t *testing.T) {
	schedule := &fakeSchedule{
		rules: []model.BusinessHourRule{
			{Weekday: 1, StartTime: "08:00", EndTime: "12:00"},
		},
	}
	h := newAvailabilityHandler(t, schedule, &fakeAppointments{})

	// 2026-03-02 is a Monday.
	rec := getAvailability(t, h, "/api/availability?date=2026-03-02")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", rec.Code, rec.Body.String())
	}
	resp := decodeAvailability(t, rec)
	if resp.Date != "2026-03-02" {
		t.Fatalf("date = %q, want 2026-03-02", resp.Date)
	}
	if resp.ServiceDuration != 30 {
		t.Fatalf("serviceDuration = %d, want 30", resp.ServiceDuration)
	}
	if len(resp.Availability) != 8 {
		t.Fatalf("got %d slots, want 8", len(resp.Availability))
	}
	if resp.Availability[0].Start != "2026-03-02T08:00:00-03:00" {
		t.Fatalf("first slot start = %q", resp.Availability[0].Start)
	}
	if resp.Availability[0].End != "2026-03-02T08:30:00-03:00" {
		t.Fatalf("first slot end = %q", resp.Availability[0].End)
	}
}

func TestAvailabilityServiceDuration(t *testing.T) {
	schedule := &fakeSchedule{
		rules: []model.BusinessHourRule{
			{Weekday: 1, StartTime: "08:00", EndTime: "12:00"},
		},
		durations: map[string]int{"svc-exam": 60},
	}
	h := newAvailabilityHandler(t, schedule, &fakeAppointments{})

	rec := getAvailability(t, h, "/api/availability?date=2026-03-02&serviceId=svc-exam")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	resp := decodeAvailability(t, rec)
	if resp.ServiceDuration != 60 {
		t.Fatalf("serviceDuration = %d, want 60", resp.ServiceDuration)
	}
	if len(resp.Availability) != 4 {
		t.Fatalf("got %d slots, want 4", len(resp.Availability))
	}
}

func TestAvailabilityUnknownService(t *testing.T) {
	h := newAvailabilityHandler(t, &fakeSchedule{}, &fakeAppointments{})
	rec := getAvailability(t, h, "/api/availability?date=2026-03-02&serviceId=nope")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestAvailabilityBookedSlotExcluded(t *testing.T) {
	loc, _ := time.LoadLocation("America/Sao_Paulo")
	schedule := &fakeSchedule{
		rules: []model.BusinessHourRule{
			{Weekday: 1, StartTime: "08:00", EndTime: "10:00"},
		},
	}
	appts := &fakeAppointments{
		appts: []model.Appointment{{
			StartTime: time.Date(2026, 3, 2, 8, 30, 0, 0, loc),
			EndTime:   time.Date(2026, 3, 2, 9, 0, 0, 0, loc),
			Status:    "confirmed",
		}},
	}
	h := newAvailabilityHandler(t, schedule, appts)

	rec := getAvailability(t, h, "/api/availability?date=2026-03-02")
	resp := decodeAvailability(t, rec)
	if len(resp.Availability) != 3 {
		t.Fatalf("got %d slots, want 3", len(resp.Availability))
	}
	for _, s := range resp.Availability {
		if s.Start == "2026-03-02T08:30:00-03:00" {
			t.Fatalf("booked slot still offered")
		}
	}
}

func TestAvailabilityClosedOverrideEmptyArray(t *testing.T) {
	schedule := &fakeSchedule{
		rules: []model.BusinessHourRule{
			{Weekday: 1, StartTime: "08:00", EndTime: "12:00"},
		},
		overrides: []model.DateOverride{
			{Date: "2026-03-02", IsAvailable: false, Reason: "feriado"},
		},
	}
	h := newAvailabilityHandler(t, schedule, &fakeAppointments{})

	rec := getAvailability(t, h, "/api/availability?date=2026-03-02")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	resp := decodeAvailability(t, rec)
	if resp.Availability == nil || len(resp.Availability) != 0 {
		t.Fatalf("availability = %v, want empty non-null array", resp.Availability)
	}
	// The wire form must be [] rather than null.
	if !json.Valid(rec.Body.Bytes()) || !containsEmptyArray(rec.Body.String()) {
		t.Fatalf("body %s does not carry an empty array", rec.Body.String())
	}
}

func containsEmptyArray(body string) bool {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		return false
	}
	return string(raw["availability"]) == "[]"
}

func TestAvailabilityStoreErrorIs500(t *testing.T) {
	schedule := &fakeSchedule{err: errors.New("connection refused")}
	h := newAvailabilityHandler(t, schedule, &fakeAppointments{})

	rec := getAvailability(t, h, "/api/availability?date=2026-03-02")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || body["error"] == "" {
		t.Fatalf("expected json error body, got %s", rec.Body.String())
	}
}

func TestAvailabilityMalformedStoredClockIs500(t *testing.T) {
	schedule := &fakeSchedule{
		rules: []model.BusinessHourRule{
			{Weekday: 1, StartTime: "8am", EndTime: "12:00"},
		},
	}
	h := newAvailabilityHandler(t, schedule, &fakeAppointments{})

	rec := getAvailability(t, h, "/api/availability?date=2026-03-02")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}
