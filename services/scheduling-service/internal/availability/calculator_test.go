package availability

import (
	"errors"
	"testing"
	"time"

	"github.com/Sudo-psc/saraiva-vision-scheduling/services/scheduling-service/internal/model"
)

var saoPaulo = mustLoadLocation("America/Sao_Paulo")

func mustLoadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

// 2026-03-02 is a Monday.
func monday(t *testing.T) time.Time {
	t.Helper()
	return time.Date(2026, 3, 2, 0, 0, 0, 0, saoPaulo)
}

func at(day time.Time, hour, minute int) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, day.Location())
}

func mondayRule(start, end string) model.BusinessHourRule {
	return model.BusinessHourRule{Weekday: 1, StartTime: start, EndTime: end}
}

func TestSlots_FullMorningBlock(t *testing.T) {
	day := monday(t)
	slots, err := Slots(day, saoPaulo, []model.BusinessHourRule{mondayRule("08:00", "10:00")}, nil, nil, 30*time.Minute)
	if err != nil {
		t.Fatalf("Slots: %v", err)
	}
	want := []Slot{
		{Start: at(day, 8, 0), End: at(day, 8, 30)},
		{Start: at(day, 8, 30), End: at(day, 9, 0)},
		{Start: at(day, 9, 0), End: at(day, 9, 30)},
		{Start: at(day, 9, 30), End: at(day, 10, 0)},
	}
	assertSlots(t, slots, want)
}

func TestSlots_BookedIntervalRemovesSlot(t *testing.T) {
	day := monday(t)
	booked := []Interval{{Start: at(day, 9, 0), End: at(day, 9, 30)}}
	slots, err := Slots(day, saoPaulo, []model.BusinessHourRule{mondayRule("08:00", "10:00")}, nil, booked, 30*time.Minute)
	if err != nil {
		t.Fatalf("Slots: %v", err)
	}
	want := []Slot{
		{Start: at(day, 8, 0), End: at(day, 8, 30)},
		{Start: at(day, 8, 30), End: at(day, 9, 0)},
		{Start: at(day, 9, 30), End: at(day, 10, 0)},
	}
	assertSlots(t, slots, want)
}

func TestSlots_ClosedOverrideWinsOverEverything(t *testing.T) {
	day := monday(t)
	overrides := []model.DateOverride{{Date: "2026-03-02", IsAvailable: false}}
	slots, err := Slots(day, saoPaulo, []model.BusinessHourRule{mondayRule("08:00", "18:00")}, overrides, nil, 30*time.Minute)
	if err != nil {
		t.Fatalf("Slots: %v", err)
	}
	if len(slots) != 0 {
		t.Fatalf("expected no slots on a closed day, got %d", len(slots))
	}
	if slots == nil {
		t.Fatal("expected empty (non-nil) slot list")
	}
}

func TestSlots_OverridePeriodReplacesRules(t *testing.T) {
	day := monday(t)
	overrides := []model.DateOverride{{Date: "2026-03-02", IsAvailable: true, StartTime: "14:00", EndTime: "15:00"}}
	slots, err := Slots(day, saoPaulo, []model.BusinessHourRule{mondayRule("08:00", "10:00")}, overrides, nil, 30*time.Minute)
	if err != nil {
		t.Fatalf("Slots: %v", err)
	}
	want := []Slot{
		{Start: at(day, 14, 0), End: at(day, 14, 30)},
		{Start: at(day, 14, 30), End: at(day, 15, 0)},
	}
	assertSlots(t, slots, want)
}

func TestSlots_OverrideForOtherDateIgnored(t *testing.T) {
	day := monday(t)
	overrides := []model.DateOverride{{Date: "2026-03-03", IsAvailable: false}}
	slots, err := Slots(day, saoPaulo, []model.BusinessHourRule{mondayRule("08:00", "09:00")}, overrides, nil, 30*time.Minute)
	if err != nil {
		t.Fatalf("Slots: %v", err)
	}
	if len(slots) != 2 {
		t.Fatalf("expected 2 slots, got %d", len(slots))
	}
}

func TestSlots_RemainderShorterThanDurationDropped(t *testing.T) {
	day := monday(t)
	slots, err := Slots(day, saoPaulo, []model.BusinessHourRule{mondayRule("08:00", "08:50")}, nil, nil, 30*time.Minute)
	if err != nil {
		t.Fatalf("Slots: %v", err)
	}
	want := []Slot{{Start: at(day, 8, 0), End: at(day, 8, 30)}}
	assertSlots(t, slots, want)
}

func TestSlots_AbuttingAppointmentIsNotAConflict(t *testing.T) {
	day := monday(t)
	// Appointment 08:30-09:00: the 08:00-08:30 and 09:00-09:30 slots abut it
	// on either side and must both survive.
	booked := []Interval{{Start: at(day, 8, 30), End: at(day, 9, 0)}}
	slots, err := Slots(day, saoPaulo, []model.BusinessHourRule{mondayRule("08:00", "09:30")}, nil, booked, 30*time.Minute)
	if err != nil {
		t.Fatalf("Slots: %v", err)
	}
	want := []Slot{
		{Start: at(day, 8, 0), End: at(day, 8, 30)},
		{Start: at(day, 9, 0), End: at(day, 9, 30)},
	}
	assertSlots(t, slots, want)
}

func TestSlots_MultipleRulesKeepSupplyOrder(t *testing.T) {
	day := monday(t)
	rules := []model.BusinessHourRule{
		mondayRule("08:00", "09:00"),
		mondayRule("14:00", "15:00"),
	}
	slots, err := Slots(day, saoPaulo, rules, nil, nil, 60*time.Minute)
	if err != nil {
		t.Fatalf("Slots: %v", err)
	}
	want := []Slot{
		{Start: at(day, 8, 0), End: at(day, 9, 0)},
		{Start: at(day, 14, 0), End: at(day, 15, 0)},
	}
	assertSlots(t, slots, want)
}

func TestSlots_AppointmentSpanningSeveralSlots(t *testing.T) {
	day := monday(t)
	booked := []Interval{{Start: at(day, 8, 15), End: at(day, 9, 15)}}
	slots, err := Slots(day, saoPaulo, []model.BusinessHourRule{mondayRule("08:00", "10:00")}, nil, booked, 30*time.Minute)
	if err != nil {
		t.Fatalf("Slots: %v", err)
	}
	// 08:00, 08:30 and 09:00 all touch the booked range; only 09:30 is free.
	want := []Slot{{Start: at(day, 9, 30), End: at(day, 10, 0)}}
	assertSlots(t, slots, want)
}

func TestSlots_Deterministic(t *testing.T) {
	day := monday(t)
	rules := []model.BusinessHourRule{mondayRule("08:00", "12:00")}
	booked := []Interval{{Start: at(day, 9, 0), End: at(day, 10, 0)}}

	first, err := Slots(day, saoPaulo, rules, nil, booked, 30*time.Minute)
	if err != nil {
		t.Fatalf("Slots: %v", err)
	}
	second, err := Slots(day, saoPaulo, rules, nil, booked, 30*time.Minute)
	if err != nil {
		t.Fatalf("Slots: %v", err)
	}
	assertSlots(t, second, first)
}

func TestSlots_NoOverlapAmongResults(t *testing.T) {
	day := monday(t)
	rules := []model.BusinessHourRule{
		mondayRule("08:00", "12:00"),
		mondayRule("14:00", "18:00"),
	}
	booked := []Interval{
		{Start: at(day, 8, 30), End: at(day, 9, 0)},
		{Start: at(day, 15, 0), End: at(day, 16, 30)},
	}
	slots, err := Slots(day, saoPaulo, rules, nil, booked, 30*time.Minute)
	if err != nil {
		t.Fatalf("Slots: %v", err)
	}
	for i := 1; i < len(slots); i++ {
		if slots[i].Start.Before(slots[i-1].End) {
			t.Fatalf("slots %d and %d overlap: %v / %v", i-1, i, slots[i-1], slots[i])
		}
	}
	for _, s := range slots {
		if overlapsAny(s.Start, s.End, booked) {
			t.Fatalf("slot %v overlaps a booked interval", s)
		}
	}
}

func TestSlots_InvalidDuration(t *testing.T) {
	day := monday(t)
	if _, err := Slots(day, saoPaulo, nil, nil, nil, 0); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if _, err := Slots(day, saoPaulo, nil, nil, nil, -time.Minute); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestSlots_MalformedClockTime(t *testing.T) {
	day := monday(t)
	rules := []model.BusinessHourRule{mondayRule("8am", "10:00")}
	if _, err := Slots(day, saoPaulo, rules, nil, nil, 30*time.Minute); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}

	overrides := []model.DateOverride{{Date: "2026-03-02", IsAvailable: true, StartTime: "14:00", EndTime: "25:99"}}
	if _, err := Slots(day, saoPaulo, nil, overrides, nil, 30*time.Minute); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestSlots_FullyBookedDay(t *testing.T) {
	day := monday(t)
	booked := []Interval{{Start: at(day, 8, 0), End: at(day, 10, 0)}}
	slots, err := Slots(day, saoPaulo, []model.BusinessHourRule{mondayRule("08:00", "10:00")}, nil, booked, 30*time.Minute)
	if err != nil {
		t.Fatalf("Slots: %v", err)
	}
	if len(slots) != 0 {
		t.Fatalf("expected no slots, got %d", len(slots))
	}
}

func assertSlots(t *testing.T, got, want []Slot) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("expected %d slots, got %d: %v", len(want), len(got), got)
	}
	for i := range want {
		if !got[i].Start.Equal(want[i].Start) || !got[i].End.Equal(want[i].End) {
			t.Fatalf("slot %d: expected %v-%v, got %v-%v", i,
				want[i].Start.Format(time.RFC3339), want[i].End.Format(time.RFC3339),
				got[i].Start.Format(time.RFC3339), got[i].End.Format(time.RFC3339))
		}
	}
}
