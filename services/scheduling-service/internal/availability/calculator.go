// Package availability computes the bookable slots for one calendar date
// from the clinic's weekday business-hour rules, date overrides, and already
// confirmed appointments. It is a pure computation: no I/O, no clock reads,
// deterministic for identical inputs.
package availability

import (
	"errors"
	"fmt"
	"time"

	"github.com/Sudo-psc/saraiva-vision-scheduling/services/scheduling-service/internal/model"
)

var ErrInvalidInput = errors.New("invalid input")

// Interval is a half-open [Start, End) time range.
type Interval struct {
	Start time.Time
	End   time.Time
}

// Slot is a bookable window; End is always Start plus the slot duration.
type Slot struct {
	Start time.Time
	End   time.Time
}

// Slots returns the free slots for the calendar date of day (interpreted in
// loc), ordered by working period then chronologically within each period.
//
// Working periods come from the first override matching the date, if any:
// a closed override empties the day, an override with both clock times
// replaces the weekday rules with that single period. Otherwise each rule is
// one period, in the order supplied. The caller pre-filters rules to the
// date's weekday and overrides/booked intervals to the date; the override
// date is still re-checked here.
//
// The cursor steps by the slot duration through each period and a candidate
// is dropped when it overlaps a booked interval. Intervals are half-open, so
// a slot ending exactly when an appointment starts does not conflict.
func Slots(day time.Time, loc *time.Location, rules []model.BusinessHourRule, overrides []model.DateOverride, booked []Interval, duration time.Duration) ([]Slot, error) {
	if duration <= 0 {
		return nil, fmt.Errorf("%w: slot duration must be positive", ErrInvalidInput)
	}
	if loc == nil {
		loc = day.Location()
	}
	local := day.In(loc)
	year, month, dayOfMonth := local.Date()
	dateStr := local.Format("2006-01-02")

	periods, closed, err := workingPeriods(dateStr, year, month, dayOfMonth, loc, rules, overrides)
	if err != nil {
		return nil, err
	}
	if closed {
		return []Slot{}, nil
	}

	slots := []Slot{}
	for _, p := range periods {
		for cursor := p.Start; !cursor.Add(duration).After(p.End); cursor = cursor.Add(duration) {
			end := cursor.Add(duration)
			if !overlapsAny(cursor, end, booked) {
				slots = append(slots, Slot{Start: cursor, End: end})
			}
		}
	}
	return slots, nil
}

func workingPeriods(dateStr string, year int, month time.Month, dayOfMonth int, loc *time.Location, rules []model.BusinessHourRule, overrides []model.DateOverride) ([]Interval, bool, error) {
	for _, ov := range overrides {
		if ov.Date != dateStr {
			continue
		}
		if !ov.IsAvailable {
			return nil, true, nil
		}
		if ov.StartTime != "" && ov.EndTime != "" {
			p, err := period(year, month, dayOfMonth, loc, ov.StartTime, ov.EndTime)
			if err != nil {
				return nil, false, err
			}
			// The override period replaces the weekday rules entirely.
			return []Interval{p}, false, nil
		}
		// Available override without a custom window: weekday rules apply.
		break
	}

	periods := make([]Interval, 0, len(rules))
	for _, rule := range rules {
		p, err := period(year, month, dayOfMonth, loc, rule.StartTime, rule.EndTime)
		if err != nil {
			return nil, false, err
		}
		periods = append(periods, p)
	}
	return periods, false, nil
}

func period(year int, month time.Month, day int, loc *time.Location, startClock, endClock string) (Interval, error) {
	startH, startM, err := parseClock(startClock)
	if err != nil {
		return Interval{}, err
	}
	endH, endM, err := parseClock(endClock)
	if err != nil {
		return Interval{}, err
	}
	return Interval{
		Start: time.Date(year, month, day, startH, startM, 0, 0, loc),
		End:   time.Date(year, month, day, endH, endM, 0, 0, loc),
	}, nil
}

func parseClock(s string) (hour int, minute int, err error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: malformed clock time %q", ErrInvalidInput, s)
	}
	return t.Hour(), t.Minute(), nil
}

func overlapsAny(start, end time.Time, booked []Interval) bool {
	for _, b := range booked {
		// Half-open intervals: [start,end) overlaps [b.Start,b.End) iff
		// start < b.End && b.Start < end. Abutting intervals do not overlap.
		if start.Before(b.End) && b.Start.Before(end) {
			return true
		}
	}
	return false
}
