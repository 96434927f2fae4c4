package model

import "time"

// BusinessHourRule is a recurring working period for one weekday. A weekday
// may have several rules (e.g. a morning and an afternoon block).
type BusinessHourRule struct {
	ID        string
	Weekday   int    // 0 = Sunday .. 6 = Saturday
	StartTime string // "HH:MM", clinic-local
	EndTime   string // "HH:MM", clinic-local
}

// DateOverride is an exception for a single calendar date: either the clinic
// is closed all day (IsAvailable false), or a custom working period replaces
// the weekday rules (both clock times set).
type DateOverride struct {
	ID          string
	Date        string // "YYYY-MM-DD", clinic-local
	IsAvailable bool
	StartTime   string // optional "HH:MM"
	EndTime     string // optional "HH:MM"
	Reason      string
	CreatedAt   time.Time
}

// ClinicService is a bookable exam or consultation type; its duration sets
// the slot granularity for availability queries.
type ClinicService struct {
	ID           string
	Name         string
	DurationMins int
	Description  string
	CreatedAt    time.Time
}
