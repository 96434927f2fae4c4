package model

import "time"

type Appointment struct {
	ID           string
	ServiceID    string
	PatientName  string
	PatientEmail string
	PatientPhone string
	StartTime    time.Time
	EndTime      time.Time
	Status       string // confirmed | cancelled
	CancelledAt  *time.Time
	CancelReason string
	CreatedAt    time.Time
}
