package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/Sudo-psc/saraiva-vision-scheduling/libs/db"
	"github.com/Sudo-psc/saraiva-vision-scheduling/services/scheduling-service/internal/model"
)

type AppointmentRepository struct {
	pool *db.Pool
}

func NewAppointmentRepository(pool *db.Pool) *AppointmentRepository {
	return &AppointmentRepository{pool: pool}
}

func (r *AppointmentRepository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

// Create inserts a confirmed appointment. The exclusion constraint on
// appointments rejects overlapping confirmed rows, which IsConflict maps for
// the handler.
func (r *AppointmentRepository) Create(ctx context.Context, tx pgx.Tx, appt *model.Appointment) (string, error) {
	var id string
	err := tx.QueryRow(ctx, `
		INSERT INTO appointments
			(service_id, patient_name, patient_email, patient_phone, start_time, end_time, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id::text
	`, nullIfEmpty(appt.ServiceID), appt.PatientName, appt.PatientEmail, appt.PatientPhone,
		appt.StartTime, appt.EndTime, appt.Status).Scan(&id)
	if err != nil {
		return "", err
	}
	return id, nil
}

// ConfirmedBetween returns confirmed appointments overlapping [start, end).
// Cancelled appointments never block a slot.
func (r *AppointmentRepository) ConfirmedBetween(ctx context.Context, start, end time.Time) ([]model.Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id::text, COALESCE(service_id::text, ''), patient_name, patient_email, patient_phone,
			start_time, end_time, status, cancelled_at, COALESCE(cancellation_reason, ''), created_at
		FROM appointments
		WHERE status = 'confirmed'
			AND start_time < $2
			AND end_time > $1
		ORDER BY start_time ASC
	`, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAppointments(rows)
}

func (r *AppointmentRepository) List(ctx context.Context, limit int) ([]model.Appointment, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id::text, COALESCE(service_id::text, ''), patient_name, patient_email, patient_phone,
			start_time, end_time, status, cancelled_at, COALESCE(cancellation_reason, ''), created_at
		FROM appointments
		ORDER BY start_time DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAppointments(rows)
}

func (r *AppointmentRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, appointmentID string) (model.Appointment, error) {
	rows, err := tx.Query(ctx, `
		SELECT id::text, COALESCE(service_id::text, ''), patient_name, patient_email, patient_phone,
			start_time, end_time, status, cancelled_at, COALESCE(cancellation_reason, ''), created_at
		FROM appointments
		WHERE id = $1
		FOR UPDATE
	`, appointmentID)
	if err != nil {
		return model.Appointment{}, err
	}
	defer rows.Close()

	appts, err := scanAppointments(rows)
	if err != nil {
		return model.Appointment{}, err
	}
	if len(appts) == 0 {
		return model.Appointment{}, pgx.ErrNoRows
	}
	return appts[0], nil
}

func (r *AppointmentRepository) Cancel(ctx context.Context, tx pgx.Tx, appointmentID, reason string) (time.Time, error) {
	var cancelledAt time.Time
	err := tx.QueryRow(ctx, `
		UPDATE appointments
		SET status = 'cancelled',
			cancelled_at = now(),
			cancellation_reason = $2
		WHERE id = $1
		RETURNING cancelled_at
	`, appointmentID, reason).Scan(&cancelledAt)
	return cancelledAt, err
}

func scanAppointments(rows pgx.Rows) ([]model.Appointment, error) {
	var out []model.Appointment
	for rows.Next() {
		var appt model.Appointment
		var cancelledAt *time.Time
		if err := rows.Scan(
			&appt.ID,
			&appt.ServiceID,
			&appt.PatientName,
			&appt.PatientEmail,
			&appt.PatientPhone,
			&appt.StartTime,
			&appt.EndTime,
			&appt.Status,
			&cancelledAt,
			&appt.CancelReason,
			&appt.CreatedAt,
		); err != nil {
			return nil, err
		}
		appt.CancelledAt = cancelledAt
		out = append(out, appt)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// IsConflict reports whether err is the exclusion-constraint violation raised
// when two confirmed appointments overlap.
func IsConflict(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23P01"
}
