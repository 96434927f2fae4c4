package storage

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/Sudo-psc/saraiva-vision-scheduling/libs/db"
	"github.com/Sudo-psc/saraiva-vision-scheduling/services/scheduling-service/internal/model"
)

// ScheduleRepository reads and maintains the clinic's business-hour rules,
// date overrides, and bookable services.
type ScheduleRepository struct {
	pool *db.Pool
}

func NewScheduleRepository(pool *db.Pool) *ScheduleRepository {
	return &ScheduleRepository{pool: pool}
}

func (r *ScheduleRepository) RulesForWeekday(ctx context.Context, weekday int) ([]model.BusinessHourRule, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id::text, weekday, start_time, end_time
		FROM business_hours
		WHERE weekday = $1
		ORDER BY start_time ASC
	`, weekday)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.BusinessHourRule
	for rows.Next() {
		var rule model.BusinessHourRule
		if err := rows.Scan(&rule.ID, &rule.Weekday, &rule.StartTime, &rule.EndTime); err != nil {
			return nil, err
		}
		out = append(out, rule)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func (r *ScheduleRepository) ListRules(ctx context.Context) ([]model.BusinessHourRule, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id::text, weekday, start_time, end_time
		FROM business_hours
		ORDER BY weekday ASC, start_time ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.BusinessHourRule
	for rows.Next() {
		var rule model.BusinessHourRule
		if err := rows.Scan(&rule.ID, &rule.Weekday, &rule.StartTime, &rule.EndTime); err != nil {
			return nil, err
		}
		out = append(out, rule)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

// ReplaceRules swaps the full weekly rule set atomically; the admin UI always
// submits the complete week.
func (r *ScheduleRepository) ReplaceRules(ctx context.Context, rules []model.BusinessHourRule) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM business_hours`); err != nil {
		return err
	}
	for _, rule := range rules {
		if _, err := tx.Exec(ctx, `
			INSERT INTO business_hours (id, weekday, start_time, end_time)
			VALUES ($1, $2, $3, $4)
		`, uuid.NewString(), rule.Weekday, rule.StartTime, rule.EndTime); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// OverridesForDate returns the overrides for one date, most recently created
// first. When duplicates exist the calculator uses the first match, so the
// newest override deterministically wins.
func (r *ScheduleRepository) OverridesForDate(ctx context.Context, date string) ([]model.DateOverride, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id::text, to_char(date, 'YYYY-MM-DD'), is_available,
			COALESCE(start_time, ''), COALESCE(end_time, ''), COALESCE(reason, ''), created_at
		FROM date_overrides
		WHERE date = $1::date
		ORDER BY created_at DESC
	`, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOverrides(rows)
}

func (r *ScheduleRepository) ListOverrides(ctx context.Context, from, to string) ([]model.DateOverride, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id::text, to_char(date, 'YYYY-MM-DD'), is_available,
			COALESCE(start_time, ''), COALESCE(end_time, ''), COALESCE(reason, ''), created_at
		FROM date_overrides
		WHERE date >= $1::date AND date <= $2::date
		ORDER BY date ASC, created_at DESC
	`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOverrides(rows)
}

func (r *ScheduleRepository) CreateOverride(ctx context.Context, ov model.DateOverride) (string, error) {
	id := uuid.NewString()
	_, err := r.pool.Exec(ctx, `
		INSERT INTO date_overrides (id, date, is_available, start_time, end_time, reason)
		VALUES ($1, $2::date, $3, NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''))
	`, id, ov.Date, ov.IsAvailable, ov.StartTime, ov.EndTime, ov.Reason)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (r *ScheduleRepository) DeleteOverride(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM date_overrides WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *ScheduleRepository) CreateService(ctx context.Context, name string, durationMinutes int, description string) (string, error) {
	id := uuid.NewString()
	_, err := r.pool.Exec(ctx, `
		INSERT INTO clinic_services (id, name, duration_minutes, description)
		VALUES ($1, $2, $3, $4)
	`, id, name, durationMinutes, description)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (r *ScheduleRepository) ListServices(ctx context.Context, limit int) ([]model.ClinicService, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id::text, name, duration_minutes, COALESCE(description, ''), created_at
		FROM clinic_services
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ClinicService
	for rows.Next() {
		var svc model.ClinicService
		if err := rows.Scan(&svc.ID, &svc.Name, &svc.DurationMins, &svc.Description, &svc.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, svc)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func (r *ScheduleRepository) ServiceDuration(ctx context.Context, serviceID string) (int, error) {
	var mins int
	err := r.pool.QueryRow(ctx, `
		SELECT duration_minutes
		FROM clinic_services
		WHERE id = $1
	`, serviceID).Scan(&mins)
	return mins, err
}

func scanOverrides(rows pgx.Rows) ([]model.DateOverride, error) {
	var out []model.DateOverride
	for rows.Next() {
		var ov model.DateOverride
		if err := rows.Scan(&ov.ID, &ov.Date, &ov.IsAvailable, &ov.StartTime, &ov.EndTime, &ov.Reason, &ov.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, ov)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
