package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/lib/pq"

	"github.com/Kerhoff/studytrack/internal/models"
	"github.com/Kerhoff/studytrack/internal/repository"
)

// ErrInvalidTable is returned when a calendar reference is not a plain
// lower-case SQL identifier.
var ErrInvalidTable = errors.New("invalid calendar table name")

var tableNamePattern = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

const eventColumns = `id, event_name, event_date, event_time, event_type, class_department, class_id, priority, is_completed, reminder_offset_days`

type eventRepository struct {
	db *sql.DB
}

// NewEventRepository creates a repository over the per-user calendar tables
func NewEventRepository(db *sql.DB) repository.EventRepository {
	return &eventRepository{db: db}
}

// quoteTable validates and quotes a calendar table name. Identifiers cannot be
// bound as query parameters, so this is the only thing standing between a
// users.calendar value and the SQL text.
func quoteTable(table string) (string, error) {
	if !tableNamePattern.MatchString(table) {
		return "", fmt.Errorf("%w: %q", ErrInvalidTable, table)
	}
	return pq.QuoteIdentifier(table), nil
}

func dateParam(t time.Time) string {
	return models.Day(t).Format(models.DateLayout)
}

func (r *eventRepository) EnsureTable(ctx context.Context, table string) error {
	quoted, err := quoteTable(table)
	if err != nil {
		return err
	}

	stmt := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id BIGSERIAL PRIMARY KEY,
			event_name TEXT NOT NULL,
			event_date DATE NOT NULL,
			event_time TIME,
			event_type TEXT NOT NULL DEFAULT 'other',
			class_department TEXT NOT NULL DEFAULT '',
			class_id TEXT NOT NULL DEFAULT '',
			priority TEXT NOT NULL DEFAULT '',
			is_completed BOOLEAN NOT NULL DEFAULT false,
			reminder_offset_days INTEGER NOT NULL DEFAULT 1 CHECK (reminder_offset_days >= 0)
		)`, quoted)

	if _, err := r.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("failed to create calendar table %s: %w", table, err)
	}

	return nil
}

func (r *eventRepository) Create(ctx context.Context, table string, event *models.Event) (*models.Event, error) {
	quoted, err := quoteTable(table)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (event_name, event_date, event_time, event_type, class_department, class_id, priority, is_completed, reminder_offset_days)
		VALUES ($1, $2::date, $3::time, $4, $5, $6, $7, $8, $9)
		RETURNING id`, quoted)

	var eventTime sql.NullString
	if event.Time != nil {
		eventTime = sql.NullString{String: *event.Time, Valid: true}
	}

	err = r.db.QueryRowContext(ctx, query,
		event.Name,
		dateParam(event.Date),
		eventTime,
		event.Type,
		event.ClassDepartment,
		event.ClassID,
		event.Priority,
		event.IsCompleted,
		event.ReminderOffsetDays,
	).Scan(&event.ID)

	if err != nil {
		return nil, fmt.Errorf("failed to create event: %w", err)
	}

	return event, nil
}

func (r *eventRepository) List(ctx context.Context, table string, filters repository.EventFilters) ([]*models.Event, error) {
	quoted, err := quoteTable(table)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`SELECT %s FROM %s WHERE true`, eventColumns, quoted)
	args := []interface{}{}
	argIdx := 1

	if !filters.IncludeClosed {
		query += " AND is_completed = false"
	}
	if filters.From != nil {
		query += fmt.Sprintf(" AND event_date >= $%d::date", argIdx)
		args = append(args, dateParam(*filters.From))
		argIdx++
	}
	if filters.To != nil {
		query += fmt.Sprintf(" AND event_date <= $%d::date", argIdx)
		args = append(args, dateParam(*filters.To))
		argIdx++
	}

	query += " ORDER BY event_date ASC, event_time ASC NULLS FIRST"

	if filters.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, filters.Limit)
	}

	return r.query(ctx, query, args...)
}

func (r *eventRepository) Complete(ctx context.Context, table string, id int64) error {
	quoted, err := quoteTable(table)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`UPDATE %s SET is_completed = true WHERE id = $1`, quoted)
	return r.execOne(ctx, query, id, "complete")
}

func (r *eventRepository) Delete(ctx context.Context, table string, id int64) error {
	quoted, err := quoteTable(table)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, quoted)
	return r.execOne(ctx, query, id, "delete")
}

func (r *eventRepository) DueForReminder(ctx context.Context, table string, today time.Time) ([]*models.Event, error) {
	quoted, err := quoteTable(table)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE is_completed = false
		  AND reminder_offset_days > 0
		  AND (event_date - $1::date) = reminder_offset_days
		ORDER BY event_date ASC, event_time ASC NULLS FIRST`, eventColumns, quoted)

	return r.query(ctx, query, dateParam(today))
}

func (r *eventRepository) InWindow(ctx context.Context, table string, from, to time.Time) ([]*models.Event, error) {
	quoted, err := quoteTable(table)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE is_completed = false
		  AND event_date BETWEEN $1::date AND $2::date
		ORDER BY event_date ASC, event_time ASC NULLS FIRST`, eventColumns, quoted)

	return r.query(ctx, query, dateParam(from), dateParam(to))
}

func (r *eventRepository) query(ctx context.Context, query string, args ...interface{}) ([]*models.Event, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []*models.Event
	for rows.Next() {
		event := &models.Event{}
		var eventTime sql.NullString
		if err := rows.Scan(
			&event.ID,
			&event.Name,
			&event.Date,
			&eventTime,
			&event.Type,
			&event.ClassDepartment,
			&event.ClassID,
			&event.Priority,
			&event.IsCompleted,
			&event.ReminderOffsetDays,
		); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		if eventTime.Valid {
			// TIME columns come back as HH:MM:SS
			at := eventTime.String
			if len(at) > 5 {
				at = at[:5]
			}
			event.Time = &at
		}
		events = append(events, event)
	}

	return events, rows.Err()
}

func (r *eventRepository) execOne(ctx context.Context, query string, id int64, op string) error {
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to %s event: %w", op, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("%w: event with ID %d", repository.ErrNotFound, id)
	}

	return nil
}
