package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Kerhoff/studytrack/internal/repository"
)

type ledgerRepository struct {
	db *sql.DB
}

// NewReminderLedger creates a ledger backed by the sent_reminders table
func NewReminderLedger(db *sql.DB) repository.ReminderLedger {
	return &ledgerRepository{db: db}
}

func (r *ledgerRepository) WasSent(ctx context.Context, userID, eventID int64, day time.Time) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM sent_reminders
			WHERE user_id = $1 AND event_id = $2 AND sent_on = $3::date
		)`

	var sent bool
	if err := r.db.QueryRowContext(ctx, query, userID, eventID, dateParam(day)).Scan(&sent); err != nil {
		return false, fmt.Errorf("failed to check reminder ledger: %w", err)
	}

	return sent, nil
}

func (r *ledgerRepository) MarkSent(ctx context.Context, userID, eventID int64, day time.Time) error {
	query := `
		INSERT INTO sent_reminders (user_id, event_id, sent_on, sent_at)
		VALUES ($1, $2, $3::date, $4)
		ON CONFLICT (user_id, event_id, sent_on) DO NOTHING`

	if _, err := r.db.ExecContext(ctx, query, userID, eventID, dateParam(day), time.Now()); err != nil {
		return fmt.Errorf("failed to record sent reminder: %w", err)
	}

	return nil
}
