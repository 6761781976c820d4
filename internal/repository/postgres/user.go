package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Kerhoff/studytrack/internal/models"
	"github.com/Kerhoff/studytrack/internal/repository"
)

const userColumns = `id, username, email, calendar, reminders_enabled, digest_enabled, created_at, updated_at`

type userRepository struct {
	db *sql.DB
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *sql.DB) repository.UserRepository {
	return &userRepository{db: db}
}

// Create inserts the user and points its calendar at the table name derived
// from the generated ID. The table itself is provisioned separately.
func (r *userRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now

	err = tx.QueryRowContext(ctx, `
		INSERT INTO users (username, email, calendar, reminders_enabled, digest_enabled, created_at, updated_at)
		VALUES ($1, $2, '', $3, $4, $5, $6)
		RETURNING id`,
		user.Username,
		user.Email,
		user.RemindersEnabled,
		user.DigestEnabled,
		user.CreatedAt,
		user.UpdatedAt,
	).Scan(&user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	user.Calendar = models.CalendarTableName(user.ID)
	if _, err := tx.ExecContext(ctx, `UPDATE users SET calendar = $2 WHERE id = $1`, user.ID, user.Calendar); err != nil {
		return nil, fmt.Errorf("failed to set user calendar: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit user: %w", err)
	}

	return user, nil
}

func (r *userRepository) GetByID(ctx context.Context, id int64) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	user, err := scanUser(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get user by ID: %w", err)
	}

	return user, nil
}

func (r *userRepository) Delete(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: user with ID %d", repository.ErrNotFound, id)
	}

	return nil
}

func (r *userRepository) UpdatePreferences(ctx context.Context, id int64, prefs repository.Preferences) (*models.User, error) {
	query := `
		UPDATE users
		SET reminders_enabled = COALESCE($2, reminders_enabled),
		    digest_enabled = COALESCE($3, digest_enabled),
		    updated_at = $4
		WHERE id = $1
		RETURNING ` + userColumns

	user, err := scanUser(r.db.QueryRowContext(ctx, query,
		id,
		nullBool(prefs.RemindersEnabled),
		nullBool(prefs.DigestEnabled),
		time.Now(),
	))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to update user preferences: %w", err)
	}

	return user, nil
}

func (r *userRepository) ListWithReminders(ctx context.Context) ([]*models.User, error) {
	return r.list(ctx, `SELECT `+userColumns+` FROM users WHERE reminders_enabled = true ORDER BY id ASC`)
}

func (r *userRepository) ListWithDigest(ctx context.Context) ([]*models.User, error) {
	return r.list(ctx, `SELECT `+userColumns+` FROM users WHERE digest_enabled = true ORDER BY id ASC`)
}

func (r *userRepository) list(ctx context.Context, query string) ([]*models.User, error) {
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	var users []*models.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, user)
	}

	return users, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*models.User, error) {
	user := &models.User{}
	err := row.Scan(
		&user.ID,
		&user.Username,
		&user.Email,
		&user.Calendar,
		&user.RemindersEnabled,
		&user.DigestEnabled,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return user, nil
}

func nullBool(b *bool) sql.NullBool {
	if b == nil {
		return sql.NullBool{}
	}
	return sql.NullBool{Bool: *b, Valid: true}
}
