package repository

import (
	"context"
	"errors"
	"time"

	"github.com/Kerhoff/studytrack/internal/models"
)

// UserRepository defines the interface for user data operations
type UserRepository interface {
	Create(ctx context.Context, user *models.User) (*models.User, error)
	GetByID(ctx context.Context, id int64) (*models.User, error)
	UpdatePreferences(ctx context.Context, id int64, prefs Preferences) (*models.User, error)
	Delete(ctx context.Context, id int64) error
	// ListWithReminders returns every user that opted in to event reminders.
	ListWithReminders(ctx context.Context) ([]*models.User, error)
	// ListWithDigest returns every user that opted in to the daily digest.
	ListWithDigest(ctx context.Context) ([]*models.User, error)
}

// EventRepository defines the interface for per-user calendar tables. Every
// method takes the table name stored in models.User.Calendar.
type EventRepository interface {
	EnsureTable(ctx context.Context, table string) error
	Create(ctx context.Context, table string, event *models.Event) (*models.Event, error)
	List(ctx context.Context, table string, filters EventFilters) ([]*models.Event, error)
	Complete(ctx context.Context, table string, id int64) error
	Delete(ctx context.Context, table string, id int64) error
	// DueForReminder returns the incomplete events whose reminder offset
	// lands exactly on today.
	DueForReminder(ctx context.Context, table string, today time.Time) ([]*models.Event, error)
	// InWindow returns the incomplete events dated between from and to
	// inclusive, ordered by date and time.
	InWindow(ctx context.Context, table string, from, to time.Time) ([]*models.Event, error)
}

// ReminderLedger records which event reminders already went out on a given day
type ReminderLedger interface {
	WasSent(ctx context.Context, userID, eventID int64, day time.Time) (bool, error)
	MarkSent(ctx context.Context, userID, eventID int64, day time.Time) error
}

// Preferences holds the notification flags a user can toggle. Nil fields are
// left unchanged.
type Preferences struct {
	RemindersEnabled *bool
	DigestEnabled    *bool
}

// EventFilters represents filters for listing calendar events
type EventFilters struct {
	From          *time.Time
	To            *time.Time
	IncludeClosed bool
	Limit         int
}

// ErrNotFound is returned by mutations that matched no row
var ErrNotFound = errors.New("not found")
