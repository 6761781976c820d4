package models

import (
	"strconv"
	"time"
)

// User represents a student account and its notification preferences
type User struct {
	ID               int64     `json:"id" db:"id"`
	Username         string    `json:"username" db:"username"`
	Email            string    `json:"email" db:"email"`
	Calendar         string    `json:"calendar" db:"calendar"`
	RemindersEnabled bool      `json:"reminders_enabled" db:"reminders_enabled"`
	DigestEnabled    bool      `json:"digest_enabled" db:"digest_enabled"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time `json:"updated_at" db:"updated_at"`
}

// CalendarTableName returns the name of the event table provisioned for
// the user with the given ID.
func CalendarTableName(userID int64) string {
	return "calendar_user_" + strconv.FormatInt(userID, 10)
}

// DisplayName is the name used to greet the user in emails. Accounts
// without a username fall back to their email address.
func (u *User) DisplayName() string {
	if u.Username != "" {
		return u.Username
	}
	return u.Email
}
