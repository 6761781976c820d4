package models

import (
	"sort"
	"time"
)

// EventType enumerates the kinds of academic calendar events
type EventType string

const (
	EventTypeDueDate    EventType = "due_date"
	EventTypeExam       EventType = "exam"
	EventTypeQuiz       EventType = "quiz"
	EventTypeAssignment EventType = "assignment"
	EventTypeProject    EventType = "project"
	EventTypeOther      EventType = "other"
)

// DigestWindowDays is how many days past today the daily digest looks ahead.
const DigestWindowDays = 7

// DateLayout is the wire format for event dates.
const DateLayout = "2006-01-02"

// Valid reports whether t is one of the known event types
func (t EventType) Valid() bool {
	switch t {
	case EventTypeDueDate, EventTypeExam, EventTypeQuiz,
		EventTypeAssignment, EventTypeProject, EventTypeOther:
		return true
	}
	return false
}

// Event represents a single entry in a user's academic calendar
type Event struct {
	ID                 int64     `json:"id" db:"id"`
	Name               string    `json:"event_name" db:"event_name"`
	Date               time.Time `json:"event_date" db:"event_date"`
	Time               *string   `json:"event_time,omitempty" db:"event_time"`
	Type               EventType `json:"event_type" db:"event_type"`
	ClassDepartment    string    `json:"class_department,omitempty" db:"class_department"`
	ClassID            string    `json:"class_id,omitempty" db:"class_id"`
	Priority           string    `json:"priority,omitempty" db:"priority"`
	IsCompleted        bool      `json:"is_completed" db:"is_completed"`
	ReminderOffsetDays int       `json:"reminder_offset_days" db:"reminder_offset_days"`
}

// Day truncates t to its calendar date. Only the year, month and day of t in
// its own location are kept, so no time zone conversion takes place.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DayDiff returns the number of calendar days from b to a.
func DayDiff(a, b time.Time) int {
	return int(Day(a).Sub(Day(b)).Hours() / 24)
}

// DaysUntil returns how many calendar days remain between today and the event.
func (e *Event) DaysUntil(today time.Time) int {
	return DayDiff(e.Date, today)
}

// ReminderDue reports whether a reminder for the event should go out on today.
func (e *Event) ReminderDue(today time.Time) bool {
	if e.IsCompleted || e.ReminderOffsetDays <= 0 {
		return false
	}
	return e.DaysUntil(today) == e.ReminderOffsetDays
}

// InDigestWindow reports whether the event belongs in the digest sent on today.
func (e *Event) InDigestWindow(today time.Time) bool {
	if e.IsCompleted {
		return false
	}
	d := e.DaysUntil(today)
	return d >= 0 && d <= DigestWindowDays
}

// DateString formats the event date for display and JSON payloads.
func (e *Event) DateString() string {
	return e.Date.Format(DateLayout)
}

// SortByDateTime orders events by date, then time of day. Events without a
// time come first within their day.
func SortByDateTime(events []*Event) {
	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if da, db := Day(a.Date), Day(b.Date); !da.Equal(db) {
			return da.Before(db)
		}
		switch {
		case a.Time == nil:
			return b.Time != nil
		case b.Time == nil:
			return false
		}
		return *a.Time < *b.Time
	})
}
