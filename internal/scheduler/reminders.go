package scheduler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/atomic"

	"github.com/Kerhoff/studytrack/internal/metrics"
	"github.com/Kerhoff/studytrack/internal/models"
)

// PreviewUser identifies the recipient of a previewed reminder
type PreviewUser struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// PreviewEvent is the subset of an event shown in a reminder preview
type PreviewEvent struct {
	ID                 int64            `json:"id"`
	Name               string           `json:"name"`
	Date               string           `json:"date"`
	Type               models.EventType `json:"type"`
	ReminderOffsetDays int              `json:"reminder_offset_days"`
}

// ReminderPreview lists the reminders one user would receive today
type ReminderPreview struct {
	User   PreviewUser    `json:"user"`
	Events []PreviewEvent `json:"events"`
}

// CheckSendReminders sends today's reminders to every user with reminders
// enabled. Failures for a single user or event are logged and counted; only
// a failure to list users ends the sweep early.
func (e *Engine) CheckSendReminders(ctx context.Context) (SweepResult, error) {
	res := SweepResult{Kind: metrics.KindReminder}
	if err := e.ready(); err != nil {
		return res, err
	}
	if !e.acquire(res.Kind, &e.reminderBusy) {
		return res, ErrSweepInProgress
	}
	defer e.reminderBusy.Store(false)

	start := e.now()
	e.logger.WithField("sweep", res.Kind).Info("Checking for event reminders")

	users, err := e.deps.Users.ListWithReminders(ctx)
	if err != nil {
		err = fmt.Errorf("failed to list users with reminders enabled: %w", err)
		e.metrics.Failure(res.Kind, metrics.StageUsers)
		e.finish(ctx, &res, start, err)
		return res, err
	}

	var processed, sent, eventFailures atomic.Int64
	userFailures := e.forEachUser(ctx, res.Kind, users, func(ctx context.Context, u *models.User) error {
		n, failed, err := e.processUserReminders(ctx, u, e.today())
		sent.Add(int64(n))
		eventFailures.Add(int64(failed))
		if err != nil {
			return err
		}
		processed.Inc()
		return nil
	})

	res.UsersProcessed = int(processed.Load())
	res.Sent = int(sent.Load())
	res.Failures = userFailures + int(eventFailures.Load())
	e.finish(ctx, &res, start, nil)
	return res, nil
}

// processUserReminders dispatches every reminder due today for one user. It
// returns how many were sent and how many failed to send; the error is only
// set when the user's events could not be loaded.
func (e *Engine) processUserReminders(ctx context.Context, u *models.User, today time.Time) (int, int, error) {
	log := userLogger(e.logger, metrics.KindReminder, u)

	events, err := e.dueEvents(ctx, u, today)
	if err != nil {
		return 0, 0, err
	}

	sent, failed := 0, 0
	for _, ev := range events {
		evLog := log.WithField("event_id", ev.ID)

		if e.alreadySent(ctx, u, ev, today) {
			evLog.Debug("Reminder already sent today, skipping")
			continue
		}

		daysUntil := ev.DaysUntil(today)
		if err := e.deps.Dispatcher.SendEventReminder(ctx, u.Email, u.DisplayName(), ev, daysUntil); err != nil {
			failed++
			e.metrics.Failure(metrics.KindReminder, metrics.StageDispatch)
			evLog.WithError(err).Error("Failed to send event reminder")
			continue
		}

		sent++
		e.metrics.NotificationSent(metrics.KindReminder)
		evLog.WithField("days_until", daysUntil).Info("Event reminder sent")
		e.markSent(ctx, u, ev, today)
	}

	return sent, failed, nil
}

// dueEvents loads the user's events and keeps only those whose reminder is
// due on today.
func (e *Engine) dueEvents(ctx context.Context, u *models.User, today time.Time) ([]*models.Event, error) {
	events, err := e.deps.Events.DueForReminder(ctx, u.Calendar, today)
	if err != nil {
		return nil, fmt.Errorf("failed to load due events from %s: %w", u.Calendar, err)
	}

	due := make([]*models.Event, 0, len(events))
	for _, ev := range events {
		if ev.ReminderDue(today) {
			due = append(due, ev)
		}
	}
	return due, nil
}

func (e *Engine) alreadySent(ctx context.Context, u *models.User, ev *models.Event, today time.Time) bool {
	if !e.cfg.Dedup || e.deps.Ledger == nil {
		return false
	}
	sent, err := e.deps.Ledger.WasSent(ctx, u.ID, ev.ID, today)
	if err != nil {
		userLogger(e.logger, metrics.KindReminder, u).WithField("event_id", ev.ID).WithError(err).
			Warn("Reminder ledger lookup failed, sending anyway")
		return false
	}
	return sent
}

func (e *Engine) markSent(ctx context.Context, u *models.User, ev *models.Event, today time.Time) {
	if !e.cfg.Dedup || e.deps.Ledger == nil {
		return
	}
	if err := e.deps.Ledger.MarkSent(ctx, u.ID, ev.ID, today); err != nil {
		userLogger(e.logger, metrics.KindReminder, u).WithField("event_id", ev.ID).WithError(err).
			Warn("Failed to record sent reminder")
	}
}

// PreviewReminders computes the reminders a sweep would send right now
// without dispatching anything. Unlike the sweeps it returns the first
// storage error to the caller.
func (e *Engine) PreviewReminders(ctx context.Context) ([]ReminderPreview, error) {
	if !e.hasStorage() {
		return nil, ErrNotInitialized
	}

	users, err := e.deps.Users.ListWithReminders(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list users with reminders enabled: %w", err)
	}

	previews := []ReminderPreview{}
	for _, u := range users {
		events, err := e.dueEvents(ctx, u, e.today())
		if err != nil {
			return nil, fmt.Errorf("preview for user %d: %w", u.ID, err)
		}
		if len(events) == 0 {
			continue
		}

		p := ReminderPreview{
			User:   PreviewUser{ID: u.ID, Username: u.Username, Email: u.Email},
			Events: make([]PreviewEvent, 0, len(events)),
		}
		for _, ev := range events {
			p.Events = append(p.Events, PreviewEvent{
				ID:                 ev.ID,
				Name:               ev.Name,
				Date:               ev.DateString(),
				Type:               ev.Type,
				ReminderOffsetDays: ev.ReminderOffsetDays,
			})
		}
		previews = append(previews, p)
	}

	return previews, nil
}
