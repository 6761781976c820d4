package scheduler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/atomic"

	"github.com/Kerhoff/studytrack/internal/metrics"
	"github.com/Kerhoff/studytrack/internal/models"
)

// SendDailyDigests mails each digest subscriber the events of the coming
// week. Users with nothing in the window get no email and are not counted
// in Sent.
func (e *Engine) SendDailyDigests(ctx context.Context) (SweepResult, error) {
	res := SweepResult{Kind: metrics.KindDigest}
	if err := e.ready(); err != nil {
		return res, err
	}
	if !e.acquire(res.Kind, &e.digestBusy) {
		return res, ErrSweepInProgress
	}
	defer e.digestBusy.Store(false)

	start := e.now()
	e.logger.WithField("sweep", res.Kind).Info("Sending daily digests")

	users, err := e.deps.Users.ListWithDigest(ctx)
	if err != nil {
		err = fmt.Errorf("failed to list users with digest enabled: %w", err)
		e.metrics.Failure(res.Kind, metrics.StageUsers)
		e.finish(ctx, &res, start, err)
		return res, err
	}

	var processed, digested atomic.Int64
	failures := e.forEachUser(ctx, res.Kind, users, func(ctx context.Context, u *models.User) error {
		sent, err := e.processUserDigest(ctx, u, e.today())
		if err != nil {
			return err
		}
		processed.Inc()
		if sent {
			digested.Inc()
		}
		return nil
	})

	res.UsersProcessed = int(processed.Load())
	res.Sent = int(digested.Load())
	res.Failures = failures
	e.finish(ctx, &res, start, nil)
	return res, nil
}

func (e *Engine) processUserDigest(ctx context.Context, u *models.User, today time.Time) (bool, error) {
	log := userLogger(e.logger, metrics.KindDigest, u)

	to := today.AddDate(0, 0, models.DigestWindowDays)
	events, err := e.deps.Events.InWindow(ctx, u.Calendar, today, to)
	if err != nil {
		return false, fmt.Errorf("failed to load digest events from %s: %w", u.Calendar, err)
	}

	window := make([]*models.Event, 0, len(events))
	for _, ev := range events {
		if ev.InDigestWindow(today) {
			window = append(window, ev)
		}
	}
	if len(window) == 0 {
		log.Debug("No upcoming events, skipping digest")
		return false, nil
	}
	models.SortByDateTime(window)

	sent, err := e.deps.Dispatcher.SendDailyDigest(ctx, u.Email, u.DisplayName(), window)
	if err != nil {
		return false, err
	}
	if sent {
		e.metrics.NotificationSent(metrics.KindDigest)
		log.WithField("events", len(window)).Info("Daily digest sent")
	}
	return sent, nil
}
