// Package scheduler runs the hourly reminder sweep and the daily digest sweep
// over every opted-in user.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"

	"github.com/Kerhoff/studytrack/internal/metrics"
	"github.com/Kerhoff/studytrack/internal/models"
	"github.com/Kerhoff/studytrack/internal/notify"
	"github.com/Kerhoff/studytrack/internal/repository"
)

var (
	// ErrNotInitialized is returned when the engine was built without a
	// storage handle or dispatcher.
	ErrNotInitialized = errors.New("scheduler has no storage handle")
	// ErrSweepInProgress is returned when a sweep of the same kind is
	// already running.
	ErrSweepInProgress = errors.New("sweep already in progress")
)

const (
	DefaultReminderSpec = "0 * * * *"
	DefaultDigestSpec   = "0 8 * * *"
	DefaultSweepTimeout = 30 * time.Minute
)

// Config controls trigger schedules and sweep behaviour
type Config struct {
	ReminderSpec string
	DigestSpec   string
	// Location is used both for the cron schedules and to decide which
	// calendar day "today" is. Defaults to time.Local.
	Location     *time.Location
	Workers      int
	SweepTimeout time.Duration
	// Dedup consults the reminder ledger so an event is reminded at most
	// once per day even when sweeps repeat.
	Dedup bool
}

// Alerter receives a summary when a sweep fails or ends with failures
type Alerter interface {
	Alert(ctx context.Context, text string) error
}

// Deps are the collaborators injected into the engine
type Deps struct {
	Users      repository.UserRepository
	Events     repository.EventRepository
	Ledger     repository.ReminderLedger
	Dispatcher notify.Dispatcher
	Alerter    Alerter
	Metrics    *metrics.Metrics
	Logger     *logrus.Logger
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Status is a point-in-time view of the engine
type Status struct {
	IsRunning           bool       `json:"isRunning"`
	HasStorageHandle    bool       `json:"hasStorageHandle"`
	ReminderSweepActive bool       `json:"reminderSweepActive"`
	DigestSweepActive   bool       `json:"digestSweepActive"`
	NextReminderRun     *time.Time `json:"nextReminderRun,omitempty"`
	NextDigestRun       *time.Time `json:"nextDigestRun,omitempty"`
}

// SweepResult summarises one sweep
type SweepResult struct {
	Kind           string        `json:"kind"`
	UsersProcessed int           `json:"usersProcessed"`
	Sent           int           `json:"sent"`
	Failures       int           `json:"failures"`
	Duration       time.Duration `json:"duration"`
}

// Engine owns the two recurring triggers. Build one with New in the
// composition root and call Initialize once storage is ready.
type Engine struct {
	cfg     Config
	deps    Deps
	logger  *logrus.Logger
	now     func() time.Time
	metrics *metrics.Metrics

	mu            sync.Mutex
	cron          *cron.Cron
	cancel        context.CancelFunc
	reminderEntry cron.EntryID
	digestEntry   cron.EntryID

	running      atomic.Bool
	reminderBusy atomic.Bool
	digestBusy   atomic.Bool
}

// New creates an engine in the Uninitialized state
func New(cfg Config, deps Deps) *Engine {
	if cfg.ReminderSpec == "" {
		cfg.ReminderSpec = DefaultReminderSpec
	}
	if cfg.DigestSpec == "" {
		cfg.DigestSpec = DefaultDigestSpec
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.SweepTimeout <= 0 {
		cfg.SweepTimeout = DefaultSweepTimeout
	}

	logger := deps.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}

	return &Engine{cfg: cfg, deps: deps, logger: logger, now: now, metrics: deps.Metrics}
}

// Initialize registers both triggers and starts the cron scheduler. Calling
// it while already running logs a warning and registers nothing.
func (e *Engine) Initialize(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running.Load() {
		e.logger.Warn("Scheduler already initialized, ignoring duplicate initialize")
		return nil
	}
	if !e.hasStorage() {
		return ErrNotInitialized
	}

	rootCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c := cron.New(cron.WithLocation(e.cfg.Location))

	reminderEntry, err := c.AddFunc(e.cfg.ReminderSpec, func() {
		e.runScheduled(rootCtx, metrics.KindReminder, e.CheckSendReminders)
	})
	if err != nil {
		cancel()
		return fmt.Errorf("invalid reminder schedule %q: %w", e.cfg.ReminderSpec, err)
	}
	digestEntry, err := c.AddFunc(e.cfg.DigestSpec, func() {
		e.runScheduled(rootCtx, metrics.KindDigest, e.SendDailyDigests)
	})
	if err != nil {
		cancel()
		return fmt.Errorf("invalid digest schedule %q: %w", e.cfg.DigestSpec, err)
	}

	c.Start()

	e.cron = c
	e.cancel = cancel
	e.reminderEntry = reminderEntry
	e.digestEntry = digestEntry
	e.running.Store(true)
	e.metrics.SetRunning(true)

	e.logger.WithFields(logrus.Fields{
		"reminder_schedule": e.cfg.ReminderSpec,
		"digest_schedule":   e.cfg.DigestSpec,
		"location":          e.cfg.Location.String(),
		"workers":           e.cfg.Workers,
	}).Info("Notification scheduler started")

	return nil
}

// Stop unregisters the triggers, cancels in-flight sweeps and waits for them
// to return. Manual operations keep working after Stop.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running.Load() {
		return
	}

	e.cancel()
	<-e.cron.Stop().Done()

	e.cron = nil
	e.cancel = nil
	e.running.Store(false)
	e.metrics.SetRunning(false)

	e.logger.Info("Notification scheduler stopped")
}

// Status reports the engine state without doing any I/O
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := Status{
		IsRunning:           e.running.Load(),
		HasStorageHandle:    e.hasStorage(),
		ReminderSweepActive: e.reminderBusy.Load(),
		DigestSweepActive:   e.digestBusy.Load(),
	}
	if e.cron != nil {
		if next := e.cron.Entry(e.reminderEntry).Next; !next.IsZero() {
			st.NextReminderRun = &next
		}
		if next := e.cron.Entry(e.digestEntry).Next; !next.IsZero() {
			st.NextDigestRun = &next
		}
	}
	return st
}

// StartReminderCheck runs a reminder sweep on demand
func (e *Engine) StartReminderCheck(ctx context.Context) (SweepResult, error) {
	e.logger.WithField("sweep", metrics.KindReminder).Info("Manual reminder check requested")
	return e.CheckSendReminders(ctx)
}

// StartDailyDigest runs a digest sweep on demand
func (e *Engine) StartDailyDigest(ctx context.Context) (SweepResult, error) {
	e.logger.WithField("sweep", metrics.KindDigest).Info("Manual daily digest requested")
	return e.SendDailyDigests(ctx)
}

func (e *Engine) hasStorage() bool {
	return e.deps.Users != nil && e.deps.Events != nil
}

func (e *Engine) ready() error {
	if !e.hasStorage() || e.deps.Dispatcher == nil {
		return ErrNotInitialized
	}
	return nil
}

// today returns the current calendar day in the engine's location
func (e *Engine) today() time.Time {
	return models.Day(e.now().In(e.cfg.Location))
}

func (e *Engine) runScheduled(ctx context.Context, kind string, sweep func(context.Context) (SweepResult, error)) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.SweepTimeout)
	defer cancel()

	// Errors are logged inside the sweep; a trigger has nobody to report to.
	_, _ = sweep(ctx)
}

// acquire claims the overlap guard for kind
func (e *Engine) acquire(kind string, busy *atomic.Bool) bool {
	if busy.CAS(false, true) {
		return true
	}
	e.logger.WithField("sweep", kind).Warn("Previous sweep still running, skipping")
	e.metrics.SweepSkipped(kind)
	return false
}

// forEachUser runs fn for every user with at most Workers in flight. A panic
// in one user's unit is recovered and reported as that user's failure.
func (e *Engine) forEachUser(ctx context.Context, kind string, users []*models.User, fn func(context.Context, *models.User) error) int {
	var (
		g        errgroup.Group
		failures atomic.Int64
	)
	g.SetLimit(e.cfg.Workers)

	for _, u := range users {
		if ctx.Err() != nil {
			e.logger.WithField("sweep", kind).WithError(ctx.Err()).Warn("Sweep interrupted")
			break
		}
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
				}
				if err != nil {
					failures.Inc()
					stage := metrics.StageEvents
					if errors.Is(err, notify.ErrDispatch) {
						stage = metrics.StageDispatch
					}
					e.metrics.Failure(kind, stage)
					userLogger(e.logger, kind, u).WithError(err).Error("Failed to process user")
				}
			}()
			return fn(ctx, u)
		})
	}
	_ = g.Wait()

	return int(failures.Load())
}

func (e *Engine) finish(ctx context.Context, res *SweepResult, start time.Time, err error) {
	res.Duration = e.now().Sub(start)
	e.metrics.SweepFinished(res.Kind, res.Duration)

	entry := e.logger.WithFields(logrus.Fields{
		"sweep":           res.Kind,
		"users_processed": res.UsersProcessed,
		"sent":            res.Sent,
		"failures":        res.Failures,
		"duration":        res.Duration.String(),
	})
	if err != nil {
		entry.WithError(err).Error("Sweep aborted")
	} else {
		entry.Info("Sweep complete")
	}

	if err == nil && res.Failures == 0 {
		return
	}
	e.alert(ctx, res, err)
}

func (e *Engine) alert(ctx context.Context, res *SweepResult, err error) {
	if e.deps.Alerter == nil {
		return
	}

	text := fmt.Sprintf("%s sweep: %d sent, %d failures, %d users processed", res.Kind, res.Sent, res.Failures, res.UsersProcessed)
	if err != nil {
		text = fmt.Sprintf("%s sweep aborted: %v", res.Kind, err)
	}

	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if aerr := e.deps.Alerter.Alert(actx, text); aerr != nil {
		e.logger.WithError(aerr).Warn("Failed to send sweep alert")
	}
}

func userLogger(l *logrus.Logger, kind string, u *models.User) *logrus.Entry {
	return l.WithFields(logrus.Fields{
		"sweep":    kind,
		"user_id":  u.ID,
		"username": u.Username,
	})
}
