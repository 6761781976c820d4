package scheduler

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Kerhoff/studytrack/internal/models"
	"github.com/Kerhoff/studytrack/internal/repository"
)

var errStorage = errors.New("storage unavailable")

type fakeUsers struct {
	mu            sync.Mutex
	reminders     []*models.User
	digest        []*models.User
	err           error
	reminderCalls int
}

func (f *fakeUsers) Create(context.Context, *models.User) (*models.User, error) { return nil, nil }
func (f *fakeUsers) GetByID(context.Context, int64) (*models.User, error)       { return nil, nil }
func (f *fakeUsers) Delete(context.Context, int64) error                         { return nil }
func (f *fakeUsers) UpdatePreferences(context.Context, int64, repository.Preferences) (*models.User, error) {
	return nil, nil
}

func (f *fakeUsers) ListWithReminders(context.Context) ([]*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reminderCalls++
	return f.reminders, f.err
}

func (f *fakeUsers) ListWithDigest(context.Context) ([]*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.digest, f.err
}

func (f *fakeUsers) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reminderCalls
}

// fakeEvents returns every stored event unfiltered, so the engine's own
// checks are what decide which events qualify.
type fakeEvents struct {
	mu     sync.Mutex
	tables map[string][]*models.Event
	failOn map[string]bool
	window [][2]time.Time
}

func newFakeEvents() *fakeEvents {
	return &fakeEvents{tables: map[string][]*models.Event{}, failOn: map[string]bool{}}
}

func (f *fakeEvents) add(table string, events ...*models.Event) {
	f.tables[table] = append(f.tables[table], events...)
}

func (f *fakeEvents) snapshot(table string) ([]*models.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOn[table] {
		return nil, errStorage
	}
	out := make([]*models.Event, len(f.tables[table]))
	copy(out, f.tables[table])
	return out, nil
}

func (f *fakeEvents) EnsureTable(context.Context, string) error { return nil }
func (f *fakeEvents) Create(context.Context, string, *models.Event) (*models.Event, error) {
	return nil, nil
}
func (f *fakeEvents) List(_ context.Context, table string, _ repository.EventFilters) ([]*models.Event, error) {
	return f.snapshot(table)
}
func (f *fakeEvents) Complete(context.Context, string, int64) error { return nil }
func (f *fakeEvents) Delete(context.Context, string, int64) error   { return nil }

func (f *fakeEvents) DueForReminder(_ context.Context, table string, _ time.Time) ([]*models.Event, error) {
	return f.snapshot(table)
}

func (f *fakeEvents) InWindow(_ context.Context, table string, from, to time.Time) ([]*models.Event, error) {
	f.mu.Lock()
	f.window = append(f.window, [2]time.Time{from, to})
	f.mu.Unlock()
	return f.snapshot(table)
}

type reminderCall struct {
	Email     string
	Username  string
	EventID   int64
	DaysUntil int
}

type digestCall struct {
	Email    string
	EventIDs []int64
}

type fakeDispatcher struct {
	mu        sync.Mutex
	reminders []reminderCall
	digests   []digestCall
	failEmail map[string]bool
	failEvent map[int64]bool
	block     chan struct{}
	entered   chan struct{}
}

func newFakeDispatcher() *fakeDispatcher {
	return &fakeDispatcher{failEmail: map[string]bool{}, failEvent: map[int64]bool{}}
}

func (f *fakeDispatcher) SendEventReminder(ctx context.Context, email, username string, event *models.Event, daysUntil int) error {
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failEmail[email] || f.failEvent[event.ID] {
		return errors.New("mailbox unavailable")
	}
	f.reminders = append(f.reminders, reminderCall{Email: email, Username: username, EventID: event.ID, DaysUntil: daysUntil})
	return nil
}

func (f *fakeDispatcher) SendDailyDigest(_ context.Context, email, _ string, events []*models.Event) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failEmail[email] {
		return false, errors.New("mailbox unavailable")
	}
	if len(events) == 0 {
		return false, nil
	}
	ids := make([]int64, 0, len(events))
	for _, e := range events {
		ids = append(ids, e.ID)
	}
	f.digests = append(f.digests, digestCall{Email: email, EventIDs: ids})
	return true, nil
}

func (f *fakeDispatcher) reminderCalls() []reminderCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]reminderCall(nil), f.reminders...)
}

func (f *fakeDispatcher) digestCalls() []digestCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]digestCall(nil), f.digests...)
}

type fakeLedger struct {
	mu   sync.Mutex
	sent map[[2]int64]string
}

func newFakeLedger() *fakeLedger { return &fakeLedger{sent: map[[2]int64]string{}} }

func (f *fakeLedger) WasSent(_ context.Context, userID, eventID int64, day time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent[[2]int64{userID, eventID}] == day.Format(models.DateLayout), nil
}

func (f *fakeLedger) MarkSent(_ context.Context, userID, eventID int64, day time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent[[2]int64{userID, eventID}] = day.Format(models.DateLayout)
	return nil
}

type fakeAlerter struct {
	mu    sync.Mutex
	texts []string
}

func (f *fakeAlerter) Alert(_ context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	return nil
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func day(s string) time.Time {
	t, err := time.Parse(models.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

// clockAt returns a clock fixed at 09:15 local time on the given day
func clockAt(s string) func() time.Time {
	d := day(s)
	return func() time.Time {
		return time.Date(d.Year(), d.Month(), d.Day(), 9, 15, 0, 0, time.UTC)
	}
}

func user(id int64, name string) *models.User {
	return &models.User{
		ID:               id,
		Username:         name,
		Email:            name + "@uni.test",
		Calendar:         models.CalendarTableName(id),
		RemindersEnabled: true,
		DigestEnabled:    true,
	}
}

func event(id int64, date string, offset int) *models.Event {
	return &models.Event{
		ID:                 id,
		Name:               "event",
		Date:               day(date),
		Type:               models.EventTypeAssignment,
		ReminderOffsetDays: offset,
	}
}
