package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kerhoff/studytrack/internal/models"
	"github.com/Kerhoff/studytrack/internal/repository"
	"github.com/Kerhoff/studytrack/internal/scheduler"
	"github.com/Kerhoff/studytrack/internal/service"
)

type stubScheduler struct {
	status   scheduler.Status
	previews []scheduler.ReminderPreview
	result   scheduler.SweepResult
	err      error
	ctxErr   error
}

func (s *stubScheduler) Status() scheduler.Status { return s.status }

func (s *stubScheduler) PreviewReminders(context.Context) ([]scheduler.ReminderPreview, error) {
	return s.previews, s.err
}

func (s *stubScheduler) StartReminderCheck(ctx context.Context) (scheduler.SweepResult, error) {
	s.ctxErr = ctx.Err()
	return s.result, s.err
}

func (s *stubScheduler) StartDailyDigest(ctx context.Context) (scheduler.SweepResult, error) {
	s.ctxErr = ctx.Err()
	return s.result, s.err
}

type userStore struct {
	users map[int64]*models.User
}

func (u *userStore) Create(_ context.Context, user *models.User) (*models.User, error) {
	user.ID = int64(len(u.users) + 1)
	user.Calendar = models.CalendarTableName(user.ID)
	u.users[user.ID] = user
	return user, nil
}

func (u *userStore) GetByID(_ context.Context, id int64) (*models.User, error) {
	return u.users[id], nil
}

func (u *userStore) Delete(_ context.Context, id int64) error {
	delete(u.users, id)
	return nil
}

func (u *userStore) UpdatePreferences(_ context.Context, id int64, p repository.Preferences) (*models.User, error) {
	user := u.users[id]
	if user == nil {
		return nil, nil
	}
	if p.DigestEnabled != nil {
		user.DigestEnabled = *p.DigestEnabled
	}
	if p.RemindersEnabled != nil {
		user.RemindersEnabled = *p.RemindersEnabled
	}
	return user, nil
}

func (u *userStore) ListWithReminders(context.Context) ([]*models.User, error) { return nil, nil }
func (u *userStore) ListWithDigest(context.Context) ([]*models.User, error)    { return nil, nil }

type eventStore struct {
	events  map[string][]*models.Event
	created []string
}

func (e *eventStore) EnsureTable(_ context.Context, table string) error {
	e.created = append(e.created, table)
	return nil
}

func (e *eventStore) Create(_ context.Context, table string, ev *models.Event) (*models.Event, error) {
	ev.ID = int64(len(e.events[table]) + 1)
	e.events[table] = append(e.events[table], ev)
	return ev, nil
}

func (e *eventStore) List(_ context.Context, table string, _ repository.EventFilters) ([]*models.Event, error) {
	return e.events[table], nil
}

func (e *eventStore) Complete(_ context.Context, table string, id int64) error {
	for _, ev := range e.events[table] {
		if ev.ID == id {
			ev.IsCompleted = true
			return nil
		}
	}
	return repository.ErrNotFound
}

func (e *eventStore) Delete(_ context.Context, table string, id int64) error {
	for i, ev := range e.events[table] {
		if ev.ID == id {
			e.events[table] = append(e.events[table][:i], e.events[table][i+1:]...)
			return nil
		}
	}
	return repository.ErrNotFound
}

func (e *eventStore) DueForReminder(context.Context, string, time.Time) ([]*models.Event, error) {
	return nil, nil
}

func (e *eventStore) InWindow(context.Context, string, time.Time, time.Time) ([]*models.Event, error) {
	return nil, nil
}

type fixture struct {
	server *httptest.Server
	sched  *stubScheduler
	users  *userStore
	events *eventStore
}

func newFixture(t *testing.T, health HealthFunc) *fixture {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	f := &fixture{
		sched:  &stubScheduler{},
		users:  &userStore{users: map[int64]*models.User{}},
		events: &eventStore{events: map[string][]*models.Event{}},
	}
	svc := service.New(logger, f.users, f.events)
	f.server = httptest.NewServer(NewServer(svc, f.sched, health, logger).Handler())
	t.Cleanup(f.server.Close)
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) (*http.Response, []byte) {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, f.server.URL+path, reader)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func TestSchedulerStatus(t *testing.T) {
	f := newFixture(t, nil)
	f.sched.status = scheduler.Status{IsRunning: true, HasStorageHandle: true}

	resp, body := f.do(t, http.MethodGet, "/api/scheduler/status", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got map[string]any
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, true, got["isRunning"])
	assert.Equal(t, true, got["hasStorageHandle"])
}

func TestPreviewReminders(t *testing.T) {
	f := newFixture(t, nil)
	f.sched.previews = []scheduler.ReminderPreview{}

	resp, body := f.do(t, http.MethodGet, "/api/scheduler/preview", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `[]`, string(body))

	f.sched.err = errors.New("db down")
	resp, _ = f.do(t, http.MethodGet, "/api/scheduler/preview", "")
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestRunSweeps(t *testing.T) {
	f := newFixture(t, nil)
	f.sched.result = scheduler.SweepResult{Kind: "reminder", UsersProcessed: 2, Sent: 3}

	resp, body := f.do(t, http.MethodPost, "/api/scheduler/reminders", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NoError(t, f.sched.ctxErr)

	var got scheduler.SweepResult
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, 3, got.Sent)
	assert.Equal(t, 2, got.UsersProcessed)

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"busy", scheduler.ErrSweepInProgress, http.StatusConflict},
		{"not initialized", scheduler.ErrNotInitialized, http.StatusServiceUnavailable},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f.sched.err = tt.err
			resp, _ := f.do(t, http.MethodPost, "/api/scheduler/digests", "")
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestCreateAndGetUser(t *testing.T) {
	f := newFixture(t, nil)

	resp, body := f.do(t, http.MethodPost, "/api/users", `{"username":"alice","email":"Alice@Example.com","digest_enabled":false}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created models.User
	require.NoError(t, json.Unmarshal(body, &created))
	assert.Equal(t, int64(1), created.ID)
	assert.Equal(t, "alice@example.com", created.Email)
	assert.True(t, created.RemindersEnabled)
	assert.False(t, created.DigestEnabled)
	assert.Equal(t, []string{"calendar_user_1"}, f.events.created)

	resp, _ = f.do(t, http.MethodGet, "/api/users/1", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = f.do(t, http.MethodGet, "/api/users/42", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = f.do(t, http.MethodGet, "/api/users/abc", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCreateUserValidation(t *testing.T) {
	f := newFixture(t, nil)

	resp, _ := f.do(t, http.MethodPost, "/api/users", `{"username":"","email":"a@b.c"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = f.do(t, http.MethodPost, "/api/users", `{"username":"bob","email":"nope"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = f.do(t, http.MethodPost, "/api/users", `{not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUpdatePreferences(t *testing.T) {
	f := newFixture(t, nil)
	f.users.users[1] = &models.User{ID: 1, Username: "alice", RemindersEnabled: true, DigestEnabled: true}

	resp, body := f.do(t, http.MethodPut, "/api/users/1/preferences", `{"reminders_enabled":false}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got models.User
	require.NoError(t, json.Unmarshal(body, &got))
	assert.False(t, got.RemindersEnabled)
	assert.True(t, got.DigestEnabled)

	resp, _ = f.do(t, http.MethodPut, "/api/users/9/preferences", `{"digest_enabled":false}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestEventLifecycle(t *testing.T) {
	f := newFixture(t, nil)
	f.users.users[1] = &models.User{ID: 1, Username: "alice", Calendar: "calendar_user_1"}

	resp, body := f.do(t, http.MethodPost, "/api/users/1/events",
		`{"event_name":"Midterm","event_date":"2024-03-10","event_time":"09:30","event_type":"exam","reminder_offset_days":2}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created models.Event
	require.NoError(t, json.Unmarshal(body, &created))
	assert.Equal(t, "Midterm", created.Name)
	assert.Equal(t, models.EventTypeExam, created.Type)
	assert.Equal(t, 2, created.ReminderOffsetDays)
	require.NotNil(t, created.Time)
	assert.Equal(t, "09:30", *created.Time)

	resp, body = f.do(t, http.MethodGet, "/api/users/1/events", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var listed []models.Event
	require.NoError(t, json.Unmarshal(body, &listed))
	assert.Len(t, listed, 1)

	resp, _ = f.do(t, http.MethodPut, "/api/users/1/events/1/done", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.True(t, f.events.events["calendar_user_1"][0].IsCompleted)

	resp, _ = f.do(t, http.MethodPut, "/api/users/1/events/7/done", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = f.do(t, http.MethodDelete, "/api/users/1/events/1", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Empty(t, f.events.events["calendar_user_1"])
}

func TestCreateEventValidation(t *testing.T) {
	f := newFixture(t, nil)
	f.users.users[1] = &models.User{ID: 1, Calendar: "calendar_user_1"}

	tests := []struct {
		name string
		body string
		want int
	}{
		{"bad date", `{"event_name":"x","event_date":"03/10/2024"}`, http.StatusBadRequest},
		{"bad time", `{"event_name":"x","event_date":"2024-03-10","event_time":"9am"}`, http.StatusBadRequest},
		{"unknown type", `{"event_name":"x","event_date":"2024-03-10","event_type":"party"}`, http.StatusBadRequest},
		{"negative offset", `{"event_name":"x","event_date":"2024-03-10","reminder_offset_days":-1}`, http.StatusBadRequest},
		{"missing name", `{"event_date":"2024-03-10"}`, http.StatusBadRequest},
		{"defaults", `{"event_name":"x","event_date":"2024-03-10"}`, http.StatusCreated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, _ := f.do(t, http.MethodPost, "/api/users/1/events", tt.body)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}

	resp, _ := f.do(t, http.MethodPost, "/api/users/5/events", `{"event_name":"x","event_date":"2024-03-10"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListEventsBadFilter(t *testing.T) {
	f := newFixture(t, nil)
	f.users.users[1] = &models.User{ID: 1, Calendar: "calendar_user_1"}

	resp, body := f.do(t, http.MethodGet, "/api/users/1/events", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `[]`, string(body))

	resp, _ = f.do(t, http.MethodGet, "/api/users/1/events?from=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealth(t *testing.T) {
	healthy := newFixture(t, func(context.Context) error { return nil })
	resp, _ := healthy.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	down := newFixture(t, func(context.Context) error { return errors.New("connection refused") })
	resp, _ = down.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
