package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Kerhoff/studytrack/internal/models"
	"github.com/Kerhoff/studytrack/internal/repository"
	"github.com/Kerhoff/studytrack/internal/scheduler"
	"github.com/Kerhoff/studytrack/internal/service"
)

// Scheduler is the operational surface of the notification engine
type Scheduler interface {
	Status() scheduler.Status
	PreviewReminders(ctx context.Context) ([]scheduler.ReminderPreview, error)
	StartReminderCheck(ctx context.Context) (scheduler.SweepResult, error)
	StartDailyDigest(ctx context.Context) (scheduler.SweepResult, error)
}

// HealthFunc reports whether the backing services are reachable
type HealthFunc func(ctx context.Context) error

// Server provides the HTTP API.
type Server struct {
	svc    *service.Service
	sched  Scheduler
	health HealthFunc
	logger *logrus.Logger
	mux    *http.ServeMux
}

// NewServer creates a Server, registers all routes, and returns it.
func NewServer(svc *service.Service, sched Scheduler, health HealthFunc, logger *logrus.Logger) *Server {
	s := &Server{svc: svc, sched: sched, health: health, logger: logger, mux: http.NewServeMux()}
	s.routes()
	return s
}

// Handler returns the http.Handler that can be passed to http.Server.
func (s *Server) Handler() http.Handler {
	return s.logRequests(s.mux)
}

// ---------------------------------------------------------------------------
// Routes
// ---------------------------------------------------------------------------

func (s *Server) routes() {
	// Scheduler operations
	s.mux.HandleFunc("GET /api/scheduler/status", s.handleSchedulerStatus)
	s.mux.HandleFunc("GET /api/scheduler/preview", s.handlePreviewReminders)
	s.mux.HandleFunc("POST /api/scheduler/reminders", s.handleRunReminders)
	s.mux.HandleFunc("POST /api/scheduler/digests", s.handleRunDigests)

	// Users
	s.mux.HandleFunc("POST /api/users", s.handleCreateUser)
	s.mux.HandleFunc("GET /api/users/{id}", s.handleGetUser)
	s.mux.HandleFunc("PUT /api/users/{id}/preferences", s.handleUpdatePreferences)

	// Calendar events
	s.mux.HandleFunc("GET /api/users/{id}/events", s.handleListEvents)
	s.mux.HandleFunc("POST /api/users/{id}/events", s.handleCreateEvent)
	s.mux.HandleFunc("PUT /api/users/{id}/events/{eventID}/done", s.handleCompleteEvent)
	s.mux.HandleFunc("DELETE /api/users/{id}/events/{eventID}", s.handleDeleteEvent)

	s.mux.HandleFunc("GET /healthz", s.handleHealth)
}

// ---------------------------------------------------------------------------
// Middleware & JSON helpers
// ---------------------------------------------------------------------------

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   rec.status,
			"duration": time.Since(start).String(),
		}).Debug("HTTP request")
	})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	if data == nil {
		w.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.WithError(err).Error("failed to encode JSON response")
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}

// decodeJSON reads the request body into dst and returns an error message on
// failure.  The caller should return immediately when ok == false.
func (s *Server) decodeJSON(r *http.Request, dst any) (ok bool, errMsg string) {
	if r.Body == nil {
		return false, "request body is empty"
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return false, fmt.Sprintf("invalid JSON: %v", err)
	}
	return true, ""
}

// pathInt64 extracts a path value and converts it to int64.
func pathInt64(r *http.Request, name string) (int64, error) {
	raw := r.PathValue(name)
	if raw == "" {
		return 0, fmt.Errorf("missing %s in path", name)
	}
	return strconv.ParseInt(raw, 10, 64)
}

// serviceError maps service and repository errors onto HTTP responses
func (s *Server) serviceError(w http.ResponseWriter, err error, what string) {
	switch {
	case errors.Is(err, service.ErrValidation):
		s.respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrUserNotFound):
		s.respondError(w, http.StatusNotFound, "user not found")
	case errors.Is(err, repository.ErrNotFound):
		s.respondError(w, http.StatusNotFound, what+" not found")
	default:
		s.logger.WithError(err).Errorf("failed to handle %s", what)
		s.respondError(w, http.StatusInternalServerError, "failed to handle "+what)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		if err := s.health(r.Context()); err != nil {
			s.logger.WithError(err).Warn("health check failed")
			s.respondError(w, http.StatusServiceUnavailable, "database unavailable")
			return
		}
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ---------------------------------------------------------------------------
// Scheduler
// ---------------------------------------------------------------------------

func (s *Server) handleSchedulerStatus(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.sched.Status())
}

func (s *Server) handlePreviewReminders(w http.ResponseWriter, r *http.Request) {
	previews, err := s.sched.PreviewReminders(r.Context())
	if err != nil {
		s.sweepError(w, err, "preview reminders")
		return
	}
	s.respondJSON(w, http.StatusOK, previews)
}

func (s *Server) handleRunReminders(w http.ResponseWriter, r *http.Request) {
	// The sweep outlives a client that hangs up mid-request.
	res, err := s.sched.StartReminderCheck(context.WithoutCancel(r.Context()))
	if err != nil {
		s.sweepError(w, err, "reminder sweep")
		return
	}
	s.respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleRunDigests(w http.ResponseWriter, r *http.Request) {
	res, err := s.sched.StartDailyDigest(context.WithoutCancel(r.Context()))
	if err != nil {
		s.sweepError(w, err, "digest sweep")
		return
	}
	s.respondJSON(w, http.StatusOK, res)
}

func (s *Server) sweepError(w http.ResponseWriter, err error, what string) {
	switch {
	case errors.Is(err, scheduler.ErrSweepInProgress):
		s.respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, scheduler.ErrNotInitialized):
		s.respondError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.logger.WithError(err).Errorf("%s failed", what)
		s.respondError(w, http.StatusInternalServerError, what+" failed")
	}
}

// ---------------------------------------------------------------------------
// Users
// ---------------------------------------------------------------------------

type createUserRequest struct {
	Username         string `json:"username"`
	Email            string `json:"email"`
	RemindersEnabled *bool  `json:"reminders_enabled"`
	DigestEnabled    *bool  `json:"digest_enabled"`
}

type preferencesRequest struct {
	RemindersEnabled *bool `json:"reminders_enabled"`
	DigestEnabled    *bool `json:"digest_enabled"`
}

func boolOr(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if ok, msg := s.decodeJSON(r, &req); !ok {
		s.respondError(w, http.StatusBadRequest, msg)
		return
	}

	user, err := s.svc.CreateUser(r.Context(), service.NewUser{
		Username:         req.Username,
		Email:            req.Email,
		RemindersEnabled: boolOr(req.RemindersEnabled, true),
		DigestEnabled:    boolOr(req.DigestEnabled, true),
	})
	if err != nil {
		s.serviceError(w, err, "user")
		return
	}

	s.respondJSON(w, http.StatusCreated, user)
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "id")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	user, err := s.svc.GetUser(r.Context(), id)
	if err != nil {
		s.serviceError(w, err, "user")
		return
	}

	s.respondJSON(w, http.StatusOK, user)
}

func (s *Server) handleUpdatePreferences(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "id")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	var req preferencesRequest
	if ok, msg := s.decodeJSON(r, &req); !ok {
		s.respondError(w, http.StatusBadRequest, msg)
		return
	}

	user, err := s.svc.UpdatePreferences(r.Context(), id, repository.Preferences{
		RemindersEnabled: req.RemindersEnabled,
		DigestEnabled:    req.DigestEnabled,
	})
	if err != nil {
		s.serviceError(w, err, "user")
		return
	}

	s.respondJSON(w, http.StatusOK, user)
}

// ---------------------------------------------------------------------------
// Calendar events
// ---------------------------------------------------------------------------

type createEventRequest struct {
	Name               string `json:"event_name"`
	Date               string `json:"event_date"` // YYYY-MM-DD
	Time               string `json:"event_time"` // HH:MM, optional
	Type               string `json:"event_type"`
	ClassDepartment    string `json:"class_department"`
	ClassID            string `json:"class_id"`
	Priority           string `json:"priority"`
	ReminderOffsetDays *int   `json:"reminder_offset_days"`
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "id")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	q := r.URL.Query()
	filters := repository.EventFilters{IncludeClosed: q.Get("include_completed") == "true"}

	if from := q.Get("from"); from != "" {
		t, err := time.Parse(models.DateLayout, from)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "from must be YYYY-MM-DD")
			return
		}
		filters.From = &t
	}
	if to := q.Get("to"); to != "" {
		t, err := time.Parse(models.DateLayout, to)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "to must be YYYY-MM-DD")
			return
		}
		filters.To = &t
	}
	if limit := q.Get("limit"); limit != "" {
		if v, err := strconv.Atoi(limit); err == nil {
			filters.Limit = v
		}
	}

	events, err := s.svc.ListEvents(r.Context(), id, filters)
	if err != nil {
		s.serviceError(w, err, "events")
		return
	}
	if events == nil {
		events = []*models.Event{}
	}

	s.respondJSON(w, http.StatusOK, events)
}

func (s *Server) handleCreateEvent(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "id")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	var req createEventRequest
	if ok, msg := s.decodeJSON(r, &req); !ok {
		s.respondError(w, http.StatusBadRequest, msg)
		return
	}

	date, err := time.Parse(models.DateLayout, strings.TrimSpace(req.Date))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "event_date must be YYYY-MM-DD")
		return
	}

	event := &models.Event{
		Name:               req.Name,
		Date:               date,
		Type:               models.EventType(req.Type),
		ClassDepartment:    strings.TrimSpace(req.ClassDepartment),
		ClassID:            strings.TrimSpace(req.ClassID),
		Priority:           strings.TrimSpace(req.Priority),
		ReminderOffsetDays: 1,
	}
	if req.ReminderOffsetDays != nil {
		event.ReminderOffsetDays = *req.ReminderOffsetDays
	}
	if at := strings.TrimSpace(req.Time); at != "" {
		if _, err := time.Parse("15:04", at); err != nil {
			s.respondError(w, http.StatusBadRequest, "event_time must be HH:MM")
			return
		}
		event.Time = &at
	}

	created, err := s.svc.AddEvent(r.Context(), id, event)
	if err != nil {
		s.serviceError(w, err, "event")
		return
	}

	s.respondJSON(w, http.StatusCreated, created)
}

func (s *Server) eventPath(w http.ResponseWriter, r *http.Request) (int64, int64, bool) {
	userID, err := pathInt64(r, "id")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid user id")
		return 0, 0, false
	}
	eventID, err := pathInt64(r, "eventID")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid event id")
		return 0, 0, false
	}
	return userID, eventID, true
}

func (s *Server) handleCompleteEvent(w http.ResponseWriter, r *http.Request) {
	userID, eventID, ok := s.eventPath(w, r)
	if !ok {
		return
	}

	if err := s.svc.CompleteEvent(r.Context(), userID, eventID); err != nil {
		s.serviceError(w, err, "event")
		return
	}

	s.respondJSON(w, http.StatusNoContent, nil)
}

func (s *Server) handleDeleteEvent(w http.ResponseWriter, r *http.Request) {
	userID, eventID, ok := s.eventPath(w, r)
	if !ok {
		return
	}

	if err := s.svc.DeleteEvent(r.Context(), userID, eventID); err != nil {
		s.serviceError(w, err, "event")
		return
	}

	s.respondJSON(w, http.StatusNoContent, nil)
}
