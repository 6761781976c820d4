package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/Kerhoff/studytrack/internal/models"
	"github.com/Kerhoff/studytrack/internal/repository"
)

var (
	// ErrUserNotFound is returned when a user ID does not exist
	ErrUserNotFound = errors.New("user not found")
	// ErrValidation wraps every input validation failure
	ErrValidation = errors.New("validation failed")
)

// Service is the business logic layer used by the HTTP API. It holds the same
// repositories the scheduler reads from.
type Service struct {
	logger *logrus.Logger
	Users  repository.UserRepository
	Events repository.EventRepository
}

// New creates a new Service with all required dependencies.
func New(logger *logrus.Logger, users repository.UserRepository, events repository.EventRepository) *Service {
	return &Service{logger: logger, Users: users, Events: events}
}

// NewUser holds the fields accepted when registering a user
type NewUser struct {
	Username         string
	Email            string
	RemindersEnabled bool
	DigestEnabled    bool
}

// CreateUser stores the user and provisions their calendar table.
func (s *Service) CreateUser(ctx context.Context, nu NewUser) (*models.User, error) {
	username := strings.TrimSpace(nu.Username)
	if username == "" {
		return nil, fmt.Errorf("%w: username is required", ErrValidation)
	}
	addr, err := mail.ParseAddress(strings.TrimSpace(nu.Email))
	if err != nil {
		return nil, fmt.Errorf("%w: email is invalid", ErrValidation)
	}

	user, err := s.Users.Create(ctx, &models.User{
		Username:         username,
		Email:            strings.ToLower(addr.Address),
		RemindersEnabled: nu.RemindersEnabled,
		DigestEnabled:    nu.DigestEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create user %q: %w", username, err)
	}

	if err := s.Events.EnsureTable(ctx, user.Calendar); err != nil {
		// Without its table the user would fail every sweep, so undo the row.
		if derr := s.Users.Delete(ctx, user.ID); derr != nil {
			s.logger.WithError(derr).WithField("user_id", user.ID).Error("Failed to remove user after calendar provisioning failed")
		}
		return nil, fmt.Errorf("failed to provision calendar for user %d: %w", user.ID, err)
	}

	s.logger.WithFields(logrus.Fields{"user_id": user.ID, "calendar": user.Calendar}).Info("Created new user")
	return user, nil
}

// GetUser returns the user or ErrUserNotFound
func (s *Service) GetUser(ctx context.Context, id int64) (*models.User, error) {
	user, err := s.Users.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to lookup user %d: %w", id, err)
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}

// UpdatePreferences toggles a user's notification flags
func (s *Service) UpdatePreferences(ctx context.Context, id int64, prefs repository.Preferences) (*models.User, error) {
	user, err := s.Users.UpdatePreferences(ctx, id, prefs)
	if err != nil {
		return nil, fmt.Errorf("failed to update preferences for user %d: %w", id, err)
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}

// AddEvent validates the event and stores it in the user's calendar
func (s *Service) AddEvent(ctx context.Context, userID int64, event *models.Event) (*models.Event, error) {
	event.Name = strings.TrimSpace(event.Name)
	if event.Name == "" {
		return nil, fmt.Errorf("%w: event_name is required", ErrValidation)
	}
	if event.Type == "" {
		event.Type = models.EventTypeOther
	}
	if !event.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown event_type %q", ErrValidation, event.Type)
	}
	if event.ReminderOffsetDays < 0 {
		return nil, fmt.Errorf("%w: reminder_offset_days must not be negative", ErrValidation)
	}

	user, err := s.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	created, err := s.Events.Create(ctx, user.Calendar, event)
	if err != nil {
		return nil, fmt.Errorf("failed to add event for user %d: %w", userID, err)
	}
	return created, nil
}

// ListEvents returns the user's events matching filters
func (s *Service) ListEvents(ctx context.Context, userID int64, filters repository.EventFilters) ([]*models.Event, error) {
	user, err := s.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.Events.List(ctx, user.Calendar, filters)
}

// CompleteEvent marks an event done, which also stops its reminders
func (s *Service) CompleteEvent(ctx context.Context, userID, eventID int64) error {
	user, err := s.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	return s.Events.Complete(ctx, user.Calendar, eventID)
}

// DeleteEvent removes an event from the user's calendar
func (s *Service) DeleteEvent(ctx context.Context, userID, eventID int64) error {
	user, err := s.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	return s.Events.Delete(ctx, user.Calendar, eventID)
}
