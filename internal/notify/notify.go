// Package notify renders and delivers reminder and digest emails.
package notify

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"text/template"

	"github.com/Kerhoff/studytrack/internal/models"
)

// ErrDispatch is wrapped by every delivery failure
var ErrDispatch = errors.New("notification dispatch failed")

//go:embed templates/*.txt
var templateFS embed.FS

var templates = template.Must(template.New("").Funcs(template.FuncMap{
	"typeLabel": typeLabel,
}).ParseFS(templateFS, "templates/*.txt"))

// Dispatcher sends a single reminder or digest to one user
type Dispatcher interface {
	SendEventReminder(ctx context.Context, email, username string, event *models.Event, daysUntil int) error
	// SendDailyDigest reports false without sending when events is empty.
	SendDailyDigest(ctx context.Context, email, username string, events []*models.Event) (bool, error)
}

// Message is a rendered, ready to send email
type Message struct {
	To      mail.Address
	Subject string
	Text    string
}

// Transport delivers rendered messages
type Transport interface {
	Deliver(ctx context.Context, msg Message) error
}

// Options configures the email dispatcher
type Options struct {
	AppName     string
	FrontendURL string
}

// EmailDispatcher renders the email templates and hands them to a Transport
type EmailDispatcher struct {
	transport Transport
	opts      Options
}

var _ Dispatcher = (*EmailDispatcher)(nil)

// NewEmailDispatcher creates a dispatcher delivering through transport
func NewEmailDispatcher(transport Transport, opts Options) *EmailDispatcher {
	if opts.AppName == "" {
		opts.AppName = "StudyTrack"
	}
	return &EmailDispatcher{transport: transport, opts: opts}
}

type reminderData struct {
	Username    string
	Event       *models.Event
	DaysUntil   int
	FrontendURL string
}

type digestData struct {
	Username    string
	Events      []*models.Event
	FrontendURL string
}

func (d *EmailDispatcher) SendEventReminder(ctx context.Context, email, username string, event *models.Event, daysUntil int) error {
	text, err := render("reminder.txt", reminderData{
		Username:    username,
		Event:       event,
		DaysUntil:   daysUntil,
		FrontendURL: d.opts.FrontendURL,
	})
	if err != nil {
		return err
	}

	msg := Message{
		To:      mail.Address{Name: username, Address: email},
		Subject: d.subject(reminderSubject(event, daysUntil)),
		Text:    text,
	}
	if err := d.transport.Deliver(ctx, msg); err != nil {
		return fmt.Errorf("%w: reminder for event %d to %s: %v", ErrDispatch, event.ID, email, err)
	}
	return nil
}

func (d *EmailDispatcher) SendDailyDigest(ctx context.Context, email, username string, events []*models.Event) (bool, error) {
	if len(events) == 0 {
		return false, nil
	}

	text, err := render("digest.txt", digestData{
		Username:    username,
		Events:      events,
		FrontendURL: d.opts.FrontendURL,
	})
	if err != nil {
		return false, err
	}

	msg := Message{
		To:      mail.Address{Name: username, Address: email},
		Subject: d.subject(fmt.Sprintf("Your week ahead: %d upcoming %s", len(events), plural(len(events), "event", "events"))),
		Text:    text,
	}
	if err := d.transport.Deliver(ctx, msg); err != nil {
		return false, fmt.Errorf("%w: digest to %s: %v", ErrDispatch, email, err)
	}
	return true, nil
}

func (d *EmailDispatcher) subject(s string) string {
	return "[" + d.opts.AppName + "] " + s
}

func reminderSubject(event *models.Event, daysUntil int) string {
	switch daysUntil {
	case 0:
		return fmt.Sprintf("%s is today", event.Name)
	case 1:
		return fmt.Sprintf("%s is tomorrow", event.Name)
	}
	return fmt.Sprintf("%s is in %d days", event.Name, daysUntil)
}

func render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("failed to render %s: %w", name, err)
	}
	return buf.String(), nil
}

func typeLabel(t models.EventType) string {
	switch t {
	case models.EventTypeDueDate:
		return "Due date"
	case "":
		return "Event"
	}
	s := string(t)
	return strings.ToUpper(s[:1]) + s[1:]
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
