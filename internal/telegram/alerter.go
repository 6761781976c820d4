// Package telegram posts operational alerts about notification sweeps to a
// Telegram chat.
package telegram

import (
	"context"
	"fmt"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"
)

// DefaultTimeout caps each Bot API call made by the alerter
const DefaultTimeout = 10 * time.Second

// Alerter sends plain text alerts to a single chat
type Alerter struct {
	api    *tgbotapi.BotAPI
	chatID int64
	logger *logrus.Logger
}

// NewAlerter creates an alerter authorised with token posting to chatID
func NewAlerter(token string, chatID int64, logger *logrus.Logger) (*Alerter, error) {
	return NewAlerterWithEndpoint(token, tgbotapi.APIEndpoint, chatID, logger)
}

// NewAlerterWithEndpoint is NewAlerter against a custom Bot API endpoint
func NewAlerterWithEndpoint(token, endpoint string, chatID int64, logger *logrus.Logger) (*Alerter, error) {
	return NewAlerterWithClient(token, endpoint, &http.Client{Timeout: DefaultTimeout}, chatID, logger)
}

// NewAlerterWithClient is NewAlerterWithEndpoint using client for every call
func NewAlerterWithClient(token, endpoint string, client *http.Client, chatID int64, logger *logrus.Logger) (*Alerter, error) {
	api, err := tgbotapi.NewBotAPIWithClient(token, endpoint, client)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot API: %w", err)
	}

	logger.Infof("Alerts authorized on account %s", api.Self.UserName)

	return &Alerter{api: api, chatID: chatID, logger: logger}, nil
}

// Alert sends text to the alert chat. It returns when ctx is done even if
// the Bot API has not answered; the request itself is bounded by the
// client timeout.
func (a *Alerter) Alert(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := tgbotapi.NewMessage(a.chatID, text)
	msg.DisableWebPagePreview = true

	done := make(chan error, 1)
	go func() {
		_, err := a.api.Send(msg)
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("failed to send alert: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("failed to send alert: %w", ctx.Err())
	}
}
