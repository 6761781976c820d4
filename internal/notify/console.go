package notify

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

// consoleKeep bounds how many messages Sent can return
const consoleKeep = 100

// ConsoleTransport logs messages instead of sending them. It is used when no
// SendGrid key is configured.
type ConsoleTransport struct {
	logger *logrus.Logger

	mu   sync.Mutex
	sent []Message
}

var _ Transport = (*ConsoleTransport)(nil)

// NewConsoleTransport creates a transport writing to logger
func NewConsoleTransport(logger *logrus.Logger) *ConsoleTransport {
	return &ConsoleTransport{logger: logger}
}

func (t *ConsoleTransport) Deliver(_ context.Context, msg Message) error {
	t.logger.WithFields(logrus.Fields{
		"to":      msg.To.String(),
		"subject": msg.Subject,
	}).Infof("Email (console)\n%s", msg.Text)

	t.mu.Lock()
	t.sent = append(t.sent, msg)
	if len(t.sent) > consoleKeep {
		t.sent = t.sent[len(t.sent)-consoleKeep:]
	}
	t.mu.Unlock()
	return nil
}

// Sent returns a copy of the most recently delivered messages
func (t *ConsoleTransport) Sent() []Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Message, len(t.sent))
	copy(out, t.sent)
	return out
}
