package notify

import (
	"context"
	"fmt"
	"net/http"
	"net/mail"
	"time"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
)

const (
	sendGridHost     = "https://api.sendgrid.com"
	sendGridEndpoint = "/v3/mail/send"

	// DefaultSendTimeout caps a single API call when the caller's context
	// carries no earlier deadline.
	DefaultSendTimeout = 30 * time.Second
)

// SendGridTransport delivers messages through the SendGrid v3 mail API
type SendGridTransport struct {
	key    string
	host   string
	from   *sgmail.Email
	client *rest.Client
}

var _ Transport = (*SendGridTransport)(nil)

// NewSendGridTransport creates a transport sending as from
func NewSendGridTransport(key string, from mail.Address) *SendGridTransport {
	return &SendGridTransport{
		key:    key,
		host:   sendGridHost,
		from:   sgmail.NewEmail(from.Name, from.Address),
		client: &rest.Client{HTTPClient: &http.Client{Timeout: DefaultSendTimeout}},
	}
}

func (t *SendGridTransport) prepare(msg Message) *sgmail.SGMailV3 {
	p := sgmail.NewPersonalization()
	p.Subject = msg.Subject
	p.AddTos(sgmail.NewEmail(msg.To.Name, msg.To.Address))

	m := sgmail.NewV3Mail()
	m.SetFrom(t.from)
	m.AddPersonalizations(p)
	m.AddContent(sgmail.NewContent("text/plain", msg.Text))
	return m
}

func (t *SendGridTransport) Deliver(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	req := sendgrid.GetRequest(t.key, sendGridEndpoint, t.host)
	req.Method = http.MethodPost
	req.Body = sgmail.GetRequestBody(t.prepare(msg))

	res, err := t.client.SendWithContext(ctx, req)
	if err != nil {
		return fmt.Errorf("sendgrid request: %w", err)
	}
	if res.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("sendgrid responded %d: %s", res.StatusCode, res.Body)
	}
	return nil
}
