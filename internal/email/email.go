package email

import (
	"context"
	"fmt"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"go.uber.org/zap"
)

// Sender delivers transactional mail. Two implementations: sendgrid for
// real deployments and a console sender for local development and tests.
type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// ConsoleSender logs the mail instead of sending it.
type ConsoleSender struct {
	logger *zap.SugaredLogger
}

func NewConsoleSender(logger *zap.SugaredLogger) ConsoleSender {
	return ConsoleSender{logger: logger}
}

func (s ConsoleSender) Send(_ context.Context, to, subject, body string) error {
	s.logger.Infow("outgoing mail", "to", to, "subject", subject, "body", body)
	return nil
}

// SendgridSender delivers through the SendGrid v3 API.
type SendgridSender struct {
	client *sendgrid.Client
	from   *mail.Email
}

func NewSendgridSender(apiKey, fromName, fromAddr string) SendgridSender {
	return SendgridSender{
		client: sendgrid.NewSendClient(apiKey),
		from:   mail.NewEmail(fromName, fromAddr),
	}
}

func (s SendgridSender) Send(ctx context.Context, to, subject, body string) error {
	msg := mail.NewSingleEmail(s.from, subject, mail.NewEmail("", to), body, body)
	resp, err := s.client.SendWithContext(ctx, msg)
	if err != nil {
		return fmt.Errorf("sending mail: %w", err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("sending mail: sendgrid returned %d", resp.StatusCode)
	}
	return nil
}
