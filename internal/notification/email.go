package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/yasunstudio/perdami-store-app-sub001/pkg/contracts"
	"github.com/yasunstudio/perdami-store-app-sub001/pkg/messaging"

	"github.com/wneessen/go-mail"
)

// Directory resolves a user's email address.
type Directory interface {
	UserEmail(ctx context.Context, userID string) (string, error)
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// EmailSender is the optional email fan-out of stored notification records.
type EmailSender struct {
	cfg    SMTPConfig
	dir    Directory
	logger *slog.Logger
}

func NewEmailSender(cfg SMTPConfig, dir Directory, logger *slog.Logger) *EmailSender {
	return &EmailSender{cfg: cfg, dir: dir, logger: logger}
}

// Deliver mails one notification. Recipients without an address are skipped.
func (s *EmailSender) Deliver(ctx context.Context, evt contracts.NotificationCreatedEvent) error {
	to, err := s.dir.UserEmail(ctx, evt.RecipientID)
	if err != nil {
		return fmt.Errorf("lookup recipient email: %w", err)
	}
	if to == "" {
		s.logger.Debug("recipient has no email", "recipient_id", evt.RecipientID, "type", evt.Type)
		return nil
	}

	msg, err := s.buildMessage(to, evt)
	if err != nil {
		return err
	}

	client, err := mail.NewClient(s.cfg.Host,
		mail.WithPort(s.cfg.Port),
		mail.WithSMTPAuth(mail.SMTPAuthLogin),
		mail.WithUsername(s.cfg.Username),
		mail.WithPassword(s.cfg.Password),
		mail.WithTLSPolicy(mail.TLSMandatory),
	)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	s.logger.Info("notification emailed", "type", evt.Type, "recipient_id", evt.RecipientID, "order_id", evt.OrderID)
	return nil
}

func (s *EmailSender) buildMessage(to string, evt contracts.NotificationCreatedEvent) (*mail.Msg, error) {
	if evt.Title == "" && evt.Message == "" {
		return nil, errors.New("empty notification")
	}

	msg := mail.NewMsg()
	if err := msg.From(s.cfg.From); err != nil {
		return nil, fmt.Errorf("from address: %w", err)
	}
	if err := msg.To(to); err != nil {
		return nil, fmt.Errorf("to address: %w", err)
	}
	msg.Subject(evt.Title)
	msg.SetBodyString(mail.TypeTextPlain, evt.Message)
	return msg, nil
}

// Consume is the broker handler for the email queue. Undecodable messages
// are dropped.
func (s *EmailSender) Consume(ctx context.Context, body []byte) error {
	var evt contracts.NotificationCreatedEvent
	if err := json.Unmarshal(body, &evt); err != nil {
		return messaging.Permanent(fmt.Errorf("decode notification event: %w", err))
	}
	return s.Deliver(ctx, evt)
}
