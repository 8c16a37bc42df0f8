package mailer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/wneessen/go-mail"
	"go.uber.org/zap"

	"github.com/noah-isme/museum-admin-api/pkg/config"
)

const smtpTimeout = 10 * time.Second

// Mailer delivers a rendered template to a single recipient.
type Mailer interface {
	Send(ctx context.Context, template, recipient string, data map[string]interface{}) error
}

// New returns an SMTP mailer when a host is configured and a logging mailer otherwise.
func New(cfg config.SMTPConfig, templates *Templates, logger *zap.Logger) Mailer {
	if strings.TrimSpace(cfg.Host) == "" {
		return NewLogMailer(templates, logger)
	}
	return NewSMTPMailer(cfg, templates)
}

// SMTPMailer sends mail through an SMTP relay, upgrading to TLS when offered.
type SMTPMailer struct {
	cfg       config.SMTPConfig
	templates *Templates
}

// NewSMTPMailer constructs an SMTP mailer.
func NewSMTPMailer(cfg config.SMTPConfig, templates *Templates) *SMTPMailer {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	return &SMTPMailer{cfg: cfg, templates: templates}
}

// Send renders the template and delivers it.
func (m *SMTPMailer) Send(ctx context.Context, template, recipient string, data map[string]interface{}) error {
	subject, body, err := m.templates.Render(template, data)
	if err != nil {
		return err
	}
	msg, err := compose(m.cfg.From, recipient, subject, body)
	if err != nil {
		return err
	}
	client, err := mail.NewClient(m.cfg.Host, m.clientOptions()...)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("send mail via %s:%d: %w", m.cfg.Host, m.cfg.Port, err)
	}
	return nil
}

func (m *SMTPMailer) clientOptions() []mail.Option {
	opts := []mail.Option{
		mail.WithPort(m.cfg.Port),
		mail.WithTimeout(smtpTimeout),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
	}
	if m.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(m.cfg.Username),
			mail.WithPassword(m.cfg.Password),
		)
	}
	return opts
}

// LogMailer renders messages and writes them to the log instead of sending them.
type LogMailer struct {
	templates *Templates
	logger    *zap.Logger
}

// NewLogMailer constructs a logging mailer.
func NewLogMailer(templates *Templates, logger *zap.Logger) *LogMailer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogMailer{templates: templates, logger: logger}
}

// Send renders the template and logs the result.
func (m *LogMailer) Send(_ context.Context, template, recipient string, data map[string]interface{}) error {
	subject, body, err := m.templates.Render(template, data)
	if err != nil {
		return err
	}
	if _, err := compose("noreply@localhost", recipient, subject, body); err != nil {
		return err
	}
	m.logger.Info("email rendered",
		zap.String("template", template),
		zap.String("recipient", recipient),
		zap.String("subject", subject),
		zap.Int("body_bytes", len(body)),
	)
	return nil
}

// compose builds a plain-text message with Date and Message-ID set.
func compose(from, recipient, subject, body string) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.From(from); err != nil {
		return nil, fmt.Errorf("invalid sender: %w", err)
	}
	if err := msg.To(recipient); err != nil {
		return nil, fmt.Errorf("invalid recipient: %w", err)
	}
	msg.Subject(subject)
	msg.SetDate()
	msg.SetMessageID()
	msg.SetBodyString(mail.TypeTextPlain, body)
	return msg, nil
}
