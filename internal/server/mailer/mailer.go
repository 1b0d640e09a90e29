// Package mailer delivers verification codes and password reset links.
package mailer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/wneessen/go-mail"
)

// ErrInvalidMessage возвращается для письма без адресата, темы или текста
var ErrInvalidMessage = errors.New("message requires to, subject and text")

// Message is a single outgoing email. HTML is optional.
type Message struct {
	To      string
	Subject string
	Text    string
	HTML    string
}

// Validate checks required fields
func (m Message) Validate() error {
	if strings.TrimSpace(m.To) == "" || strings.TrimSpace(m.Subject) == "" || m.Text == "" {
		return ErrInvalidMessage
	}
	return nil
}

// Receipt describes an accepted message
type Receipt struct {
	MessageID string
	Accepted  []string
}

// Mailer sends email. Callers decide whether a failure is fatal for their flow.
type Mailer interface {
	Send(ctx context.Context, msg Message) (Receipt, error)
}

// SMTPConfig содержит настройки SMTP
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	// TLS: "mandatory", "opportunistic" (default) or "none"
	TLS     string
	Timeout time.Duration
}

// SMTPMailer sends mail through an SMTP relay
type SMTPMailer struct {
	cfg    SMTPConfig
	logger *slog.Logger
}

// NewSMTPMailer validates cfg and returns an SMTP mailer
func NewSMTPMailer(cfg SMTPConfig, logger *slog.Logger) (*SMTPMailer, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("smtp host is required")
	}
	if cfg.From == "" {
		return nil, fmt.Errorf("smtp from address is required")
	}
	if cfg.Port == 0 {
		cfg.Port = mail.DefaultPortTLS
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if _, err := tlsPolicy(cfg.TLS); err != nil {
		return nil, err
	}

	return &SMTPMailer{cfg: cfg, logger: logger}, nil
}

// Send builds the message and delivers it in one SMTP session
func (m *SMTPMailer) Send(ctx context.Context, msg Message) (Receipt, error) {
	if err := msg.Validate(); err != nil {
		return Receipt{}, err
	}

	out, err := m.buildMsg(msg)
	if err != nil {
		return Receipt{}, err
	}

	client, err := m.newClient()
	if err != nil {
		return Receipt{}, err
	}

	if err := client.DialAndSendWithContext(ctx, out); err != nil {
		return Receipt{}, fmt.Errorf("failed to deliver mail: %w", err)
	}

	receipt := Receipt{Accepted: []string{msg.To}}
	if ids := out.GetGenHeader(mail.HeaderMessageID); len(ids) > 0 {
		receipt.MessageID = ids[0]
	}

	m.logger.DebugContext(ctx, "mail delivered",
		slog.String("message_id", receipt.MessageID),
		slog.String("subject", msg.Subject),
	)

	return receipt, nil
}

func (m *SMTPMailer) buildMsg(msg Message) (*mail.Msg, error) {
	out := mail.NewMsg()
	if err := out.From(m.cfg.From); err != nil {
		return nil, fmt.Errorf("invalid from address: %w", err)
	}
	if err := out.To(msg.To); err != nil {
		return nil, fmt.Errorf("invalid recipient: %w", err)
	}
	out.Subject(msg.Subject)
	out.SetMessageIDWithValue(uuid.NewString() + "@" + m.cfg.Host)
	out.SetDate()
	out.SetBodyString(mail.TypeTextPlain, msg.Text)
	if msg.HTML != "" {
		out.AddAlternativeString(mail.TypeTextHTML, msg.HTML)
	}
	return out, nil
}

func (m *SMTPMailer) newClient() (*mail.Client, error) {
	policy, err := tlsPolicy(m.cfg.TLS)
	if err != nil {
		return nil, err
	}

	opts := []mail.Option{
		mail.WithPort(m.cfg.Port),
		mail.WithTimeout(m.cfg.Timeout),
		mail.WithTLSPortPolicy(policy),
	}
	if m.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(m.cfg.Username),
			mail.WithPassword(m.cfg.Password),
		)
	}

	client, err := mail.NewClient(m.cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create smtp client: %w", err)
	}
	return client, nil
}

func tlsPolicy(name string) (mail.TLSPolicy, error) {
	switch strings.ToLower(name) {
	case "", "opportunistic":
		return mail.TLSOpportunistic, nil
	case "mandatory":
		return mail.TLSMandatory, nil
	case "none":
		return mail.NoTLS, nil
	default:
		return mail.NoTLS, fmt.Errorf("unknown smtp tls policy %q", name)
	}
}

// LogMailer пишет письма в лог вместо отправки; для разработки без SMTP
type LogMailer struct {
	logger *slog.Logger
}

// NewLogMailer creates a LogMailer
func NewLogMailer(logger *slog.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

// Send logs the message body. Only for local development: it contains codes and links.
func (m *LogMailer) Send(ctx context.Context, msg Message) (Receipt, error) {
	if err := msg.Validate(); err != nil {
		return Receipt{}, err
	}

	id := uuid.NewString()
	m.logger.InfoContext(ctx, "mail (not sent, log mailer)",
		slog.String("message_id", id),
		slog.String("to", msg.To),
		slog.String("subject", msg.Subject),
		slog.String("text", msg.Text),
	)

	return Receipt{MessageID: id, Accepted: []string{msg.To}}, nil
}
