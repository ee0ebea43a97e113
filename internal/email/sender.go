package email

import (
	"context"
	"errors"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/example/artisanhub/internal/config"
)

var ErrMissingRecipient = errors.New("email: recipient is required")

// Message is a single outgoing email
type Message struct {
	To      string
	Subject string
	HTML    string
	Text    string
}

// Sender delivers messages
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// FromConfig builds the sender named by cfg.Provider
func FromConfig(cfg config.EmailConfig) (Sender, error) {
	switch cfg.Provider {
	case "", "smtp":
		return NewSMTPSender(cfg.SMTPHost, cfg.SMTPPort, cfg.FromAddress, cfg.FromName), nil
	case "sendgrid":
		if cfg.SendGridKey == "" {
			return nil, errors.New("email: sendgrid_key is required for the sendgrid provider")
		}
		return NewSendGridSender(cfg.SendGridKey, cfg.FromAddress, cfg.FromName), nil
	default:
		return nil, fmt.Errorf("email: unknown provider %q", cfg.Provider)
	}
}

type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPSender sends through an unauthenticated relay, e.g. MailHog in development
type SMTPSender struct {
	host     string
	port     string
	from     string
	fromName string
	sendMail sendMailFunc
}

func NewSMTPSender(host, port, from, fromName string) *SMTPSender {
	return &SMTPSender{
		host:     host,
		port:     port,
		from:     from,
		fromName: fromName,
		sendMail: smtp.SendMail,
	}
}

func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	if msg.To == "" {
		return ErrMissingRecipient
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	from := s.from
	if s.fromName != "" {
		from = fmt.Sprintf("%s <%s>", s.fromName, s.from)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", msg.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", msg.Subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=UTF-8\r\n\r\n")
	b.WriteString(msg.HTML)

	addr := s.host + ":" + s.port
	if err := s.sendMail(addr, nil, s.from, []string{msg.To}, []byte(b.String())); err != nil {
		return fmt.Errorf("smtp send to %s: %w", addr, err)
	}
	return nil
}
