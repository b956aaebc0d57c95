// Package notify tells parties about negotiation events. Delivery is
// fire-and-forget: a failed send is logged and never undoes the change that
// triggered it.
package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/rs/zerolog"
)

// Notification is one message to one recipient.
type Notification struct {
	RecipientEmail string
	RecipientName  string
	SenderName     string
	Text           string
	ActionLink     string
}

type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// SMTPConfig holds outbound mail settings.
type SMTPConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
}

func (c SMTPConfig) Configured() bool {
	return c.Host != "" && c.Port != "" && c.From != ""
}

// SMTPNotifier sends plain-text mail.
type SMTPNotifier struct {
	cfg    SMTPConfig
	server string
	auth   smtp.Auth
	send   func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewSMTPNotifier(cfg SMTPConfig) *SMTPNotifier {
	var auth smtp.Auth
	if cfg.Username != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	return &SMTPNotifier{
		cfg:    cfg,
		server: cfg.Host + ":" + cfg.Port,
		auth:   auth,
		send:   smtp.SendMail,
	}
}

func (s *SMTPNotifier) Notify(ctx context.Context, n Notification) error {
	if n.RecipientEmail == "" {
		return fmt.Errorf("notify: missing recipient email")
	}
	return s.send(s.server, s.auth, s.cfg.From, []string{n.RecipientEmail}, s.compose(n))
}

func (s *SMTPNotifier) compose(n Notification) []byte {
	from := s.cfg.From
	if s.cfg.FromName != "" {
		from = fmt.Sprintf("%s <%s>", s.cfg.FromName, s.cfg.From)
	}
	to := n.RecipientEmail
	if n.RecipientName != "" {
		to = fmt.Sprintf("%s <%s>", n.RecipientName, n.RecipientEmail)
	}

	var body strings.Builder
	if n.RecipientName != "" {
		fmt.Fprintf(&body, "Hi %s,\r\n\r\n", n.RecipientName)
	}
	body.WriteString(n.Text)
	body.WriteString("\r\n")
	if n.ActionLink != "" {
		fmt.Fprintf(&body, "\r\n%s\r\n", n.ActionLink)
	}

	return []byte(fmt.Sprintf(
		"To: %s\r\n"+
			"From: %s\r\n"+
			"Subject: %s\r\n"+
			"Content-Type: text/plain; charset=UTF-8\r\n"+
			"\r\n"+
			"%s",
		to,
		from,
		subject(n),
		body.String(),
	))
}

func subject(n Notification) string {
	if n.SenderName != "" {
		return "Update from " + n.SenderName
	}
	return "Update on your quote request"
}

// LogNotifier writes notifications to the log, for development and for
// deployments without SMTP.
type LogNotifier struct {
	logger zerolog.Logger
}

func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (l *LogNotifier) Notify(ctx context.Context, n Notification) error {
	l.logger.Info().
		Str("to", n.RecipientEmail).
		Str("from", n.SenderName).
		Str("link", n.ActionLink).
		Msg(n.Text)
	return nil
}
