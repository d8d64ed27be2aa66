// Package mailer sends notification emails over SMTP, wrapped behind an
// interface plus constructor-by-config shape. SMTP is a protocol, not a
// vendor API, so the single concrete implementation here uses stdlib
// net/smtp directly rather than reaching for a third-party mail client.
package mailer

import (
	"fmt"
	"net/smtp"
	"strings"
)

// Config mirrors the SMTP_* environment variables.
type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	ReplyTo  string
}

// Mailer is the interface internal/dispatcher depends on, so tests can
// supply a fake without dialing a real SMTP server.
type Mailer interface {
	Send(to, subject, body string) error
}

type smtpMailer struct {
	cfg  Config
	auth smtp.Auth
}

// New constructs the stdlib net/smtp-backed Mailer.
func New(cfg Config) Mailer {
	var auth smtp.Auth
	if cfg.Username != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	return &smtpMailer{cfg: cfg, auth: auth}
}

func (m *smtpMailer) Send(to, subject, body string) error {
	if to == "" {
		return fmt.Errorf("mailer: recipient address is empty")
	}

	headers := map[string]string{
		"From":         m.cfg.From,
		"To":           to,
		"Subject":      subject,
		"MIME-Version": "1.0",
		"Content-Type": "text/plain; charset=\"utf-8\"",
	}
	if m.cfg.ReplyTo != "" {
		headers["Reply-To"] = m.cfg.ReplyTo
	}

	var b strings.Builder
	for k, v := range headers {
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(v)
		b.WriteString("\r\n")
	}
	b.WriteString("\r\n")
	b.WriteString(body)

	addr := m.cfg.Host + ":" + m.cfg.Port
	if err := smtp.SendMail(addr, m.auth, m.cfg.From, []string{to}, []byte(b.String())); err != nil {
		return fmt.Errorf("send mail to %s: %w", to, err)
	}
	return nil
}
