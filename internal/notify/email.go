package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/google/uuid"
)

// SMTPSender delivers mail over unauthenticated SMTP
// (Mailpit-compatible in development, relay-compatible in production).
type SMTPSender struct {
	addr string
	from string
}

func NewSMTPSender(host, port, from string) *SMTPSender {
	host = strings.TrimSpace(host)
	port = strings.TrimSpace(port)
	from = strings.TrimSpace(from)
	if from == "" {
		from = "no-reply@booker.local"
	}
	return &SMTPSender{
		addr: fmt.Sprintf("%s:%s", host, port),
		from: from,
	}
}

func (s *SMTPSender) ProviderID() string {
	return "smtp"
}

func (s *SMTPSender) Send(_ context.Context, to, subject, html string) (string, error) {
	messageID := uuid.NewString()
	msg := buildMessage(s.from, to, subject, html, messageID)
	if err := smtp.SendMail(s.addr, nil, s.from, []string{to}, []byte(msg)); err != nil {
		return "", err
	}
	return messageID, nil
}

func buildMessage(from, to, subject, html, messageID string) string {
	// Minimal RFC 5322 message; enough for Mailpit and most relays.
	return fmt.Sprintf(
		"From: %s\r\nTo: %s\r\nSubject: %s\r\nMessage-ID: <%s@booker>\r\nMIME-Version: 1.0\r\nContent-Type: text/html; charset=utf-8\r\n\r\n%s\r\n",
		from,
		to,
		subject,
		messageID,
		html,
	)
}
