package utils

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gopkg.in/gomail.v2"
)

// OutboundMail is one rendered email ready for transport
type OutboundMail struct {
	To      string
	ToName  string
	Subject string
	HTML    string
	Text    string
}

// SendResult carries the provider metadata recorded on a sent job
type SendResult struct {
	MessageID string
	Response  string
}

// Mailer delivers rendered emails over SMTP
type Mailer struct {
	dialer    *gomail.Dialer
	fromEmail string
	fromName  string
	timeout   time.Duration
}

func NewMailer(host string, port int, username, password, fromEmail, fromName string, timeout time.Duration) *Mailer {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Mailer{
		dialer:    gomail.NewDialer(host, port, username, password),
		fromEmail: fromEmail,
		fromName:  fromName,
		timeout:   timeout,
	}
}

// Send delivers one email. The attempt is bounded by the configured
// timeout; a timeout is reported as an error so callers can retry.
func (m *Mailer) Send(mail OutboundMail) (*SendResult, error) {
	messageID := fmt.Sprintf("<%s@mailtrigger>", uuid.New().String())

	msg := gomail.NewMessage()
	msg.SetHeader("From", msg.FormatAddress(m.fromEmail, m.fromName))
	msg.SetHeader("To", msg.FormatAddress(mail.To, mail.ToName))
	msg.SetHeader("Subject", mail.Subject)
	msg.SetHeader("Message-Id", messageID)
	msg.SetBody("text/html", mail.HTML)
	if mail.Text != "" {
		msg.AddAlternative("text/plain", mail.Text)
	}

	done := make(chan error, 1)
	go func() {
		done <- m.dialer.DialAndSend(msg)
	}()

	select {
	case err := <-done:
		if err != nil {
			return nil, fmt.Errorf("smtp send failed: %w", err)
		}
	case <-time.After(m.timeout):
		return nil, fmt.Errorf("smtp send timed out after %s", m.timeout)
	}

	return &SendResult{
		MessageID: messageID,
		Response:  "250 accepted",
	}, nil
}
