package provider

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/textproto"
	"strings"

	"gopkg.in/gomail.v2"
)

const defaultSenderName = "Performance Hub"

// SMTPConfig configures an SMTPTransport.
type SMTPConfig struct {
	Host               string
	Port               int
	User               string
	Password           string
	FromAddress        string
	FromName           string
	InsecureSkipVerify bool
}

// SMTPTransport delivers mail through an SMTP relay. It is constructed once at
// startup and shared by every dispatch.
type SMTPTransport struct {
	dialer   *gomail.Dialer
	from     string
	fromName string
	send     func(m *gomail.Message) error
}

var _ Transport = (*SMTPTransport)(nil)

func NewSMTPTransport(cfg SMTPConfig) (*SMTPTransport, error) {
	host := strings.TrimSpace(cfg.Host)
	if host == "" {
		return nil, fmt.Errorf("smtp host is required")
	}
	if cfg.Port <= 0 {
		return nil, fmt.Errorf("smtp port must be positive")
	}
	from := strings.TrimSpace(cfg.FromAddress)
	if from == "" {
		return nil, fmt.Errorf("smtp sender address is required")
	}
	fromName := strings.TrimSpace(cfg.FromName)
	if fromName == "" {
		fromName = defaultSenderName
	}

	d := gomail.NewDialer(host, cfg.Port, cfg.User, cfg.Password)
	if cfg.InsecureSkipVerify {
		d.TLSConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	}

	return &SMTPTransport{
		dialer:   d,
		from:     from,
		fromName: fromName,
		send:     func(m *gomail.Message) error { return d.DialAndSend(m) },
	}, nil
}

func (t *SMTPTransport) Name() string {
	if t == nil || t.dialer == nil {
		return "smtp"
	}
	return t.dialer.Host
}

// Send dials the relay and delivers msg. gomail has no context support, so the
// call runs in its own goroutine and is abandoned once ctx is done.
func (t *SMTPTransport) Send(ctx context.Context, msg Message) error {
	if t == nil || t.send == nil {
		return fmt.Errorf("smtp transport is not initialized")
	}
	if err := msg.Validate(); err != nil {
		return &TransportError{Message: "invalid message", Cause: err}
	}

	m := t.buildMessage(msg)

	done := make(chan error, 1)
	go func() {
		done <- t.send(m)
	}()

	select {
	case <-ctx.Done():
		return &TransportError{
			Message:   "smtp send interrupted",
			Transient: true,
			Cause:     ctx.Err(),
		}
	case err := <-done:
		if err == nil {
			return nil
		}
		code := smtpReplyCode(err)
		return &TransportError{
			Code:      code,
			Message:   "smtp send failed",
			Transient: code == 0 || (code >= 400 && code < 500),
			Cause:     err,
		}
	}
}

func (t *SMTPTransport) buildMessage(msg Message) *gomail.Message {
	from := t.from
	if override := strings.TrimSpace(msg.From); override != "" {
		from = override
	}

	m := gomail.NewMessage()
	m.SetAddressHeader("From", from, t.fromName)
	m.SetHeader("To", msg.To...)
	m.SetHeader("Subject", msg.Subject)

	switch {
	case msg.HTML != "" && msg.Text != "":
		m.SetBody("text/plain", msg.Text)
		m.AddAlternative("text/html", msg.HTML)
	case msg.Text != "":
		m.SetBody("text/plain", msg.Text)
	default:
		m.SetBody("text/html", msg.HTML)
	}

	return m
}

func smtpReplyCode(err error) int {
	var smtpErr *textproto.Error
	if errors.As(err, &smtpErr) {
		return smtpErr.Code
	}
	return 0
}
