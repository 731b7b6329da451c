// Package notifications delivers templated email to ticket requesters.
package notifications

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log"
	"net/smtp"
	"strconv"
	"time"

	"github.com/opendachs/ticketd/internal/config"
)

// ErrNotification wraps delivery failures. Callers log these; a failed
// notification never rolls back a committed state transition.
var ErrNotification = errors.New("notification delivery failure")

// Notifier sends one templated notification to a recipient.
type Notifier interface {
	Notify(ctx context.Context, recipient, subject, template string, subs map[string]any, att *Attachment) error
}

// SMTPNotifier delivers notifications over SMTP.
type SMTPNotifier struct {
	cfg       config.SMTPConfig
	templates *TemplateSet
	logger    *log.Logger
	now       func() time.Time
}

// NewSMTPNotifier creates a notifier with the embedded template set.
func NewSMTPNotifier(cfg config.SMTPConfig, logger *log.Logger) (*SMTPNotifier, error) {
	templates, err := LoadTemplates()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &SMTPNotifier{cfg: cfg, templates: templates, logger: logger, now: time.Now}, nil
}

// Notify renders the template and delivers the message. Delivery is
// silently skipped when SMTP is disabled.
func (n *SMTPNotifier) Notify(ctx context.Context, recipient, subject, template string, subs map[string]any, att *Attachment) error {
	if !n.cfg.Enabled {
		n.logger.Printf("smtp disabled, skipping %s notification to %s", template, recipient)
		return nil
	}
	if recipient == "" {
		return fmt.Errorf("%w: no recipient", ErrNotification)
	}
	body, err := n.templates.Render(template, subs)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotification, err)
	}
	msg, err := buildMessage(n.cfg.From, n.cfg.ReplyTo, recipient, subject, body, att, n.now())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotification, err)
	}
	if err := n.send(ctx, recipient, msg); err != nil {
		return fmt.Errorf("%w: %v", ErrNotification, err)
	}
	n.logger.Printf("sent %s notification to %s", template, recipient)
	return nil
}

func (n *SMTPNotifier) send(ctx context.Context, recipient string, msg []byte) error {
	addr := n.cfg.Host + ":" + strconv.Itoa(n.cfg.Port)
	tlsConfig := &tls.Config{
		ServerName:         n.cfg.Host,
		InsecureSkipVerify: n.cfg.SkipVerify,
	}

	var client *smtp.Client
	var err error
	switch n.cfg.EffectiveTLSMode() {
	case "smtps":
		conn, dialErr := tls.Dial("tcp", addr, tlsConfig)
		if dialErr != nil {
			return fmt.Errorf("connect to SMTP server: %w", dialErr)
		}
		client, err = smtp.NewClient(conn, n.cfg.Host)
	default:
		client, err = smtp.Dial(addr)
	}
	if err != nil {
		return fmt.Errorf("connect to SMTP server: %w", err)
	}
	defer client.Close()

	if n.cfg.EffectiveTLSMode() == "starttls" {
		if err := client.StartTLS(tlsConfig); err != nil {
			return fmt.Errorf("start TLS: %w", err)
		}
	}

	if auth := n.auth(); auth != nil {
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("SMTP authentication: %w", err)
		}
	}

	if err := client.Mail(n.cfg.From); err != nil {
		return fmt.Errorf("set sender: %w", err)
	}
	if err := client.Rcpt(recipient); err != nil {
		return fmt.Errorf("set recipient %s: %w", recipient, err)
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("initiate data transfer: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close data transfer: %w", err)
	}
	return client.Quit()
}

func (n *SMTPNotifier) auth() smtp.Auth {
	if n.cfg.User == "" || n.cfg.Password == "" {
		return nil
	}
	switch n.cfg.AuthType {
	case "login":
		return &loginAuth{username: n.cfg.User, password: n.cfg.Password}
	default:
		return smtp.PlainAuth("", n.cfg.User, n.cfg.Password, n.cfg.Host)
	}
}

// loginAuth implements SMTP LOGIN authentication.
type loginAuth struct {
	username, password string
}

func (a *loginAuth) Start(server *smtp.ServerInfo) (string, []byte, error) {
	return "LOGIN", []byte{}, nil
}

func (a *loginAuth) Next(fromServer []byte, more bool) ([]byte, error) {
	if more {
		switch string(fromServer) {
		case "Username:":
			return []byte(a.username), nil
		case "Password:":
			return []byte(a.password), nil
		default:
			return nil, fmt.Errorf("unexpected server challenge: %s", fromServer)
		}
	}
	return nil, nil
}
