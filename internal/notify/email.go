package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/wolfman30/medicarex-booking/pkg/logging"
)

// ErrRejected marks a message the provider will never accept (bad address,
// unverified sender). Retrying it is pointless.
var ErrRejected = errors.New("notify: message rejected by provider")

// EmailSender delivers one message. Implementations wrap ErrRejected for
// permanent failures; any other error is treated as transient.
type EmailSender interface {
	Send(ctx context.Context, msg EmailMessage) error
}

// EmailMessage is a single transactional email.
type EmailMessage struct {
	To      string
	ToName  string
	ReplyTo string
	Subject string
	Text    string
	HTML    string
	// Category groups messages in provider dashboards, e.g. "appointment_confirmed".
	Category string
	// Tags ride along as provider metadata (custom args on SendGrid, message tags on SES).
	Tags map[string]string
}

type sendGridClient interface {
	SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error)
}

// SendGridSender sends emails via the SendGrid v3 API.
type SendGridSender struct {
	client    sendGridClient
	fromEmail string
	fromName  string
	logger    *logging.Logger
}

type SendGridConfig struct {
	APIKey    string
	FromEmail string
	FromName  string
}

// NewSendGridSender returns nil without an API key.
func NewSendGridSender(cfg SendGridConfig, logger *logging.Logger) *SendGridSender {
	if cfg.APIKey == "" {
		return nil
	}
	return newSendGridSender(sendgrid.NewSendClient(cfg.APIKey), cfg, logger)
}

func newSendGridSender(client sendGridClient, cfg SendGridConfig, logger *logging.Logger) *SendGridSender {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.FromName == "" {
		cfg.FromName = "MediCareX"
	}
	return &SendGridSender{
		client:    client,
		fromEmail: cfg.FromEmail,
		fromName:  cfg.FromName,
		logger:    logger.With("component", "notify.sendgrid"),
	}
}

func (s *SendGridSender) Send(ctx context.Context, msg EmailMessage) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("notify: sendgrid client not configured")
	}

	response, err := s.client.SendWithContext(ctx, s.build(msg))
	if err != nil {
		return fmt.Errorf("notify: sendgrid send: %w", err)
	}
	switch {
	case response.StatusCode == http.StatusTooManyRequests || response.StatusCode >= 500:
		return fmt.Errorf("notify: sendgrid returned status %d", response.StatusCode)
	case response.StatusCode >= 400:
		s.logger.Warn("sendgrid rejected message", "status", response.StatusCode, "body", response.Body, "category", msg.Category)
		return fmt.Errorf("%w: sendgrid status %d", ErrRejected, response.StatusCode)
	}

	s.logger.Info("email sent", "category", msg.Category, "status", response.StatusCode)
	return nil
}

func (s *SendGridSender) build(msg EmailMessage) *mail.SGMailV3 {
	m := mail.NewV3Mail()
	m.SetFrom(mail.NewEmail(s.fromName, s.fromEmail))
	m.Subject = msg.Subject

	p := mail.NewPersonalization()
	p.AddTos(mail.NewEmail(msg.ToName, msg.To))
	for _, k := range sortedKeys(msg.Tags) {
		p.SetCustomArg(k, msg.Tags[k])
	}
	m.AddPersonalizations(p)

	text := msg.Text
	if text == "" {
		text = msg.Subject
	}
	m.AddContent(mail.NewContent("text/plain", text))
	if msg.HTML != "" {
		m.AddContent(mail.NewContent("text/html", msg.HTML))
	}
	if msg.ReplyTo != "" {
		m.SetReplyTo(mail.NewEmail("", msg.ReplyTo))
	}
	if msg.Category != "" {
		m.AddCategories(msg.Category)
	}
	return m
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// StubEmailSender logs instead of sending. Used when no provider is configured.
type StubEmailSender struct {
	logger *logging.Logger
}

func NewStubEmailSender(logger *logging.Logger) *StubEmailSender {
	if logger == nil {
		logger = logging.Default()
	}
	return &StubEmailSender{logger: logger.With("component", "notify.stub")}
}

func (s *StubEmailSender) Send(ctx context.Context, msg EmailMessage) error {
	s.logger.Info("email suppressed", "category", msg.Category, "subject", msg.Subject, "tags", msg.Tags)
	return nil
}

var (
	_ EmailSender = (*SendGridSender)(nil)
	_ EmailSender = (*StubEmailSender)(nil)
)
