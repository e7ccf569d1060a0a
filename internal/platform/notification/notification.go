// Package notification delivers outbound email: templates, senders and a
// retrying mailer used by the domain services.
package notification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Message is a single outbound email. HTML is optional.
type Message struct {
	To      string
	Subject string
	Text    string
	HTML    string
}

// EmailSender is the interface for sending email messages.
type EmailSender interface {
	SendEmail(ctx context.Context, msg Message) error
}

// ---------------------------------------------------------------------------
// Templates
// ---------------------------------------------------------------------------

// Template defines a reusable email. Placeholders use {{key}}.
type Template struct {
	ID      string
	Subject string
	Text    string
	HTML    string
}

const (
	TemplateEmailVerification = "email-verification"
	TemplatePasswordReset     = "password-reset"
	TemplatePaymentRefund     = "payment-refund"
	TemplateAdminMessage      = "admin-message"
)

// TemplateEngine manages templates and renders them with data.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

// NewTemplateEngine creates a TemplateEngine with the built-in templates pre-registered.
func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{templates: make(map[string]*Template)}
	for _, t := range builtIn {
		e.RegisterTemplate(t)
	}
	return e
}

var builtIn = []Template{
	{
		ID:      TemplateEmailVerification,
		Subject: "Verify Your Email",
		Text:    "Your OTP for email verification is {{otp}}. It expires in 10 minutes.",
	},
	{
		ID:      TemplatePasswordReset,
		Subject: "Reset Your Password",
		Text:    "Click this link to reset your password: {{reset_link}}. It expires in 1 hour.",
		HTML: `<div style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto;">
  <h2>Reset Your Password</h2>
  <p>You requested to reset your password. Use the link below to proceed:</p>
  <p><a href="{{reset_link}}">Reset Password</a></p>
  <p>This link expires in 1 hour.</p>
  <p>If you didn't request this, please ignore this email.</p>
</div>`,
	},
	{
		ID:      TemplatePaymentRefund,
		Subject: "Payment Refund Processed",
		Text:    "We have processed a refund of {{amount}} for your appointment. Reason: {{reason}}",
		HTML: `<p>Hello {{name}},</p><p>We have processed a refund of <strong>{{amount}}</strong> for your appointment.</p>` +
			`<p>Reason: {{reason}}</p><p>The refund should appear in your account within 5-7 business days.</p>` +
			`<p>Best regards,<br>Bspoke Health Team</p>`,
	},
	{
		ID:      TemplateAdminMessage,
		Subject: "{{subject}}",
		Text:    "Hello {{name}},\n\n{{message}}\n\nBspoke Health Team",
	},
}

// RegisterTemplate adds or replaces a template in the engine.
func (e *TemplateEngine) RegisterTemplate(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.ID] = &t
}

// Render fills a template into a Message for recipient. Keys absent from
// data are left as-is.
func (e *TemplateEngine) Render(templateID, recipient string, data map[string]string) (Message, error) {
	e.mu.RLock()
	t, ok := e.templates[templateID]
	e.mu.RUnlock()
	if !ok {
		return Message{}, fmt.Errorf("template %q not found", templateID)
	}

	pairs := make([]string, 0, len(data)*2)
	for k, v := range data {
		pairs = append(pairs, "{{"+k+"}}", v)
	}
	r := strings.NewReplacer(pairs...)
	return Message{
		To:      recipient,
		Subject: r.Replace(t.Subject),
		Text:    r.Replace(t.Text),
		HTML:    r.Replace(t.HTML),
	}, nil
}

// ---------------------------------------------------------------------------
// Mailer
// ---------------------------------------------------------------------------

// Mailer renders templates and hands them to a sender, retrying transient
// failures.
type Mailer struct {
	sender    EmailSender
	templates *TemplateEngine
	logger    zerolog.Logger
	attempts  int
	backoff   time.Duration
}

func NewMailer(sender EmailSender, templates *TemplateEngine, logger zerolog.Logger) *Mailer {
	return &Mailer{
		sender:    sender,
		templates: templates,
		logger:    logger,
		attempts:  3,
		backoff:   500 * time.Millisecond,
	}
}

// Send renders templateID for to and delivers it. The last delivery error
// is returned once all attempts fail.
func (m *Mailer) Send(ctx context.Context, to, templateID string, data map[string]string) error {
	msg, err := m.templates.Render(templateID, to, data)
	if err != nil {
		return err
	}
	return m.deliver(ctx, msg)
}

func (m *Mailer) deliver(ctx context.Context, msg Message) error {
	var lastErr error
	for attempt := 1; attempt <= m.attempts; attempt++ {
		lastErr = m.sender.SendEmail(ctx, msg)
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, ErrPermanent) {
			break
		}
		m.logger.Warn().Err(lastErr).
			Str("subject", msg.Subject).
			Int("attempt", attempt).
			Msg("email delivery failed")
		if attempt == m.attempts {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("send email: %w", ctx.Err())
		case <-time.After(m.backoff * time.Duration(attempt)):
		}
	}
	return fmt.Errorf("send email to %s: %w", msg.To, lastErr)
}

// ErrPermanent marks a delivery failure that retrying cannot fix.
var ErrPermanent = errors.New("permanent delivery failure")

// ---------------------------------------------------------------------------
// Test double
// ---------------------------------------------------------------------------

// MockEmailSender is a test double for EmailSender.
type MockEmailSender struct {
	mu         sync.Mutex
	calls      []Message
	ShouldFail bool
	FailError  string
}

// SendEmail records the call and optionally returns an error.
func (m *MockEmailSender) SendEmail(_ context.Context, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, msg)
	if m.ShouldFail {
		return fmt.Errorf("%s: %w", m.FailError, ErrPermanent)
	}
	return nil
}

// Calls returns a copy of recorded messages.
func (m *MockEmailSender) Calls() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Message, len(m.calls))
	copy(out, m.calls)
	return out
}

// Last returns the most recent message, or false when nothing was sent.
func (m *MockEmailSender) Last() (Message, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		return Message{}, false
	}
	return m.calls[len(m.calls)-1], true
}
