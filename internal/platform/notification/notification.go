// Package notification tells patients about finalized payments by email, SMS
// and the real-time websocket feed.
package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/odonto/payments/internal/platform/apperr"
	"github.com/odonto/payments/internal/platform/webhook"
	"github.com/odonto/payments/internal/platform/websocket"
	"github.com/odonto/payments/pkg/money"
)

// Channel is the medium a notification is delivered through.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

const (
	StatusSent   = "sent"
	StatusFailed = "failed"
)

// Notification is one outbound message.
type Notification struct {
	ID         string     `json:"id"`
	PatientID  int64      `json:"patient_id"`
	PaymentID  int64      `json:"payment_id"`
	Channel    Channel    `json:"channel"`
	Recipient  string     `json:"recipient"`
	Subject    string     `json:"subject,omitempty"`
	Body       string     `json:"body"`
	TemplateID string     `json:"template_id"`
	Status     string     `json:"status"`
	Attempts   int        `json:"attempts"`
	CreatedAt  time.Time  `json:"created_at"`
	SentAt     *time.Time `json:"sent_at,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// PaymentNotice is the payment snapshot the notification endpoint receives.
type PaymentNotice struct {
	ID          int64        `json:"id"`
	InvoiceID   int64        `json:"invoice_id"`
	Amount      money.Amount `json:"amount"`
	Status      string       `json:"status"`
	BankTxnRef  *string      `json:"bank_txn_ref,omitempty"`
	StartedAt   time.Time    `json:"started_at"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
}

// Recipient is the patient behind an invoice.
type Recipient struct {
	PatientID int64
	Name      string
	Email     string
	Phone     *string
}

// RecipientResolver finds who holds an invoice.
type RecipientResolver interface {
	InvoiceHolder(ctx context.Context, invoiceID int64) (*Recipient, error)
}

// EmailSender is the interface for sending email messages.
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

// SMSSender is the interface for sending SMS messages.
type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) error
}

// LogSender writes messages to the log instead of a mail or SMS gateway.
type LogSender struct {
	Logger zerolog.Logger
}

func (s LogSender) SendEmail(_ context.Context, to, subject, _ string) error {
	s.Logger.Info().Str("channel", string(ChannelEmail)).Str("to", to).Str("subject", subject).Msg("notification sent")
	return nil
}

func (s LogSender) SendSMS(_ context.Context, to, _ string) error {
	s.Logger.Info().Str("channel", string(ChannelSMS)).Str("to", to).Msg("notification sent")
	return nil
}

// Template is a message with {{key}} placeholders.
type Template struct {
	ID      string
	Subject string
	Body    string
}

// TemplateEngine renders registered templates.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]Template
}

// NewTemplateEngine creates a TemplateEngine with the payment templates
// registered.
func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{templates: make(map[string]Template)}
	for _, t := range []Template{
		{
			ID:      "payment-paid",
			Subject: "Payment received for invoice {{invoice_id}}",
			Body:    "Dear {{patient_name}}, we received your payment of {{amount}} for invoice {{invoice_id}} (bank reference {{bank_ref}}). Thank you.",
		},
		{
			ID:      "payment-rejected",
			Subject: "Payment for invoice {{invoice_id}} was not approved",
			Body:    "Dear {{patient_name}}, your payment of {{amount}} for invoice {{invoice_id}} was rejected by the bank (reference {{bank_ref}}). The invoice remains pending.",
		},
		{
			ID:   "payment-paid-sms",
			Body: "Payment of {{amount}} for invoice {{invoice_id}} received. Ref {{bank_ref}}.",
		},
		{
			ID:   "payment-rejected-sms",
			Body: "Payment of {{amount}} for invoice {{invoice_id}} was rejected. Ref {{bank_ref}}.",
		},
	} {
		e.templates[t.ID] = t
	}
	return e
}

// RegisterTemplate adds or replaces a template in the engine.
func (e *TemplateEngine) RegisterTemplate(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.ID] = t
}

// Render performs {{key}} replacement. Keys absent from data are left as-is.
func (e *TemplateEngine) Render(templateID string, data map[string]string) (subject, body string, err error) {
	e.mu.RLock()
	t, ok := e.templates[templateID]
	e.mu.RUnlock()
	if !ok {
		return "", "", fmt.Errorf("template %q not found", templateID)
	}

	subject, body = t.Subject, t.Body
	for k, v := range data {
		placeholder := "{{" + k + "}}"
		subject = strings.ReplaceAll(subject, placeholder, v)
		body = strings.ReplaceAll(body, placeholder, v)
	}
	return subject, body, nil
}

const (
	historyPerPatient = 50
	defaultRetryDelay = 500 * time.Millisecond
)

// Service renders and sends payment notifications and keeps a short
// per-patient history in memory.
type Service struct {
	resolver    RecipientResolver
	email       EmailSender
	sms         SMSSender
	templates   *TemplateEngine
	publisher   websocket.Publisher
	maxAttempts int
	retryDelay  time.Duration

	mu      sync.RWMutex
	history map[int64][]*Notification
}

// NewService creates a Service. Each send is tried up to maxRetries+1
// times; publisher may be nil.
func NewService(resolver RecipientResolver, email EmailSender, sms SMSSender, templates *TemplateEngine, publisher websocket.Publisher, maxRetries int) *Service {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Service{
		resolver:    resolver,
		email:       email,
		sms:         sms,
		templates:   templates,
		publisher:   publisher,
		maxAttempts: maxRetries + 1,
		retryDelay:  defaultRetryDelay,
		history:     make(map[int64][]*Notification),
	}
}

// NotifyPayment sends the payment outcome to the invoice holder: always by
// email, by SMS when a phone is on file, and to the patient's websocket
// topic. The returned error joins every channel failure.
func (s *Service) NotifyPayment(ctx context.Context, n PaymentNotice) ([]*Notification, error) {
	if n.ID <= 0 || n.InvoiceID <= 0 {
		return nil, apperr.Validation("payment id and invoice_id are required")
	}
	var tpl string
	switch n.Status {
	case "Paid":
		tpl = "payment-paid"
	case "Rejected":
		tpl = "payment-rejected"
	default:
		return nil, apperr.Validation("only Paid or Rejected payments are notified, got %q", n.Status)
	}

	rcpt, err := s.resolver.InvoiceHolder(ctx, n.InvoiceID)
	if err != nil {
		return nil, err
	}

	bankRef := "-"
	if n.BankTxnRef != nil && *n.BankTxnRef != "" {
		bankRef = *n.BankTxnRef
	}
	data := map[string]string{
		"patient_name": rcpt.Name,
		"invoice_id":   strconv.FormatInt(n.InvoiceID, 10),
		"payment_id":   strconv.FormatInt(n.ID, 10),
		"amount":       n.Amount.String(),
		"bank_ref":     bankRef,
	}

	var (
		sent []*Notification
		errs []error
	)
	deliver := func(ch Channel, to, tpl string) {
		out, err := s.send(ctx, rcpt, n.ID, ch, to, tpl, data)
		if out != nil {
			sent = append(sent, out)
		}
		errs = append(errs, err)
	}
	deliver(ChannelEmail, rcpt.Email, tpl)
	if rcpt.Phone != nil && *rcpt.Phone != "" {
		deliver(ChannelSMS, *rcpt.Phone, tpl+"-sms")
	}

	if s.publisher != nil {
		errs = append(errs, s.publish(ctx, rcpt.PatientID, n))
	}

	zerolog.Ctx(ctx).Info().
		Int64("payment_id", n.ID).
		Int64("patient_id", rcpt.PatientID).
		Int("messages", len(sent)).
		Msg("payment notification dispatched")
	return sent, errors.Join(errs...)
}

func (s *Service) publish(ctx context.Context, patientID int64, n PaymentNotice) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode payment %d event: %w", n.ID, err)
	}
	return s.publisher.Publish(ctx, websocket.Event{
		Type:  "payment." + strings.ToLower(n.Status),
		Topic: websocket.PatientTopic(patientID),
		Data:  payload,
	})
}

func (s *Service) send(ctx context.Context, rcpt *Recipient, paymentID int64, ch Channel, to, tpl string, data map[string]string) (*Notification, error) {
	subject, body, err := s.templates.Render(tpl, data)
	if err != nil {
		return nil, err
	}
	n := &Notification{
		ID:         uuid.New().String(),
		PatientID:  rcpt.PatientID,
		PaymentID:  paymentID,
		Channel:    ch,
		Recipient:  to,
		Subject:    subject,
		Body:       body,
		TemplateID: tpl,
		CreatedAt:  time.Now().UTC(),
	}

	var sendErr error
	for n.Attempts < s.maxAttempts {
		if n.Attempts > 0 {
			if err := webhook.Sleep(ctx, s.retryDelay); err != nil {
				break
			}
		}
		n.Attempts++
		switch ch {
		case ChannelEmail:
			sendErr = s.email.SendEmail(ctx, to, subject, body)
		case ChannelSMS:
			sendErr = s.sms.SendSMS(ctx, to, body)
		}
		if sendErr == nil || ctx.Err() != nil {
			break
		}
	}

	if sendErr != nil {
		n.Status = StatusFailed
		n.Error = sendErr.Error()
		sendErr = fmt.Errorf("send %s to patient %d: %w", ch, rcpt.PatientID, sendErr)
	} else {
		n.Status = StatusSent
		sentAt := time.Now().UTC()
		n.SentAt = &sentAt
	}
	s.record(n)
	return n, sendErr
}

func (s *Service) record(n *Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := append(s.history[n.PatientID], n)
	if len(h) > historyPerPatient {
		h = h[len(h)-historyPerPatient:]
	}
	s.history[n.PatientID] = h
}

// History returns the patient's most recent notifications, newest first.
func (s *Service) History(patientID int64) []*Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h := s.history[patientID]
	out := make([]*Notification, 0, len(h))
	for i := len(h) - 1; i >= 0; i-- {
		out = append(out, h[i])
	}
	return out
}
