package actions

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/rendis/schedflow/pkg/schema"
)

// EmailMessage is a single outbound email.
type EmailMessage struct {
	To      string `json:"to"`
	Subject string `json:"subject,omitempty"`
	Body    string `json:"body,omitempty"`
}

// Mailer delivers email. Delivery channels live outside schedflow; the
// default LogMailer only records what would be sent.
type Mailer interface {
	Send(ctx context.Context, msg EmailMessage) error
}

// LogMailer logs each message with slog.
type LogMailer struct {
	Logger *slog.Logger
}

// Send implements Mailer.
func (m *LogMailer) Send(ctx context.Context, msg EmailMessage) error {
	logger := m.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "email queued",
		slog.String("to", msg.To),
		slog.String("subject", msg.Subject),
		slog.Int("body_bytes", len(msg.Body)))
	return nil
}

// MemoryMailer keeps sent messages in memory.
type MemoryMailer struct {
	mu   sync.Mutex
	sent []EmailMessage
}

// Send implements Mailer.
func (m *MemoryMailer) Send(_ context.Context, msg EmailMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
	return nil
}

// Sent returns a copy of the delivered messages.
func (m *MemoryMailer) Sent() []EmailMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]EmailMessage(nil), m.sent...)
}

const sendEmailInputSchema = `{
  "type": "object",
  "properties": {
    "to": {"type": "string"},
    "emailTo": {"type": "string"},
    "subject": {"type": "string"},
    "emailSubject": {"type": "string"},
    "body": {"type": "string"},
    "emailBody": {"type": "string"}
  },
  "anyOf": [
    {"required": ["to"], "properties": {"to": {"minLength": 1}}},
    {"required": ["emailTo"], "properties": {"emailTo": {"minLength": 1}}}
  ]
}`

// SendEmailAction implements the "Send Email" action.
type SendEmailAction struct {
	mailer Mailer
}

// NewSendEmailAction creates a Send Email action delivering through mailer.
func NewSendEmailAction(mailer Mailer) *SendEmailAction {
	if mailer == nil {
		mailer = &LogMailer{}
	}
	return &SendEmailAction{mailer: mailer}
}

func (a *SendEmailAction) Name() string { return "Send Email" }

func (a *SendEmailAction) Schema() ActionSchema {
	return ActionSchema{
		Description: "Send an email; to/emailTo is required, subject and body are optional.",
		InputSchema: json.RawMessage(sendEmailInputSchema),
	}
}

func (a *SendEmailAction) Execute(ctx context.Context, input ActionInput) (*ActionOutput, error) {
	msg := EmailMessage{
		To:      firstString(input.Config, "to", "emailTo"),
		Subject: firstString(input.Config, "subject", "emailSubject"),
		Body:    firstString(input.Config, "body", "emailBody"),
	}
	if msg.To == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "Send Email: missing recipient")
	}
	if err := a.mailer.Send(ctx, msg); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeAction, "Send Email: %v", err).WithCause(err)
	}
	return &ActionOutput{Data: map[string]any{
		"sent":    true,
		"to":      msg.To,
		"subject": msg.Subject,
	}}, nil
}
