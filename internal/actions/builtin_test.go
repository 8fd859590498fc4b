package actions

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/schedflow/pkg/schema"
)

func TestRegisterBuiltins(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, RegisterBuiltins(reg, BuiltinConfig{Logger: discardLogger()}))

	names := make([]string, 0, reg.Len())
	for _, info := range reg.Catalog() {
		names = append(names, info.Name)
		assert.NotEmpty(t, info.Description, info.Name)
	}
	assert.Equal(t, []string{"HTTP Request", "Log", "Send Email", "Transform"}, names)

	assert.Error(t, RegisterBuiltins(reg, BuiltinConfig{}), "second registration conflicts")
	assert.Equal(t, 4, reg.Len())
}

// --- Send Email ---

func TestSendEmail_PrimaryKeys(t *testing.T) {
	mailer := &MemoryMailer{}
	a := NewSendEmailAction(mailer)

	out, err := a.Execute(context.Background(), ActionInput{Config: map[string]any{
		"to": "ada@example.com", "subject": "Welcome", "body": "Hi Ada",
	}})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"sent": true, "to": "ada@example.com", "subject": "Welcome"}, out.Data)
	assert.Equal(t, []EmailMessage{{To: "ada@example.com", Subject: "Welcome", Body: "Hi Ada"}}, mailer.Sent())
}

func TestSendEmail_FallbackKeys(t *testing.T) {
	mailer := &MemoryMailer{}
	a := NewSendEmailAction(mailer)

	_, err := a.Execute(context.Background(), ActionInput{Config: map[string]any{
		"emailTo": "bob@example.com", "emailSubject": "Reminder", "emailBody": "Tomorrow at 9",
	}})
	require.NoError(t, err)
	assert.Equal(t, []EmailMessage{{To: "bob@example.com", Subject: "Reminder", Body: "Tomorrow at 9"}}, mailer.Sent())
}

func TestSendEmail_RequiresRecipient(t *testing.T) {
	a := NewSendEmailAction(&MemoryMailer{})
	_, err := a.Execute(context.Background(), ActionInput{Config: map[string]any{"to": "  "}})
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))

	d := newTestDispatcher(t, a)
	_, err = d.Execute(context.Background(), "Send Email", map[string]any{"subject": "no one"})
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
	assert.Contains(t, schema.Message(err), "Send Email: invalid config")
}

type failingMailer struct{}

func (failingMailer) Send(context.Context, EmailMessage) error { return errors.New("smtp down") }

func TestSendEmail_MailerError(t *testing.T) {
	a := NewSendEmailAction(failingMailer{})
	_, err := a.Execute(context.Background(), ActionInput{Config: map[string]any{"to": "x@example.com"}})
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeAction))
	assert.Equal(t, "Send Email: smtp down", schema.Message(err))
}

func TestLogMailer_Logs(t *testing.T) {
	var buf bytes.Buffer
	m := &LogMailer{Logger: slog.New(slog.NewTextHandler(&buf, nil))}
	require.NoError(t, m.Send(context.Background(), EmailMessage{To: "ada@example.com", Subject: "Hi"}))
	assert.Contains(t, buf.String(), "email queued")
	assert.Contains(t, buf.String(), "to=ada@example.com")
}

// --- Transform ---

func TestTransform(t *testing.T) {
	a := NewTransformAction()
	out, err := a.Execute(context.Background(), ActionInput{Config: map[string]any{
		"filter": "[.items[] | select(.qty > 1) | .name]",
		"input": map[string]any{"items": []any{
			map[string]any{"name": "a", "qty": 1},
			map[string]any{"name": "b", "qty": 3},
		}},
	}})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"result": []any{"b"}}, out.Data)
}

func TestTransform_Errors(t *testing.T) {
	a := NewTransformAction()
	_, err := a.Execute(context.Background(), ActionInput{Config: map[string]any{"filter": ""}})
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))

	_, err = a.Execute(context.Background(), ActionInput{Config: map[string]any{"filter": ".a | error(\"bad\")", "input": map[string]any{}}})
	assert.Error(t, err)
}

// --- Log ---

func TestLog(t *testing.T) {
	var buf bytes.Buffer
	a := NewLogAction(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))

	out, err := a.Execute(context.Background(), ActionInput{Config: map[string]any{"message": "booking confirmed", "level": "warn"}})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"logged": true}, out.Data)
	assert.Contains(t, buf.String(), "level=WARN")
	assert.Contains(t, buf.String(), `msg="booking confirmed"`)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warning"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel("loud"))
}
