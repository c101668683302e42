package email

import (
	"context"
	"errors"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captured struct {
	addr string
	from string
	to   []string
	msg  string
}

func newTestSMTP(c *captured, err error) *SMTPProvider {
	p := NewSMTP(Config{Host: "smtp.test", Port: 2525, From: "TumbleBus <no-reply@tumblebus.test>"})
	p.now = func() time.Time { return time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC) }
	p.send = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		c.addr, c.from, c.to, c.msg = addr, from, to, string(msg)
		return err
	}
	return p
}

func TestSMTPSendTemplate(t *testing.T) {
	var c captured
	p := newTestSMTP(&c, nil)

	err := p.SendTemplate(context.Background(), []string{"dana@example.com"}, TemplatePaymentReminder, map[string]any{
		"ParentName": "Dana",
		"Amount":     "$50.00",
		"DueDate":    "Mar 1, 2026",
		"Message":    "due in 3 days",
		"Overdue":    false,
		"Children":   []string{"Ava Rivera"},
	})
	require.NoError(t, err)

	assert.Equal(t, "smtp.test:2525", c.addr)
	assert.Equal(t, "no-reply@tumblebus.test", c.from)
	assert.Equal(t, []string{"dana@example.com"}, c.to)
	assert.Contains(t, c.msg, "Subject: Your TumbleBus payment is due\r\n")
	assert.Contains(t, c.msg, "Content-Type: text/html")
	assert.Contains(t, c.msg, "due in 3 days")
	assert.Contains(t, c.msg, "Ava Rivera")
	assert.True(t, strings.Contains(c.msg, "Date: Sun, 01 Feb 2026 09:00:00 +0000"))
}

func TestSMTPSendWrapsTransportError(t *testing.T) {
	var c captured
	p := newTestSMTP(&c, errors.New("connection refused"))

	err := p.Send(context.Background(), []string{"a@example.com"}, "hi", "<p>hi</p>")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "smtp send")

	assert.ErrorIs(t, p.Send(context.Background(), nil, "hi", "x"), ErrNoRecipients)
}

func TestRenderUnknownTemplate(t *testing.T) {
	_, _, err := MustTemplates().Render("nope", nil)
	assert.ErrorIs(t, err, ErrUnknownTemplate)
}

func TestRenderSubjectOverride(t *testing.T) {
	subject, body, err := MustTemplates().Render(TemplateEnrollmentConfirmation, map[string]any{
		"subject":    "Custom",
		"ParentName": "Dana",
		"Plan":       "1 Child",
		"Amount":     "$50.00",
	})
	require.NoError(t, err)
	assert.Equal(t, "Custom", subject)
	assert.Contains(t, body, "1 Child")
}

func TestEnvelopeFrom(t *testing.T) {
	assert.Equal(t, "a@b.c", envelopeFrom("Name <a@b.c>"))
	assert.Equal(t, "a@b.c", envelopeFrom(" a@b.c "))
}
