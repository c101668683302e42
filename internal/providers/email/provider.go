package email

import (
	"context"
	"errors"
)

var (
	ErrNoRecipients    = errors.New("email_no_recipients")
	ErrUnknownTemplate = errors.New("email_unknown_template")
)

type Provider interface {
	Send(ctx context.Context, to []string, subject string, htmlBody string) error
	SendTemplate(ctx context.Context, to []string, templateName string, data any) error
}

// NoOpProvider renders templates but never delivers. It is used when SMTP
// is disabled so template errors still surface.
type NoOpProvider struct {
	templates *Templates
}

func NewNoOp() *NoOpProvider {
	return &NoOpProvider{templates: MustTemplates()}
}

func (p *NoOpProvider) Send(_ context.Context, to []string, _ string, _ string) error {
	if len(to) == 0 {
		return ErrNoRecipients
	}
	return nil
}

func (p *NoOpProvider) SendTemplate(ctx context.Context, to []string, templateName string, data any) error {
	subject, body, err := p.templates.Render(templateName, data)
	if err != nil {
		return err
	}
	return p.Send(ctx, to, subject, body)
}
