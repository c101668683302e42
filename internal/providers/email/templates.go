package email

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"strings"
)

const (
	TemplatePaymentReminder        = "payment_reminder"
	TemplateEnrollmentConfirmation = "enrollment_confirmation"
)

//go:embed templates/*.html
var templateFS embed.FS

var subjects = map[string]string{
	TemplatePaymentReminder:        "Your TumbleBus payment is due",
	TemplateEnrollmentConfirmation: "Welcome to TumbleBus",
}

// Templates holds the parsed, embedded message bodies.
type Templates struct {
	set *template.Template
}

func ParseTemplates() (*Templates, error) {
	set, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse email templates: %w", err)
	}
	return &Templates{set: set}, nil
}

func MustTemplates() *Templates {
	t, err := ParseTemplates()
	if err != nil {
		panic(err)
	}
	return t
}

// Render returns the subject and HTML body. A "subject" key in a map data
// value overrides the default subject.
func (t *Templates) Render(name string, data any) (string, string, error) {
	tmpl := t.set.Lookup(name + ".html")
	if tmpl == nil {
		return "", "", fmt.Errorf("%w: %s", ErrUnknownTemplate, name)
	}
	var body bytes.Buffer
	if err := tmpl.Execute(&body, data); err != nil {
		return "", "", fmt.Errorf("render %s: %w", name, err)
	}
	subject := subjects[name]
	if m, ok := data.(map[string]any); ok {
		if s, ok := m["subject"].(string); ok && strings.TrimSpace(s) != "" {
			subject = s
		}
	}
	return subject, body.String(), nil
}
