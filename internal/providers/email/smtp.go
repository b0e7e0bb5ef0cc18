package email

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"strings"

	"gopkg.in/gomail.v2"
)

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

var ErrNoRecipients = errors.New("email_no_recipients")

var defaultSubjects = map[string]string{
	"payment_approved": "Ödemeniz onaylandı",
}

type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

type SMTPProvider struct {
	cfg    Config
	dialer *gomail.Dialer
}

func NewSMTP(cfg Config) *SMTPProvider {
	return &SMTPProvider{
		cfg:    cfg,
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
	}
}

func (p *SMTPProvider) Send(ctx context.Context, to []string, subject string, htmlBody string) error {
	recipients := compact(to)
	if len(recipients) == 0 {
		return ErrNoRecipients
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m := gomail.NewMessage()
	m.SetHeader("From", p.cfg.From)
	m.SetHeader("To", recipients...)
	m.SetHeader("Subject", subject)
	m.SetBody("text/html", htmlBody)

	return p.dialer.DialAndSend(m)
}

func (p *SMTPProvider) SendTemplate(ctx context.Context, to []string, templateName string, data map[string]any) error {
	body, err := Render(templateName, data)
	if err != nil {
		return err
	}

	subject := defaultSubjects[templateName]
	if subj, ok := data["subject"].(string); ok && subj != "" {
		subject = subj
	}
	if subject == "" {
		subject = "Shorty.AI"
	}
	return p.Send(ctx, to, subject, body)
}

// Render executes an embedded template by name (without extension).
func Render(templateName string, data map[string]any) (string, error) {
	var body bytes.Buffer
	if err := templates.ExecuteTemplate(&body, templateName+".html", data); err != nil {
		return "", fmt.Errorf("render template %s: %w", templateName, err)
	}
	return body.String(), nil
}

func compact(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
