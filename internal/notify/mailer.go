package notify

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/gomail.v2"
)

//go:embed templates/*.html
var templateFS embed.FS

// Dialer sends composed messages. *gomail.Dialer satisfies it.
type Dialer interface {
	DialAndSend(m ...*gomail.Message) error
}

// MailerConfig holds sender and SMTP settings.
type MailerConfig struct {
	FromAddress string
	FromName    string
	SMTPHost    string
	SMTPPort    int
	SMTPUser    string
	SMTPPass    string
}

// Mailer renders templates and sends them over SMTP.
type Mailer struct {
	dialer    Dialer
	from      string
	templates *template.Template
	logger    *zap.Logger
}

// NewMailer creates an SMTP mailer. With no SMTP host configured messages are logged instead of sent.
func NewMailer(cfg MailerConfig, logger *zap.Logger) (*Mailer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var d Dialer
	if cfg.SMTPHost == "" {
		logger.Warn("SMTP_HOST not set, emails will only be logged")
		d = logDialer{logger: logger}
	} else {
		d = gomail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass)
	}
	return NewMailerWithDialer(d, cfg.FromName, cfg.FromAddress, logger)
}

// NewMailerWithDialer creates a mailer with a custom transport.
func NewMailerWithDialer(d Dialer, fromName, fromAddress string, logger *zap.Logger) (*Mailer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	tmpl, err := template.New("").Funcs(template.FuncMap{"upper": strings.ToUpper}).ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse email templates: %w", err)
	}
	from := fromAddress
	if fromName != "" {
		from = gomail.NewMessage().FormatAddress(fromAddress, fromName)
	}
	return &Mailer{dialer: d, from: from, templates: tmpl, logger: logger}, nil
}

// Render executes the named template with data.
func (m *Mailer) Render(name string, data map[string]any) (string, error) {
	var buf bytes.Buffer
	if err := m.templates.ExecuteTemplate(&buf, name+".html", data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return buf.String(), nil
}

// Send implements Sink.
func (m *Mailer) Send(ctx context.Context, msg Message) error {
	if len(msg.To) == 0 {
		return ErrNoRecipients
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := m.Render(msg.Template, msg.Data)
	if err != nil {
		return err
	}
	gm := gomail.NewMessage()
	gm.SetHeader("From", m.from)
	gm.SetHeader("To", msg.To...)
	gm.SetHeader("Subject", msg.Subject)
	gm.SetBody("text/html", body)
	if err := m.dialer.DialAndSend(gm); err != nil {
		return fmt.Errorf("smtp send %s: %w", msg.Template, err)
	}
	m.logger.Info("email sent", zap.String("template", msg.Template), zap.Strings("to", msg.To))
	return nil
}

type logDialer struct {
	logger *zap.Logger
}

func (d logDialer) DialAndSend(msgs ...*gomail.Message) error {
	for _, gm := range msgs {
		d.logger.Info("email (not sent)", zap.Strings("to", gm.GetHeader("To")), zap.Strings("subject", gm.GetHeader("Subject")))
	}
	return nil
}
