// Package notify sends transaction confirmation emails.
//
// Delivery is best effort: callers decide what a failed send means, a
// recipient without an address is skipped, and debug mode only writes a
// trace line.
package notify

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"io"
	"log/slog"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/gomail.v2"
)

//go:embed templates/*.html
var templateFS embed.FS

// Kind selects the message template.
type Kind string

const (
	KindDeposit     Kind = "deposit"
	KindWithdrawal  Kind = "withdrawal"
	KindLoanRequest Kind = "loan_request"
)

var templateFiles = map[Kind]string{
	KindDeposit:     "deposit_email.html",
	KindWithdrawal:  "withdrawal_email.html",
	KindLoanRequest: "loan_email.html",
}

type Recipient struct {
	Name  string
	Email string
}

type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Debug    bool
}

// Mailer renders a template per Kind and delivers it over SMTP.
type Mailer struct {
	cfg       Config
	templates *template.Template
	logger    *slog.Logger
	trace     io.Writer
	send      func(*gomail.Message) error
}

func NewMailer(cfg Config, logger *slog.Logger) (*Mailer, error) {
	tmpl, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("could not parse email templates: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	dialer := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	return &Mailer{
		cfg:       cfg,
		templates: tmpl,
		logger:    logger,
		trace:     os.Stdout,
		send:      func(m *gomail.Message) error { return dialer.DialAndSend(m) },
	}, nil
}

// SetTrace redirects debug-mode output.
func (m *Mailer) SetTrace(w io.Writer) {
	m.trace = w
}

// Send delivers one confirmation. It returns nil without sending in debug
// mode or when the recipient has no address.
func (m *Mailer) Send(ctx context.Context, to Recipient, amount decimal.Decimal, subject string, kind Kind) error {
	if m.cfg.Debug {
		fmt.Fprintf(m.trace, "[DEBUG EMAIL] %s to %s, amount: %s\n", subject, to.Email, amount.StringFixed(2))
		return nil
	}
	if to.Email == "" {
		m.logger.Info("email skipped, recipient has no address", "subject", subject)
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	body, err := m.render(kind, to, amount)
	if err != nil {
		return err
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", m.cfg.From)
	msg.SetHeader("To", to.Email)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/plain", "")
	msg.AddAlternative("text/html", body)

	if err := m.send(msg); err != nil {
		return fmt.Errorf("could not send email to %s: %w", to.Email, err)
	}
	return nil
}

func (m *Mailer) render(kind Kind, to Recipient, amount decimal.Decimal) (string, error) {
	name, ok := templateFiles[kind]
	if !ok {
		return "", fmt.Errorf("no email template for %q", kind)
	}

	var buf bytes.Buffer
	data := struct {
		Name   string
		Amount string
	}{Name: to.Name, Amount: amount.StringFixed(2)}
	if err := m.templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("could not render %s: %w", name, err)
	}
	return buf.String(), nil
}
