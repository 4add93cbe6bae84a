// Package notify delivers password reset links out of band.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"net"
	"net/smtp"
	"net/url"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/goliatone/go-errors"
	auth "github.com/goliatone/go-portal-auth"
)

// ErrInvalidAddress a sender or recipient is not a single plain address
var ErrInvalidAddress = errors.New("invalid email address", errors.CategoryBadInput).
	WithTextCode("INVALID_EMAIL_ADDRESS").
	WithCode(errors.CodeBadRequest)

// checkAddress rejects anything that could inject extra mail headers
func checkAddress(address string) error {
	if strings.ContainsAny(address, "\r\n") {
		return ErrInvalidAddress
	}
	if err := validation.Validate(address, validation.Required, is.Email); err != nil {
		return ErrInvalidAddress.Clone().WithMetadata(map[string]any{"reason": err.Error()})
	}
	return nil
}

// ResetLink builds the public reset page url for a role and raw token
func ResetLink(baseURL string, role auth.Role, token string) string {
	base := strings.TrimRight(baseURL, "/")
	return fmt.Sprintf("%s/%s/reset-password?token=%s", base, role.Segment(), url.QueryEscape(token))
}

// LogNotifier writes reset links to the logger. Only meant for local
// development, the raw token ends up in the logs.
type LogNotifier struct {
	BaseURL string
	Logger  auth.Logger
}

func NewLogNotifier(baseURL string, logger auth.Logger) *LogNotifier {
	if logger == nil {
		logger = auth.NewSlogLogger(nil)
	}
	return &LogNotifier{BaseURL: baseURL, Logger: logger}
}

func (n *LogNotifier) SendPasswordReset(ctx context.Context, role auth.Role, email, token string, expiresAt time.Time) error {
	n.Logger.Info("password reset link",
		"role", role,
		"email", email,
		"link", ResetLink(n.BaseURL, role, token),
		"expires_at", expiresAt.UTC().Format(time.RFC3339),
	)
	return nil
}

// SMTPConfig holds the relay settings
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	BaseURL  string
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPNotifier emails reset links. smtp.SendMail upgrades to STARTTLS when
// the relay offers it.
type SMTPNotifier struct {
	cfg  SMTPConfig
	tpl  *template.Template
	send sendFunc
}

func NewSMTPNotifier(cfg SMTPConfig) *SMTPNotifier {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	return &SMTPNotifier{
		cfg:  cfg,
		tpl:  template.Must(template.New("reset").Option("missingkey=zero").Parse(resetTemplate)),
		send: smtp.SendMail,
	}
}

type resetEmail struct {
	Role      string
	Link      string
	ExpiresAt string
}

func (n *SMTPNotifier) SendPasswordReset(ctx context.Context, role auth.Role, email, token string, expiresAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := checkAddress(email); err != nil {
		return err
	}
	if err := checkAddress(n.cfg.From); err != nil {
		return err
	}

	var body bytes.Buffer
	err := n.tpl.Execute(&body, resetEmail{
		Role:      string(role),
		Link:      ResetLink(n.cfg.BaseURL, role, token),
		ExpiresAt: expiresAt.UTC().Format(time.RFC1123),
	})
	if err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "failed to render reset email")
	}

	msg := buildMessage(n.cfg.From, email, "Reset your portal password", body.String())
	addr := net.JoinHostPort(n.cfg.Host, strconv.Itoa(n.cfg.Port))

	var a smtp.Auth
	if n.cfg.Username != "" {
		a = smtp.PlainAuth("", n.cfg.Username, n.cfg.Password, n.cfg.Host)
	}

	if err := n.send(addr, a, n.cfg.From, []string{email}, msg); err != nil {
		return errors.Wrap(err, errors.CategoryOperation, "failed to send reset email").
			WithMetadata(map[string]any{"relay": addr})
	}
	return nil
}

func buildMessage(from, to, subject, html string) []byte {
	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + to + "\r\n")
	b.WriteString("Subject: " + subject + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(html)
	return []byte(b.String())
}

const resetTemplate = `<p>A password reset was requested for your {{.Role}} account.</p>
<p><a href="{{.Link}}">Choose a new password</a></p>
<p>The link expires {{.ExpiresAt}}. If you did not ask for this, ignore this email.</p>
`
