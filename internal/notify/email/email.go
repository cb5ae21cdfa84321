// Package email delivers manual review reports as HTML mail over SMTP.
package email

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"html/template"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/settle/internal/alert"
	"github.com/linnemanlabs/settle/internal/resolution"
)

// Defaults for an unset Config.
const (
	DefaultPort    = 587
	DefaultTimeout = 30 * time.Second
)

var (
	// ErrNoCredentials is returned when the SMTP username or password is empty.
	ErrNoCredentials = errors.New("email: smtp credentials not configured")

	// ErrNoRecipient is returned when there is nobody to send to.
	ErrNoRecipient = errors.New("email: recipient not configured")
)

// Config holds SMTP settings. From defaults to Username.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       []string
	Timeout  time.Duration
}

// Configured reports whether the notifier has enough to attempt delivery.
func (c *Config) Configured() bool {
	return c.Host != "" && c.Username != "" && c.Password != "" && len(c.To) > 0
}

// SendFunc delivers an already rendered message.
type SendFunc func(ctx context.Context, cfg *Config, from string, to []string, msg []byte) error

// Notifier sends manual review reports by email.
type Notifier struct {
	cfg    Config
	send   SendFunc
	logger log.Logger
}

// Option configures a Notifier.
type Option func(*Notifier)

// WithSendFunc replaces the SMTP transport.
func WithSendFunc(fn SendFunc) Option {
	return func(n *Notifier) { n.send = fn }
}

// New creates an email notifier.
func New(cfg Config, logger log.Logger, opts ...Option) *Notifier {
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.From == "" {
		cfg.From = cfg.Username
	}
	if logger == nil {
		logger = log.Nop()
	}
	n := &Notifier{cfg: cfg, send: sendSMTP, logger: logger}
	for _, o := range opts {
		o(n)
	}
	return n
}

// Notify renders the report and mails it. Missing credentials or recipients
// are reported as errors and nothing is sent.
func (n *Notifier) Notify(ctx context.Context, r *resolution.Report) error {
	if n.cfg.Username == "" || n.cfg.Password == "" {
		return ErrNoCredentials
	}
	if len(n.cfg.To) == 0 {
		return ErrNoRecipient
	}

	body, err := Render(r)
	if err != nil {
		return err
	}
	msg := buildMessage(n.cfg.From, n.cfg.To, r.Subject, body)

	if err := n.send(ctx, &n.cfg, n.cfg.From, n.cfg.To, msg); err != nil {
		return fmt.Errorf("email: send: %w", err)
	}
	n.logger.Info(ctx, "manual review email sent", "run_id", r.RunID, "to", strings.Join(n.cfg.To, ","), "pairs", len(r.Pairs))
	return nil
}

func buildMessage(from string, to []string, subject string, body []byte) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.Write(body)
	return b.Bytes()
}

// sendSMTP dials the server, upgrades with STARTTLS, authenticates with PLAIN
// and submits the message. Servers without STARTTLS are refused.
func sendSMTP(ctx context.Context, cfg *Config, from string, to []string, msg []byte) error {
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	c, err := smtp.NewClient(conn, cfg.Host)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer func() { _ = c.Close() }()

	if ok, _ := c.Extension("STARTTLS"); !ok {
		return errors.New("server does not support STARTTLS")
	}
	if err := c.StartTLS(&tls.Config{ServerName: cfg.Host, MinVersion: tls.VersionTLS12}); err != nil {
		return fmt.Errorf("starttls: %w", err)
	}
	if err := c.Auth(smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)); err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	if err := c.Mail(from); err != nil {
		return fmt.Errorf("mail from: %w", err)
	}
	for _, rcpt := range to {
		if err := c.Rcpt(rcpt); err != nil {
			return fmt.Errorf("rcpt %s: %w", rcpt, err)
		}
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("data: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("write body: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close body: %w", err)
	}
	return c.Quit()
}

type row struct {
	FiringID        int64
	FiringSubject   string
	FiringCreated   string
	ResolvedID      int64
	ResolvedSubject string
	ResolvedCreated string
	TimeDiff        string
}

var reportTmpl = template.Must(template.New("report").Parse(`<html>
<head>
<style>
table { border-collapse: collapse; width: 100%; }
th, td { border: 1px solid #ddd; padding: 8px; text-align: left; }
th { background-color: #f2f2f2; }
tr:nth-child(even) { background-color: #f9f9f9; }
</style>
</head>
<body>
<h2>Alert Resolution: Tickets Requiring Manual Review</h2>
<p>The following alert-resolution pairs were identified but have a time difference greater than {{.Threshold}}:</p>
<table>
<tr><th>Firing Ticket</th><th>Firing Subject</th><th>Firing Created</th><th>Resolved Ticket</th><th>Resolved Subject</th><th>Resolved Created</th><th>Time Diff (min)</th></tr>
{{- range .Rows}}
<tr><td>{{.FiringID}}</td><td>{{.FiringSubject}}</td><td>{{.FiringCreated}}</td><td>{{.ResolvedID}}</td><td>{{.ResolvedSubject}}</td><td>{{.ResolvedCreated}}</td><td>{{.TimeDiff}}</td></tr>
{{- end}}
</table>
<p>Please review these tickets manually to determine if they should be closed.</p>
<p>Run {{.RunID}}. This is an automated message from settle.</p>
</body>
</html>
`))

// Render produces the HTML body for a report.
func Render(r *resolution.Report) ([]byte, error) {
	rows := make([]row, 0, len(r.Pairs))
	for i := range r.Pairs {
		p := &r.Pairs[i]
		rows = append(rows, row{
			FiringID:        p.FiringID,
			FiringSubject:   p.FiringSubject,
			FiringCreated:   displayTime(p.FiringCreated),
			ResolvedID:      p.ResolvedID,
			ResolvedSubject: p.ResolvedSubject,
			ResolvedCreated: displayTime(p.ResolvedCreated),
			TimeDiff:        strconv.FormatFloat(p.TimeDiffMinutes, 'f', 1, 64),
		})
	}

	var buf bytes.Buffer
	err := reportTmpl.Execute(&buf, map[string]any{
		"Threshold": resolution.ThresholdText(r.Threshold),
		"RunID":     r.RunID,
		"Rows":      rows,
	})
	if err != nil {
		return nil, fmt.Errorf("email: render report: %w", err)
	}
	return buf.Bytes(), nil
}

// displayTime reformats a ticket timestamp, falling back to the raw text.
func displayTime(raw string) string {
	t, err := alert.ParseTime(raw)
	if err != nil {
		return raw
	}
	return t.Format("2006-01-02 15:04:05")
}
