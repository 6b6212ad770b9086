// Package email delivers online indexer notifications via SMTP.
package email

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"net/smtp"
	"strings"

	"comicsdb/api/internal/notify"
)

// Config holds SMTP configuration
type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
	// SiteURL prefixes the changeset links in messages.
	SiteURL string
}

type sendFunc func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error

// Service provides email sending
type Service struct {
	config Config
	server string
	auth   smtp.Auth
	send   sendFunc
}

// NewService creates a new email service
func NewService(config Config) *Service {
	return &Service{
		config: config,
		server: config.Host + ":" + config.Port,
		auth:   smtp.PlainAuth("", config.Username, config.Password, config.Host),
		send:   smtp.SendMail,
	}
}

// IsConfigured returns true if email is configured
func (s *Service) IsConfigured() bool {
	return s.config.Host != "" && s.config.Port != "" && s.config.From != ""
}

// SendHTMLEmail sends an HTML email with a plain text fallback.
func (s *Service) SendHTMLEmail(to []string, subject, textBody, htmlBody string) error {
	if !s.IsConfigured() {
		return fmt.Errorf("email not configured")
	}

	from := s.config.From
	if s.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)
	}

	boundary := "boundary-comicsdb-oi"

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	fmt.Fprintf(&msg, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=\"%s\"\r\n", boundary)
	fmt.Fprintf(&msg, "\r\n")

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/plain; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "%s\r\n", textBody)
	fmt.Fprintf(&msg, "\r\n")

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/html; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "%s\r\n", htmlBody)
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "--%s--\r\n", boundary)

	return s.send(s.server, s.auth, s.config.From, to, msg.Bytes())
}

// ChangesetData holds data for the changeset template
type ChangesetData struct {
	UserName     string
	Heading      string
	Subject      string
	Notes        string
	ChangesetURL string
}

var headings = map[notify.Event]string{
	notify.EventApproved:        "Your changeset was approved",
	notify.EventDisapproved:     "Your changeset needs more work",
	notify.EventDiscarded:       "A changeset was discarded",
	notify.EventResubmitted:     "A changeset is back for your review",
	notify.EventExpired:         "Your reservation expired",
	notify.EventOngoingDenied:   "Ongoing reservation not granted",
	notify.EventAutoReserved:    "A new issue was reserved for you",
	notify.EventAutoReserveFail: "A new issue could not be reserved for you",
}

// Send implements notify.Sink. Messages without a recipient address, such
// as the pending queue broadcast, are skipped, and so is everything when
// SMTP is not configured.
func (s *Service) Send(_ context.Context, msg notify.Message) error {
	if !s.IsConfigured() || msg.Email == "" {
		return nil
	}
	heading, ok := headings[msg.Event]
	if !ok {
		return nil
	}
	data := ChangesetData{
		UserName:     msg.Name,
		Heading:      heading,
		Subject:      msg.Subject,
		Notes:        msg.Body,
		ChangesetURL: fmt.Sprintf("%s/oi/changesets/%d", strings.TrimRight(s.config.SiteURL, "/"), msg.ChangesetID),
	}
	html, err := renderTemplate(changesetEmailTemplate, data)
	if err != nil {
		return fmt.Errorf("render changeset template: %w", err)
	}
	text := msg.Subject + "\r\n\r\n" + msg.Body + "\r\n\r\n" + data.ChangesetURL
	return s.SendHTMLEmail([]string{msg.Email}, "[OI] "+msg.Subject, text, html)
}

func renderTemplate(tmpl string, data interface{}) (string, error) {
	t := template.Must(template.New("email").Parse(tmpl))
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const changesetEmailTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>{{.Heading}}</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { border-bottom: 2px solid #8b0000; padding-bottom: 10px; margin-bottom: 20px; }
        .button { display: inline-block; padding: 12px 24px; background: #8b0000; color: white; text-decoration: none; border-radius: 4px; margin: 20px 0; }
        .notes { background: #f6f6f6; padding: 12px; border-radius: 4px; white-space: pre-wrap; }
        .footer { margin-top: 30px; padding-top: 20px; border-top: 1px solid #eee; font-size: 12px; color: #666; }
    </style>
</head>
<body>
    <div class="header">
        <h1>Online Indexer</h1>
    </div>

    <h2>{{.Heading}}</h2>

    <p>Hi {{.UserName}},</p>

    <p>{{.Subject}}.</p>
    {{if .Notes}}
    <div class="notes">{{.Notes}}</div>
    {{end}}
    <p>
        <a href="{{.ChangesetURL}}" class="button">Open the changeset</a>
    </p>

    <div class="footer">
        <p>You receive this message because you index or review changes.</p>
    </div>
</body>
</html>`
