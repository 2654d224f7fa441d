package mailer

import (
	"context"
	"fmt"

	mail "github.com/wneessen/go-mail"

	"revista-press/internal/config"
	"revista-press/internal/models"
)

// Mailer sends verification and completion email over SMTP.
type Mailer struct {
	client    *mail.Client
	fromEmail string
	fromName  string
	baseURL   string
}

// New builds an SMTP mailer from config.
func New(cfg config.Config) (*Mailer, error) {
	opts := []mail.Option{
		mail.WithPort(cfg.SMTPPort),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
	}
	if cfg.SMTPUser != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.SMTPUser),
			mail.WithPassword(cfg.SMTPPass),
		)
	}
	client, err := mail.NewClient(cfg.SMTPHost, opts...)
	if err != nil {
		return nil, fmt.Errorf("smtp client: %w", err)
	}
	return &Mailer{
		client:    client,
		fromEmail: cfg.FromEmail,
		fromName:  cfg.FromName,
		baseURL:   cfg.BaseURL,
	}, nil
}

// SendVerification delivers the 24-hour verification link to a new author.
func (m *Mailer) SendVerification(ctx context.Context, email, name, token string) error {
	body, err := renderVerification(name, m.baseURL+"/verify?token="+token)
	if err != nil {
		return err
	}
	return m.send(ctx, email, "Verify your email address", body)
}

// SendCompletion delivers the terminal-status message for one job.
func (m *Mailer) SendCompletion(ctx context.Context, n models.Notification) error {
	subject := "Your document has been processed"
	if n.Status == models.StatusError {
		subject = "There was a problem processing your document"
	}
	body, err := renderCompletion(n, m.baseURL+"/status/"+n.JobID, m.completionLink(n))
	if err != nil {
		return err
	}
	return m.send(ctx, n.Email, subject, body)
}

// completionLink points at the bundle when one exists; some conversions only
// produce the zip archive, and /download would 404 for those.
func (m *Mailer) completionLink(n models.Notification) string {
	if n.HasBundle {
		return m.baseURL + "/bundle/" + n.JobID
	}
	return m.baseURL + "/download/" + n.JobID
}

func (m *Mailer) send(ctx context.Context, to, subject, htmlBody string) error {
	msg := mail.NewMsg()
	if err := msg.FromFormat(m.fromName, m.fromEmail); err != nil {
		return fmt.Errorf("set from: %w", err)
	}
	if err := msg.To(to); err != nil {
		return fmt.Errorf("set recipient: %w", err)
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextHTML, htmlBody)

	if err := m.client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("send mail to %s: %w", to, err)
	}
	return nil
}
