package channels

import (
	"context"
	"errors"
	"fmt"
	"net/smtp"
	"net/textproto"
	"strings"

	"relay/notifications"
)

// EmailAdapter sends email notifications over SMTP.
type EmailAdapter struct {
	config EmailConfig
}

// EmailConfig holds email adapter configuration
type EmailConfig struct {
	FromEmail string
	FromName  string

	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
}

// NewEmailAdapter creates a new email adapter
func NewEmailAdapter(config EmailConfig) *EmailAdapter {
	if config.SMTPPort == 0 {
		config.SMTPPort = 587
	}
	return &EmailAdapter{config: config}
}

// Send sends an email notification. A malformed recipient address is
// fatal; SMTP transport failures are retriable.
func (ea *EmailAdapter) Send(ctx context.Context, notification *notifications.Notification) (*notifications.Outcome, error) {
	recipient := strings.TrimSpace(notification.Recipient)
	if !strings.Contains(recipient, "@") {
		return nil, notifications.FatalError(fmt.Errorf("invalid email recipient %q", recipient))
	}

	if err := ctx.Err(); err != nil {
		return nil, notifications.RetriableError(err)
	}

	message := ea.buildMessage(recipient, notification)

	addr := fmt.Sprintf("%s:%d", ea.config.SMTPHost, ea.config.SMTPPort)
	var auth smtp.Auth
	if ea.config.SMTPUsername != "" {
		auth = smtp.PlainAuth("", ea.config.SMTPUsername, ea.config.SMTPPassword, ea.config.SMTPHost)
	}

	if err := smtp.SendMail(addr, auth, ea.config.FromEmail, []string{recipient}, message); err != nil {
		if isPermanentSMTPError(err) {
			return nil, notifications.FatalError(fmt.Errorf("smtp rejected message: %w", err))
		}
		return nil, notifications.RetriableError(fmt.Errorf("smtp send failed: %w", err))
	}

	return &notifications.Outcome{ProviderID: notification.ID.String()}, nil
}

// Channel returns the channel type
func (ea *EmailAdapter) Channel() notifications.NotificationType {
	return notifications.TypeEmail
}

// Name returns the provider name
func (ea *EmailAdapter) Name() string {
	return "smtp"
}

func (ea *EmailAdapter) buildMessage(recipient string, notification *notifications.Notification) []byte {
	from := ea.config.FromEmail
	if ea.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", ea.config.FromName, ea.config.FromEmail)
	}

	var builder strings.Builder
	builder.WriteString("From: " + from + "\r\n")
	builder.WriteString("To: " + recipient + "\r\n")
	builder.WriteString("Subject: " + notification.Subject + "\r\n")

	if notification.ContentHTML != "" {
		builder.WriteString("MIME-Version: 1.0\r\n")
		builder.WriteString("Content-Type: text/html; charset=UTF-8\r\n\r\n")
		builder.WriteString(notification.ContentHTML)
	} else {
		builder.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
		builder.WriteString(notification.Content)
	}

	return []byte(builder.String())
}

// isPermanentSMTPError recognises 5xx responses, which mean the server
// rejected the message outright.
func isPermanentSMTPError(err error) bool {
	var protoErr *textproto.Error
	if errors.As(err, &protoErr) {
		return protoErr.Code >= 500
	}
	msg := err.Error()
	return strings.HasPrefix(msg, "550") || strings.HasPrefix(msg, "553") || strings.HasPrefix(msg, "554")
}
