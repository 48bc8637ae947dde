package email

import (
	"context"
	"fmt"
	"net/mail"
	"strings"

	"github.com/google/uuid"

	"github.com/leadflow/leadflow/internal/config"
)

type Attachment struct {
	FileName    string
	ContentType string
	Data        []byte
}

type Message struct {
	To       string
	From     string
	FromName string
	Subject  string
	Body     string

	// Threading tokens, stored and passed without angle brackets.
	MessageID  string
	InReplyTo  string
	References []string

	Attachments []Attachment
}

type Result struct {
	Success   bool
	MessageID string
	Error     error
}

type Sender interface {
	Send(ctx context.Context, msg Message) Result
	Name() string
}

func NewSender(cfg config.EmailConfig) (Sender, error) {
	switch cfg.Provider {
	case "", "smtp":
		return NewSMTPSender(cfg.SMTP), nil
	case "sendgrid":
		return NewSendGridSender(cfg.SendGridAPIKey), nil
	case "resend":
		return NewResendSender(cfg.ResendAPIKey), nil
	}
	return nil, fmt.Errorf("unknown email provider: %s", cfg.Provider)
}

// NewMessageID returns a globally unique Message-ID for a mail sent from
// the given address.
func NewMessageID(from string) string {
	domain := "leadflow.local"
	if at := strings.LastIndex(from, "@"); at >= 0 && at < len(from)-1 {
		domain = from[at+1:]
	}
	return uuid.NewString() + "@" + domain
}

// ValidateEmail checks for injection characters and RFC 5322 compliance
func ValidateEmail(email string) error {
	if strings.ContainsAny(email, "\r\n,;") {
		return fmt.Errorf("email contains invalid characters")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return fmt.Errorf("invalid email format: %w", err)
	}
	return nil
}

func validateMessage(msg Message) error {
	if err := ValidateEmail(msg.From); err != nil {
		return fmt.Errorf("invalid sender: %w", err)
	}
	if err := ValidateEmail(msg.To); err != nil {
		return fmt.Errorf("invalid recipient: %w", err)
	}
	// Reject headers with CRLF to prevent injection
	if strings.ContainsAny(msg.Subject, "\r\n") {
		return fmt.Errorf("subject contains invalid characters")
	}
	for _, id := range append([]string{msg.MessageID, msg.InReplyTo}, msg.References...) {
		if strings.ContainsAny(id, "\r\n<> ") {
			return fmt.Errorf("message id %q contains invalid characters", id)
		}
	}
	return nil
}

// threadHeaders returns the Message-ID, In-Reply-To and References headers to set.
func threadHeaders(msg Message) map[string]string {
	h := make(map[string]string, 3)
	if msg.MessageID != "" {
		h["Message-ID"] = "<" + msg.MessageID + ">"
	}
	if msg.InReplyTo != "" {
		h["In-Reply-To"] = "<" + msg.InReplyTo + ">"
	}
	if len(msg.References) > 0 {
		refs := make([]string, 0, len(msg.References))
		for _, r := range msg.References {
			if r != "" {
				refs = append(refs, "<"+r+">")
			}
		}
		if len(refs) > 0 {
			h["References"] = strings.Join(refs, " ")
		}
	}
	return h
}

func fromHeader(msg Message) string {
	if msg.FromName == "" {
		return msg.From
	}
	return (&mail.Address{Name: msg.FromName, Address: msg.From}).String()
}
