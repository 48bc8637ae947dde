package email

import (
	"context"
	"fmt"

	"github.com/resend/resend-go/v2"
)

type ResendSender struct {
	client *resend.Client
}

func NewResendSender(apiKey string) *ResendSender {
	return &ResendSender{client: resend.NewClient(apiKey)}
}

func (s *ResendSender) Name() string { return "resend" }

func (s *ResendSender) Send(ctx context.Context, msg Message) Result {
	if err := validateMessage(msg); err != nil {
		return Result{Success: false, Error: err}
	}

	req := &resend.SendEmailRequest{
		From:    fromHeader(msg),
		To:      []string{msg.To},
		Subject: msg.Subject,
		Text:    msg.Body,
		Headers: threadHeaders(msg),
	}
	for _, a := range msg.Attachments {
		req.Attachments = append(req.Attachments, &resend.Attachment{
			Content:     a.Data,
			Filename:    a.FileName,
			ContentType: a.ContentType,
		})
	}

	if _, err := s.client.Emails.SendWithContext(ctx, req); err != nil {
		if ctx.Err() != nil {
			return Result{Success: false, Error: fmt.Errorf("resend timeout: %w", ctx.Err())}
		}
		return Result{Success: false, Error: fmt.Errorf("resend request failed: %w", err)}
	}
	// Resend assigns its own id; the Message-ID header we set is what the
	// recipient threads against.
	return Result{Success: true, MessageID: msg.MessageID}
}
