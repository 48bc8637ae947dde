package email

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
)

type SendGridSender struct {
	client *sendgrid.Client
}

func NewSendGridSender(apiKey string) *SendGridSender {
	return &SendGridSender{client: sendgrid.NewSendClient(apiKey)}
}

func (s *SendGridSender) Name() string { return "sendgrid" }

func (s *SendGridSender) Send(ctx context.Context, msg Message) Result {
	if err := validateMessage(msg); err != nil {
		return Result{Success: false, Error: err}
	}

	m := sgmail.NewSingleEmail(sgmail.NewEmail(msg.FromName, msg.From), msg.Subject, sgmail.NewEmail("", msg.To), msg.Body, "")
	for k, v := range threadHeaders(msg) {
		m.SetHeader(k, v)
	}
	for _, a := range msg.Attachments {
		att := sgmail.NewAttachment()
		att.SetContent(base64.StdEncoding.EncodeToString(a.Data))
		att.SetFilename(a.FileName)
		att.SetDisposition("attachment")
		if a.ContentType != "" {
			att.SetType(a.ContentType)
		}
		m.AddAttachment(att)
	}

	resp, err := s.client.SendWithContext(ctx, m)
	if err != nil {
		if ctx.Err() != nil {
			return Result{Success: false, Error: fmt.Errorf("sendgrid timeout: %w", ctx.Err())}
		}
		return Result{Success: false, Error: fmt.Errorf("sendgrid request failed: %w", err)}
	}
	if resp.StatusCode >= 300 {
		return Result{Success: false, Error: fmt.Errorf("sendgrid returned error status: %d", resp.StatusCode)}
	}
	return Result{Success: true, MessageID: msg.MessageID}
}
