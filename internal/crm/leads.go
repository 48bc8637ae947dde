package crm

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/leadflow/leadflow/internal/email"
	"github.com/leadflow/leadflow/internal/store"
)

type LeadInput struct {
	Name    string `json:"name" validate:"required,max=200"`
	Email   string `json:"email" validate:"required,email,max=320"`
	Company string `json:"company" validate:"max=200"`
}

// CreateLead adds a NEW lead. Emails are unique, compared case-insensitively.
func (s *Service) CreateLead(ctx context.Context, in LeadInput) (*store.Lead, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.Company = strings.TrimSpace(in.Company)
	if err := checkInput(in); err != nil {
		return nil, err
	}
	if err := email.ValidateEmail(in.Email); err != nil {
		return nil, newError(KindValidation, nil, "email is not a valid email address")
	}

	lead := &store.Lead{Name: in.Name, Email: in.Email, Company: in.Company}
	if err := s.store.CreateLead(ctx, lead); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, newError(KindConflict, nil, "Lead with this email already exists")
		}
		return nil, storeError(err, "lead")
	}
	s.log.Info("lead created", "lead_id", lead.ID)
	return lead, nil
}

func (s *Service) ListLeads(ctx context.Context) ([]store.Lead, error) {
	leads, err := s.store.ListLeads(ctx)
	return leads, storeError(err, "leads")
}

// SortByPriority orders leads for display: HIGH before MEDIUM before LOW
// before IGNORE, higher score first within a priority.
func SortByPriority(leads []store.Lead) {
	sort.SliceStable(leads, func(i, j int) bool {
		return ranksBefore(leads[i].LeadPriority, leads[i].LeadScore, leads[j].LeadPriority, leads[j].LeadScore)
	})
}

// SortRepliesByPriority applies the same order to replies. Unclassified
// replies sort last.
func SortRepliesByPriority(replies []store.ReplyDetail) {
	key := func(r *store.ReplyDetail) (store.Priority, int) {
		var p store.Priority
		var score int
		if r.Priority != nil {
			p = *r.Priority
		}
		if r.ReplyScore != nil {
			score = *r.ReplyScore
		}
		return p, score
	}
	sort.SliceStable(replies, func(i, j int) bool {
		pi, si := key(&replies[i])
		pj, sj := key(&replies[j])
		return ranksBefore(pi, si, pj, sj)
	})
}

func ranksBefore(pi store.Priority, si int, pj store.Priority, sj int) bool {
	if pi.Rank() != pj.Rank() {
		return pi.Rank() > pj.Rank()
	}
	return si > sj
}

type SendInput struct {
	LeadID  string `json:"lead_id" validate:"required"`
	Subject string `json:"subject" validate:"required,max=998"`
	Body    string `json:"body" validate:"required"`
}

// RecordSend mails a lead and logs the email. The row is written PENDING
// first and either completed after the transport accepts the message or
// removed when it refuses, so no email is logged unsent or sent unlogged.
func (s *Service) RecordSend(ctx context.Context, in SendInput) (*store.OutboundEmail, error) {
	in.Subject = strings.TrimSpace(in.Subject)
	// whitespace-only bodies count as empty
	if strings.TrimSpace(in.Body) == "" {
		in.Body = ""
	}
	if err := checkInput(in); err != nil {
		return nil, err
	}

	lead, err := s.store.GetLead(ctx, in.LeadID)
	if err != nil {
		return nil, storeError(err, "Lead")
	}

	o := &store.OutboundEmail{
		LeadID:    lead.ID,
		Subject:   in.Subject,
		Body:      in.Body,
		MessageID: email.NewMessageID(s.from),
		EmailType: store.EmailInitial,
	}
	if err := s.deliver(ctx, o, email.Message{To: lead.Email}); err != nil {
		return nil, err
	}

	sent, err := s.store.CompleteSend(ctx, o.ID)
	if err != nil {
		s.log.Error("email sent but not recorded", "outbound_id", o.ID, "message_id", o.MessageID, "error", err)
		return nil, storeError(err, "Outbound email")
	}
	s.log.Info("email sent", "lead_id", lead.ID, "message_id", sent.MessageID)
	return sent, nil
}

// deliver writes o as PENDING and hands msg to the transport. The pending
// row is removed again when the transport fails.
func (s *Service) deliver(ctx context.Context, o *store.OutboundEmail, msg email.Message) error {
	if s.sender == nil {
		return newError(KindTransport, nil, "no email transport configured")
	}
	if err := s.store.InsertPendingOutbound(ctx, o); err != nil {
		return storeError(err, "Outbound email")
	}

	msg.From, msg.FromName = s.from, s.fromName
	msg.Subject, msg.Body, msg.MessageID = o.Subject, o.Body, o.MessageID

	sendCtx, cancel := context.WithTimeout(ctx, s.timeouts.Transport)
	res := s.sender.Send(sendCtx, msg)
	cancel()
	s.metrics.ObserveSend(string(o.EmailType), res.Error)
	if res.Success {
		return nil
	}

	// the request context may be gone; the cleanup must still run
	cleanupCtx, cancelCleanup := context.WithTimeout(context.WithoutCancel(ctx), s.timeouts.Transport)
	defer cancelCleanup()
	if err := s.store.DeletePendingOutbound(cleanupCtx, o.ID); err != nil {
		s.log.Error("failed to remove pending email", "outbound_id", o.ID, "error", err)
	}
	s.log.Warn("send failed", "lead_id", o.LeadID, "transport", s.sender.Name(), "error", res.Error)
	return externalError(KindTransport, res.Error, "Failed to send email")
}

func (s *Service) ListOutbound(ctx context.Context) ([]store.OutboundEmail, error) {
	emails, err := s.store.ListOutbound(ctx)
	return emails, storeError(err, "outbound emails")
}
