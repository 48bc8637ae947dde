package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

const outboundColumns = `o.id, o.lead_id, o.subject, o.body, o.message_id, o.email_type, o.thread_root_message_id,
	o.delivery_status, o.sent_at, o.is_replied, o.reply_score, o.intent, o.confidence, o.priority, o.created_at`

func scanOutbound(scanner interface{ Scan(...any) error }, extra ...any) (*OutboundEmail, error) {
	var o OutboundEmail
	dest := []any{&o.ID, &o.LeadID, &o.Subject, &o.Body, &o.MessageID, &o.EmailType, &o.ThreadRootMessageID,
		&o.DeliveryStatus, &o.SentAt, &o.IsReplied, &o.ReplyScore, &o.Intent, &o.Confidence, &o.Priority, &o.CreatedAt}
	if err := scanner.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	return &o, nil
}

// InsertPendingOutbound records an email before it is handed to the
// transport. The row stays PENDING until CompleteSend or is removed by
// DeletePendingOutbound.
func (s *Store) InsertPendingOutbound(ctx context.Context, o *OutboundEmail) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	if o.EmailType == "" {
		o.EmailType = EmailInitial
	}
	o.DeliveryStatus = DeliveryPending
	o.CreatedAt = now()

	_, err := s.db.ExecContext(ctx, s.rebind(`
	INSERT INTO outbound_emails (id, lead_id, subject, body, message_id, email_type, thread_root_message_id,
		delivery_status, is_replied, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		o.ID, o.LeadID, o.Subject, o.Body, o.MessageID, o.EmailType, o.ThreadRootMessageID,
		o.DeliveryStatus, false, o.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to insert outbound email: %w", err)
	}
	return nil
}

// CompleteSend marks a pending email sent and moves its lead from NEW to
// EMAILED in one transaction.
func (s *Store) CompleteSend(ctx context.Context, outboundID string) (*OutboundEmail, error) {
	var out *OutboundEmail
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		o, err := s.markSent(ctx, tx, outboundID)
		if err != nil {
			return err
		}
		if err := s.updateLeadOnOutcome(ctx, tx, o.LeadID, Outcome{Status: LeadEmailed, EmailedAt: o.SentAt}); err != nil {
			return err
		}
		out = o
		return nil
	})
	return out, err
}

func (s *Store) markSent(ctx context.Context, tx *sql.Tx, outboundID string) (*OutboundEmail, error) {
	sentAt := now()
	res, err := tx.ExecContext(ctx, s.rebind(`
	UPDATE outbound_emails SET delivery_status = ?, sent_at = ? WHERE id = ? AND delivery_status = ?`),
		DeliverySent, sentAt, outboundID, DeliveryPending)
	if err != nil {
		return nil, fmt.Errorf("failed to mark outbound email sent: %w", err)
	}
	if ok, err := affectedOne(res); err != nil {
		return nil, err
	} else if !ok {
		return nil, ErrConflict
	}
	return s.getOutbound(ctx, tx, outboundID)
}

// DeletePendingOutbound removes a provisional row after a failed send.
func (s *Store) DeletePendingOutbound(ctx context.Context, outboundID string) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM outbound_emails WHERE id = ? AND delivery_status = ?`),
		outboundID, DeliveryPending)
	if err != nil {
		return fmt.Errorf("failed to delete pending outbound email: %w", err)
	}
	return nil
}

func (s *Store) GetOutbound(ctx context.Context, id string) (*OutboundEmail, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.getOutbound(ctx, s.db, id)
}

func (s *Store) getOutbound(ctx context.Context, q execer, id string) (*OutboundEmail, error) {
	o, err := scanOutbound(q.QueryRowContext(ctx, s.rebind(`SELECT `+outboundColumns+` FROM outbound_emails o WHERE o.id = ?`), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query outbound email: %w", err)
	}
	return o, nil
}

// FindSentByMessageID looks up a delivered email by its threading token.
func (s *Store) FindSentByMessageID(ctx context.Context, messageID string) (*OutboundEmail, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	o, err := scanOutbound(s.db.QueryRowContext(ctx, s.rebind(`
	SELECT `+outboundColumns+` FROM outbound_emails o WHERE o.message_id = ? AND o.delivery_status = ?`),
		messageID, DeliverySent))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query outbound email: %w", err)
	}
	return o, nil
}

// ListOutbound returns delivered emails, newest first, with lead names.
func (s *Store) ListOutbound(ctx context.Context) ([]OutboundEmail, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, s.rebind(`
	SELECT `+outboundColumns+`, l.name, l.email
	FROM outbound_emails o JOIN leads l ON l.id = o.lead_id
	WHERE o.delivery_status = ?
	ORDER BY o.sent_at DESC, o.id`), DeliverySent)
	if err != nil {
		return nil, fmt.Errorf("failed to query outbound emails: %w", err)
	}
	defer rows.Close()

	emails := []OutboundEmail{}
	for rows.Next() {
		var name, email string
		o, err := scanOutbound(rows, &name, &email)
		if err != nil {
			return nil, fmt.Errorf("failed to scan outbound email: %w", err)
		}
		o.LeadName, o.LeadEmail = name, email
		emails = append(emails, *o)
	}
	return emails, rows.Err()
}
