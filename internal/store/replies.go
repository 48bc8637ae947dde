package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const replyColumns = `r.id, r.lead_id, r.outbound_email_id, r.from_email, r.subject, r.body_preview, r.body_text,
	r.received_at, r.classification_status, r.classification_error, r.reply_score, r.priority, r.intent,
	r.confidence, r.reasons, r.next_action_title, r.next_action_steps, r.urgency, r.followup_days,
	r.suggested_tone, r.next_action_generated_at, r.draft_status, r.draft_tone, r.draft_subject,
	r.draft_body, r.draft_generated_at, r.attachments, r.created_at`

const replyDetailJoin = `
	FROM inbound_replies r
	JOIN leads l ON l.id = r.lead_id
	JOIN outbound_emails o ON o.id = r.outbound_email_id`

const replyDetailColumns = replyColumns + `, l.id, l.name, l.email, l.company, l.status,
	o.id, o.subject, o.body, o.message_id, o.sent_at`

func scanReply(scanner interface{ Scan(...any) error }, extra ...any) (*InboundReply, error) {
	var r InboundReply
	var reasons, steps, attachments sql.NullString

	dest := []any{&r.ID, &r.LeadID, &r.OutboundEmailID, &r.FromEmail, &r.Subject, &r.BodyPreview, &r.BodyText,
		&r.ReceivedAt, &r.ClassificationStatus, &r.ClassificationError, &r.ReplyScore, &r.Priority, &r.Intent,
		&r.Confidence, &reasons, &r.NextActionTitle, &steps, &r.Urgency, &r.FollowupDays,
		&r.SuggestedTone, &r.NextActionGeneratedAt, &r.DraftStatus, &r.DraftTone, &r.DraftSubject,
		&r.DraftBody, &r.DraftGeneratedAt, &attachments, &r.CreatedAt}
	if err := scanner.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}

	if err := decodeJSON(reasons, &r.Reasons); err != nil {
		return nil, fmt.Errorf("failed to decode reasons: %w", err)
	}
	if err := decodeJSON(steps, &r.NextActionSteps); err != nil {
		return nil, fmt.Errorf("failed to decode next action steps: %w", err)
	}
	if err := decodeJSON(attachments, &r.Attachments); err != nil {
		return nil, fmt.Errorf("failed to decode attachments: %w", err)
	}
	if r.Attachments == nil {
		r.Attachments = []Attachment{}
	}
	return &r, nil
}

func scanReplyDetail(scanner interface{ Scan(...any) error }) (*ReplyDetail, error) {
	var d ReplyDetail
	r, err := scanReply(scanner,
		&d.Lead.ID, &d.Lead.Name, &d.Lead.Email, &d.Lead.Company, &d.Lead.Status,
		&d.Outbound.ID, &d.Outbound.Subject, &d.Outbound.Body, &d.Outbound.MessageID, &d.Outbound.SentAt)
	if err != nil {
		return nil, err
	}
	d.InboundReply = *r
	return &d, nil
}

// SetClassification fills the classification fields of a reply not yet stored.
func (r *InboundReply) SetClassification(c *Classification, classifyErr error) {
	if c == nil {
		r.ClassificationStatus = ClassificationFail
		msg := "classification unavailable"
		if classifyErr != nil {
			msg = classifyErr.Error()
		}
		r.ClassificationError = &msg
		return
	}
	r.ClassificationStatus = Classified
	r.ClassificationError = nil
	r.Intent, r.ReplyScore, r.Priority, r.Confidence = &c.Intent, &c.Score, &c.Priority, &c.Confidence
	r.Reasons = c.Reasons
}

// IngestReply stores a reply and maintains the outbound projection and the
// lead in one transaction. ErrDuplicate means the outbound email already has
// a reply, which makes re-ingestion a no-op for the caller.
func (s *Store) IngestReply(ctx context.Context, r *InboundReply) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.ClassificationStatus == "" {
		r.SetClassification(nil, nil)
	}
	r.DraftStatus = DraftUnstarted
	if r.Attachments == nil {
		r.Attachments = []Attachment{}
	}
	r.CreatedAt = now()

	reasons, err := encodeJSON(r.Reasons)
	if err != nil {
		return fmt.Errorf("failed to encode reasons: %w", err)
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		o, err := s.getOutbound(ctx, tx, r.OutboundEmailID)
		if err != nil {
			return err
		}
		if o.LeadID != r.LeadID {
			return fmt.Errorf("reply lead %s does not own outbound email %s", r.LeadID, o.ID)
		}

		_, err = tx.ExecContext(ctx, s.rebind(`
		INSERT INTO inbound_replies (id, lead_id, outbound_email_id, from_email, subject, body_preview, body_text,
			received_at, classification_status, classification_error, reply_score, priority, intent, confidence,
			reasons, draft_status, attachments, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			r.ID, r.LeadID, r.OutboundEmailID, r.FromEmail, r.Subject, r.BodyPreview, r.BodyText,
			r.ReceivedAt, r.ClassificationStatus, r.ClassificationError, r.ReplyScore, r.Priority, r.Intent, r.Confidence,
			reasons, r.DraftStatus, "[]", r.CreatedAt)
		if err != nil {
			if isUniqueViolation(err) {
				return ErrDuplicate
			}
			return fmt.Errorf("failed to insert reply: %w", err)
		}

		if err := s.updateProjection(ctx, tx, o.ID, r.Classification()); err != nil {
			return err
		}
		received := r.ReceivedAt
		return s.updateLeadOnOutcome(ctx, tx, r.LeadID, Outcome{
			Status:         LeadReplied,
			Classification: r.Classification(),
			RepliedAt:      &received,
		})
	})
}

// updateProjection keeps the reply summary on the outbound email in step with the reply.
func (s *Store) updateProjection(ctx context.Context, tx *sql.Tx, outboundID string, c *Classification) error {
	var err error
	if c == nil {
		_, err = tx.ExecContext(ctx, s.rebind(`UPDATE outbound_emails SET is_replied = ? WHERE id = ?`), true, outboundID)
	} else {
		_, err = tx.ExecContext(ctx, s.rebind(`
		UPDATE outbound_emails SET is_replied = ?, reply_score = ?, intent = ?, confidence = ?, priority = ?
		WHERE id = ?`), true, c.Score, c.Intent, c.Confidence, c.Priority, outboundID)
	}
	if err != nil {
		return fmt.Errorf("failed to update outbound email: %w", err)
	}
	return nil
}

// SaveClassification stores a classification for a reply whose first
// attempt failed, then refreshes the outbound projection and the lead.
func (s *Store) SaveClassification(ctx context.Context, replyID string, c *Classification) error {
	reasons, err := encodeJSON(c.Reasons)
	if err != nil {
		return fmt.Errorf("failed to encode reasons: %w", err)
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		r, err := s.getReply(ctx, tx, replyID)
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, s.rebind(`
		UPDATE inbound_replies SET classification_status = ?, classification_error = NULL, reply_score = ?,
			priority = ?, intent = ?, confidence = ?, reasons = ?
		WHERE id = ? AND classification_status = ?`),
			Classified, c.Score, c.Priority, c.Intent, c.Confidence, reasons, replyID, ClassificationFail)
		if err != nil {
			return fmt.Errorf("failed to update reply classification: %w", err)
		}
		if ok, err := affectedOne(res); err != nil {
			return err
		} else if !ok {
			return ErrConflict
		}

		if err := s.updateProjection(ctx, tx, r.OutboundEmailID, c); err != nil {
			return err
		}
		return s.updateLeadOnOutcome(ctx, tx, r.LeadID, Outcome{Status: LeadReplied, Classification: c})
	})
}

func (s *Store) GetReply(ctx context.Context, id string) (*InboundReply, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.getReply(ctx, s.db, id)
}

func (s *Store) getReply(ctx context.Context, q execer, id string) (*InboundReply, error) {
	r, err := scanReply(q.QueryRowContext(ctx, s.rebind(`SELECT `+replyColumns+` FROM inbound_replies r WHERE r.id = ?`), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query reply: %w", err)
	}
	return r, nil
}

// GetReplyDetail returns a reply joined with its lead and outbound email.
func (s *Store) GetReplyDetail(ctx context.Context, id string) (*ReplyDetail, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	d, err := scanReplyDetail(s.db.QueryRowContext(ctx, s.rebind(`SELECT `+replyDetailColumns+replyDetailJoin+` WHERE r.id = ?`), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query reply: %w", err)
	}
	return d, nil
}

// ListReplies returns all replies, newest first.
func (s *Store) ListReplies(ctx context.Context) ([]ReplyDetail, error) {
	return s.listReplyDetails(ctx, ``)
}

// ListUnclassified returns replies whose classification failed.
func (s *Store) ListUnclassified(ctx context.Context) ([]ReplyDetail, error) {
	return s.listReplyDetails(ctx, ` WHERE r.classification_status = ?`, ClassificationFail)
}

func (s *Store) listReplyDetails(ctx context.Context, where string, args ...any) ([]ReplyDetail, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT `+replyDetailColumns+replyDetailJoin+where+
		` ORDER BY r.received_at DESC, r.id`), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query replies: %w", err)
	}
	defer rows.Close()

	replies := []ReplyDetail{}
	for rows.Next() {
		d, err := scanReplyDetail(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reply: %w", err)
		}
		replies = append(replies, *d)
	}
	return replies, rows.Err()
}

// SaveNextAction overwrites the reply's plan and mirrors its title on the lead.
func (s *Store) SaveNextAction(ctx context.Context, replyID string, na *NextAction) error {
	steps, err := encodeJSON(na.Steps)
	if err != nil {
		return fmt.Errorf("failed to encode steps: %w", err)
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		r, err := s.getReply(ctx, tx, replyID)
		if err != nil {
			return err
		}
		at := now()
		_, err = tx.ExecContext(ctx, s.rebind(`
		UPDATE inbound_replies SET next_action_title = ?, next_action_steps = ?, urgency = ?, followup_days = ?,
			suggested_tone = ?, next_action_generated_at = ?
		WHERE id = ?`),
			na.Title, steps, na.Urgency, na.FollowupDays, na.SuggestedTone, at, replyID)
		if err != nil {
			return fmt.Errorf("failed to save next action: %w", err)
		}
		_, err = tx.ExecContext(ctx, s.rebind(`UPDATE leads SET next_action_title = ?, next_action_updated_at = ? WHERE id = ?`),
			na.Title, at, r.LeadID)
		if err != nil {
			return fmt.Errorf("failed to update lead next action: %w", err)
		}
		return nil
	})
}

// SaveDraft stores generated draft text and moves the reply to DRAFTED.
// ErrConflict is returned once the reply has been answered.
func (s *Store) SaveDraft(ctx context.Context, replyID string, tone Tone, d *Draft) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx, s.rebind(`
	UPDATE inbound_replies SET draft_status = ?, draft_tone = ?, draft_subject = ?, draft_body = ?, draft_generated_at = ?
	WHERE id = ? AND draft_status <> ?`),
		DraftDrafted, tone, d.Subject, d.Body, now(), replyID, DraftSent)
	if err != nil {
		return fmt.Errorf("failed to save draft: %w", err)
	}
	if ok, err := affectedOne(res); err != nil {
		return err
	} else if ok {
		return nil
	}
	if _, err := s.getReply(ctx, s.db, replyID); err != nil {
		return err
	}
	return ErrConflict
}

// CompleteDraftSend marks the pending reply email sent and the reply's draft
// SENT in one transaction. SENT is terminal: a second completion conflicts.
func (s *Store) CompleteDraftSend(ctx context.Context, replyID, outboundID string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, s.rebind(`UPDATE inbound_replies SET draft_status = ? WHERE id = ? AND draft_status <> ?`),
			DraftSent, replyID, DraftSent)
		if err != nil {
			return fmt.Errorf("failed to mark draft sent: %w", err)
		}
		if ok, err := affectedOne(res); err != nil {
			return err
		} else if !ok {
			return ErrConflict
		}

		o, err := s.markSent(ctx, tx, outboundID)
		if err != nil {
			return err
		}
		return s.updateLeadOnOutcome(ctx, tx, o.LeadID, Outcome{EmailedAt: o.SentAt})
	})
}

// AppendAttachment adds an uploaded file to the reply's attachment list.
func (s *Store) AppendAttachment(ctx context.Context, replyID string, a Attachment) ([]Attachment, error) {
	var out []Attachment
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		r, err := s.getReply(ctx, tx, replyID)
		if err != nil {
			return err
		}
		out = append(r.Attachments, a)
		encoded, err := encodeJSON(out)
		if err != nil {
			return fmt.Errorf("failed to encode attachments: %w", err)
		}
		_, err = tx.ExecContext(ctx, s.rebind(`UPDATE inbound_replies SET attachments = ? WHERE id = ?`), encoded, replyID)
		if err != nil {
			return fmt.Errorf("failed to save attachments: %w", err)
		}
		return nil
	})
	return out, err
}

// GetCheckpoint returns the sync position for mailbox; a mailbox never synced
// starts from zero.
func (s *Store) GetCheckpoint(ctx context.Context, mailbox string) (*Checkpoint, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	cp := &Checkpoint{Mailbox: mailbox}
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT uid_validity, last_uid, synced_at FROM sync_state WHERE mailbox = ?`), mailbox).
		Scan(&cp.UIDValidity, &cp.LastUID, &cp.SyncedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return cp, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query sync state: %w", err)
	}
	return cp, nil
}

func (s *Store) SaveCheckpoint(ctx context.Context, cp *Checkpoint) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	if cp.SyncedAt.IsZero() {
		cp.SyncedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, s.rebind(`
	INSERT INTO sync_state (mailbox, uid_validity, last_uid, synced_at) VALUES (?, ?, ?, ?)
	ON CONFLICT (mailbox) DO UPDATE SET uid_validity = excluded.uid_validity, last_uid = excluded.last_uid,
		synced_at = excluded.synced_at`),
		cp.Mailbox, int64(cp.UIDValidity), int64(cp.LastUID), cp.SyncedAt)
	if err != nil {
		return fmt.Errorf("failed to save sync state: %w", err)
	}
	return nil
}
