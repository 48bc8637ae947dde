package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const leadColumns = `id, name, email, company, status, lead_score, lead_priority, last_reply_score,
	last_reply_intent, next_action_title, next_action_updated_at, created_at, last_emailed_at, last_replied_at`

func scanLead(scanner interface{ Scan(...any) error }) (*Lead, error) {
	var l Lead
	err := scanner.Scan(&l.ID, &l.Name, &l.Email, &l.Company, &l.Status, &l.LeadScore, &l.LeadPriority,
		&l.LastReplyScore, &l.LastReplyIntent, &l.NextActionTitle, &l.NextActionUpdatedAt,
		&l.CreatedAt, &l.LastEmailedAt, &l.LastRepliedAt)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// CreateLead inserts a lead. ErrDuplicate is returned when the email is taken.
func (s *Store) CreateLead(ctx context.Context, lead *Lead) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	if lead.ID == "" {
		lead.ID = uuid.NewString()
	}
	if lead.Status == "" {
		lead.Status = LeadNew
	}
	if lead.LeadPriority == "" {
		lead.LeadPriority = PriorityLow
	}
	lead.CreatedAt = now()

	_, err := s.db.ExecContext(ctx, s.rebind(`
	INSERT INTO leads (id, name, email, company, status, lead_score, lead_priority, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		lead.ID, lead.Name, lead.Email, lead.Company, lead.Status, lead.LeadScore, lead.LeadPriority, lead.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to insert lead: %w", err)
	}
	return nil
}

func (s *Store) GetLead(ctx context.Context, id string) (*Lead, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.getLead(ctx, s.db, id)
}

func (s *Store) getLead(ctx context.Context, q execer, id string) (*Lead, error) {
	lead, err := scanLead(q.QueryRowContext(ctx, s.rebind(`SELECT `+leadColumns+` FROM leads WHERE id = ?`), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query lead: %w", err)
	}
	return lead, nil
}

func (s *Store) FindLeadByEmail(ctx context.Context, email string) (*Lead, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	lead, err := scanLead(s.db.QueryRowContext(ctx, s.rebind(`SELECT `+leadColumns+` FROM leads WHERE email = ?`), email))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query lead: %w", err)
	}
	return lead, nil
}

// ListLeads returns every lead in insertion order.
func (s *Store) ListLeads(ctx context.Context) ([]Lead, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `SELECT `+leadColumns+` FROM leads ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query leads: %w", err)
	}
	defer rows.Close()

	leads := []Lead{}
	for rows.Next() {
		lead, err := scanLead(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan lead: %w", err)
		}
		leads = append(leads, *lead)
	}
	return leads, rows.Err()
}

// Outcome is a state change applied to a lead by reply ingestion or sending.
type Outcome struct {
	Status         LeadStatus
	Classification *Classification
	RepliedAt      *time.Time
	EmailedAt      *time.Time
}

// updateLeadOnOutcome applies an outcome inside tx. Score and priority only
// ever rise: the lead keeps the best signal seen across its replies.
func (s *Store) updateLeadOnOutcome(ctx context.Context, tx *sql.Tx, leadID string, out Outcome) error {
	lead, err := s.getLead(ctx, tx, leadID)
	if err != nil {
		return err
	}

	status := lead.Status
	switch out.Status {
	case LeadReplied:
		status = LeadReplied
	case LeadEmailed:
		if status == LeadNew {
			status = LeadEmailed
		}
	}

	score, priority := lead.LeadScore, lead.LeadPriority
	replyScore, replyIntent := lead.LastReplyScore, lead.LastReplyIntent
	if c := out.Classification; c != nil {
		if c.Score > score {
			score = c.Score
		}
		if c.Priority.Rank() > priority.Rank() {
			priority = c.Priority
		}
		replyScore, replyIntent = &c.Score, &c.Intent
	}

	repliedAt := lead.LastRepliedAt
	if out.RepliedAt != nil {
		repliedAt = out.RepliedAt
	}
	emailedAt := lead.LastEmailedAt
	if out.EmailedAt != nil {
		emailedAt = out.EmailedAt
	}

	_, err = tx.ExecContext(ctx, s.rebind(`
	UPDATE leads SET status = ?, lead_score = ?, lead_priority = ?, last_reply_score = ?,
		last_reply_intent = ?, last_replied_at = ?, last_emailed_at = ?
	WHERE id = ?`),
		status, score, priority, replyScore, replyIntent, repliedAt, emailedAt, leadID)
	if err != nil {
		return fmt.Errorf("failed to update lead: %w", err)
	}
	return nil
}
