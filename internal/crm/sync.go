package crm

import (
	"context"
	"errors"
	"time"

	"github.com/leadflow/leadflow/internal/inbox"
	"github.com/leadflow/leadflow/internal/store"
)

// SyncResult summarises one mailbox pass.
type SyncResult struct {
	Ingested     int `json:"replies_found"`
	Unmatched    int `json:"unmatched"`
	Duplicates   int `json:"duplicates"`
	Unclassified int `json:"unclassified"`
	Failed       int `json:"failed"`
}

// SyncReplies ingests lead replies that arrived since the stored
// checkpoint. Messages that match no sent email are skipped. A classifier
// failure stores the reply flagged for retry and the pass goes on. A
// message that cannot be stored is counted as failed and the pass goes on;
// the checkpoint then stops below it so the next pass fetches it again.
func (s *Service) SyncReplies(ctx context.Context) (*SyncResult, error) {
	if s.mailbox == nil {
		return nil, newError(KindTransport, nil, "no mailbox configured")
	}
	mailbox := s.mailbox.Mailbox()

	// a second caller waits and then finds nothing new
	release, err := s.locks.Lock(ctx, "sync:"+mailbox)
	if err != nil {
		return nil, externalError(KindInternal, err, "failed to acquire sync lock")
	}
	defer release()

	res, err := s.syncLocked(ctx, mailbox)
	result := "ok"
	if err != nil {
		result = "error"
	}
	if s.metrics != nil {
		s.metrics.SyncRuns.WithLabelValues(result).Inc()
	}
	return res, err
}

func (s *Service) syncLocked(ctx context.Context, mailbox string) (*SyncResult, error) {
	cp, err := s.store.GetCheckpoint(ctx, mailbox)
	if err != nil {
		return nil, storeError(err, "sync checkpoint")
	}

	fetchCtx, cancel := context.WithTimeout(ctx, s.timeouts.Mailbox)
	batch, err := s.mailbox.FetchSince(fetchCtx, inbox.Cursor{UIDValidity: cp.UIDValidity, LastUID: cp.LastUID}, s.maxMessages)
	cancel()
	if err != nil {
		return nil, externalError(KindTransport, err, "Failed to fetch replies")
	}

	res := &SyncResult{}
	var firstFailed uint32
	for i := range batch.Emails {
		e := &batch.Emails[i]
		outcome, err := s.ingest(ctx, e)
		if err != nil {
			if ctx.Err() != nil {
				return nil, externalError(KindInternal, ctx.Err(), "Reply sync interrupted")
			}
			s.log.Error("ingest failed", "uid", e.UID, "message_id", e.MessageID, "error", err)
			res.Failed++
			if firstFailed == 0 || e.UID < firstFailed {
				firstFailed = e.UID
			}
			continue
		}
		switch outcome {
		case ingested:
			res.Ingested++
		case ingestedUnclassified:
			res.Ingested++
			res.Unclassified++
		case unmatched:
			res.Unmatched++
		case duplicate:
			res.Duplicates++
		}
	}

	high := batch.HighestUID
	if firstFailed > 0 && firstFailed-1 < high {
		high = firstFailed - 1
	}
	if batch.UIDValidity == cp.UIDValidity && high < cp.LastUID {
		high = cp.LastUID
	}
	if batch.UIDValidity != cp.UIDValidity || high > cp.LastUID {
		next := &store.Checkpoint{Mailbox: mailbox, UIDValidity: batch.UIDValidity, LastUID: high}
		if err := s.store.SaveCheckpoint(ctx, next); err != nil {
			return nil, storeError(err, "sync checkpoint")
		}
	}

	if s.metrics != nil {
		s.metrics.RepliesIngested.Add(float64(res.Ingested))
		s.metrics.RepliesSkipped.WithLabelValues("unmatched").Add(float64(res.Unmatched))
		s.metrics.RepliesSkipped.WithLabelValues("duplicate").Add(float64(res.Duplicates))
		s.metrics.RepliesSkipped.WithLabelValues("failed").Add(float64(res.Failed))
	}
	s.log.Info("reply sync finished", "mailbox", mailbox, "ingested", res.Ingested,
		"unmatched", res.Unmatched, "duplicates", res.Duplicates, "unclassified", res.Unclassified, "failed", res.Failed)
	return res, nil
}

type ingestOutcome int

const (
	unmatched ingestOutcome = iota
	duplicate
	ingested
	ingestedUnclassified
)

// matchOutbound finds the sent email a message answers. The first thread
// token naming a known message id wins.
func (s *Service) matchOutbound(ctx context.Context, e *inbox.Email) (*store.OutboundEmail, error) {
	for _, token := range e.ThreadTokens() {
		o, err := s.store.FindSentByMessageID(ctx, token)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, storeError(err, "Outbound email")
		}
		return o, nil
	}
	return nil, nil
}

func (s *Service) ingest(ctx context.Context, e *inbox.Email) (ingestOutcome, error) {
	o, err := s.matchOutbound(ctx, e)
	if err != nil {
		return 0, err
	}
	if o == nil {
		return unmatched, nil
	}
	if o.IsReplied {
		return duplicate, nil
	}

	lead, err := s.store.GetLead(ctx, o.LeadID)
	if err != nil {
		return 0, storeError(err, "Lead")
	}

	text := inbox.CleanReplyText(e.Body)
	received := e.ReceivedAt
	if received.IsZero() {
		received = time.Now().UTC()
	}
	reply := &store.InboundReply{
		LeadID:          lead.ID,
		OutboundEmailID: o.ID,
		FromEmail:       e.From,
		Subject:         e.Subject,
		BodyPreview:     inbox.Preview(text),
		BodyText:        text,
		ReceivedAt:      received.UTC(),
	}

	c, classifyErr := s.classify(ctx, &store.ReplyDetail{
		InboundReply: *reply,
		Lead:         store.LeadSummary{ID: lead.ID, Name: lead.Name, Email: lead.Email, Company: lead.Company},
		Outbound:     store.OutboundSummary{ID: o.ID, Subject: o.Subject, Body: o.Body, MessageID: o.MessageID},
	})
	if classifyErr != nil {
		s.log.Warn("classification failed, reply flagged for retry", "lead_id", lead.ID, "outbound_id", o.ID, "error", classifyErr)
	}
	reply.SetClassification(c, classifyErr)

	if err := s.store.IngestReply(ctx, reply); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return duplicate, nil
		}
		return 0, storeError(err, "Reply")
	}
	s.log.Info("reply ingested", "reply_id", reply.ID, "lead_id", lead.ID, "status", reply.ClassificationStatus)
	if c == nil {
		return ingestedUnclassified, nil
	}
	return ingested, nil
}

// classify runs the scorer under the AI timeout.
func (s *Service) classify(ctx context.Context, d *store.ReplyDetail) (*store.Classification, error) {
	if s.generator == nil {
		return nil, errors.New("no classifier configured")
	}
	start := time.Now()
	aiCtx, cancel := context.WithTimeout(ctx, s.timeouts.AI)
	defer cancel()
	c, err := s.generator.Classify(aiCtx, replyContext(d))
	s.metrics.ObserveAI("classify", start, err)
	return c, err
}

// ReclassifyResult counts a retry pass over flagged replies.
type ReclassifyResult struct {
	Classified int `json:"classified"`
	Failed     int `json:"failed"`
}

// Reclassify retries every reply whose classification failed. Each reply
// is independent: one failure leaves it flagged and the pass continues.
func (s *Service) Reclassify(ctx context.Context) (*ReclassifyResult, error) {
	pending, err := s.store.ListUnclassified(ctx)
	if err != nil {
		return nil, storeError(err, "replies")
	}

	res := &ReclassifyResult{}
	for i := range pending {
		d := &pending[i]
		c, err := s.classify(ctx, d)
		if err != nil {
			res.Failed++
			s.log.Warn("reclassification failed", "reply_id", d.ID, "error", err)
			continue
		}
		if err := s.store.SaveClassification(ctx, d.ID, c); err != nil {
			if errors.Is(err, store.ErrConflict) {
				// classified by a concurrent pass
				continue
			}
			return res, storeError(err, "Reply")
		}
		res.Classified++
	}
	return res, nil
}

func (s *Service) ListReplies(ctx context.Context) ([]store.ReplyDetail, error) {
	replies, err := s.store.ListReplies(ctx)
	return replies, storeError(err, "replies")
}

func (s *Service) GetReply(ctx context.Context, id string) (*store.ReplyDetail, error) {
	d, err := s.store.GetReplyDetail(ctx, id)
	if err != nil {
		return nil, storeError(err, "Reply")
	}
	return d, nil
}
