package store

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open("sqlite", filepath.Join(t.TempDir(), "test.db"), 5*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newLead(t *testing.T, s *Store) *Lead {
	t.Helper()
	lead := &Lead{
		Name:    gofakeit.Name(),
		Email:   strings.ToLower(gofakeit.Email()),
		Company: gofakeit.Company(),
	}
	require.NoError(t, s.CreateLead(context.Background(), lead))
	return lead
}

func sendOutbound(t *testing.T, s *Store, leadID, messageID string) *OutboundEmail {
	t.Helper()
	ctx := context.Background()
	o := &OutboundEmail{LeadID: leadID, Subject: "Hi", Body: "Hello there", MessageID: messageID}
	require.NoError(t, s.InsertPendingOutbound(ctx, o))
	sent, err := s.CompleteSend(ctx, o.ID)
	require.NoError(t, err)
	return sent
}

func TestRebind(t *testing.T) {
	s := &Store{dialect: Postgres}
	assert.Equal(t, "SELECT a FROM t WHERE x = $1 AND y = $2", s.rebind("SELECT a FROM t WHERE x = ? AND y = ?"))

	s.dialect = SQLite
	assert.Equal(t, "x = ?", s.rebind("x = ?"))
}

func TestCreateLead(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	lead := newLead(t, s)
	assert.NotEmpty(t, lead.ID)
	assert.Equal(t, LeadNew, lead.Status)

	got, err := s.GetLead(ctx, lead.ID)
	require.NoError(t, err)
	assert.Equal(t, lead.Email, got.Email)
	assert.Equal(t, 0, got.LeadScore)
	assert.Equal(t, PriorityLow, got.LeadPriority)
	assert.Nil(t, got.LastRepliedAt)

	dup := &Lead{Name: "Other", Email: lead.Email}
	assert.ErrorIs(t, s.CreateLead(ctx, dup), ErrDuplicate)

	_, err = s.GetLead(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	leads, err := s.ListLeads(ctx)
	require.NoError(t, err)
	assert.Len(t, leads, 1)
}

func TestSendLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	lead := newLead(t, s)

	o := &OutboundEmail{LeadID: lead.ID, Subject: "Hi", Body: "...", MessageID: "a@leadflow"}
	require.NoError(t, s.InsertPendingOutbound(ctx, o))

	// pending rows are invisible to listing and matching
	list, err := s.ListOutbound(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
	_, err = s.FindSentByMessageID(ctx, "a@leadflow")
	assert.ErrorIs(t, err, ErrNotFound)

	dup := &OutboundEmail{LeadID: lead.ID, Subject: "Hi", Body: "...", MessageID: "a@leadflow"}
	assert.ErrorIs(t, s.InsertPendingOutbound(ctx, dup), ErrDuplicate)

	sent, err := s.CompleteSend(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, DeliverySent, sent.DeliveryStatus)
	require.NotNil(t, sent.SentAt)

	_, err = s.CompleteSend(ctx, o.ID)
	assert.ErrorIs(t, err, ErrConflict)

	got, err := s.GetLead(ctx, lead.ID)
	require.NoError(t, err)
	assert.Equal(t, LeadEmailed, got.Status)
	assert.NotNil(t, got.LastEmailedAt)

	list, err = s.ListOutbound(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, lead.Name, list[0].LeadName)
	assert.False(t, list[0].IsReplied)
}

func TestDeletePendingOutbound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	lead := newLead(t, s)

	o := &OutboundEmail{LeadID: lead.ID, Subject: "Hi", Body: "...", MessageID: "b@leadflow"}
	require.NoError(t, s.InsertPendingOutbound(ctx, o))
	require.NoError(t, s.DeletePendingOutbound(ctx, o.ID))

	_, err := s.GetOutbound(ctx, o.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	got, err := s.GetLead(ctx, lead.ID)
	require.NoError(t, err)
	assert.Equal(t, LeadNew, got.Status)
}

func TestIngestReply(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	lead := newLead(t, s)
	o := sendOutbound(t, s, lead.ID, "c@leadflow")

	reply := &InboundReply{
		LeadID:          lead.ID,
		OutboundEmailID: o.ID,
		FromEmail:       lead.Email,
		Subject:         "Re: Hi",
		BodyText:        "Sounds great, what does it cost?",
		BodyPreview:     "Sounds great, what does it cost?",
		ReceivedAt:      time.Now().UTC(),
	}
	reply.SetClassification(&Classification{
		Intent:     IntentAskingPrice,
		Score:      75,
		Priority:   PriorityHigh,
		Confidence: 0.9,
		Reasons:    []string{"asks about price"},
	}, nil)
	require.NoError(t, s.IngestReply(ctx, reply))

	gotLead, err := s.GetLead(ctx, lead.ID)
	require.NoError(t, err)
	assert.Equal(t, LeadReplied, gotLead.Status)
	assert.Equal(t, 75, gotLead.LeadScore)
	assert.Equal(t, PriorityHigh, gotLead.LeadPriority)
	require.NotNil(t, gotLead.LastReplyIntent)
	assert.Equal(t, IntentAskingPrice, *gotLead.LastReplyIntent)
	assert.NotNil(t, gotLead.LastRepliedAt)

	gotOut, err := s.GetOutbound(ctx, o.ID)
	require.NoError(t, err)
	assert.True(t, gotOut.IsReplied)
	require.NotNil(t, gotOut.Priority)
	assert.Equal(t, PriorityHigh, *gotOut.Priority)

	// second reply against the same outbound email
	again := &InboundReply{LeadID: lead.ID, OutboundEmailID: o.ID, FromEmail: lead.Email, ReceivedAt: time.Now().UTC()}
	assert.ErrorIs(t, s.IngestReply(ctx, again), ErrDuplicate)

	replies, err := s.ListReplies(ctx)
	require.NoError(t, err)
	require.Len(t, replies, 1)
	assert.Equal(t, []string{"asks about price"}, replies[0].Reasons)
	assert.Equal(t, lead.Name, replies[0].Lead.Name)
	assert.Equal(t, "c@leadflow", replies[0].Outbound.MessageID)
	assert.Equal(t, DraftUnstarted, replies[0].DraftStatus)
	assert.Nil(t, replies[0].NextActionTitle)
	assert.Nil(t, replies[0].DraftBody)
}

func TestIngestReplyRejectsForeignLead(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	owner := newLead(t, s)
	other := newLead(t, s)
	o := sendOutbound(t, s, owner.ID, "d@leadflow")

	err := s.IngestReply(ctx, &InboundReply{LeadID: other.ID, OutboundEmailID: o.ID, FromEmail: other.Email, ReceivedAt: time.Now()})
	require.Error(t, err)

	replies, err := s.ListReplies(ctx)
	require.NoError(t, err)
	assert.Empty(t, replies)
}

func TestLeadAggregateKeepsBestSignal(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	lead := newLead(t, s)

	first := sendOutbound(t, s, lead.ID, "e1@leadflow")
	r1 := &InboundReply{LeadID: lead.ID, OutboundEmailID: first.ID, FromEmail: lead.Email, ReceivedAt: time.Now().UTC()}
	r1.SetClassification(&Classification{Intent: IntentMeeting, Score: 90, Priority: PriorityHigh}, nil)
	require.NoError(t, s.IngestReply(ctx, r1))

	second := sendOutbound(t, s, lead.ID, "e2@leadflow")
	r2 := &InboundReply{LeadID: lead.ID, OutboundEmailID: second.ID, FromEmail: lead.Email, ReceivedAt: time.Now().UTC()}
	r2.SetClassification(&Classification{Intent: IntentOther, Score: 20, Priority: PriorityLow}, nil)
	require.NoError(t, s.IngestReply(ctx, r2))

	got, err := s.GetLead(ctx, lead.ID)
	require.NoError(t, err)
	assert.Equal(t, 90, got.LeadScore)
	assert.Equal(t, PriorityHigh, got.LeadPriority)
	require.NotNil(t, got.LastReplyIntent)
	assert.Equal(t, IntentOther, *got.LastReplyIntent)
}

func TestFailedClassificationThenSave(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	lead := newLead(t, s)
	o := sendOutbound(t, s, lead.ID, "f@leadflow")

	reply := &InboundReply{LeadID: lead.ID, OutboundEmailID: o.ID, FromEmail: lead.Email, ReceivedAt: time.Now().UTC()}
	reply.SetClassification(nil, assert.AnError)
	require.NoError(t, s.IngestReply(ctx, reply))

	got, err := s.GetReply(ctx, reply.ID)
	require.NoError(t, err)
	assert.Equal(t, ClassificationFail, got.ClassificationStatus)
	assert.Nil(t, got.Intent)
	assert.Nil(t, got.Classification())

	gotLead, err := s.GetLead(ctx, lead.ID)
	require.NoError(t, err)
	assert.Equal(t, LeadReplied, gotLead.Status)
	assert.Equal(t, 0, gotLead.LeadScore)

	pending, err := s.ListUnclassified(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	c := &Classification{Intent: IntentInterested, Score: 60, Priority: PriorityMedium, Confidence: 0.7}
	require.NoError(t, s.SaveClassification(ctx, reply.ID, c))
	assert.ErrorIs(t, s.SaveClassification(ctx, reply.ID, c), ErrConflict)

	gotLead, err = s.GetLead(ctx, lead.ID)
	require.NoError(t, err)
	assert.Equal(t, 60, gotLead.LeadScore)
	assert.Equal(t, PriorityMedium, gotLead.LeadPriority)

	gotOut, err := s.GetOutbound(ctx, o.ID)
	require.NoError(t, err)
	require.NotNil(t, gotOut.ReplyScore)
	assert.Equal(t, 60, *gotOut.ReplyScore)

	pending, err = s.ListUnclassified(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestDraftLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	lead := newLead(t, s)
	o := sendOutbound(t, s, lead.ID, "g@leadflow")

	reply := &InboundReply{LeadID: lead.ID, OutboundEmailID: o.ID, FromEmail: lead.Email, ReceivedAt: time.Now().UTC()}
	require.NoError(t, s.IngestReply(ctx, reply))

	require.NoError(t, s.SaveDraft(ctx, reply.ID, ToneFriendly, &Draft{Subject: "Re: Hi", Body: "Thanks!"}))
	got, err := s.GetReply(ctx, reply.ID)
	require.NoError(t, err)
	assert.Equal(t, DraftDrafted, got.DraftStatus)
	assert.NotNil(t, got.CachedDraft(ToneFriendly))
	assert.Nil(t, got.CachedDraft(ToneFormal))

	pending := &OutboundEmail{LeadID: lead.ID, Subject: "Re: Hi", Body: "Thanks!", MessageID: "g2@leadflow", EmailType: EmailReply}
	require.NoError(t, s.InsertPendingOutbound(ctx, pending))
	require.NoError(t, s.CompleteDraftSend(ctx, reply.ID, pending.ID))

	got, err = s.GetReply(ctx, reply.ID)
	require.NoError(t, err)
	assert.Equal(t, DraftSent, got.DraftStatus)

	assert.ErrorIs(t, s.SaveDraft(ctx, reply.ID, ToneFormal, &Draft{Subject: "x", Body: "y"}), ErrConflict)
	assert.ErrorIs(t, s.SaveDraft(ctx, "missing", ToneFormal, &Draft{Subject: "x", Body: "y"}), ErrNotFound)
}

func TestNextActionAndAttachments(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	lead := newLead(t, s)
	o := sendOutbound(t, s, lead.ID, "h@leadflow")

	reply := &InboundReply{LeadID: lead.ID, OutboundEmailID: o.ID, FromEmail: lead.Email, ReceivedAt: time.Now().UTC()}
	require.NoError(t, s.IngestReply(ctx, reply))

	na := &NextAction{Title: "Send pricing", Steps: []string{"Prepare quote", "Email it"}, Urgency: UrgencyToday, FollowupDays: 2, SuggestedTone: ToneFormal}
	require.NoError(t, s.SaveNextAction(ctx, reply.ID, na))

	got, err := s.GetReply(ctx, reply.ID)
	require.NoError(t, err)
	assert.Equal(t, na, got.NextAction())

	gotLead, err := s.GetLead(ctx, lead.ID)
	require.NoError(t, err)
	require.NotNil(t, gotLead.NextActionTitle)
	assert.Equal(t, "Send pricing", *gotLead.NextActionTitle)

	atts, err := s.AppendAttachment(ctx, reply.ID, Attachment{FileName: "deck.pdf", StorageRef: "attachments/1/deck.pdf"})
	require.NoError(t, err)
	assert.Len(t, atts, 1)

	got, err = s.GetReply(ctx, reply.ID)
	require.NoError(t, err)
	require.Len(t, got.Attachments, 1)
	assert.Equal(t, "deck.pdf", got.Attachments[0].FileName)
}

func TestCheckpoint(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	cp, err := s.GetCheckpoint(ctx, "INBOX")
	require.NoError(t, err)
	assert.Zero(t, cp.LastUID)
	assert.Zero(t, cp.UIDValidity)

	cp.UIDValidity, cp.LastUID = 7, 42
	require.NoError(t, s.SaveCheckpoint(ctx, cp))
	cp.LastUID = 50
	cp.SyncedAt = time.Time{}
	require.NoError(t, s.SaveCheckpoint(ctx, cp))

	got, err := s.GetCheckpoint(ctx, "INBOX")
	require.NoError(t, err)
	assert.Equal(t, uint32(7), got.UIDValidity)
	assert.Equal(t, uint32(50), got.LastUID)
}

func TestPriority(t *testing.T) {
	tests := []struct {
		score int
		want  Priority
	}{
		{95, PriorityHigh},
		{70, PriorityHigh},
		{55, PriorityMedium},
		{15, PriorityLow},
		{5, PriorityIgnore},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, PriorityForScore(tt.score), "score %d", tt.score)
	}
	assert.Greater(t, PriorityHigh.Rank(), PriorityMedium.Rank())
	assert.Greater(t, PriorityLow.Rank(), PriorityIgnore.Rank())
	assert.False(t, Priority("URGENT").Valid())
}
