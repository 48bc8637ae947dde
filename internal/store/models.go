package store

import "time"

type LeadStatus string

const (
	LeadNew     LeadStatus = "NEW"
	LeadEmailed LeadStatus = "EMAILED"
	LeadReplied LeadStatus = "REPLIED"
)

// Priority is shared by leads and replies.
type Priority string

const (
	PriorityHigh   Priority = "HIGH"
	PriorityMedium Priority = "MEDIUM"
	PriorityLow    Priority = "LOW"
	PriorityIgnore Priority = "IGNORE"
)

// Rank orders priorities for display, higher first. Unknown values rank below IGNORE.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 4
	case PriorityMedium:
		return 3
	case PriorityLow:
		return 2
	case PriorityIgnore:
		return 1
	}
	return 0
}

func (p Priority) Valid() bool { return p.Rank() > 0 }

// PriorityForScore buckets a 0-100 score.
func PriorityForScore(score int) Priority {
	switch {
	case score >= 70:
		return PriorityHigh
	case score >= 40:
		return PriorityMedium
	case score >= 10:
		return PriorityLow
	default:
		return PriorityIgnore
	}
}

type Intent string

const (
	IntentInterested    Intent = "INTERESTED"
	IntentAskingPrice   Intent = "ASKING_PRICE"
	IntentMeeting       Intent = "MEETING"
	IntentNotInterested Intent = "NOT_INTERESTED"
	IntentUnsubscribe   Intent = "UNSUBSCRIBE"
	IntentSpam          Intent = "SPAM"
	IntentOther         Intent = "OTHER"
)

type Urgency string

const (
	UrgencyNow      Urgency = "NOW"
	UrgencyToday    Urgency = "TODAY"
	UrgencyThisWeek Urgency = "THIS_WEEK"
)

type Tone string

const (
	ToneFormal   Tone = "FORMAL"
	ToneFriendly Tone = "FRIENDLY"
	ToneShort    Tone = "SHORT"
)

func (t Tone) Valid() bool {
	return t == ToneFormal || t == ToneFriendly || t == ToneShort
}

type DraftStatus string

const (
	DraftUnstarted DraftStatus = "UNSTARTED"
	DraftDrafted   DraftStatus = "DRAFTED"
	DraftSent      DraftStatus = "SENT"
)

type ClassificationStatus string

const (
	Classified         ClassificationStatus = "CLASSIFIED"
	ClassificationFail ClassificationStatus = "FAILED"
)

type DeliveryStatus string

const (
	DeliveryPending DeliveryStatus = "PENDING"
	DeliverySent    DeliveryStatus = "SENT"
)

type EmailType string

const (
	EmailInitial EmailType = "INITIAL"
	EmailReply   EmailType = "REPLY"
)

type Lead struct {
	ID                  string     `json:"id"`
	Name                string     `json:"name"`
	Email               string     `json:"email"`
	Company             string     `json:"company,omitempty"`
	Status              LeadStatus `json:"status"`
	LeadScore           int        `json:"lead_score"`
	LeadPriority        Priority   `json:"lead_priority"`
	LastReplyScore      *int       `json:"last_reply_score"`
	LastReplyIntent     *Intent    `json:"last_reply_intent"`
	NextActionTitle     *string    `json:"next_action_title"`
	NextActionUpdatedAt *time.Time `json:"next_action_updated_at"`
	CreatedAt           time.Time  `json:"created_at"`
	LastEmailedAt       *time.Time `json:"last_emailed_at"`
	LastRepliedAt       *time.Time `json:"last_replied_at"`
}

type OutboundEmail struct {
	ID                  string         `json:"id"`
	LeadID              string         `json:"lead_id"`
	Subject             string         `json:"subject"`
	Body                string         `json:"body"`
	MessageID           string         `json:"message_id"`
	EmailType           EmailType      `json:"email_type"`
	ThreadRootMessageID *string        `json:"thread_root_message_id"`
	DeliveryStatus      DeliveryStatus `json:"delivery_status"`
	SentAt              *time.Time     `json:"sent_at"`
	IsReplied           bool           `json:"is_replied"`
	ReplyScore          *int           `json:"reply_score"`
	Intent              *Intent        `json:"intent"`
	Confidence          *float64       `json:"confidence"`
	Priority            *Priority      `json:"priority"`
	CreatedAt           time.Time      `json:"created_at"`

	// Filled by ListOutbound only.
	LeadName  string `json:"lead_name,omitempty"`
	LeadEmail string `json:"lead_email,omitempty"`
}

// ThreadRoot is the message id the conversation started from.
func (o *OutboundEmail) ThreadRoot() string {
	if o.ThreadRootMessageID != nil && *o.ThreadRootMessageID != "" {
		return *o.ThreadRootMessageID
	}
	return o.MessageID
}

type Attachment struct {
	FileName   string `json:"file_name" validate:"required"`
	StorageRef string `json:"storage_ref" validate:"required"`
	MimeType   string `json:"mime_type,omitempty"`
	Size       int64  `json:"size,omitempty"`
}

// Classification is the scored reading of one inbound reply.
type Classification struct {
	Intent     Intent   `json:"intent"`
	Score      int      `json:"reply_score"`
	Priority   Priority `json:"priority"`
	Confidence float64  `json:"confidence"`
	Reasons    []string `json:"reasons"`
}

// NextAction is a suggested follow-up plan for a reply.
type NextAction struct {
	Title         string   `json:"next_action_title"`
	Steps         []string `json:"next_action_steps"`
	Urgency       Urgency  `json:"urgency"`
	FollowupDays  int      `json:"followup_days"`
	SuggestedTone Tone     `json:"suggested_tone"`
}

// Draft is generated reply text.
type Draft struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

type InboundReply struct {
	ID                   string               `json:"id"`
	LeadID               string               `json:"lead_id"`
	OutboundEmailID      string               `json:"outbound_email_id"`
	FromEmail            string               `json:"from_email"`
	Subject              string               `json:"subject"`
	BodyPreview          string               `json:"body_preview"`
	BodyText             string               `json:"body_text"`
	ReceivedAt           time.Time            `json:"received_at"`
	ClassificationStatus ClassificationStatus `json:"classification_status"`
	ClassificationError  *string              `json:"classification_error"`
	ReplyScore           *int                 `json:"reply_score"`
	Priority             *Priority            `json:"priority"`
	Intent               *Intent              `json:"intent"`
	Confidence           *float64             `json:"confidence"`
	Reasons              []string             `json:"reasons"`

	NextActionTitle       *string    `json:"next_action_title"`
	NextActionSteps       []string   `json:"next_action_steps"`
	Urgency               *Urgency   `json:"urgency"`
	FollowupDays          *int       `json:"followup_days"`
	SuggestedTone         *Tone      `json:"suggested_tone"`
	NextActionGeneratedAt *time.Time `json:"next_action_generated_at"`

	DraftStatus      DraftStatus  `json:"draft_status"`
	DraftTone        *Tone        `json:"draft_tone"`
	DraftSubject     *string      `json:"draft_subject"`
	DraftBody        *string      `json:"draft_body"`
	DraftGeneratedAt *time.Time   `json:"draft_generated_at"`
	Attachments      []Attachment `json:"attachments"`
	CreatedAt        time.Time    `json:"created_at"`
}

// NextAction returns the cached plan, or nil when none was generated.
func (r *InboundReply) NextAction() *NextAction {
	if r.NextActionTitle == nil || *r.NextActionTitle == "" {
		return nil
	}
	na := &NextAction{Title: *r.NextActionTitle, Steps: r.NextActionSteps}
	if r.Urgency != nil {
		na.Urgency = *r.Urgency
	}
	if r.FollowupDays != nil {
		na.FollowupDays = *r.FollowupDays
	}
	if r.SuggestedTone != nil {
		na.SuggestedTone = *r.SuggestedTone
	}
	return na
}

// CachedDraft returns the stored draft if it was generated with tone.
func (r *InboundReply) CachedDraft(tone Tone) *Draft {
	if r.DraftTone == nil || *r.DraftTone != tone || r.DraftSubject == nil || r.DraftBody == nil {
		return nil
	}
	return &Draft{Subject: *r.DraftSubject, Body: *r.DraftBody}
}

// Classification returns the stored classification, or nil if it failed.
func (r *InboundReply) Classification() *Classification {
	if r.ClassificationStatus != Classified || r.Intent == nil {
		return nil
	}
	c := &Classification{Intent: *r.Intent, Reasons: r.Reasons}
	if r.ReplyScore != nil {
		c.Score = *r.ReplyScore
	}
	if r.Priority != nil {
		c.Priority = *r.Priority
	}
	if r.Confidence != nil {
		c.Confidence = *r.Confidence
	}
	return c
}

// ReplyDetail is an inbound reply joined with its lead and outbound email.
type ReplyDetail struct {
	InboundReply
	Lead     LeadSummary     `json:"lead"`
	Outbound OutboundSummary `json:"outbound_email"`
}

type LeadSummary struct {
	ID      string     `json:"id"`
	Name    string     `json:"name"`
	Email   string     `json:"email"`
	Company string     `json:"company,omitempty"`
	Status  LeadStatus `json:"status"`
}

type OutboundSummary struct {
	ID        string     `json:"id"`
	Subject   string     `json:"subject"`
	Body      string     `json:"body"`
	MessageID string     `json:"message_id"`
	SentAt    *time.Time `json:"sent_at"`
}

// Checkpoint is the persisted position of the reply sync in one mailbox.
type Checkpoint struct {
	Mailbox     string
	UIDValidity uint32
	LastUID     uint32
	SyncedAt    time.Time
}
