package ai

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/leadflow/leadflow/internal/inbox"
	"github.com/leadflow/leadflow/internal/store"
	"github.com/leadflow/leadflow/internal/template"
)

// ReplyContext is what every generator knows about a reply.
type ReplyContext struct {
	LeadName        string
	LeadCompany     string
	OriginalSubject string
	OriginalBody    string
	ReplySubject    string
	ReplyText       string
	Classification  *store.Classification
}

// DraftInput adds drafting options to a reply.
type DraftInput struct {
	ReplyContext
	Tone        store.Tone
	Steps       []string
	Attachments []string
}

// Assistant scores replies and writes plans and drafts. Without a provider
// it answers from keyword rules and canned templates.
type Assistant struct {
	provider      Provider
	engine        *template.Engine
	temperature   float32
	senderName    string
	senderCompany string
	log           *slog.Logger
}

type Options struct {
	Temperature   float32
	SenderName    string
	SenderCompany string
	Logger        *slog.Logger
}

func NewAssistant(provider Provider, engine *template.Engine, opts Options) *Assistant {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Temperature == 0 {
		opts.Temperature = 0.3
	}
	return &Assistant{
		provider:      provider,
		engine:        engine,
		temperature:   opts.Temperature,
		senderName:    opts.SenderName,
		senderCompany: opts.SenderCompany,
		log:           opts.Logger.With("component", "ai"),
	}
}

func (a *Assistant) Name() string {
	if a.provider == nil {
		return "rules"
	}
	return a.provider.Name()
}

func (a *Assistant) promptData(rc ReplyContext) template.PromptData {
	d := template.PromptData{
		LeadName:        rc.LeadName,
		LeadCompany:     rc.LeadCompany,
		OriginalSubject: rc.OriginalSubject,
		OriginalBody:    truncate(rc.OriginalBody, 1000),
		ReplyText:       truncate(rc.ReplyText, 1000),
		SenderName:      a.senderName,
		SenderCompany:   a.senderCompany,
	}
	if c := rc.Classification; c != nil {
		d.Intent, d.Priority, d.Score = string(c.Intent), string(c.Priority), c.Score
	}
	return d
}

// complete renders a system/user prompt pair and decodes the JSON reply into dst.
func (a *Assistant) complete(ctx context.Context, system, user string, data template.PromptData, maxTokens int, dst any) error {
	sys, err := a.engine.Render(system, data)
	if err != nil {
		return err
	}
	usr, err := a.engine.Render(user, data)
	if err != nil {
		return err
	}

	out, err := a.provider.Complete(ctx, Request{
		System:      sys,
		User:        usr,
		Temperature: a.temperature,
		MaxTokens:   maxTokens,
		JSON:        true,
	})
	if err != nil {
		return err
	}
	return decodeJSON(out, dst)
}

type classificationOut struct {
	Score      int      `json:"reply_score" validate:"min=0,max=100"`
	Priority   string   `json:"priority" validate:"required,oneof=HIGH MEDIUM LOW IGNORE"`
	Intent     string   `json:"intent" validate:"required,oneof=INTERESTED ASKING_PRICE MEETING NOT_INTERESTED UNSUBSCRIBE SPAM OTHER"`
	Confidence float64  `json:"confidence" validate:"min=0,max=1"`
	Reasons    []string `json:"reasons"`
}

func (o *classificationOut) normalize() {
	o.Priority = strings.ToUpper(strings.TrimSpace(o.Priority))
	o.Intent = strings.ToUpper(strings.TrimSpace(o.Intent))
}

// Classify scores a reply's intent and value.
func (a *Assistant) Classify(ctx context.Context, rc ReplyContext) (*store.Classification, error) {
	rc.ReplyText = inbox.CleanReplyText(rc.ReplyText)
	if a.provider == nil {
		c := inbox.ClassifyReply(rc.ReplySubject, rc.ReplyText)
		return &c, nil
	}

	var out classificationOut
	if err := a.complete(ctx, template.ClassifySystem, template.ClassifyUser, a.promptData(rc), 500, &out); err != nil {
		return nil, fmt.Errorf("failed to classify reply: %w", err)
	}

	c := &store.Classification{
		Intent:     store.Intent(out.Intent),
		Score:      out.Score,
		Priority:   store.Priority(out.Priority),
		Confidence: out.Confidence,
		Reasons:    out.Reasons,
	}
	if c.Intent == store.IntentUnsubscribe {
		c.Priority = store.PriorityIgnore
		c.Score = min(c.Score, 10)
	}
	if c.Reasons == nil {
		c.Reasons = []string{}
	}
	return c, nil
}

type nextActionOut struct {
	Title         string   `json:"next_action_title" validate:"required,max=120"`
	Steps         []string `json:"next_action_steps" validate:"min=1,max=5,dive,required"`
	Urgency       string   `json:"urgency" validate:"required,oneof=NOW TODAY THIS_WEEK"`
	FollowupDays  int      `json:"followup_days" validate:"min=0,max=90"`
	SuggestedTone string   `json:"suggested_tone" validate:"required,oneof=FORMAL FRIENDLY SHORT"`
}

func (o *nextActionOut) normalize() {
	o.Urgency = strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(o.Urgency), " ", "_"))
	o.SuggestedTone = strings.ToUpper(strings.TrimSpace(o.SuggestedTone))
	steps := o.Steps[:0]
	for _, s := range o.Steps {
		if s = strings.TrimSpace(s); s != "" {
			steps = append(steps, s)
		}
	}
	if len(steps) > 5 {
		steps = steps[:5]
	}
	o.Steps = steps
}

// NextAction suggests a follow-up plan for a reply.
func (a *Assistant) NextAction(ctx context.Context, rc ReplyContext) (*store.NextAction, error) {
	rc.ReplyText = inbox.CleanReplyText(rc.ReplyText)
	if a.provider == nil {
		var intent store.Intent
		if rc.Classification != nil {
			intent = rc.Classification.Intent
		}
		return FallbackNextAction(intent), nil
	}

	var out nextActionOut
	if err := a.complete(ctx, template.NextActionSystem, template.NextActionUser, a.promptData(rc), 600, &out); err != nil {
		return nil, fmt.Errorf("failed to generate next action: %w", err)
	}
	return &store.NextAction{
		Title:         strings.TrimSpace(out.Title),
		Steps:         out.Steps,
		Urgency:       store.Urgency(out.Urgency),
		FollowupDays:  out.FollowupDays,
		SuggestedTone: store.Tone(out.SuggestedTone),
	}, nil
}

type draftOut struct {
	Subject string `json:"subject" validate:"required"`
	Body    string `json:"body" validate:"required"`
}

// Draft writes a reply in the requested tone.
func (a *Assistant) Draft(ctx context.Context, in DraftInput) (*store.Draft, error) {
	in.ReplyText = inbox.CleanReplyText(in.ReplyText)
	data := a.promptData(in.ReplyContext)
	data.Tone = string(in.Tone)
	data.ToneGuidance = template.ToneGuidance(string(in.Tone))
	data.Steps = in.Steps
	if len(data.Steps) > 3 {
		data.Steps = data.Steps[:3]
	}
	data.Attachments = in.Attachments

	if a.provider == nil {
		body, err := a.engine.RenderDraft(data.Intent, data)
		if err != nil {
			return nil, err
		}
		return &store.Draft{Subject: replySubject("", in.OriginalSubject), Body: body}, nil
	}

	var out draftOut
	if err := a.complete(ctx, template.DraftSystem, template.DraftUser, data, 800, &out); err != nil {
		return nil, fmt.Errorf("failed to generate draft: %w", err)
	}
	return &store.Draft{
		Subject: replySubject(out.Subject, in.OriginalSubject),
		Body:    strings.TrimSpace(out.Body),
	}, nil
}

// replySubject keeps a generated subject that already reads as a reply and
// otherwise answers the original subject.
func replySubject(generated, original string) string {
	generated = strings.TrimSpace(generated)
	if strings.HasPrefix(strings.ToLower(generated), "re:") {
		return generated
	}
	if original == "" {
		if generated != "" {
			return "Re: " + generated
		}
		return "Re: Your inquiry"
	}
	if strings.HasPrefix(strings.ToLower(original), "re:") {
		return original
	}
	return "Re: " + original
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
