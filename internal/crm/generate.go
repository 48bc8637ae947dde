package crm

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/leadflow/leadflow/internal/ai"
	"github.com/leadflow/leadflow/internal/store"
)

// MeetingLinkPlaceholder is replaced with the configured booking link in
// generated drafts.
const MeetingLinkPlaceholder = "{MEETING_LINK}"

// NextActionResult is a plan and whether it came from the cache.
type NextActionResult struct {
	store.NextAction
	Cached bool `json:"cached"`
}

// GenerateNextAction returns the reply's plan, generating it on first use
// or when force is set. A failed generation leaves any cached plan as it
// was and returns it, marked cached, together with the error.
func (s *Service) GenerateNextAction(ctx context.Context, replyID string, force bool) (*NextActionResult, error) {
	d, err := s.GetReply(ctx, replyID)
	if err != nil {
		return nil, err
	}
	if !force {
		if na := d.NextAction(); na != nil {
			return &NextActionResult{NextAction: *na, Cached: true}, nil
		}
	}
	if s.generator == nil {
		return nil, newError(KindProvider, nil, "no generator configured")
	}

	v, err := s.coalesce(ctx, "next-action:"+replyID, func(ctx context.Context) (any, error) {
		start := time.Now()
		aiCtx, cancel := context.WithTimeout(ctx, s.timeouts.AI)
		na, err := s.generator.NextAction(aiCtx, replyContext(d))
		cancel()
		s.metrics.ObserveAI("next_action", start, err)
		if err != nil {
			s.log.Warn("next action generation failed", "reply_id", replyID, "error", err)
			return nil, externalError(KindProvider, err, "Error generating next action")
		}
		if err := s.store.SaveNextAction(ctx, replyID, na); err != nil {
			return nil, storeError(err, "Reply")
		}
		return na, nil
	})
	if err != nil {
		if na := d.NextAction(); na != nil && generationFailed(err) {
			return &NextActionResult{NextAction: *na, Cached: true}, err
		}
		return nil, err
	}
	return &NextActionResult{NextAction: *v.(*store.NextAction)}, nil
}

// DraftResult is generated reply text and whether it came from the cache.
type DraftResult struct {
	Subject string     `json:"subject"`
	Body    string     `json:"body"`
	Tone    store.Tone `json:"tone"`
	Cached  bool       `json:"cached"`
}

// ParseTone accepts a tone in any case; empty means FRIENDLY.
func ParseTone(s string) (store.Tone, error) {
	if s == "" {
		return store.ToneFriendly, nil
	}
	t := store.Tone(strings.ToUpper(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", newError(KindValidation, nil, "tone must be one of FORMAL, FRIENDLY, SHORT")
	}
	return t, nil
}

// GenerateDraft returns a draft for the reply in the given tone. The cache
// holds one draft per reply and only answers for the tone it was written
// in. Drafts of answered replies cannot change. When generation fails the
// stored draft, whatever its tone, is returned marked cached along with
// the error.
func (s *Service) GenerateDraft(ctx context.Context, replyID string, tone store.Tone, force bool) (*DraftResult, error) {
	if !tone.Valid() {
		return nil, newError(KindValidation, nil, "tone must be one of FORMAL, FRIENDLY, SHORT")
	}
	d, err := s.GetReply(ctx, replyID)
	if err != nil {
		return nil, err
	}
	if d.DraftStatus == store.DraftSent {
		return nil, newError(KindConflict, nil, "Reply has already been sent")
	}
	if !force {
		if cached := d.CachedDraft(tone); cached != nil {
			return &DraftResult{Subject: cached.Subject, Body: cached.Body, Tone: tone, Cached: true}, nil
		}
	}
	if s.generator == nil {
		return nil, newError(KindProvider, nil, "no generator configured")
	}

	v, err := s.coalesce(ctx, "draft:"+replyID+":"+string(tone), func(ctx context.Context) (any, error) {
		in := ai.DraftInput{ReplyContext: replyContext(d), Tone: tone}
		if na := d.NextAction(); na != nil {
			in.Steps = na.Steps
		}
		for _, a := range d.Attachments {
			in.Attachments = append(in.Attachments, a.FileName)
		}

		start := time.Now()
		aiCtx, cancel := context.WithTimeout(ctx, s.timeouts.AI)
		draft, err := s.generator.Draft(aiCtx, in)
		cancel()
		s.metrics.ObserveAI("draft", start, err)
		if err != nil {
			s.log.Warn("draft generation failed", "reply_id", replyID, "tone", tone, "error", err)
			return nil, externalError(KindProvider, err, "Error generating draft")
		}
		draft.Body = s.fillPlaceholders(draft.Body)

		if err := s.store.SaveDraft(ctx, replyID, tone, draft); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return nil, newError(KindConflict, nil, "Reply has already been sent")
			}
			return nil, storeError(err, "Reply")
		}
		return draft, nil
	})
	if err != nil {
		if d.DraftTone != nil && generationFailed(err) {
			if prev := d.CachedDraft(*d.DraftTone); prev != nil {
				return &DraftResult{Subject: prev.Subject, Body: prev.Body, Tone: *d.DraftTone, Cached: true}, err
			}
		}
		return nil, err
	}
	draft := v.(*store.Draft)
	return &DraftResult{Subject: draft.Subject, Body: draft.Body, Tone: tone}, nil
}

// coalesce runs fn once for all concurrent callers with the same key. fn
// runs on a context detached from the callers; each caller stops waiting
// when its own ctx is done.
func (s *Service) coalesce(ctx context.Context, key string, fn func(context.Context) (any, error)) (any, error) {
	ch := s.inflight.DoChan(key, func() (any, error) {
		return fn(context.WithoutCancel(ctx))
	})
	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, externalError(KindProvider, ctx.Err(), "Generation abandoned")
	}
}

func generationFailed(err error) bool {
	return IsKind(err, KindProvider) || IsKind(err, KindTimeout)
}

func (s *Service) fillPlaceholders(body string) string {
	if s.profile.MeetingLink != "" {
		body = strings.ReplaceAll(body, MeetingLinkPlaceholder, s.profile.MeetingLink)
	}
	return body
}
