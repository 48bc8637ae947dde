package ai

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadflow/leadflow/internal/config"
	"github.com/leadflow/leadflow/internal/store"
	"github.com/leadflow/leadflow/internal/template"
)

// scripted is a Provider returning canned replies in order.
type scripted struct {
	name    string
	replies []string
	err     error
	calls   int
	last    Request
}

func (s *scripted) Name() string { return s.name }

func (s *scripted) Complete(_ context.Context, req Request) (string, error) {
	s.calls++
	s.last = req
	if s.err != nil {
		return "", s.err
	}
	if len(s.replies) == 0 {
		return "", errors.New("no reply scripted")
	}
	out := s.replies[0]
	s.replies = s.replies[1:]
	return out, nil
}

func newAssistant(t *testing.T, p Provider) *Assistant {
	t.Helper()
	engine, err := template.NewEngine()
	require.NoError(t, err)
	return NewAssistant(p, engine, Options{SenderName: "Dana"})
}

func TestDecodeJSON(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		wantErr bool
	}{
		{"plain", `{"subject":"Re: Hi","body":"Thanks"}`, false},
		{"fenced", "Here you go:\n```json\n{\"subject\":\"Re: Hi\",\"body\":\"Thanks\"}\n```", false},
		{"prose around", `Sure! {"subject":"Re: Hi","body":"Thanks"} Let me know.`, false},
		{"missing field", `{"subject":"Re: Hi"}`, true},
		{"not json", `I cannot help with that.`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out draftOut
			err := decodeJSON(tt.in, &out)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnparsable)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "Thanks", out.Body)
		})
	}
}

func TestClassifyWithProvider(t *testing.T) {
	p := &scripted{name: "fake", replies: []string{
		`{"reply_score": 40, "priority": "low", "intent": "unsubscribe", "confidence": 0.9, "reasons": ["asked to stop"]}`,
	}}
	a := newAssistant(t, p)

	c, err := a.Classify(context.Background(), ReplyContext{LeadName: "Lee", ReplyText: "stop\n> quoted"})
	require.NoError(t, err)
	assert.Equal(t, store.IntentUnsubscribe, c.Intent)
	assert.Equal(t, store.PriorityIgnore, c.Priority)
	assert.LessOrEqual(t, c.Score, 10)
	assert.True(t, p.last.JSON)
	assert.NotContains(t, p.last.User, "quoted")
}

func TestClassifyInvalidOutput(t *testing.T) {
	p := &scripted{name: "fake", replies: []string{`{"reply_score": 140, "priority": "HIGH", "intent": "MEETING", "confidence": 0.9}`}}
	_, err := newAssistant(t, p).Classify(context.Background(), ReplyContext{ReplyText: "x"})
	assert.ErrorIs(t, err, ErrUnparsable)
}

func TestClassifyRules(t *testing.T) {
	c, err := newAssistant(t, nil).Classify(context.Background(), ReplyContext{ReplyText: "Not interested, please remove me"})
	require.NoError(t, err)
	assert.Equal(t, store.IntentUnsubscribe, c.Intent)
}

func TestNextAction(t *testing.T) {
	p := &scripted{name: "fake", replies: []string{
		`{"next_action_title":"Send Pricing","next_action_steps":["a","b","c","d","e","f"],"urgency":"this week","followup_days":3,"suggested_tone":"formal"}`,
	}}
	na, err := newAssistant(t, p).NextAction(context.Background(), ReplyContext{
		LeadName:       "Lee",
		ReplyText:      "price?",
		Classification: &store.Classification{Intent: store.IntentAskingPrice, Score: 85, Priority: store.PriorityHigh},
	})
	require.NoError(t, err)
	assert.Equal(t, "Send Pricing", na.Title)
	assert.Len(t, na.Steps, 5)
	assert.Equal(t, store.UrgencyThisWeek, na.Urgency)
	assert.Equal(t, store.ToneFormal, na.SuggestedTone)
	assert.Contains(t, p.last.User, "Intent: ASKING_PRICE")
}

func TestNextActionNoSteps(t *testing.T) {
	p := &scripted{name: "fake", replies: []string{
		`{"next_action_title":"Wait","next_action_steps":[],"urgency":"NOW","followup_days":1,"suggested_tone":"SHORT"}`,
	}}
	_, err := newAssistant(t, p).NextAction(context.Background(), ReplyContext{})
	assert.ErrorIs(t, err, ErrUnparsable)
}

func TestNextActionRules(t *testing.T) {
	a := newAssistant(t, nil)
	na, err := a.NextAction(context.Background(), ReplyContext{Classification: &store.Classification{Intent: store.IntentMeeting}})
	require.NoError(t, err)
	assert.Equal(t, "Schedule Meeting", na.Title)

	na, err = a.NextAction(context.Background(), ReplyContext{})
	require.NoError(t, err)
	assert.Equal(t, "Follow Up", na.Title)

	// callers may not mutate the shared table
	na.Steps[0] = "changed"
	assert.Equal(t, "Review their response", FallbackNextAction("").Steps[0])
}

func TestDraft(t *testing.T) {
	p := &scripted{name: "fake", replies: []string{`{"subject":"Pricing details","body":"Hi Lee,\nSee attached."}`}}
	d, err := newAssistant(t, p).Draft(context.Background(), DraftInput{
		ReplyContext: ReplyContext{LeadName: "Lee", OriginalSubject: "Hi", ReplyText: "price?"},
		Tone:         store.ToneFriendly,
		Steps:        []string{"one", "two", "three", "four"},
		Attachments:  []string{"pricing.pdf"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Re: Hi", d.Subject)
	assert.Equal(t, "Hi Lee,\nSee attached.", d.Body)
	assert.Contains(t, p.last.System, "pricing.pdf")
	assert.NotContains(t, p.last.User, "four")
}

func TestDraftRules(t *testing.T) {
	d, err := newAssistant(t, nil).Draft(context.Background(), DraftInput{
		ReplyContext: ReplyContext{
			LeadName:        "Lee",
			OriginalSubject: "Quick question",
			Classification:  &store.Classification{Intent: store.IntentMeeting},
		},
		Tone: store.ToneFormal,
	})
	require.NoError(t, err)
	assert.Equal(t, "Re: Quick question", d.Subject)
	assert.True(t, strings.HasPrefix(d.Body, "Dear Lee,"))
	assert.Contains(t, d.Body, "{MEETING_LINK}")
}

func TestReplySubject(t *testing.T) {
	assert.Equal(t, "RE: Hi", replySubject("RE: Hi", "Hi"))
	assert.Equal(t, "Re: Hi", replySubject("Something else", "Hi"))
	assert.Equal(t, "Re: Hi", replySubject("", "Re: Hi"))
	assert.Equal(t, "Re: Your inquiry", replySubject("", ""))
}

func TestChainFallsBack(t *testing.T) {
	primary := &scripted{name: "openrouter", err: errors.New("503")}
	backup := &scripted{name: "gemini", replies: []string{"ok"}}
	chain := Chain{primary, backup}

	out, err := chain.Complete(context.Background(), Request{User: "x"})
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, "openrouter+gemini", chain.Name())

	backup.err = errors.New("429")
	_, err = chain.Complete(context.Background(), Request{User: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
	assert.Contains(t, err.Error(), "429")
}

func TestNewProvider(t *testing.T) {
	p, err := NewProvider(config.AIConfig{Provider: "rules"}, nil)
	require.NoError(t, err)
	assert.Nil(t, p)

	p, err = NewProvider(config.AIConfig{Provider: "openrouter", Fallback: "gemini"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "openrouter+gemini", p.Name())

	_, err = NewProvider(config.AIConfig{Provider: "llama"}, nil)
	assert.Error(t, err)
}
