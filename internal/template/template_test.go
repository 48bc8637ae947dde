package template

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine()
	require.NoError(t, err)
	return e
}

func TestAvailableTemplates(t *testing.T) {
	e := newEngine(t)
	names := e.AvailableTemplates()
	for _, want := range []string{ClassifySystem, ClassifyUser, NextActionSystem, NextActionUser, DraftSystem, DraftUser, "draft_generic"} {
		assert.Contains(t, names, want)
	}
}

func TestRenderUnknown(t *testing.T) {
	_, err := newEngine(t).Render("nope", PromptData{})
	assert.Error(t, err)
}

func TestRenderPrompts(t *testing.T) {
	e := newEngine(t)
	data := PromptData{
		LeadName:        "Lee Park",
		OriginalSubject: "Hi",
		ReplyText:       "How much is it?",
		Intent:          "ASKING_PRICE",
		Score:           85,
		Tone:            "FORMAL",
		ToneGuidance:    ToneGuidance("FORMAL"),
		Steps:           []string{"Prepare pricing document", "Follow up in 24 hours"},
		Attachments:     []string{"pricing.pdf", "deck.pdf"},
		SenderName:      "Dana",
	}

	user, err := e.Render(NextActionUser, data)
	require.NoError(t, err)
	assert.Contains(t, user, "Company: Unknown")
	assert.Contains(t, user, "Score: 85/100")

	sys, err := e.Render(DraftSystem, data)
	require.NoError(t, err)
	assert.Contains(t, sys, "Mention the attached files: pricing.pdf, deck.pdf")
	assert.Contains(t, sys, "{MEETING_LINK}")

	draftUser, err := e.Render(DraftUser, data)
	require.NoError(t, err)
	assert.Contains(t, draftUser, "- Prepare pricing document\n- Follow up in 24 hours")
}

func TestRenderDraft(t *testing.T) {
	e := newEngine(t)

	tests := []struct {
		name     string
		intent   string
		data     PromptData
		contains []string
	}{
		{
			name:     "meeting keeps placeholder",
			intent:   "MEETING",
			data:     PromptData{LeadName: "Lee", Tone: "FRIENDLY", SenderName: "Dana"},
			contains: []string{"Hi Lee,", "{MEETING_LINK}", "Best regards\nDana"},
		},
		{
			name:     "formal greeting",
			intent:   "NOT_INTERESTED",
			data:     PromptData{LeadName: "Lee", Tone: "FORMAL"},
			contains: []string{"Dear Lee,", "Thank you for taking the time"},
		},
		{
			name:     "pricing mentions attachment",
			intent:   "ASKING_PRICE",
			data:     PromptData{LeadName: "Lee", Tone: "FRIENDLY", Attachments: []string{"pricing.pdf"}},
			contains: []string{"I've attached pricing.pdf"},
		},
		{
			name:     "unknown intent uses generic",
			intent:   "SPAM",
			data:     PromptData{LeadName: "Lee", Tone: "FRIENDLY", Attachments: []string{"a.pdf"}},
			contains: []string{"Thank you for your message.", "I've attached a.pdf for your reference."},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, err := e.RenderDraft(tt.intent, tt.data)
			require.NoError(t, err)
			for _, s := range tt.contains {
				assert.Contains(t, body, s)
			}
		})
	}
}

func TestRenderDraftShort(t *testing.T) {
	body, err := newEngine(t).RenderDraft("INTERESTED", PromptData{LeadName: "Lee", Tone: "SHORT"})
	require.NoError(t, err)
	assert.NotContains(t, body, "\n\n")
	assert.LessOrEqual(t, len([]rune(body)), 300)
	assert.True(t, strings.HasPrefix(body, "Hi Lee,"))
}
