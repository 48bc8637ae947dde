package inbox

import (
	"testing"

	"github.com/leadflow/leadflow/internal/store"
)

func TestClassifyReplyIntents(t *testing.T) {
	tests := []struct {
		name     string
		subject  string
		body     string
		expected store.Intent
		priority store.Priority
	}{
		{
			name:     "Unsubscribe with refusal",
			body:     "Not interested, please remove me",
			expected: store.IntentUnsubscribe,
			priority: store.PriorityIgnore,
		},
		{
			name:     "Stop emailing",
			body:     "Please stop emailing me.",
			expected: store.IntentUnsubscribe,
			priority: store.PriorityIgnore,
		},
		{
			name:     "Spam",
			body:     "Congratulations, you have won the lottery!",
			expected: store.IntentSpam,
			priority: store.PriorityIgnore,
		},
		{
			name:     "Pricing question",
			body:     "Thanks for reaching out. How much would this cost for a team of 20?",
			expected: store.IntentAskingPrice,
			priority: store.PriorityHigh,
		},
		{
			name:     "Meeting request",
			body:     "Can we schedule a quick call next week? A demo would help.",
			expected: store.IntentMeeting,
			priority: store.PriorityHigh,
		},
		{
			name:     "Interested",
			body:     "This looks interesting, tell me more.",
			expected: store.IntentInterested,
			priority: store.PriorityMedium,
		},
		{
			name:     "Not interested is not interest",
			body:     "We're not interested at this time.",
			expected: store.IntentNotInterested,
			priority: store.PriorityLow,
		},
		{
			name:     "Maybe later",
			body:     "Maybe later in the year, no thanks for now.",
			expected: store.IntentNotInterested,
			priority: store.PriorityLow,
		},
		{
			name:     "Unclear",
			body:     "Who is this?",
			expected: store.IntentOther,
			priority: store.PriorityMedium,
		},
		{
			name:     "Quoted history ignored",
			body:     "Thanks, got it.\n\nOn Mon, Jan 6, 2025 at 9:00 AM Dana wrote:\n> Would you like a demo of our pricing tool?",
			expected: store.IntentOther,
			priority: store.PriorityMedium,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ClassifyReply(tt.subject, tt.body)
			if result.Intent != tt.expected {
				t.Errorf("ClassifyReply() intent = %v, want %v (reasons: %v)", result.Intent, tt.expected, result.Reasons)
			}
			if result.Priority != tt.priority {
				t.Errorf("ClassifyReply() priority = %v, want %v", result.Priority, tt.priority)
			}
			if len(result.Reasons) == 0 {
				t.Errorf("ClassifyReply() returned no reasons")
			}
		})
	}
}

func TestClassifyReplyUnsubscribeScore(t *testing.T) {
	result := ClassifyReply("Re: Hi", "Unsubscribe")
	if result.Score > 10 {
		t.Errorf("unsubscribe score = %d, want <= 10", result.Score)
	}
	if result.Confidence != 0.95 {
		t.Errorf("unsubscribe confidence = %v, want 0.95", result.Confidence)
	}
}

func TestClassifyReplyConfidenceMargin(t *testing.T) {
	single := ClassifyReply("", "What's the price?")
	mixed := ClassifyReply("", "What's the price? Sounds great.")

	if single.Intent != store.IntentAskingPrice || mixed.Intent != store.IntentAskingPrice {
		t.Fatalf("expected ASKING_PRICE, got %v and %v", single.Intent, mixed.Intent)
	}
	if mixed.Confidence >= single.Confidence {
		t.Errorf("mixed signals should lower confidence: single=%v mixed=%v", single.Confidence, mixed.Confidence)
	}
}

func TestClassifyReplyScoresInRange(t *testing.T) {
	bodies := []string{"", "ok", "price demo interested not interested", "lottery", "remove me"}
	for _, body := range bodies {
		c := ClassifyReply("", body)
		if c.Score < 0 || c.Score > 100 {
			t.Errorf("score out of range for %q: %d", body, c.Score)
		}
		if c.Confidence < 0 || c.Confidence > 1 {
			t.Errorf("confidence out of range for %q: %v", body, c.Confidence)
		}
		if !c.Priority.Valid() {
			t.Errorf("invalid priority for %q: %v", body, c.Priority)
		}
	}
}
