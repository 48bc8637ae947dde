package ai

import "github.com/leadflow/leadflow/internal/store"

var fallbackActions = map[store.Intent]store.NextAction{
	store.IntentAskingPrice: {
		Title:         "Send Pricing Information",
		Steps:         []string{"Prepare pricing document", "Ask about budget and timeline", "Follow up in 24 hours"},
		Urgency:       store.UrgencyNow,
		FollowupDays:  1,
		SuggestedTone: store.ToneFormal,
	},
	store.IntentMeeting: {
		Title:         "Schedule Meeting",
		Steps:         []string{"Share calendar link", "Propose time slots", "Send meeting agenda"},
		Urgency:       store.UrgencyNow,
		FollowupDays:  1,
		SuggestedTone: store.ToneFriendly,
	},
	store.IntentInterested: {
		Title:         "Provide More Information",
		Steps:         []string{"Send product details", "Share case studies", "Ask qualifying questions"},
		Urgency:       store.UrgencyToday,
		FollowupDays:  2,
		SuggestedTone: store.ToneFriendly,
	},
	store.IntentNotInterested: {
		Title:         "Close Gracefully",
		Steps:         []string{"Thank them for their time", "Ask if you may contact them in future", "Request referrals if appropriate"},
		Urgency:       store.UrgencyThisWeek,
		FollowupDays:  7,
		SuggestedTone: store.ToneShort,
	},
	store.IntentUnsubscribe: {
		Title:         "Mark Do Not Contact",
		Steps:         []string{"Remove from email list", "Update CRM status", "Respect unsubscribe request"},
		Urgency:       store.UrgencyNow,
		FollowupDays:  0,
		SuggestedTone: store.ToneFormal,
	},
}

// FallbackNextAction returns the canned plan for an intent.
func FallbackNextAction(intent store.Intent) *store.NextAction {
	na, ok := fallbackActions[intent]
	if !ok {
		na = store.NextAction{
			Title:         "Follow Up",
			Steps:         []string{"Review their response", "Prepare personalized follow-up", "Send within 2-3 days"},
			Urgency:       store.UrgencyToday,
			FollowupDays:  3,
			SuggestedTone: store.ToneFriendly,
		}
	}
	na.Steps = append([]string(nil), na.Steps...)
	return &na
}
