package inbox

import (
	"regexp"
	"strings"

	"github.com/leadflow/leadflow/internal/store"
)

type rule struct {
	pattern *regexp.Regexp
	reason  string
}

// Keyword patterns for classification
var (
	unsubscribePatterns = []rule{
		{regexp.MustCompile(`(?i)\bunsubscribe\b`), "Contains unsubscribe request"},
		{regexp.MustCompile(`(?i)\bremove\s+me\b`), "Asks to be removed from the list"},
		{regexp.MustCompile(`(?i)\bstop\s+(emailing|contacting|sending)\b`), "Asks to stop emails"},
		{regexp.MustCompile(`(?i)\bopt[\s-]?out\b`), "Asks to opt out"},
		{regexp.MustCompile(`(?i)take\s+me\s+off\s+(your|the)\s+list`), "Asks to be removed from the list"},
	}

	spamPatterns = []rule{
		{regexp.MustCompile(`(?i)\b(viagra|casino|lottery)\b`), "Likely spam content"},
		{regexp.MustCompile(`(?i)nigerian\s+prince`), "Likely spam content"},
		{regexp.MustCompile(`(?i)you\s+have\s+won`), "Likely spam content"},
	}

	// negations are removed before positive patterns run so "not interested"
	// never counts as interest
	notInterestedPatterns = []rule{
		{regexp.MustCompile(`(?i)\bnot\s+(really\s+)?interested\b`), "Indicated not interested"},
		{regexp.MustCompile(`(?i)\bno\s+thanks?\b|\bno\s+thank\s+you\b`), "Declined politely"},
		{regexp.MustCompile(`(?i)\bnot\s+(right\s+)?now\b`), "Timing is not right"},
		{regexp.MustCompile(`(?i)\bmaybe\s+later\b`), "Deferred to later"},
		{regexp.MustCompile(`(?i)\b(we('re|\s+are)|i('m|\s+am))\s+all\s+set\b`), "Already covered"},
		{regexp.MustCompile(`(?i)\bnot\s+a\s+(good\s+)?fit\b`), "Not a fit"},
	}

	pricePatterns = []rule{
		{regexp.MustCompile(`(?i)\bpric(e|es|ing)\b`), "Asking about pricing"},
		{regexp.MustCompile(`(?i)\bcosts?\b`), "Asking about cost"},
		{regexp.MustCompile(`(?i)\bquote\b`), "Requesting a quote"},
		{regexp.MustCompile(`(?i)\bhow\s+much\b`), "Asking about pricing"},
		{regexp.MustCompile(`(?i)\bbudget\b`), "Discussing budget"},
	}

	meetingPatterns = []rule{
		{regexp.MustCompile(`(?i)\bmeeting\b|\bmeet\b`), "Requesting meeting"},
		{regexp.MustCompile(`(?i)\b(a|quick|short)\s+call\b|\bhop\s+on\s+a\s+call\b`), "Requesting a call"},
		{regexp.MustCompile(`(?i)\bschedule\b|\bcalendar\b|\bavailability\b`), "Discussing scheduling"},
		{regexp.MustCompile(`(?i)\bdemo\b|\bpresentation\b|\bwalkthrough\b`), "Requesting demo"},
	}

	interestedPatterns = []rule{
		{regexp.MustCompile(`(?i)\binterested\b`), "Expressed interest"},
		{regexp.MustCompile(`(?i)\btell\s+me\s+more\b|\blearn\s+more\b`), "Wants more information"},
		{regexp.MustCompile(`(?i)\bsounds\s+(good|great|interesting)\b`), "Positive response"},
		{regexp.MustCompile(`(?i)\bsend\s+(me\s+)?(more\s+)?(details|info|information)\b`), "Asked for details"},
	}
)

// intentOutcome holds the score, priority and base confidence for each intent.
var intentOutcome = map[store.Intent]struct {
	score      int
	priority   store.Priority
	confidence float64
}{
	store.IntentMeeting:       {90, store.PriorityHigh, 0.85},
	store.IntentAskingPrice:   {85, store.PriorityHigh, 0.8},
	store.IntentInterested:    {75, store.PriorityMedium, 0.7},
	store.IntentNotInterested: {25, store.PriorityLow, 0.75},
	store.IntentOther:         {50, store.PriorityMedium, 0.6},
}

// ClassifyReply scores a reply by keyword rules. It is the offline
// counterpart of the AI scorer and never fails.
func ClassifyReply(subject, body string) store.Classification {
	content := strings.ToLower(CleanReplyText(body))
	subject = strings.ToLower(subject)
	text := subject + "\n" + content

	// Unsubscribe and spam are clear-cut and decided first
	if reasons := matchAll(unsubscribePatterns, content); len(reasons) > 0 {
		return store.Classification{
			Intent: store.IntentUnsubscribe, Score: 5, Priority: store.PriorityIgnore,
			Confidence: 0.95, Reasons: reasons,
		}
	}
	if reasons := matchAll(spamPatterns, text); len(reasons) > 0 {
		return store.Classification{
			Intent: store.IntentSpam, Score: 0, Priority: store.PriorityIgnore,
			Confidence: 0.9, Reasons: reasons,
		}
	}

	scores := map[store.Intent]int{}
	reasons := map[store.Intent][]string{}

	negReasons := matchAll(notInterestedPatterns, content)
	if len(negReasons) > 0 {
		// a refusal outweighs incidental keywords
		scores[store.IntentNotInterested] = 2 * len(negReasons)
		reasons[store.IntentNotInterested] = negReasons
		for _, r := range notInterestedPatterns {
			content = r.pattern.ReplaceAllString(content, " ")
		}
	}

	for intent, rules := range map[store.Intent][]rule{
		store.IntentAskingPrice: pricePatterns,
		store.IntentMeeting:     meetingPatterns,
		store.IntentInterested:  interestedPatterns,
	} {
		if r := matchAll(rules, content); len(r) > 0 {
			scores[intent] += len(r)
			reasons[intent] = r
		}
	}

	// Find the highest scoring intent and second highest. Ties resolve
	// toward the more actionable intent.
	order := []store.Intent{store.IntentMeeting, store.IntentAskingPrice, store.IntentInterested, store.IntentNotInterested}
	best := store.IntentOther
	maxScore, secondScore := 0, 0
	for _, intent := range order {
		score := scores[intent]
		if score > maxScore {
			secondScore = maxScore
			maxScore = score
			best = intent
		} else if score > secondScore {
			secondScore = score
		}
	}

	out := intentOutcome[best]
	c := store.Classification{
		Intent:     best,
		Score:      out.score,
		Priority:   out.priority,
		Confidence: out.confidence,
		Reasons:    reasons[best],
	}
	if best == store.IntentOther {
		c.Reasons = []string{"Generic reply - unclear intent"}
		return c
	}

	// Confidence drops with the margin over the runner-up
	if secondScore > 0 {
		margin := float64(maxScore-secondScore) / float64(maxScore)
		c.Confidence = 0.5 + margin*(out.confidence-0.5)
	}
	return c
}

func matchAll(rules []rule, text string) []string {
	var reasons []string
	seen := make(map[string]bool)
	for _, r := range rules {
		if r.pattern.MatchString(text) && !seen[r.reason] {
			seen[r.reason] = true
			reasons = append(reasons, r.reason)
		}
	}
	return reasons
}
