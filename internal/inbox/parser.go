package inbox

import (
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/emersion/go-message/mail"
)

const (
	maxCleanTextLen = 2000
	maxPreviewLen   = 500
)

var (
	wroteLineRegex  = regexp.MustCompile(`(?i)^\s*On .+ wrote:\s*$`)
	whitespaceRegex = regexp.MustCompile(`[ \t\f\v]+`)
	blankLinesRegex = regexp.MustCompile(`\n{3,}`)
)

// ParseMessage reads an RFC 5322 message: threading headers, sender, and
// the first text/plain and text/html parts.
func ParseMessage(r io.Reader) (*Email, error) {
	mr, err := mail.CreateReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read message: %w", err)
	}

	email := &Email{}
	h := mr.Header

	email.MessageID, _ = h.MessageID()
	email.InReplyTo, _ = h.MsgIDList("In-Reply-To")
	email.References, _ = h.MsgIDList("References")
	email.Subject, _ = h.Subject()
	email.ReceivedAt, _ = h.Date()
	if from, err := h.AddressList("From"); err == nil && len(from) > 0 {
		email.From = strings.ToLower(from[0].Address)
		email.FromName = from[0].Name
	}

	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			// keep what was read so far
			break
		}

		if ih, ok := p.Header.(*mail.InlineHeader); ok {
			ct, _, _ := ih.ContentType()
			body, _ := io.ReadAll(p.Body)

			if strings.HasPrefix(ct, "text/plain") && email.Body == "" {
				email.Body = string(body)
			} else if strings.HasPrefix(ct, "text/html") && email.HTMLBody == "" {
				email.HTMLBody = string(body)
			}
		}
	}

	if email.Body == "" && email.HTMLBody != "" {
		email.Body = HTMLToText(email.HTMLBody)
	}
	return email, nil
}

// ThreadTokens returns the message ids this email answers, most specific
// first: In-Reply-To, then References from newest to oldest.
func (e *Email) ThreadTokens() []string {
	seen := make(map[string]bool)
	var tokens []string
	add := func(id string) {
		id = strings.Trim(strings.TrimSpace(id), "<>")
		if id != "" && !seen[id] {
			seen[id] = true
			tokens = append(tokens, id)
		}
	}
	for _, id := range e.InReplyTo {
		add(id)
	}
	for i := len(e.References) - 1; i >= 0; i-- {
		add(e.References[i])
	}
	return tokens
}

// HTMLToText renders the visible text of an HTML body.
func HTMLToText(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	doc.Find("script, style, head").Remove()
	doc.Find("br").ReplaceWithHtml("\n")
	doc.Find("p, div, tr, li, blockquote").Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml("\n")
	})

	text := whitespaceRegex.ReplaceAllString(doc.Text(), " ")
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	return strings.TrimSpace(blankLinesRegex.ReplaceAllString(strings.Join(lines, "\n"), "\n\n"))
}

// CleanReplyText drops quoted history and signatures from a reply body.
func CleanReplyText(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")

	var kept []string
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, ">") {
			continue
		}
		if wroteLineRegex.MatchString(line) {
			break
		}
		if trimmed == "--" || trimmed == "---" || trimmed == "___" {
			break
		}
		kept = append(kept, line)
	}
	return truncate(strings.TrimSpace(strings.Join(kept, "\n")), maxCleanTextLen)
}

// Preview returns the first characters of a cleaned body for list views.
func Preview(text string) string {
	return truncate(text, maxPreviewLen)
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
