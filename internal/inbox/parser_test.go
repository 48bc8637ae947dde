package inbox

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const replyMessage = "From: Lee Park <Lee@Acme.io>\r\n" +
	"To: dana@example.com\r\n" +
	"Subject: Re: Hi\r\n" +
	"Date: Tue, 07 Jan 2025 10:00:00 +0000\r\n" +
	"Message-ID: <reply-1@acme.io>\r\n" +
	"In-Reply-To: <orig-1@example.com>\r\n" +
	"References: <root@example.com> <orig-1@example.com>\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: multipart/alternative; boundary=\"b1\"\r\n" +
	"\r\n" +
	"--b1\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"Sounds good, what does it cost?\r\n" +
	"\r\n" +
	"On Mon, Jan 6, 2025 at 9:00 AM Dana wrote:\r\n" +
	"> Hello Lee\r\n" +
	"--b1\r\n" +
	"Content-Type: text/html; charset=utf-8\r\n" +
	"\r\n" +
	"<p>Sounds good, what does it cost?</p>\r\n" +
	"--b1--\r\n"

func TestParseMessage(t *testing.T) {
	email, err := ParseMessage(strings.NewReader(replyMessage))
	require.NoError(t, err)

	assert.Equal(t, "reply-1@acme.io", email.MessageID)
	assert.Equal(t, []string{"orig-1@example.com"}, email.InReplyTo)
	assert.Equal(t, []string{"root@example.com", "orig-1@example.com"}, email.References)
	assert.Equal(t, "lee@acme.io", email.From)
	assert.Equal(t, "Lee Park", email.FromName)
	assert.Equal(t, "Re: Hi", email.Subject)
	assert.Equal(t, 2025, email.ReceivedAt.Year())
	assert.Contains(t, email.Body, "what does it cost?")
	assert.Contains(t, email.HTMLBody, "<p>")
}

func TestParseMessageHTMLOnly(t *testing.T) {
	raw := "From: a@b.com\r\nSubject: x\r\nContent-Type: text/html; charset=utf-8\r\n\r\n" +
		"<html><head><style>p{}</style></head><body><p>Let's set up a demo</p><script>x()</script></body></html>\r\n"
	email, err := ParseMessage(strings.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, "Let's set up a demo", email.Body)
}

func TestThreadTokens(t *testing.T) {
	e := &Email{
		InReplyTo:  []string{"parent@x"},
		References: []string{"root@x", "middle@x", "parent@x"},
	}
	assert.Equal(t, []string{"parent@x", "middle@x", "root@x"}, e.ThreadTokens())

	assert.Empty(t, (&Email{}).ThreadTokens())
}

func TestCleanReplyText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"quoted lines", "Yes please\n> earlier text\n> more", "Yes please"},
		{"wrote marker", "Call me Monday\r\nOn Fri, Jan 3, 2025, Dana <d@x.com> wrote:\r\nold", "Call me Monday"},
		{"signature", "Sure thing\n--\nLee Park\nCEO", "Sure thing"},
		{"underscores", "Thanks\n___\nSent from phone", "Thanks"},
		{"plain", "  Just text  ", "Just text"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CleanReplyText(tt.in))
		})
	}

	long := strings.Repeat("a", 3000)
	assert.Len(t, CleanReplyText(long), maxCleanTextLen)
	assert.Len(t, Preview(long), maxPreviewLen)
}

func TestTruncateRunes(t *testing.T) {
	s := strings.Repeat("é", 10)
	assert.Equal(t, strings.Repeat("é", 4), truncate(s, 4))
	assert.Equal(t, "abc", truncate("abc", 10))
}
