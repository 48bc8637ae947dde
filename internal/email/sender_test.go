package email

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/emersion/go-message/mail"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadflow/leadflow/internal/config"
)

func TestValidateEmail(t *testing.T) {
	tests := []struct {
		email   string
		wantErr bool
	}{
		{"dana@example.com", false},
		{"Dana <dana@example.com>", false},
		{"not-an-email", true},
		{"a@example.com\r\nBcc: x@example.com", true},
		{"a@example.com,b@example.com", true},
	}
	for _, tt := range tests {
		t.Run(tt.email, func(t *testing.T) {
			err := ValidateEmail(tt.email)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewMessageID(t *testing.T) {
	a := NewMessageID("dana@example.com")
	b := NewMessageID("dana@example.com")
	assert.NotEqual(t, a, b)
	assert.True(t, strings.HasSuffix(a, "@example.com"))
	assert.True(t, strings.HasSuffix(NewMessageID("broken"), "@leadflow.local"))
}

func TestNewSender(t *testing.T) {
	for _, provider := range []string{"smtp", "sendgrid", "resend"} {
		s, err := NewSender(config.EmailConfig{Provider: provider})
		require.NoError(t, err)
		assert.Equal(t, provider, s.Name())
	}
	_, err := NewSender(config.EmailConfig{Provider: "pigeon"})
	assert.Error(t, err)
}

func TestValidateMessageRejectsInjection(t *testing.T) {
	base := Message{From: "a@example.com", To: "b@example.com", Subject: "Hi"}
	assert.NoError(t, validateMessage(base))

	bad := base
	bad.Subject = "Hi\r\nBcc: c@example.com"
	assert.Error(t, validateMessage(bad))

	bad = base
	bad.InReplyTo = "x>\r\nBcc: c@example.com"
	assert.Error(t, validateMessage(bad))
}

func TestBuildMIMEThreadsAndAttaches(t *testing.T) {
	msg := Message{
		From:       "dana@example.com",
		FromName:   "Dana Reyes",
		To:         "lead@example.org",
		Subject:    "Re: Hi",
		Body:       "Thanks for getting back to me.",
		MessageID:  "new@example.com",
		InReplyTo:  "parent@example.com",
		References: []string{"root@example.com", "parent@example.com"},
		Attachments: []Attachment{
			{FileName: "pricing.pdf", ContentType: "application/pdf", Data: []byte("%PDF-1.4")},
		},
	}

	raw, err := buildMIME(msg)
	require.NoError(t, err)

	r, err := mail.CreateReader(bytes.NewReader(raw))
	require.NoError(t, err)

	id, err := r.Header.MessageID()
	require.NoError(t, err)
	assert.Equal(t, "new@example.com", id)

	inReplyTo, err := r.Header.MsgIDList("In-Reply-To")
	require.NoError(t, err)
	assert.Equal(t, []string{"parent@example.com"}, inReplyTo)

	refs, err := r.Header.MsgIDList("References")
	require.NoError(t, err)
	assert.Equal(t, []string{"root@example.com", "parent@example.com"}, refs)

	var text string
	var files []string
	for {
		p, err := r.NextPart()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		switch h := p.Header.(type) {
		case *mail.InlineHeader:
			b, _ := io.ReadAll(p.Body)
			text = string(b)
		case *mail.AttachmentHeader:
			name, _ := h.Filename()
			files = append(files, name)
		}
	}
	assert.Contains(t, text, "Thanks for getting back to me.")
	assert.Equal(t, []string{"pricing.pdf"}, files)
}

func TestThreadHeaders(t *testing.T) {
	h := threadHeaders(Message{MessageID: "a@x"})
	assert.Equal(t, map[string]string{"Message-ID": "<a@x>"}, h)
}
