package inbox

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sort"
	"strconv"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"

	"github.com/leadflow/leadflow/internal/config"
)

const fetchBatchSize = 50

// Monitor polls an IMAP mailbox for lead replies
type Monitor struct {
	config config.InboxConfig
	log    *slog.Logger
}

// Email represents a parsed inbound message
type Email struct {
	UID        uint32 // IMAP UID, monotonic within one UIDVALIDITY
	MessageID  string
	InReplyTo  []string
	References []string
	From       string
	FromName   string
	Subject    string
	Body       string
	HTMLBody   string
	ReceivedAt time.Time
}

// Cursor is a position in a mailbox: everything up to LastUID has been seen.
type Cursor struct {
	UIDValidity uint32
	LastUID     uint32
}

// Batch is the result of one poll.
type Batch struct {
	Emails []Email // ascending UID
	// UIDValidity of the mailbox at poll time. When it differs from the
	// cursor's, UIDs were renumbered and the poll started from the beginning.
	UIDValidity uint32
	// HighestUID is the largest UID examined, including unparsable messages.
	HighestUID uint32
}

// NewMonitor creates a new inbox monitor
func NewMonitor(cfg config.InboxConfig, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{config: cfg, log: logger.With("component", "inbox")}
}

func (m *Monitor) Mailbox() string { return m.config.Folder }

// connect establishes an authenticated session bound to ctx. Cancelling ctx
// terminates the connection, unblocking any command in flight.
func (m *Monitor) connect(ctx context.Context) (*client.Client, func(), error) {
	addr := net.JoinHostPort(m.config.Server, strconv.Itoa(m.config.Port))
	m.log.Debug("connecting to IMAP server", "addr", addr)

	dialer := &net.Dialer{Timeout: 30 * time.Second}
	if deadline, ok := ctx.Deadline(); ok {
		dialer.Deadline = deadline
	}
	c, err := client.DialWithDialerTLS(dialer, addr, &tls.Config{ServerName: m.config.Server, MinVersion: tls.VersionTLS12})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to IMAP server: %w", err)
	}
	stop := context.AfterFunc(ctx, func() { c.Terminate() })

	if err := c.Login(m.config.Email, m.config.Password); err != nil {
		stop()
		c.Logout()
		return nil, nil, fmt.Errorf("failed to login: %w", err)
	}

	closeFn := func() {
		stop()
		if ctx.Err() == nil {
			c.Logout()
		}
	}
	return c, closeFn, nil
}

// FetchSince returns messages newer than cur, at most max of them.
func (m *Monitor) FetchSince(ctx context.Context, cur Cursor, max int) (*Batch, error) {
	c, closeFn, err := m.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer closeFn()

	batch, err := m.fetchSince(c, cur, max)
	if err != nil && ctx.Err() != nil {
		return nil, fmt.Errorf("mailbox poll interrupted: %w", ctx.Err())
	}
	return batch, err
}

func (m *Monitor) fetchSince(c *client.Client, cur Cursor, max int) (*Batch, error) {
	mbox, err := c.Select(m.config.Folder, true)
	if err != nil {
		return nil, fmt.Errorf("failed to select mailbox %s: %w", m.config.Folder, err)
	}

	batch := &Batch{UIDValidity: mbox.UidValidity, HighestUID: cur.LastUID}
	last := cur.LastUID
	if cur.UIDValidity != mbox.UidValidity {
		if cur.UIDValidity != 0 {
			m.log.Warn("mailbox UIDVALIDITY changed, rescanning", "old", cur.UIDValidity, "new", mbox.UidValidity)
		}
		last, batch.HighestUID = 0, 0
	}
	if mbox.Messages == 0 {
		return batch, nil
	}

	criteria := imap.NewSearchCriteria()
	criteria.Uid = new(imap.SeqSet)
	criteria.Uid.AddRange(last+1, 0)

	found, err := c.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("failed to search emails: %w", err)
	}

	// "n:*" always matches the newest message, even when its UID is below n
	uids := found[:0]
	for _, uid := range found {
		if uid > last {
			uids = append(uids, uid)
		}
	}
	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
	if max > 0 && len(uids) > max {
		uids = uids[:max]
	}
	m.log.Debug("found new messages", "mailbox", m.config.Folder, "count", len(uids), "after_uid", last)

	for start := 0; start < len(uids); start += fetchBatchSize {
		end := min(start+fetchBatchSize, len(uids))
		emails, err := m.fetchBatch(c, uids[start:end])
		if err != nil {
			return nil, err
		}
		batch.Emails = append(batch.Emails, emails...)
		batch.HighestUID = uids[end-1]
	}

	sort.Slice(batch.Emails, func(i, j int) bool { return batch.Emails[i].UID < batch.Emails[j].UID })
	return batch, nil
}

func (m *Monitor) fetchBatch(c *client.Client, uids []uint32) ([]Email, error) {
	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uids...)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchUid, imap.FetchInternalDate, section.FetchItem()}

	messages := make(chan *imap.Message, len(uids))
	done := make(chan error, 1)
	go func() {
		done <- c.UidFetch(seqSet, items, messages)
	}()

	var emails []Email
	for msg := range messages {
		email, err := m.parseMessage(msg, section)
		if err != nil {
			m.log.Warn("failed to parse message", "uid", msg.Uid, "error", err)
			continue
		}
		if email != nil {
			emails = append(emails, *email)
		}
	}

	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}
	return emails, nil
}

// parseMessage converts an IMAP message to our Email struct
func (m *Monitor) parseMessage(msg *imap.Message, section *imap.BodySectionName) (*Email, error) {
	if msg == nil {
		return nil, nil
	}

	var r io.Reader = msg.GetBody(section)
	if r == nil {
		return nil, fmt.Errorf("message %d has no body", msg.Uid)
	}
	email, err := ParseMessage(r)
	if err != nil {
		return nil, err
	}
	email.UID = msg.Uid

	if env := msg.Envelope; env != nil {
		if email.Subject == "" {
			email.Subject = env.Subject
		}
		if email.From == "" && len(env.From) > 0 {
			email.From = env.From[0].Address()
			email.FromName = env.From[0].PersonalName
		}
		if email.ReceivedAt.IsZero() {
			email.ReceivedAt = env.Date
		}
	}
	if email.ReceivedAt.IsZero() {
		email.ReceivedAt = msg.InternalDate
	}
	return email, nil
}
