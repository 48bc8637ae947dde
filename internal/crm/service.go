// Package crm implements the lead workflow: leads, outbound mail, reply
// triage, generated follow-ups and threaded answers.
package crm

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/leadflow/leadflow/internal/ai"
	"github.com/leadflow/leadflow/internal/blob"
	"github.com/leadflow/leadflow/internal/config"
	"github.com/leadflow/leadflow/internal/email"
	"github.com/leadflow/leadflow/internal/inbox"
	"github.com/leadflow/leadflow/internal/lock"
	"github.com/leadflow/leadflow/internal/metrics"
	"github.com/leadflow/leadflow/internal/store"
)

// Mailbox is the polled side of the mail transport.
type Mailbox interface {
	FetchSince(ctx context.Context, cur inbox.Cursor, max int) (*inbox.Batch, error)
	Mailbox() string
}

// Generator scores replies and writes plans and drafts.
type Generator interface {
	Classify(ctx context.Context, rc ai.ReplyContext) (*store.Classification, error)
	NextAction(ctx context.Context, rc ai.ReplyContext) (*store.NextAction, error)
	Draft(ctx context.Context, in ai.DraftInput) (*store.Draft, error)
	Name() string
}

// Deps are the collaborators of a Service. Mailbox, Blobs and Metrics are
// optional; the operations that need a missing one fail.
type Deps struct {
	Store     *store.Store
	Sender    email.Sender
	Mailbox   Mailbox
	Generator Generator
	Blobs     blob.Storage
	Locks     lock.Locker
	Metrics   *metrics.Metrics
	Logger    *slog.Logger

	From        string
	FromName    string
	Profile     config.Profile
	Timeouts    config.Timeouts
	MaxMessages int
}

type Service struct {
	store     *store.Store
	sender    email.Sender
	mailbox   Mailbox
	generator Generator
	blobs     blob.Storage
	locks     lock.Locker
	metrics   *metrics.Metrics
	log       *slog.Logger

	from        string
	fromName    string
	profile     config.Profile
	timeouts    config.Timeouts
	maxMessages int

	// collapses concurrent generation for the same reply
	inflight singleflight.Group
}

func New(d Deps) *Service {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Locks == nil {
		d.Locks = lock.NewMemory()
	}
	if d.MaxMessages <= 0 {
		d.MaxMessages = 200
	}
	t := &d.Timeouts
	for _, v := range []*time.Duration{&t.Mailbox, &t.Transport, &t.AI, &t.Storage} {
		if *v <= 0 {
			*v = 30 * time.Second
		}
	}
	if d.FromName == "" {
		d.FromName = d.Profile.Name
	}

	return &Service{
		store:       d.Store,
		sender:      d.Sender,
		mailbox:     d.Mailbox,
		generator:   d.Generator,
		blobs:       d.Blobs,
		locks:       d.Locks,
		metrics:     d.Metrics,
		log:         d.Logger.With("component", "crm"),
		from:        d.From,
		fromName:    d.FromName,
		profile:     d.Profile,
		timeouts:    d.Timeouts,
		maxMessages: d.MaxMessages,
	}
}

// Ping checks the database.
func (s *Service) Ping(ctx context.Context) error {
	return storeError(s.store.Ping(ctx), "database")
}

// GeneratorName returns the name of the active generator.
func (s *Service) GeneratorName() string {
	if s.generator == nil {
		return "none"
	}
	return s.generator.Name()
}

// replyContext is what the generators see of a stored reply.
func replyContext(d *store.ReplyDetail) ai.ReplyContext {
	return ai.ReplyContext{
		LeadName:        d.Lead.Name,
		LeadCompany:     d.Lead.Company,
		OriginalSubject: d.Outbound.Subject,
		OriginalBody:    d.Outbound.Body,
		ReplySubject:    d.Subject,
		ReplyText:       d.BodyText,
		Classification:  d.Classification(),
	}
}
