package crm

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/leadflow/leadflow/internal/blob"
	"github.com/leadflow/leadflow/internal/email"
	"github.com/leadflow/leadflow/internal/lock"
	"github.com/leadflow/leadflow/internal/store"
)

type SendDraftInput struct {
	Subject string `json:"edited_subject" validate:"required,max=998"`
	Body    string `json:"edited_body" validate:"required"`
	// Attachments overrides the files uploaded for the reply when non-nil.
	Attachments []store.Attachment `json:"attachments" validate:"omitempty,dive"`
}

// SendDraftReply mails the (possibly edited) draft as an answer threaded
// under the reply's original email. On transport failure the draft is left
// as it was so the same text can be sent again.
func (s *Service) SendDraftReply(ctx context.Context, replyID string, in SendDraftInput) (*store.OutboundEmail, error) {
	in.Subject = strings.TrimSpace(in.Subject)
	if strings.TrimSpace(in.Body) == "" {
		in.Body = ""
	}
	if err := checkInput(in); err != nil {
		return nil, err
	}

	release, err := s.locks.TryLock(ctx, "reply:"+replyID)
	if errors.Is(err, lock.ErrBusy) {
		return nil, newError(KindConflict, nil, "A reply to this message is already being sent")
	}
	if err != nil {
		return nil, externalError(KindInternal, err, "failed to acquire reply lock")
	}
	defer release()

	d, err := s.GetReply(ctx, replyID)
	if err != nil {
		return nil, err
	}
	if d.DraftStatus == store.DraftSent {
		return nil, newError(KindConflict, nil, "Reply has already been sent")
	}
	parent, err := s.store.GetOutbound(ctx, d.OutboundEmailID)
	if err != nil {
		return nil, storeError(err, "Outbound email")
	}

	attachments := in.Attachments
	if attachments == nil {
		attachments = d.Attachments
	}
	files, err := s.loadAttachments(ctx, attachments)
	if err != nil {
		return nil, err
	}

	root := parent.ThreadRoot()
	refs := []string{root}
	if parent.MessageID != root {
		refs = append(refs, parent.MessageID)
	}
	o := &store.OutboundEmail{
		LeadID:              d.LeadID,
		Subject:             in.Subject,
		Body:                in.Body,
		MessageID:           email.NewMessageID(s.from),
		EmailType:           store.EmailReply,
		ThreadRootMessageID: &root,
	}
	err = s.deliver(ctx, o, email.Message{
		To:          d.Lead.Email,
		InReplyTo:   parent.MessageID,
		References:  refs,
		Attachments: files,
	})
	if err != nil {
		return nil, err
	}

	if err := s.store.CompleteDraftSend(ctx, replyID, o.ID); err != nil {
		s.log.Error("reply sent but not recorded", "reply_id", replyID, "outbound_id", o.ID, "error", err)
		if errors.Is(err, store.ErrConflict) {
			return nil, newError(KindConflict, nil, "Reply has already been sent")
		}
		return nil, storeError(err, "Reply")
	}
	s.log.Info("draft reply sent", "reply_id", replyID, "lead_id", d.LeadID, "message_id", o.MessageID,
		"attachments", len(files))

	sent, err := s.store.GetOutbound(ctx, o.ID)
	if err != nil {
		return nil, storeError(err, "Outbound email")
	}
	return sent, nil
}

func (s *Service) loadAttachments(ctx context.Context, refs []store.Attachment) ([]email.Attachment, error) {
	if len(refs) == 0 {
		return nil, nil
	}
	if s.blobs == nil {
		return nil, newError(KindValidation, nil, "attachments are not enabled")
	}

	files := make([]email.Attachment, 0, len(refs))
	for _, ref := range refs {
		blobCtx, cancel := context.WithTimeout(ctx, s.timeouts.Storage)
		data, err := s.blobs.Get(blobCtx, ref.StorageRef)
		cancel()
		if errors.Is(err, blob.ErrNotFound) {
			return nil, newError(KindValidation, nil, "attachment %s not found", ref.FileName)
		}
		if err != nil {
			return nil, externalError(KindInternal, err, "failed to load attachment "+ref.FileName)
		}
		ct := ref.MimeType
		if ct == "" {
			ct = http.DetectContentType(data)
		}
		files = append(files, email.Attachment{FileName: ref.FileName, ContentType: ct, Data: data})
	}
	return files, nil
}

type UploadInput struct {
	ReplyID     string
	FileName    string
	ContentType string
	Data        []byte
}

// UploadAttachment stores a file. With a reply id the file is also added to
// that reply's attachments.
func (s *Service) UploadAttachment(ctx context.Context, in UploadInput) (*store.Attachment, error) {
	if s.blobs == nil {
		return nil, newError(KindValidation, nil, "attachments are not enabled")
	}
	in.FileName = filepath.Base(strings.TrimSpace(in.FileName))
	if in.FileName == "" || in.FileName == "." || in.FileName == "/" {
		return nil, newError(KindValidation, nil, "file name is required")
	}
	if len(in.Data) == 0 {
		return nil, newError(KindValidation, nil, "file is empty")
	}
	if in.ContentType == "" || in.ContentType == "application/octet-stream" {
		in.ContentType = http.DetectContentType(in.Data)
	}
	if in.ReplyID != "" {
		if _, err := s.store.GetReply(ctx, in.ReplyID); err != nil {
			return nil, storeError(err, "Reply")
		}
	}

	blobCtx, cancel := context.WithTimeout(ctx, s.timeouts.Storage)
	obj, err := s.blobs.Put(blobCtx, in.FileName, in.ContentType, in.Data)
	cancel()
	if errors.Is(err, blob.ErrTooLarge) {
		return nil, newError(KindValidation, nil, "file is too large")
	}
	if err != nil {
		return nil, externalError(KindInternal, err, "Error uploading file")
	}

	a := store.Attachment{FileName: obj.FileName, StorageRef: obj.Ref, MimeType: obj.ContentType, Size: obj.Size}
	if in.ReplyID != "" {
		if _, err := s.store.AppendAttachment(ctx, in.ReplyID, a); err != nil {
			return nil, storeError(err, "Reply")
		}
	}
	if s.metrics != nil {
		s.metrics.Attachments.Inc()
	}
	s.log.Info("attachment uploaded", "file_name", a.FileName, "size", a.Size, "backend", s.blobs.Backend())
	return &a, nil
}
