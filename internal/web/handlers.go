package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/leadflow/leadflow/internal/crm"
	"github.com/leadflow/leadflow/internal/store"
)

var kindStatus = map[crm.Kind]int{
	crm.KindValidation: http.StatusBadRequest,
	crm.KindNotFound:   http.StatusNotFound,
	crm.KindConflict:   http.StatusConflict,
	crm.KindProvider:   http.StatusFailedDependency,
	crm.KindTransport:  http.StatusFailedDependency,
	crm.KindTimeout:    http.StatusRequestTimeout,
	crm.KindInternal:   http.StatusInternalServerError,
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

// writeError maps a service error to a status and a detail message.
// Internal failures are logged and never shown to the client.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, detail := s.describeError(r, err)
	writeDetail(w, status, detail)
}

// writeErrorWith is writeError with the last good value the service still
// holds, sent under key next to the detail.
func (s *Server) writeErrorWith(w http.ResponseWriter, r *http.Request, err error, key string, prev any) {
	status, detail := s.describeError(r, err)
	writeJSON(w, status, map[string]any{"detail": detail, key: prev})
}

func (s *Server) describeError(r *http.Request, err error) (int, string) {
	kind := crm.KindOf(err)
	if kind == crm.KindInternal {
		s.log.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		return kindStatus[kind], "Internal server error"
	}
	s.log.Warn("request rejected", "method", r.Method, "path", r.URL.Path, "kind", kind, "error", err)
	return kindStatus[kind], err.Error()
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			writeDetail(w, http.StatusRequestEntityTooLarge, "Request body too large")
		case errors.Is(err, io.EOF):
			writeDetail(w, http.StatusBadRequest, "Request body is required")
		default:
			writeDetail(w, http.StatusBadRequest, "Invalid JSON: "+err.Error())
		}
		return false
	}
	return true
}

// queryBool reads an optional boolean query parameter.
func queryBool(r *http.Request, name string) (bool, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s must be true or false", name)
	}
	return b, nil
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"message": "Lead Management API",
		"version": s.version,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.service.Ping(r.Context()); err != nil {
		s.log.Error("health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Leads

func (s *Server) handleCreateLead(w http.ResponseWriter, r *http.Request) {
	var in crm.LeadInput
	if !s.decode(w, r, &in) {
		return
	}
	lead, err := s.service.CreateLead(r.Context(), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, lead)
}

func (s *Server) handleListLeads(w http.ResponseWriter, r *http.Request) {
	leads, err := s.service.ListLeads(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if r.URL.Query().Get("sort") == "priority" {
		crm.SortByPriority(leads)
	}
	writeJSON(w, http.StatusOK, leads)
}

// Outbound email

func (s *Server) handleSendEmail(w http.ResponseWriter, r *http.Request) {
	var in crm.SendInput
	if !s.decode(w, r, &in) {
		return
	}
	o, err := s.service.RecordSend(r.Context(), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message":           "Email sent successfully",
		"message_id":        o.MessageID,
		"outbound_email_id": o.ID,
	})
}

func (s *Server) handleListOutbound(w http.ResponseWriter, r *http.Request) {
	emails, err := s.service.ListOutbound(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, emails)
}

// Replies

func (s *Server) handleSyncReplies(w http.ResponseWriter, r *http.Request) {
	res, err := s.service.SyncReplies(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":       fmt.Sprintf("Synced %d new replies", res.Ingested),
		"replies_found": res.Ingested,
		"unmatched":     res.Unmatched,
		"duplicates":    res.Duplicates,
		"unclassified":  res.Unclassified,
		"failed":        res.Failed,
	})
}

func (s *Server) handleReclassify(w http.ResponseWriter, r *http.Request) {
	res, err := s.service.Reclassify(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":    fmt.Sprintf("Reclassified %d replies", res.Classified),
		"classified": res.Classified,
		"failed":     res.Failed,
	})
}

func (s *Server) handleListReplies(w http.ResponseWriter, r *http.Request) {
	replies, err := s.service.ListReplies(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if r.URL.Query().Get("sort") == "priority" {
		crm.SortRepliesByPriority(replies)
	}
	writeJSON(w, http.StatusOK, replies)
}

func (s *Server) handleGenerateNextAction(w http.ResponseWriter, r *http.Request) {
	force, err := queryBool(r, "force")
	if err != nil {
		writeDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := s.service.GenerateNextAction(r.Context(), chi.URLParam(r, "replyID"), force)
	if err != nil {
		if res != nil {
			s.writeErrorWith(w, r, err, "next_action", res)
			return
		}
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleGenerateDraft(w http.ResponseWriter, r *http.Request) {
	force, err := queryBool(r, "force")
	if err != nil {
		writeDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	tone, err := crm.ParseTone(r.URL.Query().Get("tone"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.service.GenerateDraft(r.Context(), chi.URLParam(r, "replyID"), tone, force)
	if err != nil {
		if res != nil {
			s.writeErrorWith(w, r, err, "draft", res)
			return
		}
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleSendDraft(w http.ResponseWriter, r *http.Request) {
	var in crm.SendDraftInput
	if !s.decode(w, r, &in) {
		return
	}
	o, err := s.service.SendDraftReply(r.Context(), chi.URLParam(r, "replyID"), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message":    "Reply sent successfully",
		"message_id": o.MessageID,
	})
}

func (s *Server) handleUploadAttachment(w http.ResponseWriter, r *http.Request) {
	// multipart framing on top of the file itself
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload+64<<10)
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeDetail(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("File too large (max %d MB)", s.maxUpload>>20))
			return
		}
		writeDetail(w, http.StatusBadRequest, "Expected a multipart form with a file field")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, s.maxUpload+1))
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "Failed to read file")
		return
	}
	if int64(len(data)) > s.maxUpload {
		writeDetail(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("File too large (max %d MB)", s.maxUpload>>20))
		return
	}

	a, err := s.service.UploadAttachment(r.Context(), crm.UploadInput{
		ReplyID:     r.FormValue("reply_id"),
		FileName:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, uploadResponse{Attachment: *a, Message: "File uploaded successfully"})
}

type uploadResponse struct {
	store.Attachment
	Message string `json:"message"`
}
