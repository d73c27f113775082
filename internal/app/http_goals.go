package app

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"pdca/api/internal/attachments"
	"pdca/api/internal/export"
	"pdca/api/internal/search"
)

const multipartMemory = 8 << 20

func (s *HTTPServer) handleListGoals(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	goals, err := s.service.ListGoals(r.Context(), sessionFrom(r), GoalListQuery{
		Status:     query.Get("status"),
		Priority:   query.Get("priority"),
		Department: query.Get("department"),
		OwnerID:    query.Get("owner_id"),
		Query:      query.Get("q"),
	}, pageFrom(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, goals)
}

func (s *HTTPServer) handleCreateGoal(w http.ResponseWriter, r *http.Request) {
	var body CreateGoalInput
	if !s.bind(w, r, &body) {
		return
	}
	goal, err := s.service.CreateGoal(r.Context(), sessionFrom(r), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"goal": goal})
}

func (s *HTTPServer) handleGetGoal(w http.ResponseWriter, r *http.Request) {
	goal, err := s.service.GetGoal(r.Context(), sessionFrom(r), chi.URLParam(r, "goalID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"goal": goal})
}

func (s *HTTPServer) handleUpdateGoal(w http.ResponseWriter, r *http.Request) {
	var body UpdateGoalInput
	if !s.bind(w, r, &body) {
		return
	}
	goal, err := s.service.UpdateGoal(r.Context(), sessionFrom(r), chi.URLParam(r, "goalID"), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"goal": goal})
}

func (s *HTTPServer) handleDeleteGoal(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteGoal(r.Context(), sessionFrom(r), chi.URLParam(r, "goalID")); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
}

func (s *HTTPServer) handleChangeStatus(w http.ResponseWriter, r *http.Request) {
	var body StatusChangeInput
	if !s.bind(w, r, &body) {
		return
	}
	result, err := s.service.ChangeStatus(r.Context(), sessionFrom(r), chi.URLParam(r, "goalID"), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) handleGoalHistory(w http.ResponseWriter, r *http.Request) {
	history, err := s.service.GoalHistory(r.Context(), sessionFrom(r), chi.URLParam(r, "goalID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": history})
}

func (s *HTTPServer) handleListComments(w http.ResponseWriter, r *http.Request) {
	threads, err := s.service.ListGoalComments(r.Context(), sessionFrom(r), chi.URLParam(r, "goalID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"comments": threads})
}

func (s *HTTPServer) handleAddComment(w http.ResponseWriter, r *http.Request) {
	var body CommentInput
	if !s.bind(w, r, &body) {
		return
	}
	comment, err := s.service.AddComment(r.Context(), sessionFrom(r), chi.URLParam(r, "goalID"), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"comment": comment})
}

func (s *HTTPServer) handleDeleteComment(w http.ResponseWriter, r *http.Request) {
	deleted, err := s.service.DeleteComment(r.Context(), sessionFrom(r), chi.URLParam(r, "goalID"), chi.URLParam(r, "commentID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": deleted})
}

func (s *HTTPServer) handleListAttachments(w http.ResponseWriter, r *http.Request) {
	items, err := s.service.ListAttachments(r.Context(), sessionFrom(r), chi.URLParam(r, "goalID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"attachments": items})
}

func (s *HTTPServer) handleUploadAttachment(w http.ResponseWriter, r *http.Request) {
	if limit := s.service.cfg.MaxUploadBytes; limit > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, limit+multipartMemory)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.fail(w, r, attachments.ErrTooLarge)
			return
		}
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "Expected a multipart form", nil)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Validation failed", map[string]string{"file": "is required"})
		return
	}
	defer file.Close()

	item, err := s.service.UploadAttachment(r.Context(), sessionFrom(r), chi.URLParam(r, "goalID"), attachments.Upload{
		FileName:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Body:        file,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"attachment": item})
}

func (s *HTTPServer) handleDownloadAttachment(w http.ResponseWriter, r *http.Request) {
	item, body, err := s.service.OpenAttachment(r.Context(), sessionFrom(r), chi.URLParam(r, "attachmentID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", item.ContentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": item.FileName}))
	if item.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(item.Size, 10))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		s.log.Warn("stream attachment", "attachment_id", item.ID, "error", err)
	}
}

func (s *HTTPServer) handleDeleteAttachment(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteAttachment(r.Context(), sessionFrom(r), chi.URLParam(r, "attachmentID")); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
}

func (s *HTTPServer) handleGetAnalysis(w http.ResponseWriter, r *http.Request) {
	result, err := s.service.GoalAnalysis(r.Context(), sessionFrom(r), chi.URLParam(r, "goalID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"analysis": result})
}

func (s *HTTPServer) handleRegenerateAnalysis(w http.ResponseWriter, r *http.Request) {
	result, err := s.service.RegenerateAnalysis(r.Context(), sessionFrom(r), chi.URLParam(r, "goalID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"analysis": result})
}

func (s *HTTPServer) handleGoalReport(w http.ResponseWriter, r *http.Request) {
	result, err := s.service.GoalReport(r.Context(), sessionFrom(r), chi.URLParam(r, "goalID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeFile(w, result)
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filterType := search.ResultType(query.Get("type"))
	if filterType != "" && filterType != search.ResultGoal && filterType != search.ResultComment {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Validation failed", map[string]string{"type": "must be goal or comment"})
		return
	}
	limit := queryInt(r, "limit", 20)
	if limit < 1 || limit > 100 {
		limit = 20
	}
	offset := queryInt(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	response, err := s.service.Search(r.Context(), sessionFrom(r), query.Get("q"), filterType, limit, offset)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, response)
}

func (s *HTTPServer) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	unreadOnly, _ := strconv.ParseBool(r.URL.Query().Get("unread"))
	list, err := s.service.ListNotifications(r.Context(), sessionFrom(r), unreadOnly, pageFrom(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *HTTPServer) handleMarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	if err := s.service.MarkNotificationRead(r.Context(), sessionFrom(r), chi.URLParam(r, "notificationID")); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleDeleteNotification(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteNotification(r.Context(), sessionFrom(r), chi.URLParam(r, "notificationID")); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
}

func (s *HTTPServer) handleDeleteAllNotifications(w http.ResponseWriter, r *http.Request) {
	deleted, err := s.service.DeleteAllNotifications(r.Context(), sessionFrom(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": deleted})
}

func (s *HTTPServer) handleActiveWorkflow(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.ActiveWorkflow(r.Context(), sessionFrom(r)))
}

func writeFile(w http.ResponseWriter, result *export.Result) {
	w.Header().Set("Content-Type", result.MimeType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": result.Filename}))
	w.Header().Set("Content-Length", fmt.Sprint(len(result.Data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}
