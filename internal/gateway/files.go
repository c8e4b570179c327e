package gateway

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/haasonsaas/relay/pkg/models"
)

func validPurpose(p string) bool {
	switch p {
	case models.FilePurposeAssistants, models.FilePurposeVision, models.FilePurposeUserData:
		return true
	}
	return false
}

// handleUploadFile accepts a multipart form with one file part and a
// purpose field. Bytes are persisted verbatim.
func (s *Server) handleUploadFile(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeInvalidRequest(w, "Could not parse multipart form: %v", err)
		return
	}

	purpose := r.FormValue("purpose")
	if !validPurpose(purpose) {
		writeInvalidParam(w, "purpose", fmt.Sprintf("purpose must be one of %q, %q, %q",
			models.FilePurposeAssistants, models.FilePurposeVision, models.FilePurposeUserData))
		return
	}

	part, header, err := r.FormFile("file")
	if err != nil {
		writeInvalidParam(w, "file", "a file part is required")
		return
	}
	defer part.Close()

	content, err := io.ReadAll(part)
	if err != nil {
		writeServerError(w, err)
		return
	}

	file := &models.File{
		ID:        models.NewID(models.PrefixFile),
		Object:    models.ObjectFile,
		Bytes:     int64(len(content)),
		CreatedAt: time.Now().Unix(),
		Filename:  header.Filename,
		Purpose:   purpose,
	}
	if err := s.store.CreateFile(r.Context(), file, content); err != nil {
		writeServerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, file)
}

func (s *Server) handleGetFile(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	file, err := s.store.GetFile(r.Context(), id)
	if err != nil {
		writeStoreError(w, err, "file", id)
		return
	}
	writeJSON(w, http.StatusOK, file)
}

func (s *Server) handleFileContent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	file, err := s.store.GetFile(r.Context(), id)
	if err != nil {
		writeStoreError(w, err, "file", id)
		return
	}
	content, err := s.store.GetFileContent(r.Context(), id)
	if err != nil {
		writeStoreError(w, err, "file", id)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", file.Filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(content)
}

func (s *Server) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.store.DeleteFile(r.Context(), id); err != nil {
		writeStoreError(w, err, "file", id)
		return
	}
	writeJSON(w, http.StatusOK, models.Deleted{
		ID:      id,
		Object:  models.ObjectFileDeleted,
		Deleted: true,
	})
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	page, zeroLimit, err := parsePage(r)
	if err != nil {
		writeInvalidParam(w, "limit", err.Error())
		return
	}
	if zeroLimit {
		page.Limit = 1
	}
	purpose := r.URL.Query().Get("purpose")
	items, hasMore, err := s.store.ListFiles(r.Context(), purpose, page)
	if err != nil {
		writeServerError(w, err)
		return
	}
	if zeroLimit {
		writeJSON(w, http.StatusOK, models.NewList([]*models.File{}, len(items) > 0 || hasMore, fileID))
		return
	}
	writeJSON(w, http.StatusOK, models.NewList(items, hasMore, fileID))
}

func fileID(f *models.File) string { return f.ID }
