package gateway

import (
	"net/http"
	"time"

	"github.com/haasonsaas/relay/pkg/models"
)

// threadParams is the create/modify payload. Messages seeds the thread on
// creation only.
type threadParams struct {
	Messages []messageParams   `json:"messages"`
	Metadata map[string]string `json:"metadata"`
}

func (s *Server) createThread(r *http.Request, params threadParams) (*models.Thread, error) {
	thread := &models.Thread{
		ID:        models.NewID(models.PrefixThread),
		Object:    models.ObjectThread,
		CreatedAt: time.Now().Unix(),
		Metadata:  map[string]string{},
	}
	if params.Metadata != nil {
		thread.Metadata = params.Metadata
	}
	if err := s.store.CreateThread(r.Context(), thread); err != nil {
		return nil, err
	}
	for i := range params.Messages {
		if _, err := s.appendMessage(r, thread.ID, params.Messages[i]); err != nil {
			return nil, err
		}
	}
	return thread, nil
}

func (s *Server) handleCreateThread(w http.ResponseWriter, r *http.Request) {
	var params threadParams
	if err := decodeBody(r, &params); err != nil {
		writeInvalidRequest(w, "Could not parse request body: %v", err)
		return
	}
	for i := range params.Messages {
		if err := validateMessageParams(params.Messages[i]); err != nil {
			writeInvalidParam(w, "messages", err.Error())
			return
		}
	}
	thread, err := s.createThread(r, params)
	if err != nil {
		writeServerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, thread)
}

func (s *Server) handleGetThread(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	thread, err := s.store.GetThread(r.Context(), id)
	if err != nil {
		writeStoreError(w, err, "thread", id)
		return
	}
	writeJSON(w, http.StatusOK, thread)
}

func (s *Server) handleModifyThread(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	thread, err := s.store.GetThread(r.Context(), id)
	if err != nil {
		writeStoreError(w, err, "thread", id)
		return
	}
	var params threadParams
	if err := decodeBody(r, &params); err != nil {
		writeInvalidRequest(w, "Could not parse request body: %v", err)
		return
	}
	if params.Metadata != nil {
		thread.Metadata = params.Metadata
	}
	if err := s.store.UpdateThread(r.Context(), thread); err != nil {
		writeStoreError(w, err, "thread", id)
		return
	}
	writeJSON(w, http.StatusOK, thread)
}

func (s *Server) handleDeleteThread(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.store.DeleteThread(r.Context(), id); err != nil {
		writeStoreError(w, err, "thread", id)
		return
	}
	writeJSON(w, http.StatusOK, models.Deleted{
		ID:      id,
		Object:  models.ObjectThreadDeleted,
		Deleted: true,
	})
}
