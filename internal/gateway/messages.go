package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/haasonsaas/relay/pkg/models"
)

// messageParams is the append payload.
type messageParams struct {
	Role        string              `json:"role"`
	Content     messageContent      `json:"content"`
	Attachments []models.Attachment `json:"attachments"`
	Metadata    map[string]string   `json:"metadata"`
}

// messageContent accepts both the string shorthand and the typed parts
// array. A bare string normalizes to a single text part.
type messageContent struct {
	parts []models.MessageContent
}

func (c *messageContent) UnmarshalJSON(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		c.parts = models.NewTextContent(s)
		return nil
	}

	var raw []struct {
		Type      string            `json:"type"`
		Text      json.RawMessage   `json:"text"`
		ImageFile *models.ImageFile `json:"image_file"`
		ImageURL  *models.ImageURL  `json:"image_url"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for _, p := range raw {
		switch p.Type {
		case "text":
			// The input form carries text as a bare string; the
			// persisted form wraps it with annotations.
			var value string
			if err := json.Unmarshal(p.Text, &value); err != nil {
				var obj models.MessageText
				if err := json.Unmarshal(p.Text, &obj); err != nil {
					return fmt.Errorf("text part must be a string or text object")
				}
				value = obj.Value
			}
			c.parts = append(c.parts, models.NewTextContent(value)...)
		case "image_file":
			if p.ImageFile == nil {
				return errors.New("image_file part requires an image_file object")
			}
			c.parts = append(c.parts, models.MessageContent{Type: "image_file", ImageFile: p.ImageFile})
		case "image_url":
			if p.ImageURL == nil {
				return errors.New("image_url part requires an image_url object")
			}
			c.parts = append(c.parts, models.MessageContent{Type: "image_url", ImageURL: p.ImageURL})
		default:
			return fmt.Errorf("unknown content part type %q", p.Type)
		}
	}
	return nil
}

func validateMessageParams(p messageParams) error {
	if p.Role != models.MessageRoleUser && p.Role != models.MessageRoleAssistant {
		return fmt.Errorf("role must be 'user' or 'assistant', got %q", p.Role)
	}
	if len(p.Content.parts) == 0 {
		return errors.New("content is required")
	}
	return nil
}

// appendMessage persists one client-supplied message on the thread.
func (s *Server) appendMessage(r *http.Request, threadID string, p messageParams) (*models.Message, error) {
	msg := &models.Message{
		ID:          models.NewID(models.PrefixMessage),
		Object:      models.ObjectMessage,
		CreatedAt:   time.Now().Unix(),
		ThreadID:    threadID,
		Status:      models.MessageStatusCompleted,
		Role:        p.Role,
		Content:     p.Content.parts,
		Attachments: []models.Attachment{},
		Metadata:    map[string]string{},
	}
	if p.Attachments != nil {
		msg.Attachments = p.Attachments
	}
	if p.Metadata != nil {
		msg.Metadata = p.Metadata
	}
	return msg, s.store.CreateMessage(r.Context(), msg)
}

func (s *Server) handleCreateMessage(w http.ResponseWriter, r *http.Request) {
	threadID := r.PathValue("tid")
	if _, err := s.store.GetThread(r.Context(), threadID); err != nil {
		writeStoreError(w, err, "thread", threadID)
		return
	}

	var params messageParams
	if err := decodeBody(r, &params); err != nil {
		writeInvalidRequest(w, "Could not parse request body: %v", err)
		return
	}
	if err := validateMessageParams(params); err != nil {
		writeInvalidRequest(w, "%s", err.Error())
		return
	}

	msg, err := s.appendMessage(r, threadID, params)
	if err != nil {
		writeServerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (s *Server) handleGetMessage(w http.ResponseWriter, r *http.Request) {
	threadID, id := r.PathValue("tid"), r.PathValue("mid")
	msg, err := s.store.GetMessage(r.Context(), threadID, id)
	if err != nil {
		writeStoreError(w, err, "message", id)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (s *Server) handleModifyMessage(w http.ResponseWriter, r *http.Request) {
	threadID, id := r.PathValue("tid"), r.PathValue("mid")
	msg, err := s.store.GetMessage(r.Context(), threadID, id)
	if err != nil {
		writeStoreError(w, err, "message", id)
		return
	}
	var params struct {
		Metadata map[string]string `json:"metadata"`
	}
	if err := decodeBody(r, &params); err != nil {
		writeInvalidRequest(w, "Could not parse request body: %v", err)
		return
	}
	if params.Metadata != nil {
		msg.Metadata = params.Metadata
	}
	if err := s.store.UpdateMessage(r.Context(), msg); err != nil {
		writeStoreError(w, err, "message", id)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	threadID := r.PathValue("tid")
	if _, err := s.store.GetThread(r.Context(), threadID); err != nil {
		writeStoreError(w, err, "thread", threadID)
		return
	}
	page, zeroLimit, err := parsePage(r)
	if err != nil {
		writeInvalidParam(w, "limit", err.Error())
		return
	}
	if zeroLimit {
		page.Limit = 1
	}
	items, hasMore, err := s.store.ListMessages(r.Context(), threadID, page)
	if err != nil {
		writeServerError(w, err)
		return
	}
	if zeroLimit {
		writeJSON(w, http.StatusOK, models.NewList([]*models.Message{}, len(items) > 0 || hasMore, messageID))
		return
	}
	writeJSON(w, http.StatusOK, models.NewList(items, hasMore, messageID))
}

func messageID(m *models.Message) string { return m.ID }
