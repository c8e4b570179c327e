package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/haasonsaas/relay/pkg/models"
)

const maxBodyBytes = 1 << 20

// decodeBody parses a JSON request body. An empty body decodes the zero
// value, matching endpoints where every field is optional.
func decodeBody(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return err
	}
	if len(body) == 0 {
		return nil
	}
	return json.Unmarshal(body, v)
}

// assistantParams is the create/modify payload. Pointer fields distinguish
// absent from explicit null on partial updates.
type assistantParams struct {
	Model          *string                `json:"model"`
	Name           *string                `json:"name"`
	Description    *string                `json:"description"`
	Instructions   *string                `json:"instructions"`
	Tools          *[]models.Tool         `json:"tools"`
	Metadata       map[string]string      `json:"metadata"`
	Temperature    *float64               `json:"temperature"`
	TopP           *float64               `json:"top_p"`
	ResponseFormat *models.ResponseFormat `json:"response_format"`
}

func validateTools(tools []models.Tool) error {
	for _, t := range tools {
		if t.Type == "" {
			return errors.New("tool type is required")
		}
		if t.Type != "function" {
			continue
		}
		if t.Function == nil || t.Function.Name == "" {
			return errors.New("function tools require a function name")
		}
		if len(t.Function.Parameters) > 0 {
			if _, err := jsonschema.CompileString(t.Function.Name+".json", string(t.Function.Parameters)); err != nil {
				return fmt.Errorf("function %q: parameters is not a valid JSON Schema: %v", t.Function.Name, err)
			}
		}
	}
	return nil
}

func (s *Server) handleCreateAssistant(w http.ResponseWriter, r *http.Request) {
	var params assistantParams
	if err := decodeBody(r, &params); err != nil {
		writeInvalidRequest(w, "Could not parse request body: %v", err)
		return
	}
	if params.Model == nil || *params.Model == "" {
		writeInvalidParam(w, "model", "model is required")
		return
	}
	if params.Tools != nil {
		if err := validateTools(*params.Tools); err != nil {
			writeInvalidParam(w, "tools", err.Error())
			return
		}
	}

	a := &models.Assistant{
		ID:             models.NewID(models.PrefixAssistant),
		Object:         models.ObjectAssistant,
		CreatedAt:      time.Now().Unix(),
		Model:          *params.Model,
		Name:           params.Name,
		Description:    params.Description,
		Instructions:   params.Instructions,
		Tools:          []models.Tool{},
		Metadata:       map[string]string{},
		Temperature:    params.Temperature,
		TopP:           params.TopP,
		ResponseFormat: params.ResponseFormat,
	}
	if params.Tools != nil {
		a.Tools = *params.Tools
	}
	if params.Metadata != nil {
		a.Metadata = params.Metadata
	}

	if err := s.store.CreateAssistant(r.Context(), a); err != nil {
		writeServerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

func (s *Server) handleGetAssistant(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	a, err := s.store.GetAssistant(r.Context(), id)
	if err != nil {
		writeStoreError(w, err, "assistant", id)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleModifyAssistant(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	a, err := s.store.GetAssistant(r.Context(), id)
	if err != nil {
		writeStoreError(w, err, "assistant", id)
		return
	}

	var params assistantParams
	if err := decodeBody(r, &params); err != nil {
		writeInvalidRequest(w, "Could not parse request body: %v", err)
		return
	}
	if params.Model != nil {
		if *params.Model == "" {
			writeInvalidParam(w, "model", "model must be non-empty")
			return
		}
		a.Model = *params.Model
	}
	if params.Name != nil {
		a.Name = params.Name
	}
	if params.Description != nil {
		a.Description = params.Description
	}
	if params.Instructions != nil {
		a.Instructions = params.Instructions
	}
	if params.Tools != nil {
		if err := validateTools(*params.Tools); err != nil {
			writeInvalidParam(w, "tools", err.Error())
			return
		}
		a.Tools = *params.Tools
	}
	if params.Metadata != nil {
		a.Metadata = params.Metadata
	}
	if params.Temperature != nil {
		a.Temperature = params.Temperature
	}
	if params.TopP != nil {
		a.TopP = params.TopP
	}
	if params.ResponseFormat != nil {
		a.ResponseFormat = params.ResponseFormat
	}

	if err := s.store.UpdateAssistant(r.Context(), a); err != nil {
		writeStoreError(w, err, "assistant", id)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleDeleteAssistant(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.store.DeleteAssistant(r.Context(), id); err != nil {
		writeStoreError(w, err, "assistant", id)
		return
	}
	writeJSON(w, http.StatusOK, models.Deleted{
		ID:      id,
		Object:  models.ObjectAssistantDeleted,
		Deleted: true,
	})
}

func (s *Server) handleListAssistants(w http.ResponseWriter, r *http.Request) {
	page, zeroLimit, err := parsePage(r)
	if err != nil {
		writeInvalidParam(w, "limit", err.Error())
		return
	}
	if zeroLimit {
		page.Limit = 1
	}
	items, hasMore, err := s.store.ListAssistants(r.Context(), page)
	if err != nil {
		writeServerError(w, err)
		return
	}
	if zeroLimit {
		writeJSON(w, http.StatusOK, models.NewList([]*models.Assistant{}, len(items) > 0 || hasMore, assistantID))
		return
	}
	writeJSON(w, http.StatusOK, models.NewList(items, hasMore, assistantID))
}

func assistantID(a *models.Assistant) string { return a.ID }
