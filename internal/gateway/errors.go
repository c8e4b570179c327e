package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/haasonsaas/relay/internal/engine"
	"github.com/haasonsaas/relay/internal/store"
)

// OpenAI wire error types.
const (
	errTypeInvalidRequest = "invalid_request_error"
	errTypeAuthentication = "authentication_error"
	errTypePermission     = "permission_error"
	errTypeRateLimit      = "rate_limit_error"
	errTypeServer         = "server_error"
)

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Param   string `json:"param,omitempty"`
}

type errorEnvelope struct {
	Error apiError `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, errType, code, message string) {
	writeJSON(w, status, errorEnvelope{Error: apiError{
		Message: message,
		Type:    errType,
		Code:    code,
	}})
}

func writeInvalidRequest(w http.ResponseWriter, format string, args ...any) {
	writeError(w, http.StatusBadRequest, errTypeInvalidRequest, "", fmt.Sprintf(format, args...))
}

func writeInvalidParam(w http.ResponseWriter, param, message string) {
	writeJSON(w, http.StatusBadRequest, errorEnvelope{Error: apiError{
		Message: message,
		Type:    errTypeInvalidRequest,
		Param:   param,
	}})
}

func writeNotFound(w http.ResponseWriter, entity, id string) {
	writeError(w, http.StatusNotFound, errTypeInvalidRequest, "",
		fmt.Sprintf("No %s found with id %q.", entity, id))
}

func writeServerError(w http.ResponseWriter, err error) {
	writeError(w, http.StatusInternalServerError, errTypeServer, "server_error", err.Error())
}

// writeStoreError maps a store failure onto the wire envelope. ErrNotFound
// becomes the standard 404 message; anything else is a server error.
func writeStoreError(w http.ResponseWriter, err error, entity, id string) {
	if errors.Is(err, store.ErrNotFound) {
		writeNotFound(w, entity, id)
		return
	}
	writeServerError(w, err)
}

// writeEngineError maps run-engine sentinels onto 400s; unknown errors are
// server errors.
func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrNotSuspended):
		writeInvalidRequest(w, "Run is not in a state that accepts tool outputs.")
	case errors.Is(err, engine.ErrInvalidToolOutputs):
		writeInvalidRequest(w, "%s", err.Error())
	case errors.Is(err, engine.ErrRunNotActive):
		writeInvalidRequest(w, "Run is no longer active.")
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, errTypeInvalidRequest, "", err.Error())
	default:
		writeServerError(w, err)
	}
}
