package gateway

import (
	"errors"
	"net/http"
	"time"

	"github.com/haasonsaas/relay/internal/engine"
	"github.com/haasonsaas/relay/internal/store"
	"github.com/haasonsaas/relay/pkg/models"
)

// runParams is the run creation payload. Every field except assistant_id
// overrides the assistant's stored configuration.
type runParams struct {
	AssistantID            string                 `json:"assistant_id"`
	Model                  *string                `json:"model"`
	Instructions           *string                `json:"instructions"`
	AdditionalInstructions *string                `json:"additional_instructions"`
	AdditionalMessages     []messageParams        `json:"additional_messages"`
	Tools                  *[]models.Tool         `json:"tools"`
	Metadata               map[string]string      `json:"metadata"`
	Temperature            *float64               `json:"temperature"`
	TopP                   *float64               `json:"top_p"`
	Stream                 bool                   `json:"stream"`
	MaxPromptTokens        *int                   `json:"max_prompt_tokens"`
	MaxCompletionTokens    *int                   `json:"max_completion_tokens"`
	ToolChoice             *models.ToolChoice     `json:"tool_choice"`
	ParallelToolCalls      *bool                  `json:"parallel_tool_calls"`
	ResponseFormat         *models.ResponseFormat `json:"response_format"`

	// Thread seeds the combined create-thread-and-run endpoint.
	Thread *threadParams `json:"thread"`
}

// buildRun composes the run snapshot from the assistant configuration and
// the request overrides, appends additional messages, and persists the run
// in status queued.
func (s *Server) buildRun(r *http.Request, threadID string, params runParams) (*models.Run, error) {
	assistant, err := s.store.GetAssistant(r.Context(), params.AssistantID)
	if err != nil {
		return nil, err
	}

	instructions := ""
	if assistant.Instructions != nil {
		instructions = *assistant.Instructions
	}
	if params.Instructions != nil {
		instructions = *params.Instructions
	}
	if params.AdditionalInstructions != nil && *params.AdditionalInstructions != "" {
		if instructions != "" {
			instructions += "\n\n"
		}
		instructions += *params.AdditionalInstructions
	}

	now := time.Now().Unix()
	expires := now + int64(s.engine.DefaultTimeout().Seconds())
	run := &models.Run{
		ID:                  models.NewID(models.PrefixRun),
		Object:              models.ObjectRun,
		CreatedAt:           now,
		ThreadID:            threadID,
		AssistantID:         assistant.ID,
		Status:              models.RunStatusQueued,
		ExpiresAt:           &expires,
		Model:               assistant.Model,
		Instructions:        instructions,
		Tools:               assistant.Tools,
		Metadata:            map[string]string{},
		Temperature:         assistant.Temperature,
		TopP:                assistant.TopP,
		MaxPromptTokens:     params.MaxPromptTokens,
		MaxCompletionTokens: params.MaxCompletionTokens,
		ToolChoice:          params.ToolChoice,
		ParallelToolCalls:   true,
		ResponseFormat:      assistant.ResponseFormat,
	}
	if run.Tools == nil {
		run.Tools = []models.Tool{}
	}
	if params.Model != nil && *params.Model != "" {
		run.Model = *params.Model
	}
	if params.Tools != nil {
		run.Tools = *params.Tools
	}
	if params.Metadata != nil {
		run.Metadata = params.Metadata
	}
	if params.Temperature != nil {
		run.Temperature = params.Temperature
	}
	if params.TopP != nil {
		run.TopP = params.TopP
	}
	if params.ParallelToolCalls != nil {
		run.ParallelToolCalls = *params.ParallelToolCalls
	}
	if params.ResponseFormat != nil {
		run.ResponseFormat = params.ResponseFormat
	}

	// Fail the request now rather than queue a run no provider can serve.
	if _, _, err := s.engine.Providers().Resolve(run.Model); err != nil {
		return nil, err
	}

	for i := range params.AdditionalMessages {
		if _, err := s.appendMessage(r, threadID, params.AdditionalMessages[i]); err != nil {
			return nil, err
		}
	}

	if err := s.store.CreateRun(r.Context(), run); err != nil {
		return nil, err
	}
	return run, nil
}

func validateRunParams(params runParams) (string, string) {
	if params.AssistantID == "" {
		return "assistant_id", "assistant_id is required"
	}
	if params.Tools != nil {
		if err := validateTools(*params.Tools); err != nil {
			return "tools", err.Error()
		}
	}
	for _, m := range params.AdditionalMessages {
		if err := validateMessageParams(m); err != nil {
			return "additional_messages", err.Error()
		}
	}
	return "", ""
}

func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	threadID := r.PathValue("tid")
	if _, err := s.store.GetThread(r.Context(), threadID); err != nil {
		writeStoreError(w, err, "thread", threadID)
		return
	}

	var params runParams
	if err := decodeBody(r, &params); err != nil {
		writeInvalidRequest(w, "Could not parse request body: %v", err)
		return
	}
	if param, msg := validateRunParams(params); param != "" {
		writeInvalidParam(w, param, msg)
		return
	}

	run, err := s.buildRun(r, threadID, params)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeNotFound(w, "assistant", params.AssistantID)
			return
		}
		writeServerError(w, err)
		return
	}
	s.startRun(w, r, run, params.Stream, nil)
}

func (s *Server) handleCreateThreadAndRun(w http.ResponseWriter, r *http.Request) {
	var params runParams
	if err := decodeBody(r, &params); err != nil {
		writeInvalidRequest(w, "Could not parse request body: %v", err)
		return
	}
	if param, msg := validateRunParams(params); param != "" {
		writeInvalidParam(w, param, msg)
		return
	}

	// Fail before creating the thread if the assistant is unknown.
	if _, err := s.store.GetAssistant(r.Context(), params.AssistantID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeNotFound(w, "assistant", params.AssistantID)
			return
		}
		writeServerError(w, err)
		return
	}

	var tp threadParams
	if params.Thread != nil {
		tp = *params.Thread
	}
	for i := range tp.Messages {
		if err := validateMessageParams(tp.Messages[i]); err != nil {
			writeInvalidParam(w, "thread.messages", err.Error())
			return
		}
	}
	thread, err := s.createThread(r, tp)
	if err != nil {
		writeServerError(w, err)
		return
	}

	run, err := s.buildRun(r, thread.ID, params)
	if err != nil {
		writeServerError(w, err)
		return
	}
	s.startRun(w, r, run, params.Stream, thread)
}

// startRun hands the persisted run to the engine. Streaming requests get
// the SSE pump; blocking requests get the queued snapshot and poll.
func (s *Server) startRun(w http.ResponseWriter, r *http.Request, run *models.Run, stream bool, thread *models.Thread) {
	if !stream {
		// The run goroutine mutates the live struct; respond from a copy
		// taken before it starts.
		snapshot := *run
		s.engine.StartRun(run, false)
		writeJSON(w, http.StatusCreated, &snapshot)
		return
	}

	events, detach := s.engine.StartRun(run, true)
	defer detach()
	var prelude []sseFrame
	if thread != nil {
		prelude = append(prelude, sseFrame{Name: models.EventThreadCreated, Data: thread})
	}
	s.pumpSSE(w, r, events, prelude)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	threadID, runID := r.PathValue("tid"), r.PathValue("rid")
	run, err := s.store.GetRun(r.Context(), threadID, runID)
	if err != nil {
		writeStoreError(w, err, "run", runID)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
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
	items, hasMore, err := s.store.ListRuns(r.Context(), threadID, page)
	if err != nil {
		writeServerError(w, err)
		return
	}
	if zeroLimit {
		writeJSON(w, http.StatusOK, models.NewList([]*models.Run{}, len(items) > 0 || hasMore, runID))
		return
	}
	writeJSON(w, http.StatusOK, models.NewList(items, hasMore, runID))
}

func runID(r *models.Run) string { return r.ID }

func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	threadID, id := r.PathValue("tid"), r.PathValue("rid")
	run, err := s.engine.Cancel(r.Context(), threadID, id)
	if err != nil {
		writeStoreError(w, err, "run", id)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleSubmitToolOutputs(w http.ResponseWriter, r *http.Request) {
	threadID, runID := r.PathValue("tid"), r.PathValue("rid")

	var params struct {
		ToolOutputs []models.ToolOutput `json:"tool_outputs"`
		Stream      bool                `json:"stream"`
	}
	if err := decodeBody(r, &params); err != nil {
		writeInvalidRequest(w, "Could not parse request body: %v", err)
		return
	}

	// Attach before submitting so a streaming caller observes the
	// in_progress transition that submission triggers.
	var events <-chan engine.Event
	var detach func()
	if params.Stream {
		var ok bool
		events, detach, ok = s.engine.Subscribe(runID)
		if !ok {
			writeInvalidRequest(w, "Run is no longer active.")
			return
		}
		defer detach()
	}

	run, err := s.engine.SubmitToolOutputs(r.Context(), threadID, runID, params.ToolOutputs)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeNotFound(w, "run", runID)
			return
		}
		writeEngineError(w, err)
		return
	}

	if params.Stream {
		s.pumpSSE(w, r, events, nil)
		return
	}
	writeJSON(w, http.StatusOK, run)
}
