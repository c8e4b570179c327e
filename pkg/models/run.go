package models

import "encoding/json"

// RunStatus is the lifecycle state of a run.
type RunStatus string

const (
	RunStatusQueued         RunStatus = "queued"
	RunStatusInProgress     RunStatus = "in_progress"
	RunStatusRequiresAction RunStatus = "requires_action"
	RunStatusCancelling     RunStatus = "cancelling"
	RunStatusCancelled      RunStatus = "cancelled"
	RunStatusFailed         RunStatus = "failed"
	RunStatusCompleted      RunStatus = "completed"
	RunStatusIncomplete     RunStatus = "incomplete"
	RunStatusExpired        RunStatus = "expired"
)

// Terminal reports whether the status admits no further transitions.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusFailed, RunStatusCancelled,
		RunStatusExpired, RunStatusIncomplete:
		return true
	}
	return false
}

// Run error codes surfaced in last_error.
const (
	RunErrorCodeServerError       = "server_error"
	RunErrorCodeRateLimitExceeded = "rate_limit_exceeded"
	RunErrorCodeInvalidPrompt     = "invalid_prompt"
)

// Incomplete reasons surfaced in incomplete_details.
const (
	IncompleteReasonMaxIterations       = "max_iterations"
	IncompleteReasonMaxCompletionTokens = "max_completion_tokens"
	IncompleteReasonMaxPromptTokens     = "max_prompt_tokens"
)

// Run is a single execution of an assistant against a thread.
type Run struct {
	ID                  string             `json:"id"`
	Object              string             `json:"object"`
	CreatedAt           int64              `json:"created_at"`
	ThreadID            string             `json:"thread_id"`
	AssistantID         string             `json:"assistant_id"`
	Status              RunStatus          `json:"status"`
	RequiredAction      *RequiredAction    `json:"required_action"`
	LastError           *RunError          `json:"last_error"`
	ExpiresAt           *int64             `json:"expires_at"`
	StartedAt           *int64             `json:"started_at"`
	CancelledAt         *int64             `json:"cancelled_at"`
	FailedAt            *int64             `json:"failed_at"`
	CompletedAt         *int64             `json:"completed_at"`
	IncompleteDetails   *IncompleteDetails `json:"incomplete_details"`
	Model               string             `json:"model"`
	Instructions        string             `json:"instructions"`
	Tools               []Tool             `json:"tools"`
	Metadata            map[string]string  `json:"metadata"`
	Usage               *Usage             `json:"usage"`
	Temperature         *float64           `json:"temperature,omitempty"`
	TopP                *float64           `json:"top_p,omitempty"`
	MaxPromptTokens     *int               `json:"max_prompt_tokens"`
	MaxCompletionTokens *int               `json:"max_completion_tokens"`
	ToolChoice          *ToolChoice        `json:"tool_choice,omitempty"`
	ParallelToolCalls   bool               `json:"parallel_tool_calls"`
	ResponseFormat      *ResponseFormat    `json:"response_format,omitempty"`
}

// RunError is the structured failure recorded on a failed run.
type RunError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Usage is the token accounting for a run.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// RequiredAction describes what the caller must do to resume a suspended run.
type RequiredAction struct {
	Type              string             `json:"type"`
	SubmitToolOutputs *SubmitToolOutputs `json:"submit_tool_outputs,omitempty"`
}

// SubmitToolOutputs lists the tool calls awaiting client-side execution.
type SubmitToolOutputs struct {
	ToolCalls []ToolCall `json:"tool_calls"`
}

// ToolCall is a model-issued request to invoke a function tool.
type ToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function ToolCallFunction `json:"function"`
}

// ToolCallFunction carries the function name and its raw JSON arguments.
type ToolCallFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolOutput is the client-supplied result for one outstanding tool call.
type ToolOutput struct {
	ToolCallID string `json:"tool_call_id"`
	Output     string `json:"output"`
}

// ToolChoice steers tool selection: "none", "auto", "required", or a
// specific function by name.
type ToolChoice struct {
	Mode     string `json:"-"`
	Function string `json:"-"`
}

// MarshalJSON emits either the bare mode string or the function object form.
func (c ToolChoice) MarshalJSON() ([]byte, error) {
	if c.Function != "" {
		return json.Marshal(map[string]any{
			"type":     "function",
			"function": map[string]string{"name": c.Function},
		})
	}
	return json.Marshal(c.Mode)
}

// UnmarshalJSON accepts both the string and the object form.
func (c *ToolChoice) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &c.Mode)
	}
	var obj struct {
		Type     string `json:"type"`
		Function struct {
			Name string `json:"name"`
		} `json:"function"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	c.Mode = obj.Type
	c.Function = obj.Function.Name
	return nil
}
