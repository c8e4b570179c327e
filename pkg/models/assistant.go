package models

import "encoding/json"

// Object type discriminators used in the wire format.
const (
	ObjectAssistant        = "assistant"
	ObjectAssistantDeleted = "assistant.deleted"
	ObjectThread           = "thread"
	ObjectThreadDeleted    = "thread.deleted"
	ObjectMessage          = "thread.message"
	ObjectMessageDeleted   = "thread.message.deleted"
	ObjectMessageDelta     = "thread.message.delta"
	ObjectRun              = "thread.run"
	ObjectFile             = "file"
	ObjectFileDeleted      = "file.deleted"
	ObjectModel            = "model"
	ObjectList             = "list"
)

// Assistant is a named configuration template for runs: model, instructions,
// declared tools, and sampling defaults.
type Assistant struct {
	ID             string            `json:"id"`
	Object         string            `json:"object"`
	CreatedAt      int64             `json:"created_at"`
	Name           *string           `json:"name"`
	Description    *string           `json:"description"`
	Model          string            `json:"model"`
	Instructions   *string           `json:"instructions"`
	Tools          []Tool            `json:"tools"`
	Metadata       map[string]string `json:"metadata"`
	Temperature    *float64          `json:"temperature,omitempty"`
	TopP           *float64          `json:"top_p,omitempty"`
	ResponseFormat *ResponseFormat   `json:"response_format,omitempty"`
}

// Tool declares a capability the model may invoke during a run.
type Tool struct {
	Type     string              `json:"type"`
	Function *FunctionDefinition `json:"function,omitempty"`
}

// FunctionDefinition describes a function tool. Parameters is a JSON Schema
// document passed through verbatim to providers.
type FunctionDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// ResponseFormat constrains the shape of the assistant's output.
// Type is one of "auto", "text", "json_object", or "json_schema".
type ResponseFormat struct {
	Type       string      `json:"type"`
	JSONSchema *JSONSchema `json:"json_schema,omitempty"`
}

// JSONSchema names and carries the schema for json_schema response formats.
type JSONSchema struct {
	Name   string          `json:"name"`
	Schema json.RawMessage `json:"schema,omitempty"`
	Strict bool            `json:"strict,omitempty"`
}

// UnmarshalJSON accepts both the object form and the bare string shorthand
// ("auto") that clients send for response_format.
func (f *ResponseFormat) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		f.Type = s
		f.JSONSchema = nil
		return nil
	}
	type plain ResponseFormat
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*f = ResponseFormat(p)
	return nil
}
