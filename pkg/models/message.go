package models

import "encoding/json"

// Message roles. Only user and assistant are accepted on the wire; tool
// messages are written by the run engine.
const (
	MessageRoleUser      = "user"
	MessageRoleAssistant = "assistant"
	MessageRoleTool      = "tool"
)

// Message statuses.
const (
	MessageStatusInProgress = "in_progress"
	MessageStatusIncomplete = "incomplete"
	MessageStatusCompleted  = "completed"
)

// Message is one turn in a thread. Content is an array of typed parts.
type Message struct {
	ID                string             `json:"id"`
	Object            string             `json:"object"`
	CreatedAt         int64              `json:"created_at"`
	ThreadID          string             `json:"thread_id"`
	Status            string             `json:"status,omitempty"`
	IncompleteDetails *IncompleteDetails `json:"incomplete_details,omitempty"`
	CompletedAt       *int64             `json:"completed_at,omitempty"`
	IncompleteAt      *int64             `json:"incomplete_at,omitempty"`
	Role              string             `json:"role"`
	Content           []MessageContent   `json:"content"`
	AssistantID       *string            `json:"assistant_id"`
	RunID             *string            `json:"run_id"`
	Attachments       []Attachment       `json:"attachments"`
	Metadata          map[string]string  `json:"metadata"`

	// Tool plumbing persisted so a run can be rebuilt across suspensions.
	// ToolCalls rides on assistant turns, ToolCallID and ToolName on tool
	// result turns.
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolName   string     `json:"tool_name,omitempty"`
}

// MessageContent is one typed content part of a message.
type MessageContent struct {
	Type      string       `json:"type"`
	Text      *MessageText `json:"text,omitempty"`
	ImageFile *ImageFile   `json:"image_file,omitempty"`
	ImageURL  *ImageURL    `json:"image_url,omitempty"`
}

// MessageText carries a text part. Annotations is always present on the
// wire, empty when there are none.
type MessageText struct {
	Value       string            `json:"value"`
	Annotations []json.RawMessage `json:"annotations"`
}

// ImageFile references an uploaded file by ID.
type ImageFile struct {
	FileID string `json:"file_id"`
	Detail string `json:"detail,omitempty"`
}

// ImageURL references an external image.
type ImageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

// Attachment associates an uploaded file with a message.
type Attachment struct {
	FileID string `json:"file_id"`
	Tools  []Tool `json:"tools,omitempty"`
}

// IncompleteDetails names why a message or run stopped short.
type IncompleteDetails struct {
	Reason string `json:"reason"`
}

// TextValue returns the concatenated text parts of the message.
func (m *Message) TextValue() string {
	var out string
	for _, c := range m.Content {
		if c.Type == "text" && c.Text != nil {
			out += c.Text.Value
		}
	}
	return out
}

// NewTextContent wraps a string as a single text content part.
func NewTextContent(value string) []MessageContent {
	return []MessageContent{{
		Type: "text",
		Text: &MessageText{Value: value, Annotations: []json.RawMessage{}},
	}}
}

// MessageDelta is the streaming delta frame for thread.message.delta events.
type MessageDelta struct {
	ID     string           `json:"id"`
	Object string           `json:"object"`
	Delta  MessageDeltaBody `json:"delta"`
}

// MessageDeltaBody carries the incremental content parts.
type MessageDeltaBody struct {
	Content []MessageDeltaContent `json:"content"`
}

// MessageDeltaContent is one incremental content part, indexed by position.
type MessageDeltaContent struct {
	Index int        `json:"index"`
	Type  string     `json:"type"`
	Text  *TextDelta `json:"text,omitempty"`
}

// TextDelta is the value fragment inside a delta content part.
type TextDelta struct {
	Value string `json:"value"`
}
