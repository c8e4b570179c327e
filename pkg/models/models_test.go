package models

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestNewID_Format(t *testing.T) {
	id := NewID(PrefixRun)
	if !strings.HasPrefix(id, "run_") {
		t.Fatalf("NewID() = %q, want run_ prefix", id)
	}
	if len(id) != len("run_")+24 {
		t.Fatalf("NewID() length = %d, want %d", len(id), len("run_")+24)
	}
	if id == NewID(PrefixRun) {
		t.Fatal("NewID() returned duplicate IDs")
	}
}

func TestRunStatus_Terminal(t *testing.T) {
	tests := []struct {
		status   RunStatus
		terminal bool
	}{
		{RunStatusQueued, false},
		{RunStatusInProgress, false},
		{RunStatusRequiresAction, false},
		{RunStatusCancelling, false},
		{RunStatusCompleted, true},
		{RunStatusFailed, true},
		{RunStatusCancelled, true},
		{RunStatusExpired, true},
		{RunStatusIncomplete, true},
	}
	for _, tt := range tests {
		if got := tt.status.Terminal(); got != tt.terminal {
			t.Errorf("Terminal(%s) = %v, want %v", tt.status, got, tt.terminal)
		}
	}
}

func TestResponseFormat_UnmarshalString(t *testing.T) {
	var f ResponseFormat
	if err := json.Unmarshal([]byte(`"auto"`), &f); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}
	if f.Type != "auto" {
		t.Fatalf("Type = %q, want auto", f.Type)
	}
}

func TestResponseFormat_UnmarshalObject(t *testing.T) {
	var f ResponseFormat
	raw := `{"type":"json_schema","json_schema":{"name":"answer","schema":{"type":"object"},"strict":true}}`
	if err := json.Unmarshal([]byte(raw), &f); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}
	if f.Type != "json_schema" {
		t.Fatalf("Type = %q, want json_schema", f.Type)
	}
	if f.JSONSchema == nil || f.JSONSchema.Name != "answer" || !f.JSONSchema.Strict {
		t.Fatalf("JSONSchema = %+v", f.JSONSchema)
	}
}

func TestToolChoice_RoundTrip(t *testing.T) {
	var c ToolChoice
	if err := json.Unmarshal([]byte(`"required"`), &c); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}
	if c.Mode != "required" {
		t.Fatalf("Mode = %q, want required", c.Mode)
	}

	if err := json.Unmarshal([]byte(`{"type":"function","function":{"name":"lookup"}}`), &c); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}
	if c.Mode != "function" || c.Function != "lookup" {
		t.Fatalf("ToolChoice = %+v", c)
	}

	out, err := json.Marshal(c)
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}
	if !strings.Contains(string(out), `"name":"lookup"`) {
		t.Fatalf("Marshal = %s", out)
	}
}

func TestMessage_TextValue(t *testing.T) {
	msg := Message{Content: NewTextContent("hello")}
	msg.Content = append(msg.Content, MessageContent{
		Type: "text",
		Text: &MessageText{Value: " world", Annotations: []json.RawMessage{}},
	})
	if got := msg.TextValue(); got != "hello world" {
		t.Fatalf("TextValue() = %q", got)
	}
}

func TestNewList_Envelope(t *testing.T) {
	msgs := []*Message{{ID: "msg_a"}, {ID: "msg_b"}}
	l := NewList(msgs, true, func(m *Message) string { return m.ID })
	if l.Object != ObjectList {
		t.Errorf("Object = %q", l.Object)
	}
	if l.FirstID != "msg_a" || l.LastID != "msg_b" {
		t.Errorf("FirstID/LastID = %q/%q", l.FirstID, l.LastID)
	}
	if !l.HasMore {
		t.Error("HasMore = false, want true")
	}

	empty := NewList(nil, false, func(m *Message) string { return m.ID })
	if empty.Data == nil {
		t.Error("Data should marshal as [], not null")
	}
	if empty.FirstID != "" || empty.LastID != "" {
		t.Error("empty list should have no first/last IDs")
	}
}

func TestRunEventForStatus(t *testing.T) {
	if got := RunEventForStatus(RunStatusRequiresAction); got != EventRunRequiresAction {
		t.Fatalf("RunEventForStatus = %q", got)
	}
	if got := RunEventForStatus(RunStatus("bogus")); got != "" {
		t.Fatalf("RunEventForStatus(bogus) = %q", got)
	}
}
