package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/haasonsaas/relay/pkg/models"
)

func TestBuildOllamaMessages(t *testing.T) {
	req := &ChatRequest{
		System: "sys",
		Messages: []Message{
			{Role: RoleUser, Content: "hi"},
			{
				Role: RoleAssistant,
				ToolCalls: []models.ToolCall{
					{ID: "call-1", Type: "function", Function: models.ToolCallFunction{
						Name: "lookup", Arguments: `{"q":"test"}`,
					}},
				},
			},
			{Role: RoleTool, ToolCallID: "call-1", Name: "lookup", Content: "ok"},
		},
	}

	msgs := buildOllamaMessages(req)
	if len(msgs) != 4 {
		t.Fatalf("messages = %d, want 4", len(msgs))
	}
	if msgs[0].Role != "system" || msgs[0].Content != "sys" {
		t.Fatalf("system message mismatch: %+v", msgs[0])
	}
	if msgs[2].Role != "assistant" || len(msgs[2].ToolCalls) != 1 {
		t.Fatalf("assistant tool calls missing: %+v", msgs[2])
	}
	if msgs[2].ToolCalls[0].Function.Name != "lookup" {
		t.Errorf("tool name = %q, want lookup", msgs[2].ToolCalls[0].Function.Name)
	}
	if msgs[3].Role != "tool" || msgs[3].ToolName != "lookup" || msgs[3].Content != "ok" {
		t.Errorf("tool result message mismatch: %+v", msgs[3])
	}
}

func TestOllamaStreamText(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("path = %q, want /api/chat", r.URL.Path)
		}
		var req ollamaChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if !req.Stream {
			t.Error("stream flag not set")
		}
		w.Header().Set("Content-Type", "application/x-ndjson")
		lines := []string{
			`{"message":{"role":"assistant","content":"Hello"}}`,
			`{"message":{"role":"assistant","content":" world"}}`,
			`{"message":{"role":"assistant","content":""},"done":true,"done_reason":"stop","prompt_eval_count":12,"eval_count":4}`,
		}
		for _, line := range lines {
			w.Write([]byte(line + "\n"))
		}
	}))
	defer server.Close()

	p, err := NewOllama("ollama", OllamaConfig{BaseURL: server.URL, Models: []string{"llama3.3"}})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}

	chunks, err := p.Complete(context.Background(), &ChatRequest{
		Model:    "llama3.3",
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}

	resp, err := Collect(context.Background(), chunks, nil)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if resp.Content != "Hello world" {
		t.Errorf("content = %q, want %q", resp.Content, "Hello world")
	}
	if resp.FinishReason != FinishStop {
		t.Errorf("finish = %q, want stop", resp.FinishReason)
	}
	if resp.Usage.PromptTokens != 12 || resp.Usage.CompletionTokens != 4 {
		t.Errorf("usage = %+v, want 12/4", resp.Usage)
	}
}

func TestOllamaStreamToolCall(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lines := []string{
			`{"message":{"role":"assistant","tool_calls":[{"function":{"name":"get_weather","arguments":{"city":"NYC"}}}]}}`,
			`{"message":{"role":"assistant","content":""},"done":true,"done_reason":"stop"}`,
		}
		for _, line := range lines {
			w.Write([]byte(line + "\n"))
		}
	}))
	defer server.Close()

	p, err := NewOllama("ollama", OllamaConfig{BaseURL: server.URL})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}

	chunks, err := p.Complete(context.Background(), &ChatRequest{
		Model:    "llama3.3",
		Messages: []Message{{Role: RoleUser, Content: "weather?"}},
		Tools:    []ToolDef{{Name: "get_weather"}},
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}

	resp, err := Collect(context.Background(), chunks, nil)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(resp.ToolCalls) != 1 {
		t.Fatalf("tool calls = %d, want 1", len(resp.ToolCalls))
	}
	tc := resp.ToolCalls[0]
	if tc.Function.Name != "get_weather" {
		t.Errorf("name = %q, want get_weather", tc.Function.Name)
	}
	if tc.Function.Arguments != `{"city":"NYC"}` {
		t.Errorf("args = %q", tc.Function.Arguments)
	}
	if tc.ID == "" {
		t.Error("missing minted call ID")
	}
	if resp.FinishReason != FinishToolCalls {
		t.Errorf("finish = %q, want tool_calls", resp.FinishReason)
	}
}

func TestOllamaErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"model not loaded"}`, http.StatusNotFound)
	}))
	defer server.Close()

	p, err := NewOllama("ollama", OllamaConfig{BaseURL: server.URL})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}

	_, err = p.Complete(context.Background(), &ChatRequest{
		Model:    "missing",
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	})
	if err == nil {
		t.Fatal("expected error")
	}
	pe, ok := AsError(err)
	if !ok {
		t.Fatalf("error not classified: %v", err)
	}
	if pe.Kind != KindNotFound {
		t.Errorf("kind = %q, want not_found", pe.Kind)
	}
}
