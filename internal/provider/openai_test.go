package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/haasonsaas/relay/pkg/models"
)

func TestConvertOpenAIMessages(t *testing.T) {
	p := &OpenAI{name: "openai"}
	req := &ChatRequest{
		System: "You are helpful",
		Messages: []Message{
			{Role: RoleUser, Content: "What's the weather?"},
			{
				Role: RoleAssistant,
				ToolCalls: []models.ToolCall{
					{ID: "call_123", Type: "function", Function: models.ToolCallFunction{
						Name: "get_weather", Arguments: `{"location":"NYC"}`,
					}},
				},
			},
			{Role: RoleTool, ToolCallID: "call_123", Content: "Sunny, 72F"},
		},
	}

	got := p.convertMessages(req)
	if len(got) != 4 {
		t.Fatalf("messages = %d, want 4", len(got))
	}
	if got[0].Role != "system" || got[0].Content != "You are helpful" {
		t.Errorf("system message mismatch: %+v", got[0])
	}
	if len(got[2].ToolCalls) != 1 || got[2].ToolCalls[0].Function.Name != "get_weather" {
		t.Errorf("assistant tool call mismatch: %+v", got[2])
	}
	if got[3].Role != "tool" || got[3].ToolCallID != "call_123" {
		t.Errorf("tool message mismatch: %+v", got[3])
	}
}

func TestConvertOpenAIToolChoice(t *testing.T) {
	if got := convertOpenAIToolChoice(&models.ToolChoice{Mode: "auto"}); got != "auto" {
		t.Errorf("auto choice = %v", got)
	}
	got := convertOpenAIToolChoice(&models.ToolChoice{Function: "get_weather"})
	if fmt.Sprintf("%v", got) == "get_weather" {
		t.Errorf("named choice should be structured, got %v", got)
	}
}

func TestNewOpenAIPresets(t *testing.T) {
	if _, err := NewOpenAI("x", OpenAIConfig{Preset: "nope", APIKey: "k"}); err == nil {
		t.Error("unknown preset should fail")
	}
	if _, err := NewOpenAI("x", OpenAIConfig{Preset: "openai"}); err == nil {
		t.Error("missing api key should fail")
	}
	if _, err := NewOpenAI("x", OpenAIConfig{Preset: "vllm"}); err == nil {
		t.Error("vllm without base_url should fail")
	}
	p, err := NewOpenAI("local", OpenAIConfig{Preset: "vllm", BaseURL: "http://localhost:8000/v1"})
	if err != nil {
		t.Fatalf("vllm with base_url: %v", err)
	}
	if p.Name() != "local" {
		t.Errorf("name = %q, want local", p.Name())
	}
	mistral, err := NewOpenAI("mistral", OpenAIConfig{Preset: "mistral", APIKey: "k"})
	if err != nil {
		t.Fatalf("mistral: %v", err)
	}
	if len(mistral.Models()) == 0 {
		t.Error("preset catalog missing")
	}
}

func openAIStreamServer(t *testing.T, events []string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, ev := range events {
			fmt.Fprintf(w, "data: %s\n\n", ev)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
}

func TestOpenAIStreamText(t *testing.T) {
	server := openAIStreamServer(t, []string{
		`{"id":"1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"content":"Hel"}}]}`,
		`{"id":"1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"content":"lo"}}]}`,
		`{"id":"1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`,
		`{"id":"1","object":"chat.completion.chunk","choices":[],"usage":{"prompt_tokens":9,"completion_tokens":2,"total_tokens":11}}`,
	})
	defer server.Close()

	p, err := NewOpenAI("openai", OpenAIConfig{Preset: "openai", APIKey: "test", BaseURL: server.URL})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}

	chunks, err := p.Complete(context.Background(), &ChatRequest{
		Model:    "gpt-4o",
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}

	var deltas []string
	resp, err := Collect(context.Background(), chunks, func(c Chunk) {
		if c.Text != "" {
			deltas = append(deltas, c.Text)
		}
	})
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if resp.Content != "Hello" {
		t.Errorf("content = %q, want Hello", resp.Content)
	}
	if len(deltas) != 2 {
		t.Errorf("deltas = %d, want 2", len(deltas))
	}
	if resp.Usage.PromptTokens != 9 {
		t.Errorf("usage = %+v", resp.Usage)
	}
}

func TestOpenAIStreamToolCallAccumulation(t *testing.T) {
	server := openAIStreamServer(t, []string{
		`{"id":"1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_abc","type":"function","function":{"name":"get_weather","arguments":""}}]}}]}`,
		`{"id":"1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"city\":"}}]}}]}`,
		`{"id":"1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"NYC\"}"}}]}}]}`,
		`{"id":"1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}]}`,
	})
	defer server.Close()

	p, err := NewOpenAI("openai", OpenAIConfig{Preset: "openai", APIKey: "test", BaseURL: server.URL})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}

	chunks, err := p.Complete(context.Background(), &ChatRequest{
		Model:    "gpt-4o",
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
	if tc.ID != "call_abc" || tc.Function.Name != "get_weather" {
		t.Errorf("tool call = %+v", tc)
	}
	if tc.Function.Arguments != `{"city":"NYC"}` {
		t.Errorf("args = %q, fragments not concatenated", tc.Function.Arguments)
	}
	if resp.FinishReason != FinishToolCalls {
		t.Errorf("finish = %q, want tool_calls", resp.FinishReason)
	}
}
