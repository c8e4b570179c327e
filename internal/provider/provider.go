// Package provider adapts heterogeneous LLM backends to one normalized
// chat contract. Every adapter streams completion chunks over a channel;
// the terminal chunk carries the finish reason and token usage.
package provider

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/haasonsaas/relay/pkg/models"
)

// Message roles in the normalized request.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Normalized finish reasons.
const (
	FinishStop      = "stop"
	FinishToolCalls = "tool_calls"
	FinishLength    = "length"
	FinishError     = "error"
)

// Message is one normalized chat turn. Tool result messages carry
// ToolCallID and the originating tool Name.
type Message struct {
	Role       string
	Content    string
	ToolCalls  []models.ToolCall
	ToolCallID string
	Name       string
}

// ToolDef declares a function tool in provider-neutral form.
type ToolDef struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

// ChatRequest is the normalized completion request.
type ChatRequest struct {
	Model             string
	System            string
	Messages          []Message
	Tools             []ToolDef
	ToolChoice        *models.ToolChoice
	ParallelToolCalls *bool
	Temperature       *float64
	TopP              *float64
	MaxTokens         int
	ResponseFormat    *models.ResponseFormat
}

// Usage is the provider-reported token accounting.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// Chunk is one streamed completion fragment. The terminal chunk has Done
// set and carries FinishReason plus Usage when the upstream reported it.
// A chunk with Err set is also terminal.
type Chunk struct {
	Text         string
	ToolCall     *models.ToolCall
	Done         bool
	FinishReason string
	Usage        *Usage
	Err          error
}

// Provider is one configured upstream backend.
type Provider interface {
	// Name returns the routing prefix this adapter serves.
	Name() string
	// Models lists the adapter's advertised model IDs.
	Models() []string
	// Complete streams the completion. The returned channel is closed
	// after the terminal chunk. Errors during streaming arrive as chunks.
	Complete(ctx context.Context, req *ChatRequest) (<-chan Chunk, error)
}

// Response is a fully collected completion.
type Response struct {
	Content      string
	ToolCalls    []models.ToolCall
	FinishReason string
	Usage        Usage
}

// Collect drains a chunk channel into a Response. Deltas may still be
// observed by onDelta before aggregation; pass nil to skip.
func Collect(ctx context.Context, chunks <-chan Chunk, onDelta func(Chunk)) (*Response, error) {
	var text strings.Builder
	resp := &Response{FinishReason: FinishStop}
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case chunk, ok := <-chunks:
			if !ok {
				resp.Content = text.String()
				return resp, nil
			}
			if chunk.Err != nil {
				return nil, chunk.Err
			}
			if onDelta != nil {
				onDelta(chunk)
			}
			if chunk.Text != "" {
				text.WriteString(chunk.Text)
			}
			if chunk.ToolCall != nil {
				resp.ToolCalls = append(resp.ToolCalls, *chunk.ToolCall)
			}
			if chunk.Done {
				if chunk.FinishReason != "" {
					resp.FinishReason = chunk.FinishReason
				}
				if chunk.Usage != nil {
					resp.Usage = *chunk.Usage
				}
			}
		}
	}
}

// EstimateTokens approximates a token count from text length. Used when
// the upstream reports no usage.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + 3) / 4
}

// EstimateRequestTokens approximates the prompt size of a request.
func EstimateRequestTokens(req *ChatRequest) int {
	total := EstimateTokens(req.System)
	for _, msg := range req.Messages {
		total += EstimateTokens(msg.Content)
		total += EstimateTokens(msg.Role)
		for _, tc := range msg.ToolCalls {
			total += EstimateTokens(tc.Function.Name)
			total += EstimateTokens(tc.Function.Arguments)
		}
	}
	for _, tool := range req.Tools {
		total += EstimateTokens(tool.Name)
		total += EstimateTokens(tool.Description)
		total += EstimateTokens(string(tool.Parameters))
	}
	return total
}

// NewCallID mints a tool call ID for upstreams that do not supply one.
func NewCallID() string {
	return models.NewID(models.PrefixToolCall)
}
