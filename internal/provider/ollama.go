package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/haasonsaas/relay/pkg/models"
)

// Ollama adapts a local Ollama server. Ollama has no official Go client;
// the NDJSON chat stream is consumed directly.
type Ollama struct {
	name    string
	client  *http.Client
	baseURL string
	models  []string
}

// OllamaConfig configures the Ollama adapter.
type OllamaConfig struct {
	BaseURL string
	Models  []string
	Timeout time.Duration
}

func NewOllama(name string, cfg OllamaConfig) (*Ollama, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Ollama{
		name:    name,
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
		models:  cfg.Models,
	}, nil
}

func (p *Ollama) Name() string { return p.name }

func (p *Ollama) Models() []string { return p.models }

func (p *Ollama) Complete(ctx context.Context, req *ChatRequest) (<-chan Chunk, error) {
	payload := ollamaChatRequest{
		Model:    req.Model,
		Stream:   true,
		Messages: buildOllamaMessages(req),
	}
	if len(req.Tools) > 0 {
		payload.Tools = convertOllamaTools(req.Tools)
	}

	options := map[string]any{}
	if req.MaxTokens > 0 {
		options["num_predict"] = req.MaxTokens
	}
	if req.Temperature != nil {
		options["temperature"] = *req.Temperature
	}
	if req.TopP != nil {
		options["top_p"] = *req.TopP
	}
	if len(options) > 0 {
		payload.Options = options
	}

	if rf := req.ResponseFormat; rf != nil {
		switch rf.Type {
		case "json_object":
			payload.Format = json.RawMessage(`"json"`)
		case "json_schema":
			if rf.JSONSchema != nil && len(rf.JSONSchema.Schema) > 0 {
				payload.Format = rf.JSONSchema.Schema
			} else {
				payload.Format = json.RawMessage(`"json"`)
			}
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, NewError(p.name, req.Model, fmt.Errorf("marshal request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, NewError(p.name, req.Model, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, NewError(p.name, req.Model, err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		defer resp.Body.Close()
		errBody, readErr := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		if readErr != nil {
			return nil, NewError(p.name, req.Model,
				fmt.Errorf("ollama status %d (read body failed: %w)", resp.StatusCode, readErr)).WithStatus(resp.StatusCode)
		}
		return nil, NewError(p.name, req.Model,
			fmt.Errorf("ollama status %d: %s", resp.StatusCode, strings.TrimSpace(string(errBody)))).WithStatus(resp.StatusCode)
	}

	chunks := make(chan Chunk)
	go p.streamResponse(ctx, resp.Body, chunks, req.Model)
	return chunks, nil
}

func (p *Ollama) streamResponse(ctx context.Context, body io.ReadCloser, out chan<- Chunk, model string) {
	defer close(out)
	defer body.Close()

	scanner := bufio.NewScanner(body)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	// Ollama repeats tool calls across lines on some models; emit each once.
	emitted := map[string]struct{}{}
	sawToolCall := false

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			out <- Chunk{Err: ctx.Err(), Done: true}
			return
		default:
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var resp ollamaChatResponse
		if err := json.Unmarshal([]byte(line), &resp); err != nil {
			out <- Chunk{Err: NewError(p.name, model, fmt.Errorf("decode response: %w", err)), Done: true}
			return
		}
		if resp.Error != "" {
			out <- Chunk{Err: NewError(p.name, model, errors.New(resp.Error)), Done: true}
			return
		}

		if resp.Message != nil {
			if resp.Message.Content != "" {
				out <- Chunk{Text: resp.Message.Content}
			}
			for _, tc := range resp.Message.ToolCalls {
				key := ollamaToolCallKey(tc)
				if _, ok := emitted[key]; ok {
					continue
				}
				emitted[key] = struct{}{}
				sawToolCall = true

				callID := strings.TrimSpace(tc.ID)
				if callID == "" {
					callID = NewCallID()
				}
				args := strings.TrimSpace(string(tc.Function.Arguments))
				if args == "" {
					args = "{}"
				}
				out <- Chunk{ToolCall: &models.ToolCall{
					ID:   callID,
					Type: "function",
					Function: models.ToolCallFunction{
						Name:      strings.TrimSpace(tc.Function.Name),
						Arguments: args,
					},
				}}
			}
		}

		if resp.Done {
			finish := FinishStop
			switch {
			case sawToolCall:
				finish = FinishToolCalls
			case resp.DoneReason == "length":
				finish = FinishLength
			}
			out <- Chunk{
				Done:         true,
				FinishReason: finish,
				Usage: &Usage{
					PromptTokens:     resp.PromptEvalCount,
					CompletionTokens: resp.EvalCount,
				},
			}
			return
		}
	}

	if err := scanner.Err(); err != nil {
		out <- Chunk{Err: NewError(p.name, model, err), Done: true}
		return
	}
	out <- Chunk{Err: NewError(p.name, model, errors.New("stream ended without done marker")), Done: true}
}

type ollamaChatRequest struct {
	Model    string              `json:"model"`
	Messages []ollamaChatMessage `json:"messages"`
	Tools    []ollamaTool        `json:"tools,omitempty"`
	Stream   bool                `json:"stream"`
	Format   json.RawMessage     `json:"format,omitempty"`
	Options  map[string]any      `json:"options,omitempty"`
}

type ollamaChatMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content,omitempty"`
	ToolCalls []ollamaToolCall `json:"tool_calls,omitempty"`
	ToolName  string           `json:"tool_name,omitempty"`
}

type ollamaChatResponse struct {
	Message         *ollamaChatMessage `json:"message"`
	Done            bool               `json:"done"`
	DoneReason      string             `json:"done_reason"`
	Error           string             `json:"error"`
	EvalCount       int                `json:"eval_count"`
	PromptEvalCount int                `json:"prompt_eval_count"`
}

type ollamaTool struct {
	Type     string         `json:"type"`
	Function ollamaToolSpec `json:"function"`
}

type ollamaToolSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters"`
}

type ollamaToolCall struct {
	ID       string             `json:"id,omitempty"`
	Type     string             `json:"type,omitempty"`
	Function ollamaToolFunction `json:"function"`
}

type ollamaToolFunction struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

func convertOllamaTools(tools []ToolDef) []ollamaTool {
	result := make([]ollamaTool, 0, len(tools))
	for _, tool := range tools {
		params := tool.Parameters
		if len(params) == 0 {
			params = []byte(`{"type":"object","properties":{}}`)
		}
		result = append(result, ollamaTool{
			Type: "function",
			Function: ollamaToolSpec{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  params,
			},
		})
	}
	return result
}

func buildOllamaMessages(req *ChatRequest) []ollamaChatMessage {
	messages := make([]ollamaChatMessage, 0, len(req.Messages)+1)
	if system := strings.TrimSpace(req.System); system != "" {
		messages = append(messages, ollamaChatMessage{Role: "system", Content: system})
	}
	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleAssistant:
			out := ollamaChatMessage{Role: "assistant", Content: msg.Content}
			for _, tc := range msg.ToolCalls {
				args := json.RawMessage(tc.Function.Arguments)
				if len(args) == 0 {
					args = json.RawMessage(`{}`)
				}
				out.ToolCalls = append(out.ToolCalls, ollamaToolCall{
					ID:   tc.ID,
					Type: "function",
					Function: ollamaToolFunction{
						Name:      tc.Function.Name,
						Arguments: args,
					},
				})
			}
			messages = append(messages, out)
		case RoleTool:
			messages = append(messages, ollamaChatMessage{
				Role:     "tool",
				Content:  msg.Content,
				ToolName: msg.Name,
			})
		default:
			messages = append(messages, ollamaChatMessage{Role: msg.Role, Content: msg.Content})
		}
	}
	return messages
}

func ollamaToolCallKey(tc ollamaToolCall) string {
	if id := strings.TrimSpace(tc.ID); id != "" {
		return id
	}
	return strings.TrimSpace(tc.Function.Name) + ":" + strings.TrimSpace(string(tc.Function.Arguments))
}
