package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/relay/pkg/models"
)

// openAIPreset describes an OpenAI-compatible endpoint family: everything
// that differs between them is the base URL and the advertised catalog.
type openAIPreset struct {
	baseURL     string
	requiresURL bool
	models      []string
}

var openAIPresets = map[string]openAIPreset{
	"openai": {
		baseURL: "https://api.openai.com/v1",
		models:  []string{"gpt-4o", "gpt-4o-mini", "gpt-4.1", "gpt-4.1-mini", "o3-mini"},
	},
	"azure": {
		requiresURL: true,
		models:      []string{"gpt-4o", "gpt-4o-mini"},
	},
	"mistral": {
		baseURL: "https://api.mistral.ai/v1",
		models:  []string{"mistral-large-latest", "mistral-small-latest", "codestral-latest"},
	},
	"groq": {
		baseURL: "https://api.groq.com/openai/v1",
		models:  []string{"llama-3.3-70b-versatile", "llama-3.1-8b-instant"},
	},
	"together": {
		baseURL: "https://api.together.xyz/v1",
		models:  []string{"meta-llama/Llama-3.3-70B-Instruct-Turbo"},
	},
	"deepseek": {
		baseURL: "https://api.deepseek.com/v1",
		models:  []string{"deepseek-chat", "deepseek-reasoner"},
	},
	"vllm": {
		requiresURL: true,
	},
}

// OpenAI adapts any OpenAI-compatible chat completions endpoint.
type OpenAI struct {
	name       string
	client     *openai.Client
	models     []string
	maxRetries int
	retryDelay time.Duration
}

// OpenAIConfig configures one OpenAI-compatible adapter instance.
type OpenAIConfig struct {
	// Preset selects endpoint defaults: openai, azure, mistral, groq,
	// together, deepseek, or vllm.
	Preset     string
	APIKey     string
	BaseURL    string
	APIVersion string
	Models     []string
	MaxRetries int
	RetryDelay time.Duration
}

// NewOpenAI builds the adapter. name is the routing prefix it serves.
func NewOpenAI(name string, cfg OpenAIConfig) (*OpenAI, error) {
	preset, ok := openAIPresets[cfg.Preset]
	if !ok {
		return nil, ConfigError(name, "unknown openai-compatible preset %q", cfg.Preset)
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		if preset.requiresURL {
			return nil, ConfigError(name, "preset %q requires base_url", cfg.Preset)
		}
		baseURL = preset.baseURL
	}
	if cfg.APIKey == "" && cfg.Preset != "vllm" {
		return nil, ConfigError(name, "api key is required")
	}

	var clientCfg openai.ClientConfig
	if cfg.Preset == "azure" {
		clientCfg = openai.DefaultAzureConfig(cfg.APIKey, baseURL)
		if cfg.APIVersion != "" {
			clientCfg.APIVersion = cfg.APIVersion
		}
	} else {
		clientCfg = openai.DefaultConfig(cfg.APIKey)
		clientCfg.BaseURL = baseURL
	}

	modelList := cfg.Models
	if len(modelList) == 0 {
		modelList = preset.models
	}

	return &OpenAI{
		name:       name,
		client:     openai.NewClientWithConfig(clientCfg),
		models:     modelList,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
	}, nil
}

func (p *OpenAI) Name() string { return p.name }

func (p *OpenAI) Models() []string { return p.models }

func (p *OpenAI) Complete(ctx context.Context, req *ChatRequest) (<-chan Chunk, error) {
	chatReq := p.convertRequest(req)

	var stream *openai.ChatCompletionStream
	err := retry(ctx, p.maxRetries, p.retryDelay, func() error {
		var err error
		stream, err = p.client.CreateChatCompletionStream(ctx, chatReq)
		if err != nil {
			return p.wrapError(err, req.Model)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	chunks := make(chan Chunk)
	go p.processStream(ctx, stream, chunks, req.Model)
	return chunks, nil
}

func (p *OpenAI) processStream(ctx context.Context, stream *openai.ChatCompletionStream, chunks chan<- Chunk, model string) {
	defer close(chunks)
	defer stream.Close()

	// OpenAI streams tool calls incrementally, keyed by index; arguments
	// arrive as JSON fragments that must be concatenated.
	pending := make(map[int]*models.ToolCall)
	order := []int{}
	finish := FinishStop
	var usage *Usage

	flush := func() {
		for _, idx := range order {
			tc := pending[idx]
			if tc.ID == "" || tc.Function.Name == "" {
				continue
			}
			chunks <- Chunk{ToolCall: tc}
		}
		pending = make(map[int]*models.ToolCall)
		order = order[:0]
	}

	for {
		select {
		case <-ctx.Done():
			chunks <- Chunk{Err: ctx.Err(), Done: true}
			return
		default:
		}

		response, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				flush()
				chunks <- Chunk{Done: true, FinishReason: finish, Usage: usage}
				return
			}
			chunks <- Chunk{Err: p.wrapError(err, model), Done: true}
			return
		}

		if response.Usage != nil {
			usage = &Usage{
				PromptTokens:     response.Usage.PromptTokens,
				CompletionTokens: response.Usage.CompletionTokens,
			}
		}
		if len(response.Choices) == 0 {
			continue
		}
		choice := response.Choices[0]

		if choice.Delta.Content != "" {
			chunks <- Chunk{Text: choice.Delta.Content}
		}

		for _, tc := range choice.Delta.ToolCalls {
			index := 0
			if tc.Index != nil {
				index = *tc.Index
			}
			if pending[index] == nil {
				pending[index] = &models.ToolCall{Type: "function"}
				order = append(order, index)
			}
			cur := pending[index]
			if tc.ID != "" {
				cur.ID = tc.ID
			}
			if tc.Function.Name != "" {
				cur.Function.Name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				cur.Function.Arguments += tc.Function.Arguments
			}
		}

		switch choice.FinishReason {
		case openai.FinishReasonToolCalls:
			finish = FinishToolCalls
			flush()
		case openai.FinishReasonLength:
			finish = FinishLength
		case openai.FinishReasonStop:
			finish = FinishStop
		}
	}
}

func (p *OpenAI) convertRequest(req *ChatRequest) openai.ChatCompletionRequest {
	out := openai.ChatCompletionRequest{
		Model:         req.Model,
		Messages:      p.convertMessages(req),
		Stream:        true,
		StreamOptions: &openai.StreamOptions{IncludeUsage: true},
	}
	if req.MaxTokens > 0 {
		out.MaxTokens = req.MaxTokens
	}
	if req.Temperature != nil {
		out.Temperature = float32(*req.Temperature)
	}
	if req.TopP != nil {
		out.TopP = float32(*req.TopP)
	}
	if len(req.Tools) > 0 {
		out.Tools = convertOpenAITools(req.Tools)
		if req.ParallelToolCalls != nil {
			out.ParallelToolCalls = *req.ParallelToolCalls
		}
	}
	if req.ToolChoice != nil {
		out.ToolChoice = convertOpenAIToolChoice(req.ToolChoice)
	}
	if rf := req.ResponseFormat; rf != nil {
		switch rf.Type {
		case "json_object":
			out.ResponseFormat = &openai.ChatCompletionResponseFormat{
				Type: openai.ChatCompletionResponseFormatTypeJSONObject,
			}
		case "json_schema":
			if rf.JSONSchema != nil {
				out.ResponseFormat = &openai.ChatCompletionResponseFormat{
					Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
					JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
						Name:   rf.JSONSchema.Name,
						Schema: rf.JSONSchema.Schema,
						Strict: rf.JSONSchema.Strict,
					},
				}
			}
		}
	}
	return out
}

func (p *OpenAI) convertMessages(req *ChatRequest) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		result = append(result, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleTool:
			result = append(result, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    msg.Content,
				ToolCallID: msg.ToolCallID,
			})
		case RoleAssistant:
			out := openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: msg.Content,
			}
			for _, tc := range msg.ToolCalls {
				out.ToolCalls = append(out.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Function.Name,
						Arguments: tc.Function.Arguments,
					},
				})
			}
			result = append(result, out)
		default:
			result = append(result, openai.ChatCompletionMessage{
				Role:    msg.Role,
				Content: msg.Content,
			})
		}
	}
	return result
}

func convertOpenAITools(tools []ToolDef) []openai.Tool {
	result := make([]openai.Tool, 0, len(tools))
	for _, tool := range tools {
		params := tool.Parameters
		if len(params) == 0 {
			params = []byte(`{"type":"object","properties":{}}`)
		}
		result = append(result, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  params,
			},
		})
	}
	return result
}

func convertOpenAIToolChoice(choice *models.ToolChoice) any {
	if choice.Function != "" {
		return openai.ToolChoice{
			Type:     openai.ToolTypeFunction,
			Function: openai.ToolFunction{Name: choice.Function},
		}
	}
	return choice.Mode
}

func (p *OpenAI) wrapError(err error, model string) error {
	if err == nil {
		return nil
	}
	if _, ok := AsError(err); ok {
		return err
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		pe := NewError(p.name, model, err).WithStatus(apiErr.HTTPStatusCode).WithMessage(apiErr.Message)
		if code, ok := apiErr.Code.(string); ok {
			pe = pe.WithCode(code)
		}
		return pe
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return NewError(p.name, model, err).WithStatus(reqErr.HTTPStatusCode)
	}
	return NewError(p.name, model, fmt.Errorf("request failed: %w", err))
}
