package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/haasonsaas/relay/pkg/models"
)

// jsonResponseTool is the synthetic tool used to force structured output
// from models that have no native JSON response mode. The model is steered
// into "calling" it; its input becomes the response body.
const jsonResponseTool = "__json_response"

const anthropicDefaultMaxTokens = 4096

// maxEmptyStreamEvents guards against streams that flood empty events.
const maxEmptyStreamEvents = 300

// Anthropic adapts the Anthropic Messages API.
type Anthropic struct {
	name       string
	client     anthropic.Client
	models     []string
	maxRetries int
	retryDelay time.Duration
}

// AnthropicConfig configures the Anthropic adapter.
type AnthropicConfig struct {
	APIKey     string
	BaseURL    string
	Models     []string
	MaxRetries int
	RetryDelay time.Duration
}

// NewAnthropic validates the config and builds the SDK client.
func NewAnthropic(name string, cfg AnthropicConfig) (*Anthropic, error) {
	if cfg.APIKey == "" {
		return nil, ConfigError(name, "api key is required")
	}
	options := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		options = append(options, option.WithBaseURL(cfg.BaseURL))
	}
	modelList := cfg.Models
	if len(modelList) == 0 {
		modelList = []string{
			"claude-sonnet-4-5",
			"claude-opus-4-5",
			"claude-haiku-4-5",
			"claude-3-5-haiku-20241022",
		}
	}
	return &Anthropic{
		name:       name,
		client:     anthropic.NewClient(options...),
		models:     modelList,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
	}, nil
}

func (p *Anthropic) Name() string { return p.name }

func (p *Anthropic) Models() []string { return p.models }

func (p *Anthropic) Complete(ctx context.Context, req *ChatRequest) (<-chan Chunk, error) {
	params, forcedJSON, err := p.buildParams(req)
	if err != nil {
		return nil, err
	}

	chunks := make(chan Chunk)
	go func() {
		defer close(chunks)

		var stream *ssestream.Stream[anthropic.MessageStreamEventUnion]
		err := retry(ctx, p.maxRetries, p.retryDelay, func() error {
			stream = p.client.Messages.NewStreaming(ctx, params)
			if err := stream.Err(); err != nil {
				return p.wrapError(err, req.Model)
			}
			return nil
		})
		if err != nil {
			chunks <- Chunk{Err: err, Done: true}
			return
		}
		p.processStream(stream, chunks, req.Model, forcedJSON)
	}()
	return chunks, nil
}

// buildParams converts the normalized request. The second return reports
// whether structured output is being emulated via the synthetic tool.
func (p *Anthropic) buildParams(req *ChatRequest) (anthropic.MessageNewParams, bool, error) {
	messages, err := p.convertMessages(req.Messages)
	if err != nil {
		return anthropic.MessageNewParams{}, false, err
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = anthropicDefaultMaxTokens
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		Messages:  messages,
		MaxTokens: int64(maxTokens),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: req.System}}
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	}
	if req.TopP != nil {
		params.TopP = anthropic.Float(*req.TopP)
	}

	tools, err := convertAnthropicTools(req.Tools)
	if err != nil {
		return anthropic.MessageNewParams{}, false, ConfigError(p.name, "%v", err)
	}

	forcedJSON := false
	if rf := req.ResponseFormat; rf != nil && (rf.Type == "json_object" || rf.Type == "json_schema") {
		// No native JSON mode: force a call to a synthetic tool whose
		// input schema is the requested output schema.
		schema := json.RawMessage(`{"type":"object"}`)
		if rf.Type == "json_schema" && rf.JSONSchema != nil && len(rf.JSONSchema.Schema) > 0 {
			schema = rf.JSONSchema.Schema
		}
		jsonTool, err := convertAnthropicTools([]ToolDef{{
			Name:        jsonResponseTool,
			Description: "Respond to the user with a JSON object matching the schema.",
			Parameters:  schema,
		}})
		if err != nil {
			return anthropic.MessageNewParams{}, false, ConfigError(p.name, "%v", err)
		}
		tools = append(tools, jsonTool...)
		params.ToolChoice = anthropic.ToolChoiceUnionParam{
			OfTool: &anthropic.ToolChoiceToolParam{Name: jsonResponseTool},
		}
		forcedJSON = true
	} else if req.ToolChoice != nil && len(req.Tools) > 0 {
		params.ToolChoice = convertAnthropicToolChoice(req.ToolChoice)
	}
	if len(tools) > 0 {
		params.Tools = tools
	}
	return params, forcedJSON, nil
}

func (p *Anthropic) processStream(stream *ssestream.Stream[anthropic.MessageStreamEventUnion], chunks chan<- Chunk, model string, forcedJSON bool) {
	var currentTool *models.ToolCall
	var currentInput strings.Builder
	jsonToolActive := false
	emptyEvents := 0

	usage := &Usage{}
	finish := FinishStop

	for stream.Next() {
		event := stream.Current()
		processed := false

		switch event.Type {
		case "message_start":
			start := event.AsMessageStart()
			if start.Message.Usage.InputTokens > 0 {
				usage.PromptTokens = int(start.Message.Usage.InputTokens)
			}
			processed = true

		case "content_block_start":
			block := event.AsContentBlockStart().ContentBlock
			if block.Type == "tool_use" {
				toolUse := block.AsToolUse()
				if forcedJSON && toolUse.Name == jsonResponseTool {
					jsonToolActive = true
				} else {
					currentTool = &models.ToolCall{
						ID:   toolUse.ID,
						Type: "function",
						Function: models.ToolCallFunction{
							Name: toolUse.Name,
						},
					}
				}
				currentInput.Reset()
				processed = true
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					chunks <- Chunk{Text: delta.Text}
					processed = true
				}
			case "input_json_delta":
				if delta.PartialJSON != "" {
					currentInput.WriteString(delta.PartialJSON)
					if jsonToolActive {
						// The synthetic tool's input is the response body;
						// stream it as text.
						chunks <- Chunk{Text: delta.PartialJSON}
					}
					processed = true
				}
			}

		case "content_block_stop":
			if jsonToolActive {
				jsonToolActive = false
				processed = true
			} else if currentTool != nil {
				args := currentInput.String()
				if args == "" {
					args = "{}"
				}
				currentTool.Function.Arguments = args
				chunks <- Chunk{ToolCall: currentTool}
				currentTool = nil
				processed = true
			}

		case "message_delta":
			messageDelta := event.AsMessageDelta()
			if messageDelta.Usage.OutputTokens > 0 {
				usage.CompletionTokens = int(messageDelta.Usage.OutputTokens)
			}
			switch messageDelta.Delta.StopReason {
			case "tool_use":
				finish = FinishToolCalls
			case "max_tokens":
				finish = FinishLength
			default:
				finish = FinishStop
			}
			processed = true

		case "message_stop":
			if forcedJSON && finish == FinishToolCalls {
				finish = FinishStop
			}
			chunks <- Chunk{Done: true, FinishReason: finish, Usage: usage}
			return

		case "error":
			chunks <- Chunk{Err: p.wrapError(errors.New("anthropic stream error"), model), Done: true}
			return
		}

		if processed {
			emptyEvents = 0
		} else {
			emptyEvents++
			if emptyEvents >= maxEmptyStreamEvents {
				chunks <- Chunk{
					Err:  p.wrapError(fmt.Errorf("stream appears malformed: %d consecutive empty events", emptyEvents), model),
					Done: true,
				}
				return
			}
		}
	}

	if err := stream.Err(); err != nil {
		chunks <- Chunk{Err: p.wrapError(err, model), Done: true}
	}
}

// convertMessages translates normalized turns into Anthropic messages.
// Tool results become tool_result blocks inside user messages; consecutive
// results are grouped so they follow their tool_use turn directly.
func (p *Anthropic) convertMessages(messages []Message) ([]anthropic.MessageParam, error) {
	var result []anthropic.MessageParam

	for i := 0; i < len(messages); i++ {
		msg := messages[i]
		switch msg.Role {
		case RoleSystem:
			continue

		case RoleTool:
			var content []anthropic.ContentBlockParamUnion
			for ; i < len(messages) && messages[i].Role == RoleTool; i++ {
				content = append(content, anthropic.NewToolResultBlock(
					messages[i].ToolCallID, messages[i].Content, false))
			}
			i--
			result = append(result, anthropic.NewUserMessage(content...))

		case RoleAssistant:
			var content []anthropic.ContentBlockParamUnion
			if msg.Content != "" {
				content = append(content, anthropic.NewTextBlock(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				var input map[string]any
				args := tc.Function.Arguments
				if args == "" {
					args = "{}"
				}
				if err := json.Unmarshal([]byte(args), &input); err != nil {
					return nil, fmt.Errorf("invalid tool call arguments: %w", err)
				}
				content = append(content, anthropic.NewToolUseBlock(tc.ID, input, tc.Function.Name))
			}
			if len(content) == 0 {
				content = append(content, anthropic.NewTextBlock(""))
			}
			result = append(result, anthropic.NewAssistantMessage(content...))

		default:
			result = append(result, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}
	return result, nil
}

func convertAnthropicTools(tools []ToolDef) ([]anthropic.ToolUnionParam, error) {
	var result []anthropic.ToolUnionParam
	for _, tool := range tools {
		params := tool.Parameters
		if len(params) == 0 {
			params = []byte(`{"type":"object","properties":{}}`)
		}
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(params, &schema); err != nil {
			return nil, fmt.Errorf("invalid tool schema for %s: %w", tool.Name, err)
		}
		toolParam := anthropic.ToolUnionParamOfTool(schema, tool.Name)
		if toolParam.OfTool == nil {
			return nil, fmt.Errorf("invalid tool schema for %s: missing tool definition", tool.Name)
		}
		if tool.Description != "" {
			toolParam.OfTool.Description = anthropic.String(tool.Description)
		}
		result = append(result, toolParam)
	}
	return result, nil
}

func convertAnthropicToolChoice(choice *models.ToolChoice) anthropic.ToolChoiceUnionParam {
	switch {
	case choice.Function != "":
		return anthropic.ToolChoiceUnionParam{
			OfTool: &anthropic.ToolChoiceToolParam{Name: choice.Function},
		}
	case choice.Mode == "required":
		return anthropic.ToolChoiceUnionParam{OfAny: &anthropic.ToolChoiceAnyParam{}}
	case choice.Mode == "none":
		return anthropic.ToolChoiceUnionParam{OfNone: &anthropic.ToolChoiceNoneParam{}}
	default:
		return anthropic.ToolChoiceUnionParam{OfAuto: &anthropic.ToolChoiceAutoParam{}}
	}
}

type anthropicErrorPayload struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
	RequestID string `json:"request_id"`
}

func (p *Anthropic) wrapError(err error, model string) error {
	if err == nil {
		return nil
	}
	if _, ok := AsError(err); ok {
		return err
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		pe := NewError(p.name, model, err).WithStatus(apiErr.StatusCode)
		if raw := apiErr.RawJSON(); raw != "" {
			var payload anthropicErrorPayload
			if json.Unmarshal([]byte(raw), &payload) == nil {
				if payload.Error.Message != "" {
					pe = pe.WithMessage(payload.Error.Message)
				}
				if payload.Error.Type != "" {
					pe = pe.WithCode(payload.Error.Type)
				}
				if payload.RequestID != "" {
					pe = pe.WithRequestID(payload.RequestID)
				}
			}
		}
		if pe.Message == "" {
			pe.Message = "anthropic request failed"
		}
		return pe
	}
	return NewError(p.name, model, err)
}
