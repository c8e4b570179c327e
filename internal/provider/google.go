package provider

import (
	"context"
	"encoding/json"
	"math"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/haasonsaas/relay/pkg/models"
)

// Google adapts the Gemini API via the official genai SDK.
type Google struct {
	name       string
	client     *genai.Client
	models     []string
	maxRetries int
	retryDelay time.Duration
}

// GoogleConfig configures the Gemini adapter.
type GoogleConfig struct {
	APIKey     string
	Models     []string
	MaxRetries int
	RetryDelay time.Duration
}

// NewGoogle builds the genai client against the Gemini API backend.
func NewGoogle(name string, cfg GoogleConfig) (*Google, error) {
	if cfg.APIKey == "" {
		return nil, ConfigError(name, "api key is required")
	}
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, ConfigError(name, "create client: %v", err)
	}
	modelList := cfg.Models
	if len(modelList) == 0 {
		modelList = []string{"gemini-2.5-pro", "gemini-2.5-flash", "gemini-2.0-flash"}
	}
	return &Google{
		name:       name,
		client:     client,
		models:     modelList,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
	}, nil
}

func (p *Google) Name() string { return p.name }

func (p *Google) Models() []string { return p.models }

func (p *Google) Complete(ctx context.Context, req *ChatRequest) (<-chan Chunk, error) {
	contents := p.convertMessages(req.Messages)
	config := p.buildConfig(req)

	chunks := make(chan Chunk)
	go func() {
		defer close(chunks)

		usage := &Usage{}
		finish := FinishStop
		sawToolCall := false

		for resp, err := range p.client.Models.GenerateContentStream(ctx, req.Model, contents, config) {
			select {
			case <-ctx.Done():
				chunks <- Chunk{Err: ctx.Err(), Done: true}
				return
			default:
			}
			if err != nil {
				chunks <- Chunk{Err: p.wrapError(err, req.Model), Done: true}
				return
			}
			if resp == nil {
				continue
			}

			if resp.UsageMetadata != nil {
				if resp.UsageMetadata.PromptTokenCount > 0 {
					usage.PromptTokens = int(resp.UsageMetadata.PromptTokenCount)
				}
				if resp.UsageMetadata.CandidatesTokenCount > 0 {
					usage.CompletionTokens = int(resp.UsageMetadata.CandidatesTokenCount)
				}
			}

			for _, candidate := range resp.Candidates {
				if candidate == nil {
					continue
				}
				if candidate.FinishReason == genai.FinishReasonMaxTokens {
					finish = FinishLength
				}
				if candidate.Content == nil {
					continue
				}
				for _, part := range candidate.Content.Parts {
					if part == nil {
						continue
					}
					if part.Text != "" {
						chunks <- Chunk{Text: part.Text}
					}
					if part.FunctionCall != nil {
						args, err := json.Marshal(part.FunctionCall.Args)
						if err != nil {
							args = []byte("{}")
						}
						// Gemini does not mint call IDs.
						chunks <- Chunk{ToolCall: &models.ToolCall{
							ID:   NewCallID(),
							Type: "function",
							Function: models.ToolCallFunction{
								Name:      part.FunctionCall.Name,
								Arguments: string(args),
							},
						}}
						sawToolCall = true
					}
				}
			}
		}

		if sawToolCall && finish == FinishStop {
			finish = FinishToolCalls
		}
		chunks <- Chunk{Done: true, FinishReason: finish, Usage: usage}
	}()
	return chunks, nil
}

// convertMessages maps normalized turns to Gemini contents. Gemini only
// knows user and model roles; tool results ride as functionResponse parts
// on the user side.
func (p *Google) convertMessages(messages []Message) []*genai.Content {
	var result []*genai.Content
	for _, msg := range messages {
		if msg.Role == RoleSystem {
			continue
		}

		content := &genai.Content{Role: genai.RoleUser}
		if msg.Role == RoleAssistant {
			content.Role = genai.RoleModel
		}

		switch msg.Role {
		case RoleTool:
			var response map[string]any
			if err := json.Unmarshal([]byte(msg.Content), &response); err != nil {
				response = map[string]any{"result": msg.Content}
			}
			content.Parts = append(content.Parts, &genai.Part{
				FunctionResponse: &genai.FunctionResponse{
					Name:     msg.Name,
					Response: response,
				},
			})
		default:
			if msg.Content != "" {
				content.Parts = append(content.Parts, &genai.Part{Text: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				var args map[string]any
				if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
					args = make(map[string]any)
				}
				content.Parts = append(content.Parts, &genai.Part{
					FunctionCall: &genai.FunctionCall{
						Name: tc.Function.Name,
						Args: args,
					},
				})
			}
		}

		if len(content.Parts) > 0 {
			result = append(result, content)
		}
	}
	return result
}

func (p *Google) buildConfig(req *ChatRequest) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{}

	if req.System != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.System}},
		}
	}
	if req.MaxTokens > 0 {
		maxTokens := min(req.MaxTokens, math.MaxInt32)
		config.MaxOutputTokens = int32(maxTokens)
	}
	if req.Temperature != nil {
		config.Temperature = genai.Ptr(float32(*req.Temperature))
	}
	if req.TopP != nil {
		config.TopP = genai.Ptr(float32(*req.TopP))
	}
	if len(req.Tools) > 0 {
		config.Tools = convertGeminiTools(req.Tools)
		if req.ToolChoice != nil {
			config.ToolConfig = convertGeminiToolChoice(req.ToolChoice)
		}
	}
	if rf := req.ResponseFormat; rf != nil {
		switch rf.Type {
		case "json_object":
			config.ResponseMIMEType = "application/json"
		case "json_schema":
			config.ResponseMIMEType = "application/json"
			if rf.JSONSchema != nil && len(rf.JSONSchema.Schema) > 0 {
				var schemaMap map[string]any
				if err := json.Unmarshal(rf.JSONSchema.Schema, &schemaMap); err == nil {
					config.ResponseSchema = toGeminiSchema(schemaMap)
				}
			}
		}
	}
	return config
}

func convertGeminiTools(tools []ToolDef) []*genai.Tool {
	declarations := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, tool := range tools {
		var schemaMap map[string]any
		if len(tool.Parameters) > 0 {
			if err := json.Unmarshal(tool.Parameters, &schemaMap); err != nil {
				continue
			}
		}
		declarations = append(declarations, &genai.FunctionDeclaration{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  toGeminiSchema(schemaMap),
		})
	}
	if len(declarations) == 0 {
		return nil
	}
	return []*genai.Tool{{FunctionDeclarations: declarations}}
}

func convertGeminiToolChoice(choice *models.ToolChoice) *genai.ToolConfig {
	fc := &genai.FunctionCallingConfig{}
	switch {
	case choice.Function != "":
		fc.Mode = genai.FunctionCallingConfigModeAny
		fc.AllowedFunctionNames = []string{choice.Function}
	case choice.Mode == "required":
		fc.Mode = genai.FunctionCallingConfigModeAny
	case choice.Mode == "none":
		fc.Mode = genai.FunctionCallingConfigModeNone
	default:
		fc.Mode = genai.FunctionCallingConfigModeAuto
	}
	return &genai.ToolConfig{FunctionCallingConfig: fc}
}

// toGeminiSchema converts a JSON Schema document to Gemini's Schema type.
// Only the subset Gemini understands is mapped.
func toGeminiSchema(schemaMap map[string]any) *genai.Schema {
	if schemaMap == nil {
		return nil
	}
	schema := &genai.Schema{}

	if t, ok := schemaMap["type"].(string); ok {
		schema.Type = genai.Type(strings.ToUpper(t))
	}
	if desc, ok := schemaMap["description"].(string); ok {
		schema.Description = desc
	}
	if enum, ok := schemaMap["enum"].([]any); ok {
		for _, e := range enum {
			if s, ok := e.(string); ok {
				schema.Enum = append(schema.Enum, s)
			}
		}
	}
	if props, ok := schemaMap["properties"].(map[string]any); ok {
		schema.Properties = make(map[string]*genai.Schema)
		for name, prop := range props {
			if propMap, ok := prop.(map[string]any); ok {
				schema.Properties[name] = toGeminiSchema(propMap)
			}
		}
	}
	if required, ok := schemaMap["required"].([]any); ok {
		for _, r := range required {
			if s, ok := r.(string); ok {
				schema.Required = append(schema.Required, s)
			}
		}
	}
	if items, ok := schemaMap["items"].(map[string]any); ok {
		schema.Items = toGeminiSchema(items)
	}
	return schema
}

// wrapError classifies genai failures. The SDK surfaces most API errors
// as formatted strings, so classification leans on status text.
func (p *Google) wrapError(err error, model string) error {
	if err == nil {
		return nil
	}
	if _, ok := AsError(err); ok {
		return err
	}
	pe := NewError(p.name, model, err)
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "401"), strings.Contains(msg, "unauthenticated"):
		pe = pe.WithStatus(401)
	case strings.Contains(msg, "403"), strings.Contains(msg, "permission denied"):
		pe = pe.WithStatus(403)
	case strings.Contains(msg, "404"), strings.Contains(msg, "not found"):
		pe = pe.WithStatus(404)
	case strings.Contains(msg, "429"), strings.Contains(msg, "resource exhausted"):
		pe = pe.WithStatus(429)
	case strings.Contains(msg, "503"):
		pe = pe.WithStatus(503)
	case strings.Contains(msg, "500"):
		pe = pe.WithStatus(500)
	}
	return pe
}
