package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"

	"github.com/haasonsaas/relay/pkg/models"
)

// Bedrock adapts AWS Bedrock via the Converse streaming API.
type Bedrock struct {
	name       string
	client     *bedrockruntime.Client
	models     []string
	maxRetries int
	retryDelay time.Duration
}

// BedrockConfig configures the Bedrock adapter. When AccessKeyID is empty
// the default AWS credential chain is used.
type BedrockConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	Models          []string
	MaxRetries      int
	RetryDelay      time.Duration
}

// NewBedrock loads AWS config and builds the runtime client.
func NewBedrock(name string, cfg BedrockConfig) (*Bedrock, error) {
	if cfg.Region == "" {
		return nil, ConfigError(name, "region is required")
	}

	var awsCfg aws.Config
	var err error
	if cfg.AccessKeyID != "" {
		awsCfg, err = awsconfig.LoadDefaultConfig(context.Background(),
			awsconfig.WithRegion(cfg.Region),
			awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken)),
		)
	} else {
		awsCfg, err = awsconfig.LoadDefaultConfig(context.Background(),
			awsconfig.WithRegion(cfg.Region),
		)
	}
	if err != nil {
		return nil, ConfigError(name, "load aws config: %v", err)
	}

	modelList := cfg.Models
	if len(modelList) == 0 {
		modelList = []string{
			"anthropic.claude-sonnet-4-5-20250929-v1:0",
			"anthropic.claude-3-5-haiku-20241022-v1:0",
			"meta.llama3-3-70b-instruct-v1:0",
		}
	}
	return &Bedrock{
		name:       name,
		client:     bedrockruntime.NewFromConfig(awsCfg),
		models:     modelList,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
	}, nil
}

func (p *Bedrock) Name() string { return p.name }

func (p *Bedrock) Models() []string { return p.models }

func (p *Bedrock) Complete(ctx context.Context, req *ChatRequest) (<-chan Chunk, error) {
	input, forcedJSON, err := p.buildInput(req)
	if err != nil {
		return nil, err
	}

	var stream *bedrockruntime.ConverseStreamOutput
	err = retry(ctx, p.maxRetries, p.retryDelay, func() error {
		var err error
		stream, err = p.client.ConverseStream(ctx, input)
		if err != nil {
			return p.wrapError(err, req.Model)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	chunks := make(chan Chunk)
	go p.processStream(ctx, stream, chunks, req.Model, forcedJSON)
	return chunks, nil
}

func (p *Bedrock) buildInput(req *ChatRequest) (*bedrockruntime.ConverseStreamInput, bool, error) {
	messages, err := p.convertMessages(req.Messages)
	if err != nil {
		return nil, false, fmt.Errorf("convert messages: %w", err)
	}

	input := &bedrockruntime.ConverseStreamInput{
		ModelId:  aws.String(req.Model),
		Messages: messages,
	}
	if req.System != "" {
		input.System = []types.SystemContentBlock{
			&types.SystemContentBlockMemberText{Value: req.System},
		}
	}

	inference := &types.InferenceConfiguration{}
	hasInference := false
	if req.MaxTokens > 0 {
		maxTokens := min(req.MaxTokens, math.MaxInt32)
		inference.MaxTokens = aws.Int32(int32(maxTokens))
		hasInference = true
	}
	if req.Temperature != nil {
		inference.Temperature = aws.Float32(float32(*req.Temperature))
		hasInference = true
	}
	if req.TopP != nil {
		inference.TopP = aws.Float32(float32(*req.TopP))
		hasInference = true
	}
	if hasInference {
		input.InferenceConfig = inference
	}

	tools := convertBedrockTools(req.Tools)
	forcedJSON := false
	var toolChoice types.ToolChoice
	if rf := req.ResponseFormat; rf != nil && (rf.Type == "json_object" || rf.Type == "json_schema") {
		// Converse has no JSON response mode; force a synthetic tool call
		// whose input schema is the requested output shape.
		schema := json.RawMessage(`{"type":"object"}`)
		if rf.Type == "json_schema" && rf.JSONSchema != nil && len(rf.JSONSchema.Schema) > 0 {
			schema = rf.JSONSchema.Schema
		}
		tools = append(tools, convertBedrockTools([]ToolDef{{
			Name:        jsonResponseTool,
			Description: "Respond to the user with a JSON object matching the schema.",
			Parameters:  schema,
		}})...)
		toolChoice = &types.ToolChoiceMemberTool{
			Value: types.SpecificToolChoice{Name: aws.String(jsonResponseTool)},
		}
		forcedJSON = true
	} else if req.ToolChoice != nil && len(tools) > 0 {
		toolChoice = convertBedrockToolChoice(req.ToolChoice)
	}
	if len(tools) > 0 {
		input.ToolConfig = &types.ToolConfiguration{Tools: tools}
		if toolChoice != nil {
			input.ToolConfig.ToolChoice = toolChoice
		}
	}
	return input, forcedJSON, nil
}

func (p *Bedrock) processStream(ctx context.Context, stream *bedrockruntime.ConverseStreamOutput, chunks chan<- Chunk, model string, forcedJSON bool) {
	defer close(chunks)

	eventStream := stream.GetStream()
	defer eventStream.Close()

	var currentTool *models.ToolCall
	var toolInput strings.Builder
	jsonToolActive := false

	finish := FinishStop
	var usage *Usage

	finalize := func() {
		if err := eventStream.Err(); err != nil {
			chunks <- Chunk{Err: p.wrapError(err, model), Done: true}
			return
		}
		if forcedJSON && finish == FinishToolCalls {
			finish = FinishStop
		}
		chunks <- Chunk{Done: true, FinishReason: finish, Usage: usage}
	}

	events := eventStream.Events()
	for {
		select {
		case <-ctx.Done():
			chunks <- Chunk{Err: ctx.Err(), Done: true}
			return
		case event, ok := <-events:
			if !ok {
				finalize()
				return
			}

			switch ev := event.(type) {
			case *types.ConverseStreamOutputMemberContentBlockStart:
				if toolUse, ok := ev.Value.Start.(*types.ContentBlockStartMemberToolUse); ok {
					name := aws.ToString(toolUse.Value.Name)
					if forcedJSON && name == jsonResponseTool {
						jsonToolActive = true
					} else {
						currentTool = &models.ToolCall{
							ID:   aws.ToString(toolUse.Value.ToolUseId),
							Type: "function",
							Function: models.ToolCallFunction{
								Name: name,
							},
						}
					}
					toolInput.Reset()
				}

			case *types.ConverseStreamOutputMemberContentBlockDelta:
				switch delta := ev.Value.Delta.(type) {
				case *types.ContentBlockDeltaMemberText:
					if delta.Value != "" {
						chunks <- Chunk{Text: delta.Value}
					}
				case *types.ContentBlockDeltaMemberToolUse:
					if delta.Value.Input != nil {
						toolInput.WriteString(*delta.Value.Input)
						if jsonToolActive {
							chunks <- Chunk{Text: *delta.Value.Input}
						}
					}
				}

			case *types.ConverseStreamOutputMemberContentBlockStop:
				if jsonToolActive {
					jsonToolActive = false
				} else if currentTool != nil {
					args := toolInput.String()
					if args == "" {
						args = "{}"
					}
					if currentTool.ID == "" {
						currentTool.ID = NewCallID()
					}
					currentTool.Function.Arguments = args
					chunks <- Chunk{ToolCall: currentTool}
					currentTool = nil
				}
				toolInput.Reset()

			case *types.ConverseStreamOutputMemberMessageStop:
				switch ev.Value.StopReason {
				case types.StopReasonToolUse:
					finish = FinishToolCalls
				case types.StopReasonMaxTokens:
					finish = FinishLength
				default:
					finish = FinishStop
				}
				// Usage metadata arrives after message_stop; keep reading.

			case *types.ConverseStreamOutputMemberMetadata:
				if ev.Value.Usage != nil {
					usage = &Usage{
						PromptTokens:     int(aws.ToInt32(ev.Value.Usage.InputTokens)),
						CompletionTokens: int(aws.ToInt32(ev.Value.Usage.OutputTokens)),
					}
				}
			}
		}
	}
}

func (p *Bedrock) convertMessages(messages []Message) ([]types.Message, error) {
	result := make([]types.Message, 0, len(messages))

	for i := 0; i < len(messages); i++ {
		msg := messages[i]
		switch msg.Role {
		case RoleSystem:
			continue

		case RoleTool:
			var content []types.ContentBlock
			for ; i < len(messages) && messages[i].Role == RoleTool; i++ {
				content = append(content, &types.ContentBlockMemberToolResult{
					Value: types.ToolResultBlock{
						ToolUseId: aws.String(messages[i].ToolCallID),
						Content: []types.ToolResultContentBlock{
							&types.ToolResultContentBlockMemberText{Value: messages[i].Content},
						},
					},
				})
			}
			i--
			result = append(result, types.Message{
				Role:    types.ConversationRoleUser,
				Content: content,
			})

		case RoleAssistant:
			var content []types.ContentBlock
			if msg.Content != "" {
				content = append(content, &types.ContentBlockMemberText{Value: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				var inputDoc map[string]any
				args := tc.Function.Arguments
				if args == "" {
					args = "{}"
				}
				if err := json.Unmarshal([]byte(args), &inputDoc); err != nil {
					return nil, fmt.Errorf("invalid tool call arguments: %w", err)
				}
				content = append(content, &types.ContentBlockMemberToolUse{
					Value: types.ToolUseBlock{
						ToolUseId: aws.String(tc.ID),
						Name:      aws.String(tc.Function.Name),
						Input:     document.NewLazyDocument(inputDoc),
					},
				})
			}
			if len(content) > 0 {
				result = append(result, types.Message{
					Role:    types.ConversationRoleAssistant,
					Content: content,
				})
			}

		default:
			result = append(result, types.Message{
				Role: types.ConversationRoleUser,
				Content: []types.ContentBlock{
					&types.ContentBlockMemberText{Value: msg.Content},
				},
			})
		}
	}
	return result, nil
}

func convertBedrockTools(tools []ToolDef) []types.Tool {
	result := make([]types.Tool, 0, len(tools))
	for _, tool := range tools {
		params := tool.Parameters
		if len(params) == 0 {
			params = []byte(`{"type":"object","properties":{}}`)
		}
		var schemaDoc map[string]any
		if err := json.Unmarshal(params, &schemaDoc); err != nil {
			continue
		}
		spec := types.ToolSpecification{
			Name:        aws.String(tool.Name),
			InputSchema: &types.ToolInputSchemaMemberJson{Value: document.NewLazyDocument(schemaDoc)},
		}
		if tool.Description != "" {
			spec.Description = aws.String(tool.Description)
		}
		result = append(result, &types.ToolMemberToolSpec{Value: spec})
	}
	return result
}

func convertBedrockToolChoice(choice *models.ToolChoice) types.ToolChoice {
	switch {
	case choice.Function != "":
		return &types.ToolChoiceMemberTool{
			Value: types.SpecificToolChoice{Name: aws.String(choice.Function)},
		}
	case choice.Mode == "required":
		return &types.ToolChoiceMemberAny{Value: types.AnyToolChoice{}}
	case choice.Mode == "none":
		// Converse has no explicit "none"; auto with no forced tool is the
		// closest behavior.
		return &types.ToolChoiceMemberAuto{Value: types.AutoToolChoice{}}
	default:
		return &types.ToolChoiceMemberAuto{Value: types.AutoToolChoice{}}
	}
}

func (p *Bedrock) wrapError(err error, model string) error {
	if err == nil {
		return nil
	}
	if _, ok := AsError(err); ok {
		return err
	}

	var throttled *types.ThrottlingException
	if errors.As(err, &throttled) {
		return NewError(p.name, model, err).WithStatus(429).WithMessage(aws.ToString(throttled.Message))
	}
	var validation *types.ValidationException
	if errors.As(err, &validation) {
		return NewError(p.name, model, err).WithStatus(400).WithMessage(aws.ToString(validation.Message))
	}
	var denied *types.AccessDeniedException
	if errors.As(err, &denied) {
		return NewError(p.name, model, err).WithStatus(403).WithMessage(aws.ToString(denied.Message))
	}
	var notFound *types.ResourceNotFoundException
	if errors.As(err, &notFound) {
		return NewError(p.name, model, err).WithStatus(404).WithMessage(aws.ToString(notFound.Message))
	}
	return NewError(p.name, model, err)
}
