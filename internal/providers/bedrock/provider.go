// Package bedrock adapts AWS Bedrock's Converse API to
// internal/modelregistry.LLMProvider, grounded on the teacher's
// internal/agent/providers/bedrock.go message/tool conversion idiom,
// collapsed from its ConverseStream call to the non-streaming Converse
// call since the registry wants one complete GenerateResponse per call.
package bedrock

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/syntrixbase/pegasus/internal/modelregistry"
	"github.com/syntrixbase/pegasus/internal/toolexec"
	"github.com/syntrixbase/pegasus/pkg/models"
)

const defaultRegion = "us-east-1"

// Provider implements modelregistry.LLMProvider against AWS Bedrock's
// Converse API, giving access to whatever foundation models (Anthropic,
// Meta, Titan, Mistral, Cohere) the caller's AWS account has enabled.
type Provider struct {
	client  *bedrockruntime.Client
	modelID string
}

// New constructs a Provider for modelID. cfg.BaseURL, when set, is
// interpreted as the AWS region (Bedrock has no notion of a base URL);
// cfg.APIKey is ignored, since Bedrock authenticates via the AWS SDK's
// own default credential chain (environment, shared config, IAM role).
// It satisfies modelregistry.Factory's signature.
func New(modelID string, cfg modelregistry.ProviderConfig) (modelregistry.LLMProvider, error) {
	region := cfg.BaseURL
	if region == "" {
		region = defaultRegion
	}

	awsCfg, err := config.LoadDefaultConfig(context.Background(), config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("bedrock: load AWS config: %w", err)
	}

	return &Provider{client: bedrockruntime.NewFromConfig(awsCfg), modelID: modelID}, nil
}

// ModelID implements modelregistry.LLMProvider.
func (p *Provider) ModelID() string { return p.modelID }

// Generate implements modelregistry.LLMProvider.
func (p *Provider) Generate(ctx context.Context, req modelregistry.GenerateRequest) (*modelregistry.GenerateResponse, error) {
	messages, err := convertMessages(req.Messages)
	if err != nil {
		return nil, fmt.Errorf("bedrock: convert messages: %w", err)
	}

	input := &bedrockruntime.ConverseInput{
		ModelId:  aws.String(p.modelID),
		Messages: messages,
	}
	if req.System != "" {
		input.System = []types.SystemContentBlock{&types.SystemContentBlockMemberText{Value: req.System}}
	}
	if req.MaxTokens > 0 {
		input.InferenceConfig = &types.InferenceConfiguration{MaxTokens: aws.Int32(int32(req.MaxTokens))}
	}
	if len(req.Tools) > 0 {
		input.ToolConfig = convertTools(req.Tools)
	}

	out, err := p.client.Converse(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("bedrock: %w", err)
	}

	result := &modelregistry.GenerateResponse{StopReason: string(out.StopReason)}
	output, ok := out.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return result, nil
	}
	for _, block := range output.Value.Content {
		switch b := block.(type) {
		case *types.ContentBlockMemberText:
			result.Content += b.Value
		case *types.ContentBlockMemberToolUse:
			input, err := b.Value.Input.MarshalSmithyDocument()
			if err != nil {
				return nil, fmt.Errorf("bedrock: marshal tool_use input: %w", err)
			}
			result.ToolCalls = append(result.ToolCalls, models.ToolCall{
				ID:    aws.ToString(b.Value.ToolUseId),
				Name:  aws.ToString(b.Value.Name),
				Input: input,
			})
		}
	}
	return result, nil
}

// convertMessages builds Bedrock Converse messages, folding tool results
// and tool calls into content blocks the way the teacher's provider does.
func convertMessages(messages []models.Message) ([]types.Message, error) {
	result := make([]types.Message, 0, len(messages))
	for _, msg := range messages {
		if msg.Role == models.RoleSystem {
			continue
		}

		var content []types.ContentBlock
		if msg.Content != "" {
			content = append(content, &types.ContentBlockMemberText{Value: msg.Content})
		}
		for _, tr := range msg.ToolResults {
			content = append(content, &types.ContentBlockMemberToolResult{
				Value: types.ToolResultBlock{
					ToolUseId: aws.String(tr.ToolCallID),
					Content:   []types.ToolResultContentBlock{&types.ToolResultContentBlockMemberText{Value: tr.Content}},
					Status:    toolResultStatus(tr.IsError),
				},
			})
		}
		for _, tc := range msg.ToolCalls {
			var inputDoc any
			if len(tc.Input) > 0 {
				if err := json.Unmarshal(tc.Input, &inputDoc); err != nil {
					return nil, fmt.Errorf("invalid tool call input: %w", err)
				}
			}
			content = append(content, &types.ContentBlockMemberToolUse{
				Value: types.ToolUseBlock{
					ToolUseId: aws.String(tc.ID),
					Name:      aws.String(tc.Name),
					Input:     document.NewLazyDocument(inputDoc),
				},
			})
		}
		if len(content) == 0 {
			continue
		}

		role := types.ConversationRoleUser
		if msg.Role == models.RoleAssistant {
			role = types.ConversationRoleAssistant
		}
		result = append(result, types.Message{Role: role, Content: content})
	}
	return result, nil
}

func toolResultStatus(isError bool) types.ToolResultStatus {
	if isError {
		return types.ToolResultStatusError
	}
	return types.ToolResultStatusSuccess
}

// convertTools maps toolexec's LLM-facing tool shape onto Bedrock's tool
// specification, falling back to an empty schema on unmarshal failure.
func convertTools(tools []toolexec.LLMTool) *types.ToolConfiguration {
	bedrockTools := make([]types.Tool, len(tools))
	for i, t := range tools {
		var schema any
		if len(t.Parameters) == 0 || json.Unmarshal(t.Parameters, &schema) != nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		bedrockTools[i] = &types.ToolMemberToolSpec{
			Value: types.ToolSpecification{
				Name:        aws.String(t.Name),
				Description: aws.String(t.Description),
				InputSchema: &types.ToolInputSchemaMemberJson{Value: document.NewLazyDocument(schema)},
			},
		}
	}
	return &types.ToolConfiguration{Tools: bedrockTools}
}
