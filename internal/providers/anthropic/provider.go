// Package anthropic adapts Anthropic's Messages API to
// internal/modelregistry.LLMProvider, grounded on the teacher's
// internal/agent/providers/anthropic.go message/tool conversion idiom
// (convertMessages, convertTools), trimmed to a single non-streaming call
// since the cognitive task core consumes one complete GenerateResponse per
// stage rather than a token stream.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/syntrixbase/pegasus/internal/modelregistry"
	"github.com/syntrixbase/pegasus/internal/toolexec"
	"github.com/syntrixbase/pegasus/pkg/models"
)

const defaultMaxTokens = 4096

// Provider implements modelregistry.LLMProvider against Anthropic's API.
type Provider struct {
	client  anthropic.Client
	modelID string
}

// New constructs a Provider for modelID using cfg's API key and optional
// base URL override. It satisfies modelregistry.Factory's signature.
func New(modelID string, cfg modelregistry.ProviderConfig) (modelregistry.LLMProvider, error) {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &Provider{client: anthropic.NewClient(opts...), modelID: modelID}, nil
}

// ModelID implements modelregistry.LLMProvider.
func (p *Provider) ModelID() string { return p.modelID }

// Generate implements modelregistry.LLMProvider.
func (p *Provider) Generate(ctx context.Context, req modelregistry.GenerateRequest) (*modelregistry.GenerateResponse, error) {
	messages, err := convertMessages(req.Messages)
	if err != nil {
		return nil, fmt.Errorf("anthropic: convert messages: %w", err)
	}

	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.modelID),
		Messages:  messages,
		MaxTokens: maxTokens,
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if len(req.Tools) > 0 {
		tools, err := convertTools(req.Tools)
		if err != nil {
			return nil, fmt.Errorf("anthropic: convert tools: %w", err)
		}
		params.Tools = tools
	}

	message, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic: %w", err)
	}

	out := &modelregistry.GenerateResponse{StopReason: string(message.StopReason)}
	for _, block := range message.Content {
		switch block.Type {
		case "text":
			out.Content += block.Text
		case "tool_use":
			toolUse := block.AsToolUse()
			input, err := json.Marshal(toolUse.Input)
			if err != nil {
				return nil, fmt.Errorf("anthropic: marshal tool_use input: %w", err)
			}
			out.ToolCalls = append(out.ToolCalls, models.ToolCall{
				ID:    toolUse.ID,
				Name:  toolUse.Name,
				Input: input,
			})
		}
	}
	return out, nil
}

// convertMessages builds Anthropic MessageParams from the conversation
// history, folding tool results and tool calls into content blocks the way
// the teacher's provider does.
func convertMessages(messages []models.Message) ([]anthropic.MessageParam, error) {
	result := make([]anthropic.MessageParam, 0, len(messages))
	for _, msg := range messages {
		if msg.Role == models.RoleSystem {
			continue
		}

		var content []anthropic.ContentBlockParamUnion
		if msg.Content != "" {
			content = append(content, anthropic.NewTextBlock(msg.Content))
		}
		for _, tr := range msg.ToolResults {
			content = append(content, anthropic.NewToolResultBlock(tr.ToolCallID, tr.Content, tr.IsError))
		}
		for _, tc := range msg.ToolCalls {
			var input map[string]any
			if len(tc.Input) > 0 {
				if err := json.Unmarshal(tc.Input, &input); err != nil {
					return nil, fmt.Errorf("invalid tool call input: %w", err)
				}
			}
			content = append(content, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
		}
		if len(content) == 0 {
			continue
		}

		if msg.Role == models.RoleAssistant {
			result = append(result, anthropic.NewAssistantMessage(content...))
		} else {
			result = append(result, anthropic.NewUserMessage(content...))
		}
	}
	return result, nil
}

// convertTools maps toolexec's LLM-facing tool shape onto Anthropic's tool
// schema, which expects the parameters as a raw JSON Schema object.
func convertTools(tools []toolexec.LLMTool) ([]anthropic.ToolUnionParam, error) {
	result := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		var schema anthropic.ToolInputSchemaParam
		if len(t.Parameters) > 0 {
			if err := json.Unmarshal(t.Parameters, &schema); err != nil {
				return nil, fmt.Errorf("invalid schema for tool %s: %w", t.Name, err)
			}
		}
		toolParam := anthropic.ToolUnionParamOfTool(schema, t.Name)
		if toolParam.OfTool == nil {
			return nil, fmt.Errorf("invalid schema for tool %s: missing tool definition", t.Name)
		}
		toolParam.OfTool.Description = anthropic.String(t.Description)
		result = append(result, toolParam)
	}
	return result, nil
}
