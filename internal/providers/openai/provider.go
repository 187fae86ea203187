// Package openai adapts OpenAI's chat completions API to
// internal/modelregistry.LLMProvider, grounded on the teacher's
// internal/agent/providers/openai.go message/tool conversion idiom
// (convertToOpenAIMessages, convertToOpenAITools), collapsed to a single
// non-streaming call.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/syntrixbase/pegasus/internal/modelregistry"
	"github.com/syntrixbase/pegasus/internal/toolexec"
	"github.com/syntrixbase/pegasus/pkg/models"
)

const defaultMaxTokens = 4096

// Provider implements modelregistry.LLMProvider against OpenAI's chat
// completions API.
type Provider struct {
	client  *openai.Client
	modelID string
}

// New constructs a Provider for modelID using cfg's API key and optional
// base URL override. It satisfies modelregistry.Factory's signature.
func New(modelID string, cfg modelregistry.ProviderConfig) (modelregistry.LLMProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai: no API key configured")
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &Provider{client: openai.NewClientWithConfig(clientCfg), modelID: modelID}, nil
}

// ModelID implements modelregistry.LLMProvider.
func (p *Provider) ModelID() string { return p.modelID }

// Generate implements modelregistry.LLMProvider.
func (p *Provider) Generate(ctx context.Context, req modelregistry.GenerateRequest) (*modelregistry.GenerateResponse, error) {
	messages, err := convertMessages(req.Messages, req.System)
	if err != nil {
		return nil, fmt.Errorf("openai: convert messages: %w", err)
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	chatReq := openai.ChatCompletionRequest{
		Model:     p.modelID,
		Messages:  messages,
		MaxTokens: maxTokens,
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = convertTools(req.Tools)
	}

	resp, err := p.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, fmt.Errorf("openai: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("openai: empty choices in response")
	}
	choice := resp.Choices[0]

	out := &modelregistry.GenerateResponse{
		Content:    choice.Message.Content,
		StopReason: string(choice.FinishReason),
	}
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, models.ToolCall{
			ID:    tc.ID,
			Name:  tc.Function.Name,
			Input: json.RawMessage(tc.Function.Arguments),
		})
	}
	return out, nil
}

// convertMessages flattens the conversation into OpenAI's chat message
// shape, emitting one message per tool result the way the teacher's
// provider does since OpenAI has no multi-result content block.
func convertMessages(messages []models.Message, system string) ([]openai.ChatCompletionMessage, error) {
	result := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if system != "" {
		result = append(result, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}

	for _, msg := range messages {
		switch msg.Role {
		case models.RoleTool:
			for _, tr := range msg.ToolResults {
				result = append(result, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    tr.Content,
					ToolCallID: tr.ToolCallID,
				})
			}
		case models.RoleAssistant:
			oaiMsg := openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: msg.Content,
			}
			for _, tc := range msg.ToolCalls {
				oaiMsg.ToolCalls = append(oaiMsg.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: string(tc.Input),
					},
				})
			}
			result = append(result, oaiMsg)
		default:
			result = append(result, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleUser,
				Content: msg.Content,
			})
		}
	}
	return result, nil
}

// convertTools maps toolexec's LLM-facing tool shape onto OpenAI's function
// tool schema.
func convertTools(tools []toolexec.LLMTool) []openai.Tool {
	result := make([]openai.Tool, len(tools))
	for i, t := range tools {
		var schema map[string]any
		if len(t.Parameters) > 0 {
			if err := json.Unmarshal(t.Parameters, &schema); err != nil {
				schema = map[string]any{"type": "object", "properties": map[string]any{}}
			}
		} else {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  schema,
			},
		}
	}
	return result
}
