package reasoning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/civicworks/copilot/pkg/models"
)

const defaultOpenAIModel = openai.GPT4o

// OpenAIBackend implements Backend against OpenAI's chat completions API
// using function tools.
type OpenAIBackend struct {
	client    *openai.Client
	model     string
	maxTokens int
}

// OpenAIConfig holds configuration for the OpenAI backend.
type OpenAIConfig struct {
	// APIKey is the OpenAI API key (required).
	APIKey string

	// BaseURL overrides the default API base URL (for proxies and
	// compatible servers).
	BaseURL string

	// Model is used for every decision. Default: gpt-4o.
	Model string

	// MaxTokens bounds each reply. Default: 1024.
	MaxTokens int
}

// NewOpenAIBackend creates an OpenAI-backed reasoning backend.
func NewOpenAIBackend(cfg OpenAIConfig) (*OpenAIBackend, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai: API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = defaultOpenAIModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}

	var client *openai.Client
	if cfg.BaseURL != "" {
		clientCfg := openai.DefaultConfig(cfg.APIKey)
		clientCfg.BaseURL = cfg.BaseURL
		client = openai.NewClientWithConfig(clientCfg)
	} else {
		client = openai.NewClient(cfg.APIKey)
	}

	return &OpenAIBackend{
		client:    client,
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
	}, nil
}

// Name returns the backend identifier used in metrics and logs.
func (b *OpenAIBackend) Name() string {
	return "openai"
}

// Decide sends the conversation and tool catalog to the chat completions API
// and interprets the first choice. A tool call wins over accompanying text.
func (b *OpenAIBackend) Decide(ctx context.Context, req *Request) (*Decision, error) {
	messages := convertOpenAIMessages(req.Messages, req.System)
	if len(messages) == 0 {
		return nil, errors.New("openai: conversation is empty")
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = b.maxTokens
	}
	chatReq := openai.ChatCompletionRequest{
		Model:     b.model,
		Messages:  messages,
		MaxTokens: maxTokens,
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = convertOpenAITools(req.Tools)
	}

	resp, err := b.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, fmt.Errorf("openai: request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("openai: response contained no choices")
	}

	choice := resp.Choices[0].Message
	if len(choice.ToolCalls) > 0 {
		tc := choice.ToolCalls[0]
		if tc.Function.Name == "" {
			return nil, errors.New("openai: tool call missing function name")
		}
		args := tc.Function.Arguments
		if args == "" {
			args = "{}"
		}
		return &Decision{
			Kind:     DecisionTool,
			ToolName: tc.Function.Name,
			Args:     json.RawMessage(args),
		}, nil
	}
	if choice.Content == "" {
		return nil, errors.New("openai: response contained no text or tool call")
	}
	return &Decision{Kind: DecisionText, Content: choice.Content}, nil
}

func convertOpenAIMessages(messages []*models.Message, system string) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if system != "" {
		result = append(result, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}
	for _, msg := range messages {
		if msg == nil || msg.Content == "" {
			continue
		}
		role := openai.ChatMessageRoleUser
		switch msg.Role {
		case models.RoleAssistant:
			role = openai.ChatMessageRoleAssistant
		case models.RoleSystem:
			role = openai.ChatMessageRoleSystem
		}
		result = append(result, openai.ChatCompletionMessage{
			Role:    role,
			Content: msg.Content,
		})
	}
	return result
}

func convertOpenAITools(tools []ToolSpec) []openai.Tool {
	result := make([]openai.Tool, len(tools))
	for i, tool := range tools {
		var schemaMap map[string]any
		if err := json.Unmarshal(tool.InputSchema, &schemaMap); err != nil {
			// Graceful degradation: an empty object schema keeps the other
			// tools usable even if one schema is malformed.
			schemaMap = map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			}
		}
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  schemaMap,
			},
		}
	}
	return result
}
