package reasoning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/civicworks/copilot/pkg/models"
)

const defaultAnthropicModel = "claude-sonnet-4-20250514"

// AnthropicBackend implements Backend against Anthropic's Messages API.
// A single non-streaming request per decision: the engine needs a complete
// verdict, not incremental tokens.
type AnthropicBackend struct {
	client       anthropic.Client
	defaultModel string
	maxTokens    int
}

// AnthropicConfig holds configuration for the Anthropic backend.
type AnthropicConfig struct {
	// APIKey is the Anthropic API key (required).
	APIKey string

	// BaseURL overrides the default API base URL.
	BaseURL string

	// Model is used for every decision. Default: claude-sonnet-4-20250514.
	Model string

	// MaxTokens bounds each reply. Default: 1024 — decisions are short.
	MaxTokens int
}

// NewAnthropicBackend creates an Anthropic-backed reasoning backend.
func NewAnthropicBackend(cfg AnthropicConfig) (*AnthropicBackend, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = defaultAnthropicModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}

	options := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		options = append(options, option.WithBaseURL(cfg.BaseURL))
	}

	return &AnthropicBackend{
		client:       anthropic.NewClient(options...),
		defaultModel: cfg.Model,
		maxTokens:    cfg.MaxTokens,
	}, nil
}

// Name returns the backend identifier used in metrics and logs.
func (b *AnthropicBackend) Name() string {
	return "anthropic"
}

// Decide sends the conversation and tool catalog to the Messages API and
// interprets the response. A tool_use block wins over accompanying text.
func (b *AnthropicBackend) Decide(ctx context.Context, req *Request) (*Decision, error) {
	messages, err := convertAnthropicMessages(req.Messages)
	if err != nil {
		return nil, fmt.Errorf("anthropic: failed to convert messages: %w", err)
	}
	if len(messages) == 0 {
		return nil, errors.New("anthropic: conversation is empty")
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = b.maxTokens
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(b.defaultModel),
		Messages:  messages,
		MaxTokens: int64(maxTokens),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{
			{Type: "text", Text: req.System},
		}
	}
	if len(req.Tools) > 0 {
		tools, err := convertAnthropicTools(req.Tools)
		if err != nil {
			return nil, fmt.Errorf("anthropic: failed to convert tools: %w", err)
		}
		params.Tools = tools
	}

	msg, err := b.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic: request failed: %w", err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			text.WriteString(variant.Text)
		case anthropic.ToolUseBlock:
			return &Decision{
				Kind:     DecisionTool,
				ToolName: variant.Name,
				Args:     json.RawMessage(variant.JSON.Input.Raw()),
			}, nil
		}
	}
	if text.Len() == 0 {
		return nil, errors.New("anthropic: response contained no text or tool use")
	}
	return &Decision{Kind: DecisionText, Content: text.String()}, nil
}

// convertAnthropicMessages maps conversation history to Anthropic message
// params. The Messages API has no system role inside the message list, so
// system-role history entries (tool outcomes, cancellation notes) travel as
// user turns — they are context the model should see, not instructions.
func convertAnthropicMessages(messages []*models.Message) ([]anthropic.MessageParam, error) {
	var result []anthropic.MessageParam
	for _, msg := range messages {
		if msg == nil || msg.Content == "" {
			continue
		}
		block := anthropic.NewTextBlock(msg.Content)
		switch msg.Role {
		case models.RoleAssistant:
			result = append(result, anthropic.NewAssistantMessage(block))
		case models.RoleUser, models.RoleSystem:
			result = append(result, anthropic.NewUserMessage(block))
		default:
			return nil, fmt.Errorf("unsupported role %q", msg.Role)
		}
	}
	return result, nil
}

func convertAnthropicTools(tools []ToolSpec) ([]anthropic.ToolUnionParam, error) {
	var result []anthropic.ToolUnionParam
	for _, tool := range tools {
		var schema anthropic.ToolInputSchemaParam
		if len(tool.InputSchema) > 0 {
			if err := json.Unmarshal(tool.InputSchema, &schema); err != nil {
				return nil, fmt.Errorf("invalid tool schema for %s: %w", tool.Name, err)
			}
		}
		toolParam := anthropic.ToolUnionParamOfTool(schema, tool.Name)
		if toolParam.OfTool == nil {
			return nil, fmt.Errorf("invalid tool schema for %s: missing tool definition", tool.Name)
		}
		toolParam.OfTool.Description = anthropic.String(tool.Description)
		result = append(result, toolParam)
	}
	return result, nil
}
