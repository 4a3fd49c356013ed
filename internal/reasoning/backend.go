// Package reasoning defines the decision interface the copilot engine
// consults to turn a conversation into either a text reply or a tool
// selection, plus adapters for Anthropic and OpenAI backends.
package reasoning

import (
	"context"
	"encoding/json"

	"github.com/civicworks/copilot/pkg/models"
)

// DecisionKind discriminates a backend's decision.
type DecisionKind string

const (
	// DecisionText means the backend answered with plain text.
	DecisionText DecisionKind = "text"
	// DecisionTool means the backend selected a tool to invoke.
	DecisionTool DecisionKind = "tool"
)

// Decision is the backend's verdict for one turn. For DecisionTool, Args are
// carried exactly as the backend produced them, unvalidated.
type Decision struct {
	Kind     DecisionKind
	Content  string
	ToolName string
	Args     json.RawMessage
}

// ToolSpec describes a registered tool to the backend: name, purpose, and
// the JSON Schema its arguments must satisfy.
type ToolSpec struct {
	Name        string
	Description string
	InputSchema json.RawMessage
}

// Request carries the full conversation context for one decision.
type Request struct {
	// System is the system prompt framing the assistant's role.
	System string

	// Messages is the conversation history in chronological order,
	// ending with the user's latest message.
	Messages []*models.Message

	// Tools is the catalog of tools the backend may select from.
	Tools []ToolSpec

	// MaxTokens bounds the generated reply. Zero uses the backend default.
	MaxTokens int
}

// Backend decides between a text reply and a tool selection.
//
// Implementations must be safe for concurrent use; the orchestrator calls
// Decide from independent sessions in parallel. Failures (timeouts,
// malformed output) are returned as errors and converted to user-facing
// text by the orchestrator.
type Backend interface {
	Decide(ctx context.Context, req *Request) (*Decision, error)
	Name() string
}
