package models

import (
	"encoding/json"
	"time"
)

// Role indicates the message author type.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one turn in a copilot conversation. Messages are immutable once
// appended to a session's history.
type Message struct {
	ID        string         `json:"id"`
	SessionID string         `json:"session_id"`
	Role      Role           `json:"role"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// ToolCallProposal is a candidate tool invocation selected by the reasoning
// backend but not yet executed. Args are carried unvalidated; validation
// happens at execution time against the tool's input schema.
type ToolCallProposal struct {
	ID         string          `json:"id"`
	SessionID  string          `json:"session_id"`
	ToolName   string          `json:"tool_name"`
	Args       json.RawMessage `json:"args"`
	ProposedAt time.Time       `json:"proposed_at"`
	ExpiresAt  time.Time       `json:"expires_at,omitempty"`
}

// Expired reports whether the proposal's confirmation window has closed.
// A zero ExpiresAt means the proposal never expires.
func (p *ToolCallProposal) Expired(now time.Time) bool {
	return !p.ExpiresAt.IsZero() && p.ExpiresAt.Before(now)
}

// ToolResult is the outcome of a successful tool execution.
type ToolResult struct {
	ToolName    string    `json:"tool_name"`
	Output      string    `json:"output"`
	CompletedAt time.Time `json:"completed_at"`
}
