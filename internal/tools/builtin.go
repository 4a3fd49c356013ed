// Package tools provides the builtin tool catalog for the municipal
// innovation platform: read-only lookups over pilots and challenges, and
// gated mutations that create, update, and delete them.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/civicworks/copilot/internal/copilot"
	"github.com/civicworks/copilot/pkg/models"
)

// Pilot is an innovation pilot project run by a municipality against a
// challenge.
type Pilot struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Municipality string    `json:"municipality"`
	ChallengeID  string    `json:"challenge_id,omitempty"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
}

// Challenge is a problem statement a municipality publishes for pilots to
// address.
type Challenge struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Status string `json:"status"`
}

// NewPilot carries the fields required to create a pilot.
type NewPilot struct {
	Title        string `json:"title"`
	Municipality string `json:"municipality"`
	ChallengeID  string `json:"challenge_id,omitempty"`
}

// ChallengeStatuses lists the allowed challenge lifecycle states.
var ChallengeStatuses = []string{"draft", "open", "in_review", "closed"}

// Directory is the platform data backend the builtin tools act on. The
// production implementation talks to the platform API; tests and the demo
// use MemoryDirectory.
type Directory interface {
	SearchPilots(ctx context.Context, query, status string) ([]*Pilot, error)
	GetPilot(ctx context.Context, id string) (*Pilot, error)
	CreatePilot(ctx context.Context, p NewPilot) (*Pilot, error)
	UpdateChallengeStatus(ctx context.Context, challengeID, status string) (*Challenge, error)
	DeletePilot(ctx context.Context, id string) error
}

// Register adds the builtin tool catalog to the registry. Read-only tools
// register as safe; mutations require confirmation; deletion is marked
// irreversible.
func Register(registry *copilot.ToolRegistry, dir Directory) error {
	defs := []copilot.ToolDefinition{
		{
			Name:        "search_pilots",
			Description: "Search pilot projects by free-text query and optional status filter. Returns matching pilots with their id, title, municipality, and status.",
			Risk:        copilot.RiskSafe,
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"query": {"type": "string", "description": "Free-text search over title and municipality."},
					"status": {"type": "string", "enum": ["proposed", "active", "completed", "cancelled"], "description": "Optional status filter."}
				},
				"additionalProperties": false
			}`),
			Handler: searchPilots(dir),
		},
		{
			Name:        "get_pilot",
			Description: "Fetch a single pilot project by its id.",
			Risk:        copilot.RiskSafe,
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"id": {"type": "string", "minLength": 1}
				},
				"required": ["id"],
				"additionalProperties": false
			}`),
			Handler: getPilot(dir),
		},
		{
			Name:        "create_pilot",
			Description: "Create a new pilot project for a municipality, optionally linked to a challenge.",
			Risk:        copilot.RiskRequiresConfirmation,
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"title": {"type": "string", "minLength": 1},
					"municipality": {"type": "string", "minLength": 1},
					"challenge_id": {"type": "string"}
				},
				"required": ["title", "municipality"],
				"additionalProperties": false
			}`),
			Handler: createPilot(dir),
		},
		{
			Name:        "update_challenge_status",
			Description: "Move a challenge to a new lifecycle status (draft, open, in_review, closed).",
			Risk:        copilot.RiskRequiresConfirmation,
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"challenge_id": {"type": "string", "minLength": 1},
					"status": {"type": "string", "enum": ["draft", "open", "in_review", "closed"]}
				},
				"required": ["challenge_id", "status"],
				"additionalProperties": false
			}`),
			Handler: updateChallengeStatus(dir),
		},
		{
			Name:        "delete_pilot",
			Description: "Permanently delete a pilot project. This cannot be undone.",
			Risk:        copilot.RiskIrreversible,
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"id": {"type": "string", "minLength": 1}
				},
				"required": ["id"],
				"additionalProperties": false
			}`),
			Handler: deletePilot(dir),
		},
	}

	for _, def := range defs {
		if err := registry.Register(def); err != nil {
			return fmt.Errorf("register %s: %w", def.Name, err)
		}
	}
	return nil
}

func searchPilots(dir Directory) copilot.Handler {
	return func(ctx context.Context, args json.RawMessage) (*models.ToolResult, error) {
		var in struct {
			Query  string `json:"query"`
			Status string `json:"status"`
		}
		if err := json.Unmarshal(args, &in); err != nil {
			return nil, fmt.Errorf("decode arguments: %w", err)
		}
		pilots, err := dir.SearchPilots(ctx, in.Query, in.Status)
		if err != nil {
			return nil, err
		}
		if len(pilots) == 0 {
			return result("search_pilots", "No pilots matched."), nil
		}
		var b strings.Builder
		fmt.Fprintf(&b, "Found %d pilot(s):\n", len(pilots))
		for _, p := range pilots {
			fmt.Fprintf(&b, "- %s: %s (%s, %s)\n", p.ID, p.Title, p.Municipality, p.Status)
		}
		return result("search_pilots", b.String()), nil
	}
}

func getPilot(dir Directory) copilot.Handler {
	return func(ctx context.Context, args json.RawMessage) (*models.ToolResult, error) {
		var in struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(args, &in); err != nil {
			return nil, fmt.Errorf("decode arguments: %w", err)
		}
		pilot, err := dir.GetPilot(ctx, in.ID)
		if err != nil {
			return nil, err
		}
		out, err := json.MarshalIndent(pilot, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("encode pilot: %w", err)
		}
		return result("get_pilot", string(out)), nil
	}
}

func createPilot(dir Directory) copilot.Handler {
	return func(ctx context.Context, args json.RawMessage) (*models.ToolResult, error) {
		var in NewPilot
		if err := json.Unmarshal(args, &in); err != nil {
			return nil, fmt.Errorf("decode arguments: %w", err)
		}
		pilot, err := dir.CreatePilot(ctx, in)
		if err != nil {
			return nil, err
		}
		return result("create_pilot",
			fmt.Sprintf("Created pilot %s: %q for %s.", pilot.ID, pilot.Title, pilot.Municipality)), nil
	}
}

func updateChallengeStatus(dir Directory) copilot.Handler {
	return func(ctx context.Context, args json.RawMessage) (*models.ToolResult, error) {
		var in struct {
			ChallengeID string `json:"challenge_id"`
			Status      string `json:"status"`
		}
		if err := json.Unmarshal(args, &in); err != nil {
			return nil, fmt.Errorf("decode arguments: %w", err)
		}
		challenge, err := dir.UpdateChallengeStatus(ctx, in.ChallengeID, in.Status)
		if err != nil {
			return nil, err
		}
		return result("update_challenge_status",
			fmt.Sprintf("Challenge %s (%q) is now %s.", challenge.ID, challenge.Title, challenge.Status)), nil
	}
}

func deletePilot(dir Directory) copilot.Handler {
	return func(ctx context.Context, args json.RawMessage) (*models.ToolResult, error) {
		var in struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(args, &in); err != nil {
			return nil, fmt.Errorf("decode arguments: %w", err)
		}
		if err := dir.DeletePilot(ctx, in.ID); err != nil {
			return nil, err
		}
		return result("delete_pilot", fmt.Sprintf("Deleted pilot %s.", in.ID)), nil
	}
}

func result(toolName, output string) *models.ToolResult {
	return &models.ToolResult{
		ToolName:    toolName,
		Output:      output,
		CompletedAt: time.Now(),
	}
}
