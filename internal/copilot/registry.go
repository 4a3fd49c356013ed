package copilot

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/civicworks/copilot/pkg/models"
)

// RiskLevel classifies how dangerous a tool is and whether a human must
// confirm it before it runs.
type RiskLevel string

const (
	// RiskSafe means the tool is read-only and runs without confirmation.
	RiskSafe RiskLevel = "safe"
	// RiskRequiresConfirmation means the tool mutates domain data and must be
	// confirmed by the user before executing.
	RiskRequiresConfirmation RiskLevel = "requires_confirmation"
	// RiskIrreversible means the tool's effect cannot be undone. It is gated
	// the same way as requires_confirmation but surfaced distinctly to the UI.
	RiskIrreversible RiskLevel = "irreversible"
)

// RequiresConfirmation reports whether tools at this risk level pass through
// the confirmation gate.
func (r RiskLevel) RequiresConfirmation() bool {
	return r != RiskSafe
}

// Valid reports whether r is one of the known risk levels.
func (r RiskLevel) Valid() bool {
	switch r {
	case RiskSafe, RiskRequiresConfirmation, RiskIrreversible:
		return true
	}
	return false
}

// Handler is the function a tool executes with validated arguments.
// Handlers are assumed to have side effects and are never retried
// automatically.
type Handler func(ctx context.Context, args json.RawMessage) (*models.ToolResult, error)

// ToolDefinition is the static descriptor for a registered tool.
type ToolDefinition struct {
	// Name is the unique key the reasoning backend selects the tool by.
	Name string

	// Description tells the reasoning backend what the tool does.
	Description string

	// InputSchema is the JSON Schema the tool's arguments are validated
	// against before the handler runs.
	InputSchema json.RawMessage

	// Risk determines whether the tool passes through the confirmation gate.
	Risk RiskLevel

	// Handler executes the tool.
	Handler Handler
}

// registeredTool pairs a definition with its compiled schema.
type registeredTool struct {
	def    ToolDefinition
	schema *jsonschema.Schema
}

// ToolRegistry is a static mapping from tool name to definition. Registration
// happens once at process start and the registry is read-only afterwards, so
// the set of effectful operations reachable from natural language is fully
// enumerable and auditable.
type ToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]*registeredTool
}

// NewToolRegistry creates an empty registry ready for startup registration.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{
		tools: make(map[string]*registeredTool),
	}
}

// Register adds a tool definition. It fails with ErrDuplicateTool if the name
// is taken, and with a compile error if the input schema is invalid. Both are
// fatal at startup: a process must not accept traffic with a broken catalog.
func (r *ToolRegistry) Register(def ToolDefinition) error {
	if def.Name == "" {
		return fmt.Errorf("tool name is required")
	}
	if def.Handler == nil {
		return fmt.Errorf("tool %s: handler is required", def.Name)
	}
	if !def.Risk.Valid() {
		return fmt.Errorf("tool %s: unknown risk level %q", def.Name, def.Risk)
	}

	schema, err := compileSchema(def.Name, def.InputSchema)
	if err != nil {
		return fmt.Errorf("tool %s: compile input schema: %w", def.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[def.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, def.Name)
	}
	r.tools[def.Name] = &registeredTool{def: def, schema: schema}
	return nil
}

// Get returns the definition for name or ErrUnknownTool.
func (r *ToolRegistry) Get(name string) (*ToolDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	def := tool.def
	return &def, nil
}

// Has reports whether name resolves to a registered tool.
func (r *ToolRegistry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// Definitions returns all registered tools sorted by name, for handing to the
// reasoning backend and for catalog listings.
func (r *ToolRegistry) Definitions() []ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]ToolDefinition, 0, len(r.tools))
	for _, tool := range r.tools {
		defs = append(defs, tool.def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// validate checks args against the tool's compiled input schema.
func (r *ToolRegistry) validate(name string, args json.RawMessage) error {
	r.mu.RLock()
	tool, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	if tool.schema == nil {
		return nil
	}

	var decoded any
	if len(args) == 0 {
		decoded = map[string]any{}
	} else if err := json.Unmarshal(args, &decoded); err != nil {
		return &InvalidArgumentsError{ToolName: name, Details: "arguments are not valid JSON", Cause: err}
	}
	if err := tool.schema.Validate(decoded); err != nil {
		return &InvalidArgumentsError{ToolName: name, Details: err.Error(), Cause: err}
	}
	return nil
}

func compileSchema(name string, schema json.RawMessage) (*jsonschema.Schema, error) {
	if len(schema) == 0 {
		return nil, nil
	}
	return jsonschema.CompileString(name+".schema.json", string(schema))
}
