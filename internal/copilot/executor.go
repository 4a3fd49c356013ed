package copilot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/civicworks/copilot/internal/observability"
	"github.com/civicworks/copilot/pkg/models"
)

// ToolExecConfig configures tool execution behavior.
type ToolExecConfig struct {
	// PerToolTimeout is the timeout for an individual tool execution.
	// Default: 30 seconds.
	PerToolTimeout time.Duration
}

// DefaultToolExecConfig returns sensible execution defaults.
func DefaultToolExecConfig() ToolExecConfig {
	return ToolExecConfig{
		PerToolTimeout: 30 * time.Second,
	}
}

// ToolExecutor runs a proposal's tool with validated arguments. It holds no
// domain state and is safe to construct fresh per call; execution is
// single-attempt because handlers have side effects that must not be
// silently duplicated. Retrying is the human's decision, not the executor's.
type ToolExecutor struct {
	registry *ToolRegistry
	config   ToolExecConfig
	logger   *slog.Logger
	metrics  *observability.Metrics
	tracer   *observability.Tracer
}

// NewToolExecutor creates a tool executor over the given registry. Defaults
// are applied for zero config fields; logger may be nil.
func NewToolExecutor(registry *ToolRegistry, config ToolExecConfig, logger *slog.Logger) *ToolExecutor {
	if config.PerToolTimeout <= 0 {
		config.PerToolTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ToolExecutor{
		registry: registry,
		config:   config,
		logger:   logger,
	}
}

// WithObservability attaches metrics and tracing. Either may be nil.
func (e *ToolExecutor) WithObservability(metrics *observability.Metrics, tracer *observability.Tracer) *ToolExecutor {
	e.metrics = metrics
	e.tracer = tracer
	return e
}

// Execute resolves the proposal's tool, validates its arguments against the
// tool's input schema, and invokes the handler with a per-tool timeout.
//
// The registry lookup is re-checked here even though the proposal was
// validated at proposal time: proposal and execution are separated by an
// arbitrary human delay.
func (e *ToolExecutor) Execute(ctx context.Context, proposal *models.ToolCallProposal) (*models.ToolResult, error) {
	if proposal == nil {
		return nil, errors.New("proposal is required")
	}

	def, err := e.registry.Get(proposal.ToolName)
	if err != nil {
		e.recordOutcome(proposal.ToolName, "error", 0)
		return nil, err
	}

	if err := e.registry.validate(proposal.ToolName, proposal.Args); err != nil {
		e.recordOutcome(proposal.ToolName, "error", 0)
		return nil, err
	}

	start := time.Now()
	result, err := e.invokeWithTimeout(ctx, def, proposal)
	duration := time.Since(start)

	if err != nil {
		e.logger.Warn("tool execution failed",
			"tool", proposal.ToolName,
			"proposal_id", proposal.ID,
			"duration_ms", duration.Milliseconds(),
			"error", err,
		)
		e.recordOutcome(proposal.ToolName, "error", duration.Seconds())
		return nil, &ToolExecutionError{ToolName: proposal.ToolName, Cause: err}
	}

	e.logger.Info("tool executed",
		"tool", proposal.ToolName,
		"proposal_id", proposal.ID,
		"duration_ms", duration.Milliseconds(),
	)
	e.recordOutcome(proposal.ToolName, "success", duration.Seconds())
	return result, nil
}

// invokeWithTimeout runs the handler in its own goroutine so a hung tool
// cannot wedge the session past its deadline.
func (e *ToolExecutor) invokeWithTimeout(ctx context.Context, def *ToolDefinition, proposal *models.ToolCallProposal) (*models.ToolResult, error) {
	type execResult struct {
		result *models.ToolResult
		err    error
	}

	toolCtx, cancel := context.WithTimeout(ctx, e.config.PerToolTimeout)
	defer cancel()

	if e.tracer != nil {
		var span trace.Span
		toolCtx, span = e.tracer.TraceToolExecution(toolCtx, def.Name)
		defer span.End()
	}

	resultChan := make(chan execResult, 1)
	go func() {
		result, err := def.Handler(toolCtx, proposal.Args)
		// Non-blocking send: if the context is already done the result is
		// discarded and the goroutine must not leak.
		select {
		case resultChan <- execResult{result: result, err: err}:
		default:
			e.logger.Warn("tool completed after timeout, result discarded",
				"tool", def.Name,
				"proposal_id", proposal.ID,
			)
		}
	}()

	select {
	case <-toolCtx.Done():
		if errors.Is(toolCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("tool execution timed out after %v", e.config.PerToolTimeout)
		}
		return nil, fmt.Errorf("tool execution canceled: %w", toolCtx.Err())
	case res := <-resultChan:
		if res.err != nil {
			return nil, res.err
		}
		if res.result == nil {
			return nil, errors.New("tool returned no result")
		}
		result := *res.result
		if result.ToolName == "" {
			result.ToolName = def.Name
		}
		if result.CompletedAt.IsZero() {
			result.CompletedAt = time.Now()
		}
		return &result, nil
	}
}

func (e *ToolExecutor) recordOutcome(toolName, status string, durationSeconds float64) {
	if e.metrics != nil {
		e.metrics.RecordToolExecution(toolName, status, durationSeconds)
	}
}
