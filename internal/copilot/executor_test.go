package copilot

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/civicworks/copilot/pkg/models"
)

func TestDefaultToolExecConfig(t *testing.T) {
	cfg := DefaultToolExecConfig()
	if cfg.PerToolTimeout != 30*time.Second {
		t.Fatalf("PerToolTimeout = %v, want 30s", cfg.PerToolTimeout)
	}
}

func TestExecuteSuccess(t *testing.T) {
	r := NewToolRegistry()
	var calls atomic.Int32
	def := testToolDef("get_pilot", RiskSafe)
	def.Handler = func(ctx context.Context, args json.RawMessage) (*models.ToolResult, error) {
		calls.Add(1)
		return &models.ToolResult{Output: "pilot details"}, nil
	}
	if err := r.Register(def); err != nil {
		t.Fatalf("Register: %v", err)
	}

	e := NewToolExecutor(r, ToolExecConfig{}, testLogger())
	result, err := e.Execute(context.Background(), &models.ToolCallProposal{
		ID:       "prop-1",
		ToolName: "get_pilot",
		Args:     json.RawMessage(`{"id": "pl-001"}`),
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Output != "pilot details" {
		t.Fatalf("Output = %q", result.Output)
	}
	if result.ToolName != "get_pilot" {
		t.Fatalf("ToolName = %q, want backfilled tool name", result.ToolName)
	}
	if result.CompletedAt.IsZero() {
		t.Fatal("CompletedAt not backfilled")
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("handler ran %d times, want exactly 1", got)
	}
}

func TestExecuteUnknownTool(t *testing.T) {
	e := NewToolExecutor(NewToolRegistry(), ToolExecConfig{}, testLogger())
	_, err := e.Execute(context.Background(), &models.ToolCallProposal{ToolName: "nope"})
	if !errors.Is(err, ErrUnknownTool) {
		t.Fatalf("Execute = %v, want ErrUnknownTool", err)
	}
}

func TestExecuteInvalidArguments(t *testing.T) {
	r := NewToolRegistry()
	var calls atomic.Int32
	def := testToolDef("get_pilot", RiskSafe)
	def.Handler = func(ctx context.Context, args json.RawMessage) (*models.ToolResult, error) {
		calls.Add(1)
		return &models.ToolResult{}, nil
	}
	if err := r.Register(def); err != nil {
		t.Fatalf("Register: %v", err)
	}

	e := NewToolExecutor(r, ToolExecConfig{}, testLogger())
	_, err := e.Execute(context.Background(), &models.ToolCallProposal{
		ToolName: "get_pilot",
		Args:     json.RawMessage(`{"id": 17}`),
	})

	var invalidArgs *InvalidArgumentsError
	if !errors.As(err, &invalidArgs) {
		t.Fatalf("Execute = %v, want InvalidArgumentsError", err)
	}
	// Validation failures must stop the handler from ever running.
	if got := calls.Load(); got != 0 {
		t.Fatalf("handler ran %d times on invalid arguments", got)
	}
}

func TestExecuteHandlerError(t *testing.T) {
	r := NewToolRegistry()
	boom := errors.New("directory unavailable")
	def := testToolDef("get_pilot", RiskSafe)
	def.Handler = func(ctx context.Context, args json.RawMessage) (*models.ToolResult, error) {
		return nil, boom
	}
	if err := r.Register(def); err != nil {
		t.Fatalf("Register: %v", err)
	}

	e := NewToolExecutor(r, ToolExecConfig{}, testLogger())
	_, err := e.Execute(context.Background(), &models.ToolCallProposal{
		ToolName: "get_pilot",
		Args:     json.RawMessage(`{"id": "pl-001"}`),
	})

	var execErr *ToolExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("Execute = %v, want ToolExecutionError", err)
	}
	if !errors.Is(err, boom) {
		t.Fatal("ToolExecutionError does not unwrap to the handler error")
	}
}

func TestExecuteTimeout(t *testing.T) {
	r := NewToolRegistry()
	def := testToolDef("slow_tool", RiskSafe)
	def.InputSchema = nil
	def.Handler = func(ctx context.Context, args json.RawMessage) (*models.ToolResult, error) {
		select {
		case <-time.After(5 * time.Second):
			return &models.ToolResult{Output: "too late"}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := r.Register(def); err != nil {
		t.Fatalf("Register: %v", err)
	}

	e := NewToolExecutor(r, ToolExecConfig{PerToolTimeout: 50 * time.Millisecond}, testLogger())
	start := time.Now()
	_, err := e.Execute(context.Background(), &models.ToolCallProposal{ToolName: "slow_tool"})
	elapsed := time.Since(start)

	var execErr *ToolExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("Execute = %v, want ToolExecutionError", err)
	}
	if !strings.Contains(err.Error(), "timed out") {
		t.Fatalf("error %q does not mention the timeout", err)
	}
	if elapsed > 2*time.Second {
		t.Fatalf("Execute took %v, timeout did not fire", elapsed)
	}
}

func TestExecuteContextCancellation(t *testing.T) {
	r := NewToolRegistry()
	def := testToolDef("slow_tool", RiskSafe)
	def.InputSchema = nil
	def.Handler = func(ctx context.Context, args json.RawMessage) (*models.ToolResult, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err := r.Register(def); err != nil {
		t.Fatalf("Register: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	e := NewToolExecutor(r, ToolExecConfig{PerToolTimeout: 10 * time.Second}, testLogger())
	_, err := e.Execute(ctx, &models.ToolCallProposal{ToolName: "slow_tool"})
	if err == nil {
		t.Fatal("Execute succeeded despite cancellation")
	}
}

func TestExecuteNilProposal(t *testing.T) {
	e := NewToolExecutor(NewToolRegistry(), ToolExecConfig{}, testLogger())
	if _, err := e.Execute(context.Background(), nil); err == nil {
		t.Fatal("Execute accepted a nil proposal")
	}
}

func TestExecuteNilHandlerResult(t *testing.T) {
	r := NewToolRegistry()
	def := testToolDef("odd_tool", RiskSafe)
	def.InputSchema = nil
	def.Handler = func(ctx context.Context, args json.RawMessage) (*models.ToolResult, error) {
		return nil, nil
	}
	if err := r.Register(def); err != nil {
		t.Fatalf("Register: %v", err)
	}

	e := NewToolExecutor(r, ToolExecConfig{}, testLogger())
	_, err := e.Execute(context.Background(), &models.ToolCallProposal{ToolName: "odd_tool"})
	var execErr *ToolExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("Execute = %v, want ToolExecutionError for nil result", err)
	}
}
