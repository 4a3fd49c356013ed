package copilot

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for copilot operations. Caller-misuse guards are returned
// synchronously so wiring bugs surface during development instead of being
// swallowed.
var (
	// ErrDuplicateTool indicates a tool name was registered twice.
	// Registration happens once at startup, so this is fatal.
	ErrDuplicateTool = errors.New("tool already registered")

	// ErrUnknownTool indicates a requested tool doesn't exist in the registry.
	ErrUnknownTool = errors.New("unknown tool")

	// ErrSessionBusy indicates a second operation arrived for a session while
	// an earlier one is still in flight.
	ErrSessionBusy = errors.New("session busy")

	// ErrConcurrentProposal indicates a tool was proposed while another
	// proposal is still awaiting confirmation or executing.
	ErrConcurrentProposal = errors.New("a proposal is already outstanding")

	// ErrNoPendingProposal indicates Confirm or Cancel was called with no
	// proposal awaiting confirmation.
	ErrNoPendingProposal = errors.New("no pending proposal")

	// ErrConfirmationExpired indicates the confirmation window for a pending
	// proposal closed before the user decided.
	ErrConfirmationExpired = errors.New("confirmation window expired")

	// ErrInvalidTransition indicates a state machine transition was requested
	// from a state that doesn't permit it.
	ErrInvalidTransition = errors.New("invalid state transition")
)

// InvalidArgumentsError reports that a proposal's arguments failed validation
// against the tool's input schema. Details carries the validator's output so
// the user can see what was wrong.
type InvalidArgumentsError struct {
	ToolName string
	Details  string
	Cause    error
}

func (e *InvalidArgumentsError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("invalid arguments for tool %s: %s", e.ToolName, e.Details)
	}
	return fmt.Sprintf("invalid arguments for tool %s", e.ToolName)
}

func (e *InvalidArgumentsError) Unwrap() error {
	return e.Cause
}

// ToolExecutionError reports a failure inside a tool handler. The session
// recovers: state resets to idle and the failure is recorded in history.
type ToolExecutionError struct {
	ToolName string
	Cause    error
}

func (e *ToolExecutionError) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("tool %s failed", e.ToolName))
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, ": ")
}

func (e *ToolExecutionError) Unwrap() error {
	return e.Cause
}

// ReasoningError reports a failure from the reasoning backend (timeout,
// malformed output). The orchestrator converts it to a user-facing text
// reply; it never propagates past the ProcessMessage boundary.
type ReasoningError struct {
	Backend string
	Cause   error
}

func (e *ReasoningError) Error() string {
	if e.Backend != "" {
		return fmt.Sprintf("reasoning backend %s: %v", e.Backend, e.Cause)
	}
	return fmt.Sprintf("reasoning backend: %v", e.Cause)
}

func (e *ReasoningError) Unwrap() error {
	return e.Cause
}

// IsRecoverable reports whether an error leaves the session usable. All
// copilot errors except registration-time failures are recoverable: the
// session is reset to idle and the next message starts fresh.
func IsRecoverable(err error) bool {
	return !errors.Is(err, ErrDuplicateTool)
}
