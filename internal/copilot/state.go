package copilot

import (
	"fmt"
	"sync"
	"time"

	"github.com/civicworks/copilot/pkg/models"
)

// Status is the execution state of a session's copilot turn.
type Status string

const (
	// StatusIdle means no message is being processed.
	StatusIdle Status = "idle"
	// StatusThinking means the reasoning backend is deciding.
	StatusThinking Status = "thinking"
	// StatusAwaitingConfirmation means a proposal is parked waiting for the
	// user to confirm or cancel.
	StatusAwaitingConfirmation Status = "awaiting_confirmation"
	// StatusExecuting means a confirmed (or safe) tool is running.
	StatusExecuting Status = "executing"
	// StatusCompleted and StatusFailed are momentary marker states consumed
	// synchronously by the orchestrator, then reset to idle.
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// ExecutionState tracks one session's position in the confirmation state
// machine. It is created on the session's first message and mutated only
// through the transition methods below; UI code observes it read-only.
//
// The orchestrator serializes transitions per session and rejects
// interleaved calls with ErrSessionBusy. The internal lock exists for the
// read-only accessors, which status endpoints call concurrently with an
// in-flight turn.
type ExecutionState struct {
	mu         sync.RWMutex
	status     Status
	proposal   *models.ToolCallProposal
	lastResult *models.ToolResult
	lastErr    error
}

// NewExecutionState returns a state machine in the idle state.
func NewExecutionState() *ExecutionState {
	return &ExecutionState{status: StatusIdle}
}

// Status returns the current state.
func (s *ExecutionState) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// PendingProposal returns the parked proposal, present only in
// awaiting_confirmation and executing. Proposals are immutable once parked,
// so sharing the pointer with observers is safe.
func (s *ExecutionState) PendingProposal() *models.ToolCallProposal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.proposal
}

// LastResult returns the terminal result, present only in completed.
func (s *ExecutionState) LastResult() *models.ToolResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastResult
}

// LastError returns the terminal error, present only in failed.
func (s *ExecutionState) LastError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

// BeginReasoning transitions idle -> thinking.
func (s *ExecutionState) BeginReasoning() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusIdle {
		return fmt.Errorf("%w: begin reasoning from %s", ErrInvalidTransition, s.status)
	}
	s.status = StatusThinking
	return nil
}

// ResolveWithText transitions thinking -> idle: the reasoning backend decided
// no tool is needed.
func (s *ExecutionState) ResolveWithText() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusThinking {
		return fmt.Errorf("%w: resolve with text from %s", ErrInvalidTransition, s.status)
	}
	s.reset()
	return nil
}

// ProposeTool parks a proposal and transitions thinking ->
// awaiting_confirmation. Only non-safe tools pass through here; safe tools
// use BeginExecuting directly. A second proposal while one is outstanding
// fails with ErrConcurrentProposal, enforcing the at-most-one-outstanding
// invariant.
func (s *ExecutionState) ProposeTool(proposal *models.ToolCallProposal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == StatusAwaitingConfirmation || s.status == StatusExecuting {
		return fmt.Errorf("%w: %s", ErrConcurrentProposal, s.proposal.ToolName)
	}
	if s.status != StatusThinking {
		return fmt.Errorf("%w: propose tool from %s", ErrInvalidTransition, s.status)
	}
	if proposal == nil {
		return fmt.Errorf("proposal is required")
	}
	s.status = StatusAwaitingConfirmation
	s.proposal = proposal
	return nil
}

// BeginExecuting transitions thinking -> executing for a safe tool that
// skips the confirmation gate entirely.
func (s *ExecutionState) BeginExecuting(proposal *models.ToolCallProposal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == StatusAwaitingConfirmation || s.status == StatusExecuting {
		return fmt.Errorf("%w: %s", ErrConcurrentProposal, s.proposal.ToolName)
	}
	if s.status != StatusThinking {
		return fmt.Errorf("%w: begin executing from %s", ErrInvalidTransition, s.status)
	}
	if proposal == nil {
		return fmt.Errorf("proposal is required")
	}
	s.status = StatusExecuting
	s.proposal = proposal
	return nil
}

// Confirm transitions awaiting_confirmation -> executing. If the proposal's
// confirmation window has expired the proposal is discarded, the state resets
// to idle and ErrConfirmationExpired is returned alongside the discarded
// proposal, so callers can still say which action lapsed: a dangerous action
// must not stay armed indefinitely.
func (s *ExecutionState) Confirm(now time.Time) (*models.ToolCallProposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusAwaitingConfirmation {
		return nil, ErrNoPendingProposal
	}
	if s.proposal.Expired(now) {
		proposal := s.proposal
		s.reset()
		return proposal, ErrConfirmationExpired
	}
	s.status = StatusExecuting
	return s.proposal, nil
}

// Cancel discards the parked proposal and transitions awaiting_confirmation
// -> idle. No tool runs. Cancellation is effective only while awaiting
// confirmation; there is no cancellation of an in-flight execution.
func (s *ExecutionState) Cancel() (*models.ToolCallProposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusAwaitingConfirmation {
		return nil, ErrNoPendingProposal
	}
	proposal := s.proposal
	s.reset()
	return proposal, nil
}

// ExpireIfNeeded discards a proposal whose confirmation window has closed and
// resets to idle. Returns the expired proposal, or nil if nothing expired.
// Expiry is evaluated lazily at the next touch; no background timer runs.
func (s *ExecutionState) ExpireIfNeeded(now time.Time) *models.ToolCallProposal {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusAwaitingConfirmation || !s.proposal.Expired(now) {
		return nil
	}
	proposal := s.proposal
	s.reset()
	return proposal
}

// Settle records the executor's terminal outcome, executing -> completed or
// failed. The marker state is read back by the orchestrator, which then calls
// Reset before returning to the caller.
func (s *ExecutionState) Settle(result *models.ToolResult, err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusExecuting {
		return fmt.Errorf("%w: settle from %s", ErrInvalidTransition, s.status)
	}
	if err != nil {
		s.status = StatusFailed
		s.lastErr = err
		s.lastResult = nil
		return nil
	}
	s.status = StatusCompleted
	s.lastResult = result
	s.lastErr = nil
	return nil
}

// Reset returns the machine to idle and clears the pending proposal. Called
// after every terminal outcome or explicit cancellation. Durability of what
// happened lives only in the session history.
func (s *ExecutionState) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset()
}

// reset assumes s.mu is held.
func (s *ExecutionState) reset() {
	s.status = StatusIdle
	s.proposal = nil
	s.lastResult = nil
	s.lastErr = nil
}
