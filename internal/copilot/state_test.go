package copilot

import (
	"errors"
	"testing"
	"time"

	"github.com/civicworks/copilot/pkg/models"
)

func newTestProposal(tool string, expiresAt time.Time) *models.ToolCallProposal {
	return &models.ToolCallProposal{
		ID:         "prop-1",
		SessionID:  "sess-1",
		ToolName:   tool,
		Args:       []byte(`{}`),
		ProposedAt: time.Now(),
		ExpiresAt:  expiresAt,
	}
}

func TestExecutionStateStartsIdle(t *testing.T) {
	s := NewExecutionState()
	if got := s.Status(); got != StatusIdle {
		t.Fatalf("Status() = %s, want %s", got, StatusIdle)
	}
	if s.PendingProposal() != nil {
		t.Fatal("new state has a pending proposal")
	}
}

func TestTextTurn(t *testing.T) {
	s := NewExecutionState()
	if err := s.BeginReasoning(); err != nil {
		t.Fatalf("BeginReasoning: %v", err)
	}
	if got := s.Status(); got != StatusThinking {
		t.Fatalf("Status() = %s, want %s", got, StatusThinking)
	}
	if err := s.ResolveWithText(); err != nil {
		t.Fatalf("ResolveWithText: %v", err)
	}
	if got := s.Status(); got != StatusIdle {
		t.Fatalf("Status() = %s, want %s", got, StatusIdle)
	}
}

func TestConfirmedToolTurn(t *testing.T) {
	s := NewExecutionState()
	proposal := newTestProposal("create_pilot", time.Now().Add(time.Minute))

	if err := s.BeginReasoning(); err != nil {
		t.Fatalf("BeginReasoning: %v", err)
	}
	if err := s.ProposeTool(proposal); err != nil {
		t.Fatalf("ProposeTool: %v", err)
	}
	if got := s.Status(); got != StatusAwaitingConfirmation {
		t.Fatalf("Status() = %s, want %s", got, StatusAwaitingConfirmation)
	}
	if got := s.PendingProposal(); got != proposal {
		t.Fatal("PendingProposal() did not return the parked proposal")
	}

	confirmed, err := s.Confirm(time.Now())
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if confirmed != proposal {
		t.Fatal("Confirm returned a different proposal")
	}
	if got := s.Status(); got != StatusExecuting {
		t.Fatalf("Status() = %s, want %s", got, StatusExecuting)
	}

	result := &models.ToolResult{ToolName: "create_pilot", Output: "done"}
	if err := s.Settle(result, nil); err != nil {
		t.Fatalf("Settle: %v", err)
	}
	if got := s.Status(); got != StatusCompleted {
		t.Fatalf("Status() = %s, want %s", got, StatusCompleted)
	}
	if s.LastResult() != result {
		t.Fatal("LastResult() did not return the settled result")
	}

	s.Reset()
	if got := s.Status(); got != StatusIdle {
		t.Fatalf("Status() after Reset = %s, want %s", got, StatusIdle)
	}
	if s.PendingProposal() != nil || s.LastResult() != nil {
		t.Fatal("Reset did not clear proposal and result")
	}
}

func TestSafeToolSkipsConfirmation(t *testing.T) {
	s := NewExecutionState()
	proposal := newTestProposal("search_pilots", time.Time{})

	if err := s.BeginReasoning(); err != nil {
		t.Fatalf("BeginReasoning: %v", err)
	}
	if err := s.BeginExecuting(proposal); err != nil {
		t.Fatalf("BeginExecuting: %v", err)
	}
	if got := s.Status(); got != StatusExecuting {
		t.Fatalf("Status() = %s, want %s", got, StatusExecuting)
	}
}

func TestCancelDiscardsProposal(t *testing.T) {
	s := NewExecutionState()
	proposal := newTestProposal("delete_pilot", time.Now().Add(time.Minute))

	mustReachAwaiting(t, s, proposal)

	cancelled, err := s.Cancel()
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if cancelled != proposal {
		t.Fatal("Cancel returned a different proposal")
	}
	if got := s.Status(); got != StatusIdle {
		t.Fatalf("Status() = %s, want %s", got, StatusIdle)
	}

	// Nothing left to confirm after a cancel.
	if _, err := s.Confirm(time.Now()); !errors.Is(err, ErrNoPendingProposal) {
		t.Fatalf("Confirm after Cancel = %v, want ErrNoPendingProposal", err)
	}
}

func TestConfirmWithoutProposal(t *testing.T) {
	s := NewExecutionState()
	if _, err := s.Confirm(time.Now()); !errors.Is(err, ErrNoPendingProposal) {
		t.Fatalf("Confirm on idle = %v, want ErrNoPendingProposal", err)
	}
	if _, err := s.Cancel(); !errors.Is(err, ErrNoPendingProposal) {
		t.Fatalf("Cancel on idle = %v, want ErrNoPendingProposal", err)
	}
}

func TestConfirmExpiredProposal(t *testing.T) {
	s := NewExecutionState()
	proposal := newTestProposal("create_pilot", time.Now().Add(-time.Second))

	mustReachAwaiting(t, s, proposal)

	got, err := s.Confirm(time.Now())
	if !errors.Is(err, ErrConfirmationExpired) {
		t.Fatalf("Confirm = %v, want ErrConfirmationExpired", err)
	}
	// The discarded proposal comes back with the error so callers can still
	// name the action that lapsed.
	if got != proposal {
		t.Fatal("Confirm did not return the expired proposal")
	}
	// Expiry resets to idle so the session stays usable.
	if got := s.Status(); got != StatusIdle {
		t.Fatalf("Status() after expiry = %s, want %s", got, StatusIdle)
	}
}

func TestProposalWithoutDeadlineNeverExpires(t *testing.T) {
	s := NewExecutionState()
	proposal := newTestProposal("create_pilot", time.Time{})

	mustReachAwaiting(t, s, proposal)

	farFuture := time.Now().Add(1000 * time.Hour)
	if expired := s.ExpireIfNeeded(farFuture); expired != nil {
		t.Fatal("ExpireIfNeeded expired a proposal with no deadline")
	}
	if _, err := s.Confirm(farFuture); err != nil {
		t.Fatalf("Confirm: %v", err)
	}
}

func TestExpireIfNeeded(t *testing.T) {
	s := NewExecutionState()
	proposal := newTestProposal("update_challenge_status", time.Now().Add(time.Minute))

	mustReachAwaiting(t, s, proposal)

	if expired := s.ExpireIfNeeded(time.Now()); expired != nil {
		t.Fatal("ExpireIfNeeded fired before the deadline")
	}
	expired := s.ExpireIfNeeded(time.Now().Add(2 * time.Minute))
	if expired != proposal {
		t.Fatal("ExpireIfNeeded did not return the expired proposal")
	}
	if got := s.Status(); got != StatusIdle {
		t.Fatalf("Status() after expiry = %s, want %s", got, StatusIdle)
	}
}

func TestConcurrentProposalRejected(t *testing.T) {
	s := NewExecutionState()
	first := newTestProposal("create_pilot", time.Now().Add(time.Minute))
	second := newTestProposal("delete_pilot", time.Now().Add(time.Minute))

	mustReachAwaiting(t, s, first)

	if err := s.ProposeTool(second); !errors.Is(err, ErrConcurrentProposal) {
		t.Fatalf("second ProposeTool = %v, want ErrConcurrentProposal", err)
	}
	if err := s.BeginExecuting(second); !errors.Is(err, ErrConcurrentProposal) {
		t.Fatalf("BeginExecuting with parked proposal = %v, want ErrConcurrentProposal", err)
	}
	// The parked proposal is untouched.
	if got := s.PendingProposal(); got != first {
		t.Fatal("rejected proposal displaced the parked one")
	}
}

func TestInvalidTransitions(t *testing.T) {
	tests := []struct {
		name string
		run  func(s *ExecutionState) error
	}{
		{"resolve from idle", func(s *ExecutionState) error {
			return s.ResolveWithText()
		}},
		{"propose from idle", func(s *ExecutionState) error {
			return s.ProposeTool(newTestProposal("x", time.Time{}))
		}},
		{"execute from idle", func(s *ExecutionState) error {
			return s.BeginExecuting(newTestProposal("x", time.Time{}))
		}},
		{"settle from idle", func(s *ExecutionState) error {
			return s.Settle(nil, nil)
		}},
		{"begin reasoning twice", func(s *ExecutionState) error {
			if err := s.BeginReasoning(); err != nil {
				return err
			}
			return s.BeginReasoning()
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewExecutionState()
			if err := tt.run(s); !errors.Is(err, ErrInvalidTransition) {
				t.Fatalf("got %v, want ErrInvalidTransition", err)
			}
		})
	}
}

func TestSettleWithError(t *testing.T) {
	s := NewExecutionState()
	proposal := newTestProposal("create_pilot", time.Now().Add(time.Minute))

	mustReachAwaiting(t, s, proposal)
	if _, err := s.Confirm(time.Now()); err != nil {
		t.Fatalf("Confirm: %v", err)
	}

	execErr := &ToolExecutionError{ToolName: "create_pilot", Cause: errors.New("boom")}
	if err := s.Settle(nil, execErr); err != nil {
		t.Fatalf("Settle: %v", err)
	}
	if got := s.Status(); got != StatusFailed {
		t.Fatalf("Status() = %s, want %s", got, StatusFailed)
	}
	if s.LastError() == nil {
		t.Fatal("LastError() is nil after failed settle")
	}
}

func mustReachAwaiting(t *testing.T, s *ExecutionState, proposal *models.ToolCallProposal) {
	t.Helper()
	if err := s.BeginReasoning(); err != nil {
		t.Fatalf("BeginReasoning: %v", err)
	}
	if err := s.ProposeTool(proposal); err != nil {
		t.Fatalf("ProposeTool: %v", err)
	}
}
