package copilot

import (
	"errors"
	"strings"
	"testing"
)

func TestStructuredErrorsUnwrap(t *testing.T) {
	cause := errors.New("root cause")

	tests := []struct {
		name string
		err  error
	}{
		{"invalid arguments", &InvalidArgumentsError{ToolName: "create_pilot", Details: "missing title", Cause: cause}},
		{"tool execution", &ToolExecutionError{ToolName: "create_pilot", Cause: cause}},
		{"reasoning", &ReasoningError{Backend: "anthropic", Cause: cause}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.Is(tt.err, cause) {
				t.Fatal("error does not unwrap to its cause")
			}
			if tt.err.Error() == "" {
				t.Fatal("empty error string")
			}
		})
	}
}

func TestInvalidArgumentsErrorMessage(t *testing.T) {
	err := &InvalidArgumentsError{ToolName: "create_pilot", Details: "missing required property 'title'"}
	if !strings.Contains(err.Error(), "create_pilot") || !strings.Contains(err.Error(), "title") {
		t.Fatalf("Error() = %q", err.Error())
	}

	bare := &InvalidArgumentsError{ToolName: "create_pilot"}
	if !strings.Contains(bare.Error(), "create_pilot") {
		t.Fatalf("Error() = %q", bare.Error())
	}
}

func TestIsRecoverable(t *testing.T) {
	if IsRecoverable(ErrDuplicateTool) {
		t.Fatal("duplicate registration must not be recoverable")
	}
	for _, err := range []error{
		ErrSessionBusy,
		ErrConfirmationExpired,
		ErrNoPendingProposal,
		&ToolExecutionError{ToolName: "x", Cause: errors.New("boom")},
	} {
		if !IsRecoverable(err) {
			t.Fatalf("%v should be recoverable", err)
		}
	}
}
