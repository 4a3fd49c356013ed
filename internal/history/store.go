// Package history provides the append-only per-session message log the
// copilot engine records every turn into. State machine instances are never
// persisted; durability of what happened lives only here.
package history

import (
	"context"
	"fmt"

	"github.com/civicworks/copilot/pkg/models"
)

// Store is the interface for session history persistence. Messages are
// appended in the order they are produced and listed oldest-first.
type Store interface {
	// Append records a message at the end of the session's log.
	Append(ctx context.Context, sessionID string, msg *models.Message) error

	// List returns the session's messages oldest-first. A limit > 0 returns
	// only the most recent limit messages.
	List(ctx context.Context, sessionID string, limit int) ([]*models.Message, error)

	// Name identifies the backend ("memory", "sqlite") for logs and metric
	// labels.
	Name() string
}

// PersistenceError wraps a failure from the persistence layer. The engine
// surfaces it without corrupting in-memory execution state.
type PersistenceError struct {
	Op    string
	Cause error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("history %s: %v", e.Op, e.Cause)
}

func (e *PersistenceError) Unwrap() error {
	return e.Cause
}
