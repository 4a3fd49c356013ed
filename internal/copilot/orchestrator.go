// Package copilot implements the conversational tool-orchestration engine:
// the control logic between "user typed something" and "a side-effecting
// tool ran". It decides between text replies and tool proposals, gates
// non-safe tools behind human confirmation, executes confirmed tools exactly
// once, and records every turn in the session history.
package copilot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/civicworks/copilot/internal/history"
	"github.com/civicworks/copilot/internal/observability"
	"github.com/civicworks/copilot/internal/reasoning"
	"github.com/civicworks/copilot/pkg/models"
)

// ReplyType discriminates the orchestrator's answer to one turn.
type ReplyType string

const (
	// ReplyText is a plain text answer; the turn is complete.
	ReplyText ReplyType = "text"
	// ReplyConfirmationRequest means a tool proposal is parked awaiting the
	// user's Confirm or Cancel call.
	ReplyConfirmationRequest ReplyType = "confirmation_request"
)

// Reply is the orchestrator's answer to ProcessMessage, Confirm, or Cancel.
type Reply struct {
	Type     ReplyType                `json:"type"`
	Content  string                   `json:"content,omitempty"`
	Proposal *models.ToolCallProposal `json:"proposal,omitempty"`
	Risk     RiskLevel                `json:"risk,omitempty"`
}

// Options configures the orchestrator.
type Options struct {
	// SystemPrompt frames the assistant's role for the reasoning backend.
	SystemPrompt string

	// HistoryLimit caps how many messages are sent to the backend per
	// decision. Default: 50.
	HistoryLimit int

	// ConfirmationTimeout bounds how long a proposal may sit awaiting
	// confirmation. Zero means proposals never expire. Expiry is evaluated
	// lazily at the next Confirm, Cancel, or ProcessMessage call.
	ConfirmationTimeout time.Duration

	// Logger may be nil; slog.Default is used.
	Logger *slog.Logger

	// Metrics and Tracer may be nil.
	Metrics *observability.Metrics
	Tracer  *observability.Tracer
}

// session holds one session's execution state. busy serializes transitions:
// a second in-flight operation for the same session is rejected rather than
// interleaved. Read-only observation via Status stays safe during a turn
// because ExecutionState guards its accessors internally.
type session struct {
	state *ExecutionState
	busy  bool
}

// Orchestrator is the message-processing entry point. One instance serves
// all sessions; per-session state lives in the sessions map and sessions are
// fully independent.
type Orchestrator struct {
	backend  reasoning.Backend
	registry *ToolRegistry
	executor *ToolExecutor
	store    history.Store
	opts     Options

	mu       sync.Mutex
	sessions map[string]*session
}

// NewOrchestrator wires the engine together. All four collaborators are
// required.
func NewOrchestrator(backend reasoning.Backend, registry *ToolRegistry, executor *ToolExecutor, store history.Store, opts Options) (*Orchestrator, error) {
	if backend == nil {
		return nil, errors.New("reasoning backend is required")
	}
	if registry == nil {
		return nil, errors.New("tool registry is required")
	}
	if executor == nil {
		return nil, errors.New("tool executor is required")
	}
	if store == nil {
		return nil, errors.New("history store is required")
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 50
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Orchestrator{
		backend:  backend,
		registry: registry,
		executor: executor,
		store:    store,
		opts:     opts,
		sessions: make(map[string]*session),
	}, nil
}

// Status returns the session's current state and pending proposal for
// read-only observation by the UI. An unknown session is idle.
func (o *Orchestrator) Status(sessionID string) (Status, *models.ToolCallProposal) {
	o.mu.Lock()
	defer o.mu.Unlock()
	sess, ok := o.sessions[sessionID]
	if !ok {
		return StatusIdle, nil
	}
	return sess.state.Status(), sess.state.PendingProposal()
}

// History lists the session's message log oldest-first.
func (o *Orchestrator) History(ctx context.Context, sessionID string, limit int) ([]*models.Message, error) {
	return o.store.List(ctx, sessionID, limit)
}

// ProcessMessage handles one user utterance. It returns either a text reply
// (turn complete, session idle) or a confirmation request (a non-safe tool
// proposal is parked; the turn resumes on a later Confirm or Cancel call —
// the wait for the human is externalized, not held open).
//
// A call while the session is thinking, awaiting confirmation, or executing
// fails with ErrSessionBusy. A parked proposal must be confirmed, cancelled,
// or expired before a new message is accepted.
func (o *Orchestrator) ProcessMessage(ctx context.Context, sessionID, userText string) (*Reply, error) {
	sess, release, err := o.acquire(sessionID)
	if err != nil {
		return nil, err
	}
	defer release()

	if o.opts.Tracer != nil {
		var span trace.Span
		ctx, span = o.opts.Tracer.TraceMessageProcessing(ctx, sessionID)
		defer span.End()
	}

	o.expireStaleProposal(ctx, sessionID, sess)

	if sess.state.Status() != StatusIdle {
		return nil, fmt.Errorf("%w: session %s is %s", ErrSessionBusy, sessionID, sess.state.Status())
	}

	if err := o.append(ctx, sessionID, models.RoleUser, userText, nil); err != nil {
		// State is still idle; the session stays usable.
		return nil, err
	}

	if err := sess.state.BeginReasoning(); err != nil {
		return nil, err
	}

	decision, err := o.decide(ctx, sessionID)
	if err != nil {
		// Reasoning failures never leave the machine stuck in thinking and
		// never surface as raw errors to the user.
		sess.state.Reset()
		o.recordError("reasoning", err)
		content := "I couldn't process that request right now. Please try again."
		o.appendBestEffort(ctx, sessionID, models.RoleAssistant, content, nil)
		o.opts.Logger.Warn("reasoning backend failed", "session_id", sessionID, "error", err)
		return &Reply{Type: ReplyText, Content: content}, nil
	}

	if decision.Kind == reasoning.DecisionText {
		if err := o.append(ctx, sessionID, models.RoleAssistant, decision.Content, nil); err != nil {
			sess.state.Reset()
			return nil, err
		}
		if err := sess.state.ResolveWithText(); err != nil {
			return nil, err
		}
		return &Reply{Type: ReplyText, Content: decision.Content}, nil
	}

	// Tool decision: fail fast on a name that doesn't resolve.
	def, err := o.registry.Get(decision.ToolName)
	if err != nil {
		sess.state.Reset()
		o.recordError("orchestrator", err)
		content := fmt.Sprintf("I tried to use an action called %q, but it isn't available.", decision.ToolName)
		o.appendBestEffort(ctx, sessionID, models.RoleAssistant, content, nil)
		return &Reply{Type: ReplyText, Content: content}, nil
	}

	proposal := &models.ToolCallProposal{
		ID:         uuid.NewString(),
		SessionID:  sessionID,
		ToolName:   decision.ToolName,
		Args:       decision.Args,
		ProposedAt: time.Now(),
	}

	if def.Risk.RequiresConfirmation() {
		if o.opts.ConfirmationTimeout > 0 {
			proposal.ExpiresAt = proposal.ProposedAt.Add(o.opts.ConfirmationTimeout)
		}
		if err := sess.state.ProposeTool(proposal); err != nil {
			return nil, err
		}
		o.recordProposal(proposal.ToolName, "proposed")
		o.appendBestEffort(ctx, sessionID, models.RoleSystem,
			fmt.Sprintf("Proposed action %s, awaiting confirmation.", proposal.ToolName),
			map[string]any{"proposal_id": proposal.ID, "risk": string(def.Risk)})
		return &Reply{Type: ReplyConfirmationRequest, Proposal: proposal, Risk: def.Risk}, nil
	}

	// Safe tools skip the confirmation gate entirely.
	if err := sess.state.BeginExecuting(proposal); err != nil {
		return nil, err
	}
	return o.runAndSettle(ctx, sessionID, sess, proposal)
}

// Confirm resumes a parked proposal: awaiting_confirmation -> executing,
// then settlement. It fails with ErrNoPendingProposal if nothing is parked
// and ErrConfirmationExpired if the confirmation window has closed.
func (o *Orchestrator) Confirm(ctx context.Context, sessionID string) (*Reply, error) {
	sess, release, err := o.acquire(sessionID)
	if err != nil {
		return nil, err
	}
	defer release()

	proposal, err := sess.state.Confirm(time.Now())
	if err != nil {
		// On expiry the discarded proposal comes back with the error, so the
		// audit note and the metric keep the tool name.
		if errors.Is(err, ErrConfirmationExpired) && proposal != nil {
			o.recordProposal(proposal.ToolName, "expired")
			o.appendBestEffort(ctx, sessionID, models.RoleSystem,
				fmt.Sprintf("The pending %s action expired before it was confirmed.", proposal.ToolName),
				map[string]any{"proposal_id": proposal.ID})
		}
		return nil, err
	}

	o.recordProposal(proposal.ToolName, "confirmed")
	return o.runAndSettle(ctx, sessionID, sess, proposal)
}

// Cancel discards a parked proposal without running it. It fails with
// ErrNoPendingProposal outside awaiting_confirmation; there is no
// cancellation of an in-flight execution.
func (o *Orchestrator) Cancel(ctx context.Context, sessionID string) (*Reply, error) {
	sess, release, err := o.acquire(sessionID)
	if err != nil {
		return nil, err
	}
	defer release()

	proposal, err := sess.state.Cancel()
	if err != nil {
		return nil, err
	}

	o.recordProposal(proposal.ToolName, "cancelled")
	content := fmt.Sprintf("Cancelled the pending %s action. Nothing was changed.", proposal.ToolName)
	o.appendBestEffort(ctx, sessionID, models.RoleSystem, content,
		map[string]any{"proposal_id": proposal.ID})
	return &Reply{Type: ReplyText, Content: content}, nil
}

// runAndSettle executes a proposal, records the terminal outcome in history,
// and resets the session to idle. The machine is never left in executing.
func (o *Orchestrator) runAndSettle(ctx context.Context, sessionID string, sess *session, proposal *models.ToolCallProposal) (*Reply, error) {
	result, execErr := o.executor.Execute(ctx, proposal)
	if err := sess.state.Settle(result, execErr); err != nil {
		sess.state.Reset()
		return nil, err
	}
	defer sess.state.Reset()

	if execErr != nil {
		o.recordError("executor", execErr)
		content := fmt.Sprintf("The %s action failed: %s", proposal.ToolName, userFacing(execErr))
		o.appendBestEffort(ctx, sessionID, models.RoleSystem, content,
			map[string]any{"proposal_id": proposal.ID, "outcome": "failed"})
		return &Reply{Type: ReplyText, Content: content}, nil
	}

	content := result.Output
	if content == "" {
		content = fmt.Sprintf("The %s action completed.", proposal.ToolName)
	}
	o.appendBestEffort(ctx, sessionID, models.RoleSystem, content,
		map[string]any{"proposal_id": proposal.ID, "outcome": "completed"})
	return &Reply{Type: ReplyText, Content: content}, nil
}

// decide calls the reasoning backend with the conversation context and the
// registered tool catalog.
func (o *Orchestrator) decide(ctx context.Context, sessionID string) (*reasoning.Decision, error) {
	messages, err := o.store.List(ctx, sessionID, o.opts.HistoryLimit)
	if err != nil {
		return nil, &history.PersistenceError{Op: "list", Cause: err}
	}

	defs := o.registry.Definitions()
	tools := make([]reasoning.ToolSpec, len(defs))
	for i, def := range defs {
		tools[i] = reasoning.ToolSpec{
			Name:        def.Name,
			Description: def.Description,
			InputSchema: def.InputSchema,
		}
	}

	if o.opts.Tracer != nil {
		var span trace.Span
		ctx, span = o.opts.Tracer.TraceReasoning(ctx, o.backend.Name())
		defer span.End()
	}

	start := time.Now()
	decision, err := o.backend.Decide(ctx, &reasoning.Request{
		System:   o.opts.SystemPrompt,
		Messages: messages,
		Tools:    tools,
	})
	status := "success"
	if err != nil {
		status = "error"
	}
	if o.opts.Metrics != nil {
		o.opts.Metrics.RecordReasoningRequest(o.backend.Name(), status, time.Since(start).Seconds())
	}
	if err != nil {
		return nil, &ReasoningError{Backend: o.backend.Name(), Cause: err}
	}
	if decision == nil {
		return nil, &ReasoningError{Backend: o.backend.Name(), Cause: errors.New("backend returned no decision")}
	}
	return decision, nil
}

// acquire fetches or creates the session and marks it busy for the duration
// of one operation. A concurrent operation on the same session fails with
// ErrSessionBusy. Different sessions proceed in parallel.
func (o *Orchestrator) acquire(sessionID string) (*session, func(), error) {
	if sessionID == "" {
		return nil, nil, errors.New("session id is required")
	}
	o.mu.Lock()
	defer o.mu.Unlock()

	sess, ok := o.sessions[sessionID]
	if !ok {
		sess = &session{state: NewExecutionState()}
		o.sessions[sessionID] = sess
	}
	if sess.busy {
		return nil, nil, fmt.Errorf("%w: %s", ErrSessionBusy, sessionID)
	}
	sess.busy = true
	if o.opts.Metrics != nil {
		o.opts.Metrics.SessionStarted()
	}

	release := func() {
		o.mu.Lock()
		sess.busy = false
		o.mu.Unlock()
		if o.opts.Metrics != nil {
			o.opts.Metrics.SessionEnded()
		}
	}
	return sess, release, nil
}

// expireStaleProposal lazily discards a proposal whose confirmation window
// closed while nobody was looking, recording the expiry in history.
func (o *Orchestrator) expireStaleProposal(ctx context.Context, sessionID string, sess *session) {
	proposal := sess.state.ExpireIfNeeded(time.Now())
	if proposal == nil {
		return
	}
	o.recordProposal(proposal.ToolName, "expired")
	o.appendBestEffort(ctx, sessionID, models.RoleSystem,
		fmt.Sprintf("The pending %s action expired without confirmation.", proposal.ToolName),
		map[string]any{"proposal_id": proposal.ID})
}

// append writes a message to history, surfacing failures as PersistenceError.
func (o *Orchestrator) append(ctx context.Context, sessionID string, role models.Role, content string, metadata map[string]any) error {
	msg := &models.Message{
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		Metadata:  metadata,
		CreatedAt: time.Now(),
	}
	if o.opts.Tracer != nil {
		var span trace.Span
		ctx, span = o.opts.Tracer.TraceHistoryWrite(ctx, sessionID)
		defer span.End()
	}
	if err := o.store.Append(ctx, sessionID, msg); err != nil {
		o.recordError("history", err)
		if o.opts.Metrics != nil {
			o.opts.Metrics.RecordHistoryWrite(o.store.Name(), "error")
		}
		var perr *history.PersistenceError
		if errors.As(err, &perr) {
			return err
		}
		return &history.PersistenceError{Op: "append", Cause: err}
	}
	if o.opts.Metrics != nil {
		o.opts.Metrics.RecordHistoryWrite(o.store.Name(), "success")
		o.opts.Metrics.RecordMessage(string(role))
	}
	return nil
}

// appendBestEffort records a message but never fails the turn over it: the
// outcome the caller is waiting on matters more than the audit line, and the
// failure is logged and counted.
func (o *Orchestrator) appendBestEffort(ctx context.Context, sessionID string, role models.Role, content string, metadata map[string]any) {
	if err := o.append(ctx, sessionID, role, content, metadata); err != nil {
		o.opts.Logger.Error("failed to append message", "session_id", sessionID, "role", role, "error", err)
	}
}

func (o *Orchestrator) recordError(component string, err error) {
	if o.opts.Metrics == nil {
		return
	}
	o.opts.Metrics.RecordError(component, errorType(err))
}

func (o *Orchestrator) recordProposal(toolName, outcome string) {
	if o.opts.Metrics == nil {
		return
	}
	o.opts.Metrics.RecordProposal(toolName, outcome)
}

// errorType maps an error to a stable metric label.
func errorType(err error) string {
	var (
		invalidArgs *InvalidArgumentsError
		execErr     *ToolExecutionError
		reasonErr   *ReasoningError
		persistErr  *history.PersistenceError
	)
	switch {
	case errors.Is(err, ErrUnknownTool):
		return "unknown_tool"
	case errors.As(err, &invalidArgs):
		return "invalid_arguments"
	case errors.As(err, &execErr):
		return "tool_execution"
	case errors.As(err, &reasonErr):
		return "reasoning"
	case errors.As(err, &persistErr):
		return "persistence"
	default:
		return "unknown"
	}
}

// userFacing extracts a plain-language description from an executor error:
// the user sees the tool's structured message, never a stack trace.
func userFacing(err error) string {
	var invalidArgs *InvalidArgumentsError
	if errors.As(err, &invalidArgs) {
		return invalidArgs.Details
	}
	var execErr *ToolExecutionError
	if errors.As(err, &execErr) && execErr.Cause != nil {
		return execErr.Cause.Error()
	}
	return err.Error()
}
