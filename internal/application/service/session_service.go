// Package service orchestrates the receipt resolution lifecycle: quality
// gate on upload, bounded interview rounds against the interpreter, and
// final cost allocation.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/splitmate/receipt-splitter/internal/allocation"
	"github.com/splitmate/receipt-splitter/internal/application/port"
	"github.com/splitmate/receipt-splitter/internal/domain/entity"
	"github.com/splitmate/receipt-splitter/internal/domain/session"
	"github.com/splitmate/receipt-splitter/internal/gate"
)

var (
	// ErrSessionNotFound is returned for an unknown thread id.
	ErrSessionNotFound = errors.New("session not found")

	// ErrRoundInFlight rejects a submission while a previous round for the
	// same session is still awaiting the interpreter. Rounds are strictly
	// sequential per thread id, never interleaved.
	ErrRoundInFlight = errors.New("a round is already in flight for this session")

	// ErrNotReady is returned when results are requested before the session
	// reaches the Results phase.
	ErrNotReady = errors.New("results not ready")
)

// Audit node names, matching the engine stages that emit them.
const (
	nodeGate      = "gate"
	nodeInterview = "interview"
	nodeMath      = "math"
)

// GateResult is the outcome of submitting an extraction.
type GateResult struct {
	ThreadID string
	Accepted bool
	Reason   string
	// Questions carries the interview prompt when the extraction was
	// accepted.
	Questions []string
}

// RoundResult is the outcome of one interview round.
type RoundResult struct {
	ThreadID      string
	Completed     bool
	Clarification string
	AttemptsUsed  int
	Exhausted     bool
	Results       []entity.ParticipantCost
	TotalMismatch bool
}

// Snapshot is a read-only copy of a session's state for status APIs.
type Snapshot struct {
	ThreadID         string
	Phase            session.Phase
	AttemptsUsed     int
	PendingQuestions []string
	Items            []entity.Item
	Totals           entity.Totals
	Participants     []string
	Results          []entity.ParticipantCost
	TotalMismatch    bool
}

// Config tunes the session service.
type Config struct {
	// StrictReconciliation turns a soft arithmetic mismatch into a failed
	// round instead of flagged results.
	StrictReconciliation bool
}

// SessionService owns all interview sessions and serializes access per
// thread id. The engine itself performs no I/O beyond the repositories and
// the interpreter call.
type SessionService struct {
	gate        *gate.Gate
	allocator   *allocation.Allocator
	interpreter port.Interpreter
	receipts    port.ReceiptRepository
	assignments port.AssignmentRepository
	audits      port.AuditRepository
	cfg         Config
	logger      *zap.Logger

	mu       sync.Mutex
	sessions map[string]*sessionEntry
}

// sessionEntry pairs a session with its serialization state. entry.mu guards
// sess and inFlight; it is released during the interpreter call so slow
// interpretations do not block status reads, with inFlight rejecting any
// concurrent submission meanwhile.
type sessionEntry struct {
	mu       sync.Mutex
	inFlight bool
	sess     *session.Session
}

// NewSessionService wires the engine components together.
func NewSessionService(
	g *gate.Gate,
	allocator *allocation.Allocator,
	interpreter port.Interpreter,
	receipts port.ReceiptRepository,
	assignments port.AssignmentRepository,
	audits port.AuditRepository,
	cfg Config,
	logger *zap.Logger,
) *SessionService {
	return &SessionService{
		gate:        g,
		allocator:   allocator,
		interpreter: interpreter,
		receipts:    receipts,
		assignments: assignments,
		audits:      audits,
		cfg:         cfg,
		logger:      logger,
		sessions:    make(map[string]*sessionEntry),
	}
}

// SubmitExtraction runs the quality gate on an extraction result. On accept
// it creates (or re-seeds) the session in Review with the items and totals;
// on reject no interview state is created and the reason is surfaced.
func (s *SessionService) SubmitExtraction(ctx context.Context, threadID string, res *port.ExtractionResult) (*GateResult, error) {
	decision := s.gate.Evaluate(res.Items, res.Diagnostics)
	if decision.Accepted && res.Totals == nil {
		decision = gate.Decision{Accepted: false, Reason: gate.ReasonExtractionFailed}
	}

	if !decision.Accepted {
		s.audit(ctx, threadID, entity.NewAuditEvent(nodeGate,
			fmt.Sprintf("extraction rejected: %s", decision.Reason),
			map[string]any{"items": len(res.Items), "diagnostics": len(res.Diagnostics)}))
		return &GateResult{ThreadID: threadID, Accepted: false, Reason: decision.Reason}, nil
	}

	entry := s.entryOrCreate(threadID)
	entry.mu.Lock()
	defer entry.mu.Unlock()

	// A round suspended in the interpreter still owns this session; letting a
	// re-upload re-seed it now would hand the returning round stale context.
	if entry.inFlight {
		return nil, ErrRoundInFlight
	}

	if entry.sess.Phase != session.PhaseUpload {
		// Re-upload for an existing thread supersedes the previous attempt.
		entry.sess.Reset()
	}
	if err := entry.sess.AcceptExtraction(res.Items, *res.Totals); err != nil {
		return nil, err
	}

	if err := s.receipts.SaveReceipt(ctx, threadID, res.Items, *res.Totals); err != nil {
		return nil, fmt.Errorf("failed to persist receipt: %w", err)
	}

	prompt := interviewPrompt(res.Items)
	entry.sess.PendingQuestions = []string{prompt}

	s.audit(ctx, threadID, entity.NewAuditEvent(nodeGate,
		fmt.Sprintf("extraction accepted with %d items", len(res.Items)),
		map[string]any{"items": len(res.Items), "grand_total": res.Totals.GrandTotal.String()}))

	s.logger.Info("Session entered review",
		zap.String("thread_id", threadID),
		zap.Int("items", len(res.Items)))

	return &GateResult{
		ThreadID:  threadID,
		Accepted:  true,
		Questions: []string{prompt},
	}, nil
}

// SubmitRound runs one interview round: the free-form text is handed to the
// interpreter, and the outcome either completes the session with allocated
// costs or consumes an attempt.
func (s *SessionService) SubmitRound(ctx context.Context, threadID, text string) (*RoundResult, error) {
	entry, ok := s.entry(threadID)
	if !ok {
		return nil, ErrSessionNotFound
	}

	entry.mu.Lock()
	if entry.inFlight {
		entry.mu.Unlock()
		return nil, ErrRoundInFlight
	}
	if entry.sess.Phase != session.PhaseReview {
		phase := entry.sess.Phase
		entry.mu.Unlock()
		return nil, fmt.Errorf("%w: cannot submit a round in phase %s", session.ErrInvalidTransition, phase)
	}
	items := entry.sess.Items
	totals := entry.sess.Totals
	participants := entry.sess.Participants
	entry.inFlight = true
	entry.mu.Unlock()

	// Suspension point: the interpreter call may take network/LLM latency.
	interp, err := s.interpreter.Interpret(ctx, items, participants, text)

	entry.mu.Lock()
	defer entry.mu.Unlock()
	entry.inFlight = false

	if err != nil {
		return s.failRound(ctx, entry, []string{
			fmt.Sprintf("The assignment description could not be processed: %v. Please try again.", err),
		})
	}
	if len(interp.Questions) > 0 {
		return s.failRound(ctx, entry, interp.Questions)
	}

	if err := entity.ValidateParticipants(interp.Participants); err != nil {
		return s.failRound(ctx, entry, []string{fmt.Sprintf("Some assignments were invalid: %v", err)})
	}

	costs, allocErr := s.allocator.Allocate(items, totals, interp.Assignments, interp.Participants)
	switch {
	case allocErr == nil:
		return s.completeRound(ctx, entry, interp, costs, false)

	case errors.Is(allocErr, entity.ErrInvalidShare),
		errors.Is(allocErr, allocation.ErrIncompleteAssignment):
		return s.failRound(ctx, entry, []string{
			fmt.Sprintf("Some assignments were invalid: %v. Please describe who ordered what more precisely.", allocErr),
		})

	case errors.Is(allocErr, allocation.ErrArithmeticMismatch) && costs != nil && !s.cfg.StrictReconciliation:
		// Soft mismatch: show the results with a visible discrepancy flag.
		s.audit(ctx, entry.sess.ThreadID, entity.NewAuditEvent(nodeMath,
			fmt.Sprintf("allocation reconciled outside tolerance: %v", allocErr), nil))
		return s.completeRound(ctx, entry, interp, costs, true)

	default:
		return s.failRound(ctx, entry, []string{
			fmt.Sprintf("Cost calculation failed: %v. Please verify the item assignments.", allocErr),
		})
	}
}

// GetResults returns the final per-participant costs once the session has
// reached Results.
func (s *SessionService) GetResults(threadID string) ([]entity.ParticipantCost, bool, error) {
	entry, ok := s.entry(threadID)
	if !ok {
		return nil, false, ErrSessionNotFound
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.sess.Phase != session.PhaseResults {
		return nil, false, ErrNotReady
	}
	return entry.sess.Results, entry.sess.TotalMismatch, nil
}

// GetSession returns a snapshot of the session state.
func (s *SessionService) GetSession(threadID string) (*Snapshot, error) {
	entry, ok := s.entry(threadID)
	if !ok {
		return nil, ErrSessionNotFound
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	sess := entry.sess
	return &Snapshot{
		ThreadID:         sess.ThreadID,
		Phase:            sess.Phase,
		AttemptsUsed:     sess.AttemptsUsed,
		PendingQuestions: append([]string(nil), sess.PendingQuestions...),
		Items:            append([]entity.Item(nil), sess.Items...),
		Totals:           sess.Totals,
		Participants:     append([]string(nil), sess.Participants...),
		Results:          append([]entity.ParticipantCost(nil), sess.Results...),
		TotalMismatch:    sess.TotalMismatch,
	}, nil
}

// Reset explicitly clears a session back to Upload and removes its persisted
// receipt context.
func (s *SessionService) Reset(ctx context.Context, threadID string) error {
	entry, ok := s.entry(threadID)
	if !ok {
		return ErrSessionNotFound
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.inFlight {
		return ErrRoundInFlight
	}
	entry.sess.Reset()
	if err := s.receipts.DeleteReceipt(ctx, threadID); err != nil {
		return fmt.Errorf("failed to delete receipt: %w", err)
	}
	s.audit(ctx, threadID, entity.NewAuditEvent(nodeInterview, "session reset", nil))
	return nil
}

// AuditTrail returns the append-only decision log for a thread.
func (s *SessionService) AuditTrail(ctx context.Context, threadID string) ([]entity.AuditEvent, error) {
	return s.audits.ListByThread(ctx, threadID)
}

func (s *SessionService) completeRound(
	ctx context.Context,
	entry *sessionEntry,
	interp *port.InterpretationResult,
	costs []entity.ParticipantCost,
	mismatch bool,
) (*RoundResult, error) {
	threadID := entry.sess.ThreadID

	if err := s.assignments.ReplaceAssignments(ctx, threadID, interp.Participants, interp.Assignments); err != nil {
		return nil, fmt.Errorf("failed to persist assignments: %w", err)
	}
	if err := entry.sess.CompleteRound(interp.Participants, interp.Assignments, costs, mismatch); err != nil {
		return nil, err
	}

	s.audit(ctx, threadID, entity.NewAuditEvent(nodeMath,
		fmt.Sprintf("cost calculation complete for %d participants", len(interp.Participants)),
		map[string]any{
			"participants":   len(interp.Participants),
			"assignments":    len(interp.Assignments),
			"total_mismatch": mismatch,
		}))

	s.logger.Info("Session completed",
		zap.String("thread_id", threadID),
		zap.Int("participants", len(interp.Participants)),
		zap.Bool("total_mismatch", mismatch))

	return &RoundResult{
		ThreadID:      threadID,
		Completed:     true,
		AttemptsUsed:  entry.sess.AttemptsUsed,
		Results:       costs,
		TotalMismatch: mismatch,
	}, nil
}

// failRound consumes one attempt; callers must hold entry.mu.
func (s *SessionService) failRound(ctx context.Context, entry *sessionEntry, questions []string) (*RoundResult, error) {
	threadID := entry.sess.ThreadID

	exhausted, err := entry.sess.FailRound(questions)
	if err != nil {
		return nil, err
	}

	if exhausted {
		if err := s.receipts.DeleteReceipt(ctx, threadID); err != nil {
			s.logger.Error("Failed to delete receipt after budget exhaustion",
				zap.String("thread_id", threadID), zap.Error(err))
		}
		s.audit(ctx, threadID, entity.NewAuditEvent(nodeInterview,
			"attempt budget exhausted, session reset",
			map[string]any{"max_attempts": session.MaxAttempts}))
		return &RoundResult{
			ThreadID:      threadID,
			Exhausted:     true,
			AttemptsUsed:  session.MaxAttempts,
			Clarification: session.ErrAttemptsExhausted.Error() + "; please upload the receipt again",
		}, nil
	}

	s.audit(ctx, threadID, entity.NewAuditEvent(nodeInterview,
		fmt.Sprintf("round failed, attempt %d of %d", entry.sess.AttemptsUsed, session.MaxAttempts),
		map[string]any{"questions": len(questions)}))

	return &RoundResult{
		ThreadID:      threadID,
		AttemptsUsed:  entry.sess.AttemptsUsed,
		Clarification: entry.sess.ClarificationText(),
	}, nil
}

func (s *SessionService) entry(threadID string) (*sessionEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.sessions[threadID]
	return entry, ok
}

func (s *SessionService) entryOrCreate(threadID string) *sessionEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.sessions[threadID]
	if !ok {
		entry = &sessionEntry{sess: session.New(threadID)}
		s.sessions[threadID] = entry
	}
	return entry
}

// audit appends to the trail; a storage failure is logged, never fatal to
// the round.
func (s *SessionService) audit(ctx context.Context, threadID string, event entity.AuditEvent) {
	if err := s.audits.Append(ctx, threadID, event); err != nil {
		s.logger.Error("Failed to append audit event",
			zap.String("thread_id", threadID),
			zap.String("node", event.Node),
			zap.Error(err))
	}
}

// interviewPrompt lists the extracted items and asks for a free-form
// description of who ordered what.
func interviewPrompt(items []entity.Item) string {
	var b strings.Builder
	b.WriteString("Please describe who ordered what items in your own words.\n\nExtracted items:\n")
	for i, item := range items {
		fmt.Fprintf(&b, "  [%d] %s - $%s x %s\n", i, item.Name, item.UnitPrice.StringFixed(2), item.Quantity)
	}
	b.WriteString("\nYou can reference items by name or by their number. " +
		"Mention if items are shared and how they should be split.")
	return b.String()
}
