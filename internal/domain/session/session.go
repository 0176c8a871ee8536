// Package session models the per-receipt interview lifecycle: an explicit
// state-machine value keyed by thread id, never ambient global state, so
// sessions can be tested independently and persisted uniformly.
package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/splitmate/receipt-splitter/internal/domain/entity"
)

// MaxAttempts is the interview attempt budget: the number of failed rounds
// after which the session is forcibly reset. This is a hard policy, not
// configuration.
const MaxAttempts = 3

// Session is the mutable control state for one receipt's resolution
// lifecycle. It is owned exclusively by the session service for its thread
// id; all mutation goes through the transition methods below.
type Session struct {
	ThreadID     string
	Phase        Phase
	AttemptsUsed int

	// Last-known-good extraction context, populated on gate accept and
	// preserved across failed rounds.
	Items  []entity.Item
	Totals entity.Totals

	// Populated when a round completes.
	Participants []string
	Assignments  []entity.ItemAssignment
	Results      []entity.ParticipantCost

	// TotalMismatch flags results whose sum drifted from the receipt grand
	// total beyond tolerance but were shown anyway.
	TotalMismatch bool

	PendingQuestions []string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// New creates a session in the Upload phase.
func New(threadID string) *Session {
	now := time.Now().UTC()
	return &Session{
		ThreadID:  threadID,
		Phase:     PhaseUpload,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// AcceptExtraction carries gate-accepted items and totals into the Review
// phase. The attempt counter starts fresh.
func (s *Session) AcceptExtraction(items []entity.Item, totals entity.Totals) error {
	if s.Phase != PhaseUpload {
		return fmt.Errorf("%w: cannot accept extraction in phase %s", ErrInvalidTransition, s.Phase)
	}
	s.Items = items
	s.Totals = totals
	s.AttemptsUsed = 0
	s.Phase = PhaseReview
	s.touch()
	return nil
}

// CompleteRound records a successful interview round and moves to Results.
// The assignment set fully replaces any previous one.
func (s *Session) CompleteRound(
	participants []string,
	assignments []entity.ItemAssignment,
	results []entity.ParticipantCost,
	totalMismatch bool,
) error {
	if s.Phase != PhaseReview {
		return fmt.Errorf("%w: cannot complete a round in phase %s", ErrInvalidTransition, s.Phase)
	}
	s.Participants = participants
	s.Assignments = assignments
	s.Results = results
	s.TotalMismatch = totalMismatch
	s.PendingQuestions = nil
	s.Phase = PhaseResults
	s.touch()
	return nil
}

// FailRound consumes one attempt. Below the budget the session stays in
// Review with the clarification questions pending; at the budget the session
// resets to Upload with all state cleared and exhausted=true is returned.
func (s *Session) FailRound(questions []string) (exhausted bool, err error) {
	if s.Phase != PhaseReview {
		return false, fmt.Errorf("%w: cannot fail a round in phase %s", ErrInvalidTransition, s.Phase)
	}
	s.AttemptsUsed++
	if s.AttemptsUsed >= MaxAttempts {
		s.Reset()
		return true, nil
	}
	s.PendingQuestions = questions
	s.touch()
	return false, nil
}

// Reset clears every piece of session state and re-enters Upload. It is the
// only exit from Results and the forced outcome of budget exhaustion.
func (s *Session) Reset() {
	s.Phase = PhaseUpload
	s.AttemptsUsed = 0
	s.Items = nil
	s.Totals = entity.Totals{}
	s.Participants = nil
	s.Assignments = nil
	s.Results = nil
	s.TotalMismatch = false
	s.PendingQuestions = nil
	s.touch()
}

// ClarificationText joins the pending questions and annotates them with the
// attempt count, e.g. "(Attempt 2 of 3)".
func (s *Session) ClarificationText() string {
	if len(s.PendingQuestions) == 0 {
		return ""
	}
	return fmt.Sprintf("%s\n\n(Attempt %d of %d)",
		strings.Join(s.PendingQuestions, "\n"), s.AttemptsUsed, MaxAttempts)
}

func (s *Session) touch() {
	s.UpdatedAt = time.Now().UTC()
}
