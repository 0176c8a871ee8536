package session

// Phase is a stage of the interview lifecycle.
type Phase string

const (
	// PhaseUpload awaits an extraction; nothing accepted yet.
	PhaseUpload Phase = "UPLOAD"

	// PhaseReview holds gate-accepted items and runs interview rounds.
	PhaseReview Phase = "REVIEW"

	// PhaseResults is terminal: final costs computed. The only exit is an
	// explicit reset.
	PhaseResults Phase = "RESULTS"
)

var validPhases = map[Phase]bool{
	PhaseUpload:  true,
	PhaseReview:  true,
	PhaseResults: true,
}

// isValid reports whether p is a known phase.
func (p Phase) isValid() bool {
	return validPhases[p]
}

// IsTerminal reports whether the phase admits no further interview rounds.
func (p Phase) IsTerminal() bool {
	return p == PhaseResults
}

// String returns the string representation of the phase.
func (p Phase) String() string {
	return string(p)
}
