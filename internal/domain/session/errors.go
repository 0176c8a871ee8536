package session

import "errors"

var (
	// ErrInvalidTransition is returned when a lifecycle method is called in
	// a phase that does not permit it.
	ErrInvalidTransition = errors.New("invalid phase transition")

	// ErrAttemptsExhausted reports that the interview attempt budget was
	// spent and the session has been reset.
	ErrAttemptsExhausted = errors.New("not enough information after 3 attempts")
)
