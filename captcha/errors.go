package captcha

import "errors"

var (
	// ErrTimeout indicates the manual solving window elapsed with no
	// solution submitted. Expected outcome, not a programming error;
	// callers surface it as a structured failure.
	ErrTimeout = errors.New("captcha solving timed out")
	// ErrSolverClosed indicates the solver was shut down while the call
	// was waiting. All pending waiters are rejected with this error.
	ErrSolverClosed = errors.New("captcha solver closed")
	// ErrManualDisabled indicates the automatic provider failed and the
	// manual fallback is switched off.
	ErrManualDisabled = errors.New("manual captcha fallback disabled")
	// ErrNoPendingChallenge indicates a solution was submitted for an id
	// with no registered waiter (already solved, expired, or never issued).
	ErrNoPendingChallenge = errors.New("no pending challenge for captcha id")
	// ErrDuplicateChallenge indicates a waiter is already registered for
	// the challenge id.
	ErrDuplicateChallenge = errors.New("challenge already pending")
)
