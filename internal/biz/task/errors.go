package task

import "errors"

// Outcome kinds. Operations wrap these with context, match them with errors.Is.
var (
	// ErrNotFound means the task or run does not exist in the primary store.
	ErrNotFound = errors.New("not found")
	// ErrConflict means another operation won the race for the transition.
	ErrConflict = errors.New("conflict")
	// ErrNoWork is returned by ClaimWork when nothing is pending. It is a
	// normal signal, like sql.ErrNoRows.
	ErrNoWork = errors.New("no work")
	// ErrAlreadyExists is returned by Create for a taken id.
	ErrAlreadyExists = errors.New("already exists")
	// ErrInvariantViolation is fatal and aborts the enclosing transaction.
	ErrInvariantViolation = errors.New("invariant violation")
	// ErrInvalidTaskInfo rejects malformed serialized tasks.
	ErrInvalidTaskInfo = errors.New("invalid task info")
	ErrInvalidArgument = errors.New("invalid argument")
)
