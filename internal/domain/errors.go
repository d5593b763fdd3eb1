package domain

import "errors"

// Domain errors
var (
	ErrMatchNotFound      = errors.New("match not found")
	ErrWagerNotFound      = errors.New("wager not found")
	ErrInvalidMatchStatus = errors.New("operation not valid for match status")
	ErrAlreadyJoined      = errors.New("account already joined the match")
	ErrMatchFull          = errors.New("match is at player capacity")
	ErrDuplicateStake     = errors.New("participant already staked")
	ErrNotParticipant     = errors.New("account is not a match participant")
	ErrUnauthorized       = errors.New("caller is not authorized")
	ErrTransferFailed     = errors.New("transfer gateway failure")
	ErrResultUnavailable  = errors.New("no authenticated result available")
	ErrInvalidWinner      = errors.New("reported winner is not a participant")
	ErrInvalidStake       = errors.New("stake amount must be positive")
	ErrInvalidRequest     = errors.New("invalid request")
)

// IsNotFoundError checks if an error is a not-found type error
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrMatchNotFound) || errors.Is(err, ErrWagerNotFound)
}

// IsRetryable reports whether the failed operation can be safely
// retried once the external dependency recovers. Validation errors
// are permanent; only gateway and oracle failures are transient.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransferFailed) || errors.Is(err, ErrResultUnavailable)
}

// IsConflict checks if an error stems from an operation racing the
// match state machine
func IsConflict(err error) bool {
	return errors.Is(err, ErrInvalidMatchStatus) ||
		errors.Is(err, ErrAlreadyJoined) ||
		errors.Is(err, ErrMatchFull) ||
		errors.Is(err, ErrDuplicateStake)
}
