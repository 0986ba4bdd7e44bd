package lotto

import "errors"

// Rejections. A call that returns one of these left the state untouched.
var (
	ErrInvalidDeposit       = errors.New("you must deposit exactly the entry fee")
	ErrAlreadyParticipating = errors.New("you are already participating in this session")
	ErrNotJoinPhase         = errors.New("the session is not accepting joins")
	ErrNotRevealPhase       = errors.New("the session is not in reveal phase")
	ErrNotParticipating     = errors.New("you are not participating in this session")
	ErrAlreadyRevealed      = errors.New("you have already opened your commitment")
	ErrInvalidOpening       = errors.New("your opening is not valid")
	ErrUnauthorized         = errors.New("caller may not force the next phase")
	ErrSessionNotFound      = errors.New("session not found")
	ErrInvalidCommitment    = errors.New("commitment must be a 32-byte hex digest")
)

// Ledger failures.
var (
	ErrInsufficientFunds = errors.New("insufficient balance")
	ErrEscrowReleased    = errors.New("escrow already released")
	ErrOverflow          = errors.New("amount overflows uint64")
)

// IsRejection reports whether err is one of the protocol rejections above
// (as opposed to a storage failure).
func IsRejection(err error) bool {
	for _, r := range []error{
		ErrInvalidDeposit, ErrAlreadyParticipating, ErrNotJoinPhase,
		ErrNotRevealPhase, ErrNotParticipating, ErrAlreadyRevealed,
		ErrInvalidOpening, ErrUnauthorized, ErrSessionNotFound,
		ErrInvalidCommitment, ErrInsufficientFunds,
	} {
		if errors.Is(err, r) {
			return true
		}
	}
	return false
}
