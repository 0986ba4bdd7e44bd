package lotto

import (
	"errors"
	"slices"
	"time"
)

// Params are the protocol constants of a lottery deployment.
type Params struct {
	// EntryFee is the exact deposit required to join, in base units.
	EntryFee uint64
	// JoinWindow runs from session creation; the first mutating call after
	// it elapses moves the session to Reveal.
	JoinWindow time.Duration
	// RevealWindow runs from the start of Reveal; a reveal accepted after
	// it elapses finishes the session with the reveals gathered so far.
	RevealWindow time.Duration
	// Admins may call ForceNextPhase. Empty means anyone may.
	Admins []string
}

// DefaultParams is the stock deployment: a 1-token fee (with 6
// decimals) and 10 minute windows.
func DefaultParams() Params {
	return Params{
		EntryFee:     1_000_000,
		JoinWindow:   10 * time.Minute,
		RevealWindow: 10 * time.Minute,
	}
}

// Validate rejects parameter sets the state machine cannot run with.
func (p Params) Validate() error {
	if p.EntryFee == 0 {
		return errors.New("lotto: entry fee must be > 0")
	}
	if p.JoinWindow <= 0 || p.RevealWindow <= 0 {
		return errors.New("lotto: join and reveal windows must be positive")
	}
	return nil
}

func (p Params) mayForce(caller string) bool {
	return len(p.Admins) == 0 || slices.Contains(p.Admins, caller)
}
