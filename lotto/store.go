// Package lotto implements the commit-reveal lottery session engine: the
// phase state machine, the participant registry, the commitment verifier,
// winner selection and escrowed payout.
//
// The engine keeps no state of its own. Every operation reads and writes a
// Store and receives the current time from its caller, so the ledger that
// hosts it decides ordering, atomicity and what "now" means.
package lotto

import "github.com/tolelom/lottochain/core"

// Store is the slice of ledger state the engine needs. core.State
// satisfies it.
type Store interface {
	GetAccount(address string) (*core.Account, error)
	SetAccount(account *core.Account) error

	GetLottoCursor() (uint64, error)
	SetLottoCursor(id uint64) error
	GetLottoSession(id uint64) (*core.LottoSession, error)
	SetLottoSession(s *core.LottoSession) error
	GetLottoParticipant(sessionID, index uint64) (*core.LottoParticipant, error)
	SetLottoParticipant(sessionID, index uint64, p *core.LottoParticipant) error
	GetLottoIndex(sessionID uint64, address string) (uint64, error)
	SetLottoIndex(sessionID uint64, address string, index uint64) error
	GetEscrow(sessionID uint64) (*core.Escrow, error)
	SetEscrow(e *core.Escrow) error
	GetSessionEnded(sessionID uint64) (*core.SessionEnded, error)
	SetSessionEnded(e *core.SessionEnded) error
}
