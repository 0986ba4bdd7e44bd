package core

import "fmt"

// Account holds a participant's token balance and replay-protection nonce.
// Address is the hex-encoded ed25519 public key.
type Account struct {
	Address string `json:"address"` // pubkey hex
	Balance uint64 `json:"balance"`
	Nonce   uint64 `json:"nonce"`
}

// LottoPhase is the lifecycle position of a lottery session.
// Phases only move forward within one session id.
type LottoPhase uint8

const (
	PhaseNotStarted LottoPhase = iota
	PhaseJoin
	PhaseReveal
	PhaseFinished
)

func (p LottoPhase) String() string {
	switch p {
	case PhaseNotStarted:
		return "not_started"
	case PhaseJoin:
		return "join"
	case PhaseReveal:
		return "reveal"
	case PhaseFinished:
		return "finished"
	default:
		return fmt.Sprintf("phase(%d)", uint8(p))
	}
}

// LottoSession is one run of the commit-reveal lottery.
// Timestamps are unix nanoseconds taken from the executing block.
type LottoSession struct {
	ID                 uint64     `json:"id"`
	Phase              LottoPhase `json:"phase"`
	CreatedAt          int64      `json:"created_at"` // first join (or forced open)
	StartTime          int64      `json:"start_time"` // Join → Reveal transition
	EndedAt            int64      `json:"ended_at"`   // Reveal → Finished transition
	EntryFee           uint64     `json:"entry_fee"`  // fee in force when the session opened
	ParticipantsLength uint64     `json:"participants_length"`
	AmountOfReveals    uint64     `json:"amount_of_reveals"`
}

// Pool returns the total deposits held for the session.
func (s *LottoSession) Pool() uint64 {
	return s.EntryFee * s.ParticipantsLength
}

// LottoParticipant is one joined address within a session.
type LottoParticipant struct {
	User        string `json:"user"`       // pubkey hex
	Commitment  string `json:"commitment"` // 0x-prefixed keccak256 hex, immutable
	HasRevealed bool   `json:"has_revealed"`
	Message     uint64 `json:"message"`
}

// SessionEnded records the outcome of a finished session. Winner is empty
// when nobody revealed and the deposits were refunded.
type SessionEnded struct {
	SessionID uint64 `json:"session_id"`
	Winner    string `json:"winner"`
	Reward    uint64 `json:"reward"`
	Refunded  bool   `json:"refunded,omitempty"`
	EndedAt   int64  `json:"ended_at"`
}

// Escrow holds the pooled entry fees of one session until payout.
type Escrow struct {
	SessionID uint64 `json:"session_id"`
	Balance   uint64 `json:"balance"`
	Released  bool   `json:"released"`
}

// State is the full ledger state interface. Implementations must be
// snapshot-able so the executor can roll back failed transactions.
type State interface {
	// Accounts
	GetAccount(address string) (*Account, error)
	SetAccount(account *Account) error

	// Lottery cursor: the id of the session new joins go to. A fresh
	// state reports 1.
	GetLottoCursor() (uint64, error)
	SetLottoCursor(id uint64) error

	// Lottery sessions; GetLottoSession returns ErrNotFound for ids that
	// were never opened.
	GetLottoSession(id uint64) (*LottoSession, error)
	SetLottoSession(s *LottoSession) error

	// Participants by join index, plus the address → index mapping.
	GetLottoParticipant(sessionID, index uint64) (*LottoParticipant, error)
	SetLottoParticipant(sessionID, index uint64, p *LottoParticipant) error
	GetLottoIndex(sessionID uint64, address string) (uint64, error)
	SetLottoIndex(sessionID uint64, address string, index uint64) error

	// Escrow returns a zero-value escrow for sessions without deposits.
	GetEscrow(sessionID uint64) (*Escrow, error)
	SetEscrow(e *Escrow) error

	// Session outcomes
	GetSessionEnded(sessionID uint64) (*SessionEnded, error)
	SetSessionEnded(e *SessionEnded) error

	// Snapshot / rollback / commit
	Snapshot() (int, error)
	RevertToSnapshot(id int) error
	// ComputeRoot returns the deterministic state root from the current write
	// buffer without flushing. Call this before signing a block.
	ComputeRoot() string
	// Commit flushes the write buffer to the underlying DB and clears it.
	// Always call ComputeRoot() first to obtain the root for the block header.
	Commit() error
}
