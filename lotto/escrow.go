package lotto

import (
	"fmt"
	"math"
)

// Escrow moves entry fees between accounts and the per-session pool.
type Escrow struct {
	st Store
}

// NewEscrow returns an Escrow over st.
func NewEscrow(st Store) *Escrow {
	return &Escrow{st: st}
}

// Balance returns the pooled amount currently held for sessionID.
func (e *Escrow) Balance(sessionID uint64) (uint64, error) {
	esc, err := e.st.GetEscrow(sessionID)
	if err != nil {
		return 0, err
	}
	return esc.Balance, nil
}

// Deposit debits from and credits the session pool.
func (e *Escrow) Deposit(sessionID uint64, from string, amount uint64) error {
	acc, err := e.st.GetAccount(from)
	if err != nil {
		return fmt.Errorf("account %s: %w", from, err)
	}
	if acc.Balance < amount {
		return fmt.Errorf("%w: have %d need %d", ErrInsufficientFunds, acc.Balance, amount)
	}
	esc, err := e.st.GetEscrow(sessionID)
	if err != nil {
		return fmt.Errorf("escrow %d: %w", sessionID, err)
	}
	if esc.Released {
		return fmt.Errorf("escrow %d: %w", sessionID, ErrEscrowReleased)
	}
	if esc.Balance > math.MaxUint64-amount {
		return fmt.Errorf("escrow %d: %w", sessionID, ErrOverflow)
	}
	acc.Balance -= amount
	esc.Balance += amount
	if err := e.st.SetAccount(acc); err != nil {
		return err
	}
	return e.st.SetEscrow(esc)
}

// Release pays the whole pool of sessionID to a single payee and closes
// the escrow. It returns the amount paid.
func (e *Escrow) Release(sessionID uint64, to string) (uint64, error) {
	esc, err := e.st.GetEscrow(sessionID)
	if err != nil {
		return 0, fmt.Errorf("escrow %d: %w", sessionID, err)
	}
	if esc.Released {
		return 0, fmt.Errorf("escrow %d: %w", sessionID, ErrEscrowReleased)
	}
	if err := e.credit(to, esc.Balance); err != nil {
		return 0, err
	}
	paid := esc.Balance
	esc.Balance = 0
	esc.Released = true
	return paid, e.st.SetEscrow(esc)
}

// Refund returns each payee's share and closes the escrow. The shares must
// add up to the pool exactly.
func (e *Escrow) Refund(sessionID uint64, payees []string, each uint64) error {
	esc, err := e.st.GetEscrow(sessionID)
	if err != nil {
		return fmt.Errorf("escrow %d: %w", sessionID, err)
	}
	if esc.Released {
		return fmt.Errorf("escrow %d: %w", sessionID, ErrEscrowReleased)
	}
	n := uint64(len(payees))
	if n != 0 && each > math.MaxUint64/n {
		return fmt.Errorf("escrow %d: %w", sessionID, ErrOverflow)
	}
	if each*n != esc.Balance {
		return fmt.Errorf("escrow %d: refunds %d×%d do not match pool %d", sessionID, n, each, esc.Balance)
	}
	for _, p := range payees {
		if err := e.credit(p, each); err != nil {
			return err
		}
	}
	esc.Balance = 0
	esc.Released = true
	return e.st.SetEscrow(esc)
}

func (e *Escrow) credit(to string, amount uint64) error {
	acc, err := e.st.GetAccount(to)
	if err != nil {
		return fmt.Errorf("account %s: %w", to, err)
	}
	if acc.Balance > math.MaxUint64-amount {
		return fmt.Errorf("account %s: %w", to, ErrOverflow)
	}
	acc.Balance += amount
	return e.st.SetAccount(acc)
}
