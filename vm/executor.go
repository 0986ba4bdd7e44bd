package vm

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/tolelom/lottochain/core"
	"github.com/tolelom/lottochain/events"
	"github.com/tolelom/lottochain/lotto"
)

var (
	ErrWrongChain = errors.New("transaction is for another chain")
	ErrBadNonce   = errors.New("invalid nonce")
)

// Context is passed to every Handler and provides access to the chain state,
// the current block, the triggering transaction, the event emitter and the
// lottery engine.
type Context struct {
	State   core.State
	Block   *core.Block
	Tx      *core.Transaction
	Emitter *events.Emitter
	Lotto   *lotto.Machine
}

// Emit publishes ev stamped with the current tx and block. It is a no-op
// when the context has no emitter (dry runs).
func (c *Context) Emit(typ events.EventType, data map[string]any) {
	if c.Emitter == nil {
		return
	}
	c.Emitter.Emit(events.Event{
		Type:        typ,
		TxID:        c.Tx.ID,
		BlockHeight: c.Block.Header.Height,
		Data:        data,
	})
}

// Rejection pairs a transaction with the reason it was left out of a block.
type Rejection struct {
	Tx  *core.Transaction
	Err error
}

// Executor applies transactions to the state, routing each to the module
// installed for its type.
//
// Transactions run one at a time under a write lock that also spans the
// snapshot and rollback, so each one is all-or-nothing with respect to every
// other caller. Readers go through View.
type Executor struct {
	mu      sync.RWMutex
	state   core.State
	emitter *events.Emitter
	lotto   *lotto.Machine
	chainID string
}

// NewExecutor creates an Executor with the given state, event emitter and
// lottery engine. Transactions whose ChainID differs from chainID are
// refused; an empty chainID disables the check.
func NewExecutor(state core.State, emitter *events.Emitter, machine *lotto.Machine, chainID string) *Executor {
	return &Executor{state: state, emitter: emitter, lotto: machine, chainID: chainID}
}

// Lotto returns the lottery engine the executor dispatches to.
func (e *Executor) Lotto() *lotto.Machine { return e.lotto }

// View runs fn against the state under the read lock. fn sees no partially
// applied transaction and must not retain st after returning.
func (e *Executor) View(fn func(st core.State) error) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return fn(e.state)
}

// ExecuteBlock applies all transactions in block sequentially.
// A failing transaction rolls back the whole block and rejects it.
// EventBlockCommit is emitted by the caller (consensus) after signing so
// the event carries the correct block hash.
func (e *Executor) ExecuteBlock(block *core.Block) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	snapID, err := e.state.Snapshot()
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	for _, tx := range block.Transactions {
		if err := e.executeTx(block, tx, e.emitter); err != nil {
			if revertErr := e.state.RevertToSnapshot(snapID); revertErr != nil {
				return fmt.Errorf("tx %s failed: %w (revert: %v)", tx.ID, err, revertErr)
			}
			return fmt.Errorf("tx %s failed: %w", tx.ID, err)
		}
	}
	return nil
}

// ExecuteCandidates applies txs against block in order and returns the ones
// that succeeded. Failed transactions leave no trace in the state and are
// returned with their error so the producer can drop them.
func (e *Executor) ExecuteCandidates(block *core.Block, txs []*core.Transaction) ([]*core.Transaction, []Rejection) {
	e.mu.Lock()
	defer e.mu.Unlock()

	applied := make([]*core.Transaction, 0, len(txs))
	var rejected []Rejection
	for _, tx := range txs {
		if err := e.executeTx(block, tx, e.emitter); err != nil {
			rejected = append(rejected, Rejection{Tx: tx, Err: err})
			if e.emitter != nil {
				e.emitter.Emit(events.Event{
					Type:        events.EventTxRejected,
					TxID:        tx.ID,
					BlockHeight: block.Header.Height,
					Data:        map[string]any{"type": string(tx.Type), "from": tx.From, "error": err.Error()},
				})
			}
			continue
		}
		applied = append(applied, tx)
	}
	return applied, rejected
}

// ExecuteTx verifies and executes a single transaction with snapshot/rollback.
func (e *Executor) ExecuteTx(block *core.Block, tx *core.Transaction) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.executeTx(block, tx, e.emitter)
}

// Simulate runs tx against block and always rolls it back. No events are
// emitted. It is used to reject doomed transactions at submission time.
func (e *Executor) Simulate(block *core.Block, tx *core.Transaction) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	snapID, err := e.state.Snapshot()
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	runErr := e.executeTx(block, tx, nil)
	if err := e.state.RevertToSnapshot(snapID); err != nil {
		return fmt.Errorf("revert simulation: %w", err)
	}
	return runErr
}

// Checkpoint marks the current state so a produced block can be undone
// with Rollback if it fails to persist.
func (e *Executor) Checkpoint() (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Snapshot()
}

// Rollback restores the state saved by Checkpoint.
func (e *Executor) Rollback(id int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.RevertToSnapshot(id)
}

// Root returns the state root including uncommitted changes.
func (e *Executor) Root() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state.ComputeRoot()
}

// Commit flushes applied transactions to storage.
func (e *Executor) Commit() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Commit()
}

func (e *Executor) executeTx(block *core.Block, tx *core.Transaction, emitter *events.Emitter) error {
	if err := tx.Verify(); err != nil {
		return fmt.Errorf("signature: %w", err)
	}
	if e.chainID != "" && tx.ChainID != e.chainID {
		return fmt.Errorf("%w: got %q want %q", ErrWrongChain, tx.ChainID, e.chainID)
	}

	module, h, err := installed.Route(tx.Type)
	if err != nil {
		return err
	}

	snapID, err := e.state.Snapshot()
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}

	if err := e.applyTx(block, tx, h, emitter); err != nil {
		if revertErr := e.state.RevertToSnapshot(snapID); revertErr != nil {
			return fmt.Errorf("revert snapshot after tx failure: %w (revert: %v)", err, revertErr)
		}
		return err
	}

	if emitter != nil {
		emitter.Emit(events.Event{
			Type:        events.EventTxExecuted,
			TxID:        tx.ID,
			BlockHeight: block.Header.Height,
			Data:        map[string]any{"type": string(tx.Type), "module": module, "from": tx.From},
		})
	}
	return nil
}

// applyTx deducts the fee, increments the nonce, then runs h.
func (e *Executor) applyTx(block *core.Block, tx *core.Transaction, h Handler, emitter *events.Emitter) error {
	acc, err := e.state.GetAccount(tx.From)
	if err != nil {
		return fmt.Errorf("get account: %w", err)
	}
	if acc.Nonce != tx.Nonce {
		return fmt.Errorf("%w: expected %d got %d", ErrBadNonce, acc.Nonce, tx.Nonce)
	}
	if acc.Balance < tx.Fee {
		return fmt.Errorf("insufficient balance for fee: have %d need %d", acc.Balance, tx.Fee)
	}
	if acc.Nonce == math.MaxUint64 {
		return fmt.Errorf("nonce overflow for account %s", tx.From)
	}
	acc.Balance -= tx.Fee
	acc.Nonce++
	if err := e.state.SetAccount(acc); err != nil {
		return err
	}

	ctx := &Context{
		State:   e.state,
		Block:   block,
		Tx:      tx,
		Emitter: emitter,
		Lotto:   e.lotto,
	}
	return h(ctx, tx.Payload)
}
