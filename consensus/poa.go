// Package consensus implements Proof-of-Authority block production.
// Validators propose blocks in round-robin order; with a single validator
// the node is the chain's sequencer. Each block is signed by its proposer
// and its timestamp is the clock every lottery deadline is measured with.
package consensus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tolelom/lottochain/config"
	"github.com/tolelom/lottochain/core"
	"github.com/tolelom/lottochain/crypto"
	"github.com/tolelom/lottochain/events"
	"github.com/tolelom/lottochain/vm"
)

var (
	ErrNotProposer = errors.New("not the proposer for this round")
	// ErrNoPending means there was nothing to put in a block.
	ErrNoPending  = errors.New("no pending transactions")
	ErrStaleNonce = errors.New("nonce already used")
)

// PoA is the Proof-of-Authority consensus engine.
type PoA struct {
	cfg     *config.Config
	bc      *core.Blockchain
	mempool *core.Mempool
	exec    *vm.Executor
	emitter *events.Emitter
	privKey crypto.PrivateKey
	pubKey  crypto.PublicKey
	clock   clock.Clock
	log     zerolog.Logger
}

// New creates a PoA engine for the local validator identified by privKey.
// clk stamps produced blocks; nil means the wall clock.
func New(
	cfg *config.Config,
	bc *core.Blockchain,
	mempool *core.Mempool,
	exec *vm.Executor,
	emitter *events.Emitter,
	privKey crypto.PrivateKey,
	clk clock.Clock,
) *PoA {
	if clk == nil {
		clk = clock.New()
	}
	return &PoA{
		cfg:     cfg,
		bc:      bc,
		mempool: mempool,
		exec:    exec,
		emitter: emitter,
		privKey: privKey,
		pubKey:  privKey.Public(),
		clock:   clk,
		log:     log.With().Str("component", "consensus").Logger(),
	}
}

// IsProposer reports whether this node should propose the next block.
func (p *PoA) IsProposer() bool {
	if len(p.cfg.Validators) == 0 {
		return false
	}
	nextHeight := p.bc.Height() + 1
	idx := int(nextHeight) % len(p.cfg.Validators)
	return p.cfg.Validators[idx] == p.pubKey.Hex()
}

// nextHeader returns the height, parent and timestamp of the block that
// would be produced now. Timestamps strictly increase along the chain.
func (p *PoA) nextHeader() (int64, string, int64) {
	ts := p.clock.Now().UnixNano()
	tip := p.bc.Tip()
	if tip == nil {
		return 1, config.GenesisHash, ts
	}
	if ts <= tip.Header.Timestamp {
		ts = tip.Header.Timestamp + 1
	}
	return tip.Header.Height + 1, tip.Hash, ts
}

// Preflight dry-runs tx as if it were the only transaction in the next
// block, so callers learn about rejections before the tx is queued. A tx
// queued behind the sender's pending ones (nonce ahead of the account)
// cannot be checked yet and passes.
func (p *PoA) Preflight(tx *core.Transaction) error {
	if _, ok := vm.Supports(tx.Type); !ok {
		return fmt.Errorf("%w %q", vm.ErrUnknownTxType, tx.Type)
	}
	var nonce uint64
	if err := p.exec.View(func(st core.State) error {
		acc, err := st.GetAccount(tx.From)
		if err != nil {
			return err
		}
		nonce = acc.Nonce
		return nil
	}); err != nil {
		return err
	}
	switch {
	case tx.Nonce < nonce:
		return fmt.Errorf("%w: account is at %d", ErrStaleNonce, nonce)
	case tx.Nonce > nonce:
		return nil
	}
	height, prev, ts := p.nextHeader()
	return p.exec.Simulate(core.NewBlockAt(height, prev, p.pubKey.Hex(), nil, ts), tx)
}

// ProduceBlock builds, executes, signs and commits the next block.
// Transactions that fail are left out of the block and dropped from the
// mempool; their failure is published as EventTxRejected.
func (p *PoA) ProduceBlock() (*core.Block, error) {
	if !p.IsProposer() {
		return nil, ErrNotProposer
	}

	limit := p.cfg.MaxBlockTxs
	if limit <= 0 {
		limit = 500
	}
	txs := p.mempool.Pending(limit)
	if len(txs) == 0 {
		return nil, ErrNoPending
	}

	height, prev, ts := p.nextHeader()
	block := core.NewBlockAt(height, prev, p.pubKey.Hex(), nil, ts)

	snap, err := p.exec.Checkpoint()
	if err != nil {
		return nil, fmt.Errorf("checkpoint: %w", err)
	}
	applied, rejected := p.exec.ExecuteCandidates(block, txs)
	block.Transactions = applied
	block.Header.TxRoot = core.ComputeTxRoot(applied)

	// Compute root from the write buffer BEFORE flushing so that if AddBlock
	// fails the state has not yet been persisted and can be rolled back.
	block.Header.StateRoot = p.exec.Root()
	block.Sign(p.privKey)

	if err := p.bc.AddBlock(block); err != nil {
		if rbErr := p.exec.Rollback(snap); rbErr != nil {
			p.log.Fatal().Err(rbErr).Int64("height", height).Msg("rollback after failed block")
		}
		p.emitter.Emit(events.Event{
			Type:        events.EventBlockAbandoned,
			BlockHeight: height,
			Data:        map[string]any{"error": err.Error()},
		})
		return nil, fmt.Errorf("add block: %w", err)
	}

	// Flush state only after the block is safely stored.
	if err := p.exec.Commit(); err != nil {
		p.log.Fatal().Err(err).Int64("height", height).Msg("block stored but state commit failed")
	}

	// Emit after Sign() so block.Hash is set correctly.
	p.emitter.Emit(events.Event{
		Type:        events.EventBlockCommit,
		BlockHeight: block.Header.Height,
		Data:        map[string]any{"hash": block.Hash, "txs": len(block.Transactions), "timestamp": ts},
	})

	done := make([]string, 0, len(txs))
	for _, tx := range applied {
		done = append(done, tx.ID)
	}
	for _, r := range rejected {
		done = append(done, r.Tx.ID)
		p.log.Debug().Str("tx", r.Tx.ID).Str("type", string(r.Tx.Type)).Err(r.Err).Msg("tx rejected")
	}
	p.mempool.Remove(done)

	p.log.Info().Int64("height", height).Str("hash", block.Hash).
		Int("txs", len(applied)).Int("rejected", len(rejected)).Msg("block committed")
	return block, nil
}

// ValidateBlock checks that block was proposed by the expected validator
// and extends the current tip.
func (p *PoA) ValidateBlock(block *core.Block) error {
	if len(p.cfg.Validators) == 0 {
		return errors.New("no validators configured")
	}
	idx := int(block.Header.Height) % len(p.cfg.Validators)
	expected := p.cfg.Validators[idx]
	if block.Header.Proposer != expected {
		return fmt.Errorf("wrong proposer: got %s want %s", block.Header.Proposer, expected)
	}

	pub, err := crypto.PubKeyFromHex(block.Header.Proposer)
	if err != nil {
		return fmt.Errorf("invalid proposer pubkey: %w", err)
	}
	if err := block.Verify(pub); err != nil {
		return fmt.Errorf("block signature invalid: %w", err)
	}
	if block.Header.TxRoot != core.ComputeTxRoot(block.Transactions) {
		return errors.New("tx root mismatch")
	}

	tip := p.bc.Tip()
	if tip == nil {
		if !config.IsGenesisHash(block.Header.PrevHash) {
			return errors.New("first block must reference genesis prev-hash")
		}
		return nil
	}
	if block.Header.PrevHash != tip.Hash {
		return fmt.Errorf("%w: prev_hash %s want %s", core.ErrBadLink, block.Header.PrevHash, tip.Hash)
	}
	if block.Header.Height != tip.Header.Height+1 {
		return fmt.Errorf("%w: height %d want %d", core.ErrBadLink, block.Header.Height, tip.Header.Height+1)
	}
	if block.Header.Timestamp <= tip.Header.Timestamp {
		return fmt.Errorf("%w: timestamp does not advance", core.ErrBadLink)
	}
	return nil
}

// Run produces a block every interval until ctx is cancelled.
func (p *PoA) Run(ctx context.Context, interval time.Duration) {
	ticker := p.clock.Ticker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !p.IsProposer() {
				continue
			}
			if _, err := p.ProduceBlock(); err != nil && !errors.Is(err, ErrNoPending) {
				p.log.Error().Err(err).Msg("produce block")
			}
		}
	}
}
