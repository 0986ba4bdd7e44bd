// Package lottery exposes the lottery engine as transaction types. Block
// timestamps are the engine's clock.
package lottery

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/tolelom/lottochain/core"
	"github.com/tolelom/lottochain/events"
	"github.com/tolelom/lottochain/lotto"
	"github.com/tolelom/lottochain/vm"
)

var errNoEngine = errors.New("lottery engine not configured")

func init() {
	vm.Install(vm.Module{
		Name: "lottery",
		Handlers: map[core.TxType]vm.Handler{
			core.TxLottoJoin:  handleJoin,
			core.TxLottoOpen:  handleOpen,
			core.TxLottoForce: handleForce,
		},
	})
}

func handleJoin(ctx *vm.Context, payload json.RawMessage) error {
	if ctx.Lotto == nil {
		return errNoEngine
	}
	var p core.LottoJoinPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode lotto_join payload: %w", err)
	}
	res, err := ctx.Lotto.Join(ctx.State, ctx.Tx.From, p.Commitment, p.Deposit, ctx.Block.Header.Timestamp)
	if err != nil {
		return err
	}
	if res.Ended != nil {
		emitPhase(ctx, res.Ended.SessionID, core.PhaseReveal, core.PhaseFinished)
		emitEnded(ctx, res.Ended)
	}
	if res.RevealStarted {
		emitPhase(ctx, res.SessionID, core.PhaseJoin, core.PhaseReveal)
		emitRevealStarted(ctx, &res.Session)
	}
	ctx.Emit(events.EventLottoJoined, map[string]any{
		"session_id": res.SessionID,
		"index":      res.Index,
		"user":       ctx.Tx.From,
		"commitment": p.Commitment,
	})
	log.Debug().Str("component", "lotto").Uint64("session", res.SessionID).
		Uint64("index", res.Index).Str("user", ctx.Tx.From).Msg("joined")
	return nil
}

func handleOpen(ctx *vm.Context, payload json.RawMessage) error {
	if ctx.Lotto == nil {
		return errNoEngine
	}
	var p core.LottoOpenPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode lotto_open payload: %w", err)
	}
	res, err := ctx.Lotto.OpenCommitment(ctx.State, ctx.Tx.From, p.Secret, p.Message, ctx.Block.Header.Timestamp)
	if err != nil {
		return err
	}
	if res.RevealStarted {
		emitPhase(ctx, res.SessionID, core.PhaseJoin, core.PhaseReveal)
		emitRevealStarted(ctx, &res.Session)
	}
	ctx.Emit(events.EventLottoRevealed, map[string]any{
		"session_id": res.SessionID,
		"user":       ctx.Tx.From,
		"message":    p.Message,
		"reveals":    res.Session.AmountOfReveals,
	})
	if res.Ended != nil {
		emitPhase(ctx, res.SessionID, core.PhaseReveal, core.PhaseFinished)
		emitEnded(ctx, res.Ended)
	}
	return nil
}

func handleForce(ctx *vm.Context, payload json.RawMessage) error {
	if ctx.Lotto == nil {
		return errNoEngine
	}
	var p core.LottoForcePayload
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &p); err != nil {
			return fmt.Errorf("decode lotto_force payload: %w", err)
		}
	}
	res, err := ctx.Lotto.ForceNextPhase(ctx.State, ctx.Tx.From, ctx.Block.Header.Timestamp)
	if err != nil {
		return err
	}
	emitPhase(ctx, res.SessionID, res.From, res.To)
	if res.To == core.PhaseReveal {
		emitRevealStarted(ctx, &res.Session)
	}
	if res.Ended != nil {
		emitEnded(ctx, res.Ended)
	}
	log.Info().Str("component", "lotto").Uint64("session", res.SessionID).
		Stringer("from", res.From).Stringer("to", res.To).Str("by", ctx.Tx.From).Msg("phase forced")
	return nil
}

func emitRevealStarted(ctx *vm.Context, sess *core.LottoSession) {
	ctx.Emit(events.EventLottoRevealStarted, map[string]any{
		"session_id": sess.ID,
		"start_time": sess.StartTime,
	})
	log.Info().Str("component", "lotto").Uint64("session", sess.ID).
		Uint64("participants", sess.ParticipantsLength).Msg("reveal started")
}

func emitPhase(ctx *vm.Context, id uint64, from, to core.LottoPhase) {
	ctx.Emit(events.EventLottoPhase, map[string]any{
		"session_id": id,
		"from":       from.String(),
		"to":         to.String(),
	})
}

func emitEnded(ctx *vm.Context, e *core.SessionEnded) {
	ctx.Emit(events.EventLottoSessionEnded, map[string]any{
		"session_id": e.SessionID,
		"winner":     e.Winner,
		"reward":     e.Reward,
		"refunded":   e.Refunded,
	})
	log.Info().Str("component", "lotto").Uint64("session", e.SessionID).
		Str("winner", e.Winner).Uint64("reward", e.Reward).Bool("refunded", e.Refunded).Msg("session ended")
}

// Compile-time check that the ledger state can back the engine.
var _ lotto.Store = (core.State)(nil)
