package economy

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/tolelom/lottochain/core"
	"github.com/tolelom/lottochain/events"
	"github.com/tolelom/lottochain/vm"
)

var (
	ErrZeroAmount   = errors.New("transfer amount must be > 0")
	ErrNoRecipient  = errors.New("transfer to address required")
	ErrInsufficient = errors.New("insufficient balance")
)

func init() {
	vm.Install(vm.Module{
		Name:     "economy",
		Handlers: map[core.TxType]vm.Handler{core.TxTransfer: handleTransfer},
	})
}

func handleTransfer(ctx *vm.Context, payload json.RawMessage) error {
	var p core.TransferPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode transfer payload: %w", err)
	}
	if p.Amount == 0 {
		return ErrZeroAmount
	}
	if p.To == "" {
		return ErrNoRecipient
	}

	sender, err := ctx.State.GetAccount(ctx.Tx.From)
	if err != nil {
		return err
	}
	if sender.Balance < p.Amount {
		return fmt.Errorf("%w: have %d, need %d", ErrInsufficient, sender.Balance, p.Amount)
	}
	sender.Balance -= p.Amount
	if err := ctx.State.SetAccount(sender); err != nil {
		return err
	}

	recipient, err := ctx.State.GetAccount(p.To)
	if err != nil {
		return err
	}
	if recipient.Balance > math.MaxUint64-p.Amount {
		return fmt.Errorf("recipient balance overflow")
	}
	recipient.Balance += p.Amount
	if err := ctx.State.SetAccount(recipient); err != nil {
		return err
	}

	ctx.Emit(events.EventTokenTransfer, map[string]any{
		"from":   ctx.Tx.From,
		"to":     p.To,
		"amount": p.Amount,
	})
	return nil
}
