package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/tolelom/lottochain/core"
	"github.com/tolelom/lottochain/indexer"
	"github.com/tolelom/lottochain/lotto"
	"github.com/tolelom/lottochain/rpc"
	"github.com/tolelom/lottochain/wallet"
)

const receiptPoll = 500 * time.Millisecond

func newCommitCmd() *cobra.Command {
	var secret string
	var message uint64
	cmd := &cobra.Command{
		Use:   "commit",
		Short: "Compute a commitment, or draw a fresh ticket when --secret is empty",
		RunE: func(cmd *cobra.Command, args []string) error {
			var t *lotto.Ticket
			if secret == "" {
				var err error
				if t, err = lotto.NewTicket(); err != nil {
					return err
				}
			} else {
				t = &lotto.Ticket{Secret: secret, Message: message, Commitment: lotto.Commit(secret, message)}
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(t)
		},
	}
	cmd.Flags().StringVar(&secret, "secret", "", "secret string")
	cmd.Flags().Uint64Var(&message, "message", 0, "message number")
	return cmd
}

func newJoinCmd(opts *options) *cobra.Command {
	var wait time.Duration
	var overwrite bool
	cmd := &cobra.Command{
		Use:   "join",
		Short: "Draw a ticket and enter the current session",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			w, c, info, err := opts.prepare(ctx)
			if err != nil {
				return err
			}
			var params rpc.ParamsView
			if err := c.Call(ctx, "lotto_params", nil, &params); err != nil {
				return err
			}
			var sid uint64
			if err := c.Call(ctx, "lotto_currentSessionId", nil, &sid); err != nil {
				return err
			}

			path := wallet.TicketPath(opts.ticketDir, sid)
			if _, err := os.Stat(path); err == nil && !overwrite {
				return fmt.Errorf("a ticket for session %d already exists at %s", sid, path)
			}
			t, err := lotto.NewTicket()
			if err != nil {
				return err
			}
			// The ticket is written before the transaction leaves this
			// process; without it the deposit can never be revealed.
			tf := &wallet.TicketFile{SessionID: sid, Address: w.Address(), Ticket: *t}
			if err := wallet.SaveTicket(path, tf); err != nil {
				return err
			}

			tx, err := w.JoinLotto(info.chainID, t.Commitment, params.EntryFee, info.nonce, opts.fee)
			if err != nil {
				return err
			}
			txID, err := send(ctx, c, tx)
			if err != nil {
				os.Remove(path)
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "joined session %d with deposit %d\ntx:     %s\nticket: %s\n", sid, params.EntryFee, txID, path)
			if wait <= 0 {
				return nil
			}
			if _, err := awaitReceipt(ctx, c, txID, wait); err != nil {
				return err
			}
			return relocateTicket(ctx, c, opts.ticketDir, tf, path, cmd)
		},
	}
	cmd.Flags().DurationVar(&wait, "wait", 0, "wait this long for the join to be included")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "replace an existing ticket for the session")
	return cmd
}

// relocateTicket moves a ticket whose join landed in a later session than
// the one observed when it was sent.
func relocateTicket(ctx context.Context, c *rpc.Client, dir string, tf *wallet.TicketFile, path string, cmd *cobra.Command) error {
	var in bool
	if err := c.Call(ctx, "lotto_isParticipating", map[string]any{"id": tf.SessionID, "address": tf.Address}, &in); err != nil {
		return err
	}
	if in {
		return nil
	}
	var sid uint64
	if err := c.Call(ctx, "lotto_currentSessionId", nil, &sid); err != nil {
		return err
	}
	tf.SessionID = sid
	dst := wallet.TicketPath(dir, sid)
	if err := wallet.SaveTicket(dst, tf); err != nil {
		return err
	}
	os.Remove(path)
	fmt.Fprintf(cmd.OutOrStdout(), "join landed in session %d; ticket moved to %s\n", sid, dst)
	return nil
}

func newRevealCmd(opts *options) *cobra.Command {
	var session uint64
	var wait time.Duration
	cmd := &cobra.Command{
		Use:   "reveal",
		Short: "Open the commitment saved for a session",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			w, c, info, err := opts.prepare(ctx)
			if err != nil {
				return err
			}
			if session == 0 {
				if err := c.Call(ctx, "lotto_currentSessionId", nil, &session); err != nil {
					return err
				}
			}
			tf, err := wallet.LoadTicket(wallet.TicketPath(opts.ticketDir, session))
			if err != nil {
				return err
			}
			if tf.Address != w.Address() {
				return fmt.Errorf("ticket for session %d belongs to %s", session, shortAddr(tf.Address))
			}
			tx, err := w.OpenLotto(info.chainID, tf.Secret, tf.Message, info.nonce, opts.fee)
			if err != nil {
				return err
			}
			txID, err := send(ctx, c, tx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "revealed message %d for session %d\ntx: %s\n", tf.Message, session, txID)
			if wait > 0 {
				_, err = awaitReceipt(ctx, c, txID, wait)
			}
			return err
		},
	}
	cmd.Flags().Uint64Var(&session, "session", 0, "session id (default: current)")
	cmd.Flags().DurationVar(&wait, "wait", 0, "wait this long for the reveal to be included")
	return cmd
}

func newForceCmd(opts *options) *cobra.Command {
	var wait time.Duration
	cmd := &cobra.Command{
		Use:   "force",
		Short: "Advance the current session by one phase",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			w, c, info, err := opts.prepare(ctx)
			if err != nil {
				return err
			}
			tx, err := w.ForceLotto(info.chainID, info.nonce, opts.fee)
			if err != nil {
				return err
			}
			txID, err := send(ctx, c, tx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "tx: %s\n", txID)
			if wait > 0 {
				_, err = awaitReceipt(ctx, c, txID, wait)
			}
			return err
		},
	}
	cmd.Flags().DurationVar(&wait, "wait", 0, "wait this long for the transaction to be included")
	return cmd
}

func newReceiptCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "receipt <tx-id>",
		Short: "Show what became of a transaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			var rc indexer.Receipt
			if err := c.Call(cmd.Context(), "getTxReceipt", map[string]string{"tx_id": args[0]}, &rc); err != nil {
				return err
			}
			printReceipt(cmd, &rc)
			return nil
		},
	}
}

func (o *options) prepare(ctx context.Context) (*wallet.Wallet, *rpc.Client, *chainInfo, error) {
	w, err := o.wallet()
	if err != nil {
		return nil, nil, nil, err
	}
	c, err := o.client()
	if err != nil {
		return nil, nil, nil, err
	}
	info, err := fetchChainInfo(ctx, c, w.Address())
	if err != nil {
		return nil, nil, nil, err
	}
	return w, c, info, nil
}

func send(ctx context.Context, c *rpc.Client, tx *core.Transaction) (string, error) {
	var out struct {
		TxID string `json:"tx_id"`
	}
	if err := c.Call(ctx, "sendTx", tx, &out); err != nil {
		var rpcErr *rpc.Error
		if errors.As(err, &rpcErr) && rpcErr.Code == rpc.CodeLottoRejected {
			return "", fmt.Errorf("rejected: %s", rpcErr.Message)
		}
		return "", err
	}
	log.Debug().Str("tx", out.TxID).Str("type", string(tx.Type)).Msg("submitted")
	return out.TxID, nil
}

// awaitReceipt polls until the transaction leaves the mempool. A rejected
// transaction is reported as an error.
func awaitReceipt(ctx context.Context, c *rpc.Client, txID string, timeout time.Duration) (*indexer.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ticker := time.NewTicker(receiptPoll)
	defer ticker.Stop()
	for {
		var rc indexer.Receipt
		err := c.Call(ctx, "getTxReceipt", map[string]string{"tx_id": txID}, &rc)
		var rpcErr *rpc.Error
		switch {
		case err == nil && rc.Status == indexer.StatusRejected:
			return &rc, fmt.Errorf("tx %s rejected in block %d: %s", txID, rc.BlockHeight, rc.Error)
		case err == nil && rc.Status == indexer.StatusApplied:
			return &rc, nil
		case err != nil && !(errors.As(err, &rpcErr) && rpcErr.Code == rpc.CodeNotFound):
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("tx %s not included after %s", txID, timeout)
		case <-ticker.C:
		}
	}
}

func printReceipt(cmd *cobra.Command, rc *indexer.Receipt) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "tx:     %s\nstatus: %s\n", rc.TxID, rc.Status)
	if rc.Type != "" {
		fmt.Fprintf(out, "type:   %s\n", rc.Type)
	}
	if rc.BlockHeight > 0 {
		fmt.Fprintf(out, "block:  %d\n", rc.BlockHeight)
	}
	if rc.Error != "" {
		fmt.Fprintf(out, "error:  %s\n", rc.Error)
	}
}
