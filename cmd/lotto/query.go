package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tolelom/lottochain/core"
	"github.com/tolelom/lottochain/rpc"
	"github.com/tolelom/lottochain/wallet"
)

func newStatusCmd(opts *options) *cobra.Command {
	var session uint64
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show a session and, with a key, your part in it",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, err := opts.client()
			if err != nil {
				return err
			}
			var s rpc.SessionView
			if err := c.Call(ctx, "lotto_getSession", map[string]uint64{"id": session}, &s); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "session %d: %s\n", s.ID, s.Phase)
			renderSession(out, &s)

			if core.LottoPhase(s.PhaseCode) == core.PhaseFinished {
				var ended []core.SessionEnded
				if err := c.Call(ctx, "lotto_getSessionEnded", map[string]uint64{"from": s.ID, "to": s.ID}, &ended); err != nil {
					return err
				}
				for _, e := range ended {
					if e.Refunded {
						fmt.Fprintln(out, "  nobody revealed; deposits refunded")
					} else {
						fmt.Fprintf(out, "  winner %s took %d\n", shortAddr(e.Winner), e.Reward)
					}
				}
			}

			// Player section only when a keystore is at hand.
			if _, err := os.Stat(opts.keyPath); err != nil {
				return nil
			}
			w, err := opts.wallet()
			if err != nil {
				return err
			}
			var in bool
			if err := c.Call(ctx, "lotto_isParticipating", map[string]any{"id": s.ID, "address": w.Address()}, &in); err != nil {
				return err
			}
			if !in {
				fmt.Fprintf(out, "you (%s): not participating\n", shortAddr(w.Address()))
				return nil
			}
			var p core.LottoParticipant
			if err := c.Call(ctx, "lotto_getParticipantState", map[string]any{"id": s.ID, "address": w.Address()}, &p); err != nil {
				return err
			}
			state := "committed"
			if p.HasRevealed {
				state = fmt.Sprintf("revealed %d", p.Message)
			}
			fmt.Fprintf(out, "you (%s): %s\n", shortAddr(w.Address()), state)
			if !p.HasRevealed && core.LottoPhase(s.PhaseCode) != core.PhaseFinished {
				if _, err := wallet.LoadTicket(wallet.TicketPath(opts.ticketDir, s.ID)); err != nil {
					fmt.Fprintf(out, "  warning: no usable ticket: %v\n", err)
				}
			}
			return nil
		},
	}
	cmd.Flags().Uint64Var(&session, "session", 0, "session id (default: current)")
	return cmd
}

func renderSession(out io.Writer, s *rpc.SessionView) {
	switch core.LottoPhase(s.PhaseCode) {
	case core.PhaseNotStarted:
		fmt.Fprintf(out, "  waiting for the first player; entry fee %d\n", s.EntryFee)
	case core.PhaseJoin:
		fmt.Fprintf(out, "  %d joined, pool %d\n", s.ParticipantsLength, s.ParticipantsLength*s.EntryFee)
		fmt.Fprintf(out, "  joining closes %s\n", when(s.Deadline))
	case core.PhaseReveal:
		fmt.Fprintf(out, "  awaiting %d of %d reveals\n", s.ParticipantsLength-s.AmountOfReveals, s.ParticipantsLength)
		fmt.Fprintf(out, "  reveal window closes %s\n", when(s.Deadline))
	case core.PhaseFinished:
		fmt.Fprintf(out, "  %d joined, %d revealed, ended %s\n", s.ParticipantsLength, s.AmountOfReveals, when(s.EndedAt))
	}
}

func when(ns int64) string {
	if ns == 0 {
		return "-"
	}
	t := time.Unix(0, ns)
	d := time.Until(t).Round(time.Second)
	switch {
	case d > 0:
		return fmt.Sprintf("%s (in %s)", t.Format(time.DateTime), d)
	case d < 0:
		return fmt.Sprintf("%s (%s ago)", t.Format(time.DateTime), -d)
	default:
		return t.Format(time.DateTime)
	}
}

func newWatchCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Stream lottery events from the node",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			err = c.Subscribe(cmd.Context(), func(m rpc.PushMessage) {
				fmt.Fprintf(out, "#%d %-22s", m.BlockHeight, m.Type)
				if m.SessionID != 0 {
					fmt.Fprintf(out, " session=%d", m.SessionID)
				}
				for k, v := range m.Data {
					fmt.Fprintf(out, " %s=%v", k, v)
				}
				fmt.Fprintln(out)
			})
			if cmd.Context().Err() != nil {
				return nil
			}
			return err
		},
	}
}
